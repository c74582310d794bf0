// Package evidence persists fetched source content and the field claims
// extracted from it: upsert_source, find_source_by_url, insert_claims_batch,
// claims_for_item.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/store"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// ErrNotFound indicates no source document matched the lookup.
var ErrNotFound = errors.New("evidence: source document not found")

// Store persists source documents and claims. It does not own a row-level
// TTL: find_source_by_url enforces the freshness horizon at query time, so
// an expired row stays on disk for its usual retention period but is treated
// as a cache miss.
type Store struct {
	db    *store.Store
	clock clock.Clock
	ttl   time.Duration
}

// New builds an evidence Store with the given source cache TTL.
func New(db *store.Store, c clock.Clock, ttl time.Duration) *Store {
	return &Store{db: db, clock: c, ttl: ttl}
}

// UpsertSource inserts a source document if (job_id, url_hash) does not
// already exist for this job, otherwise returns the existing doc_id.
func (s *Store) UpsertSource(ctx context.Context, jobID, url string, raw string, metadata models.DocumentMetadata) (string, error) {
	urlHash := clock.URLHash(url)
	domain := hostOf(url)

	var existing string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT doc_id FROM source_documents WHERE job_id = $1 AND url_hash = $2`,
		jobID, urlHash,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("check existing source: %w", err)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	docID := clock.NewID()
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO source_documents (doc_id, job_id, url, url_hash, domain, raw_content, status, metadata, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		docID, jobID, url, urlHash, domain, raw, string(models.DocumentSuccess), string(metaJSON), s.clock.Now(),
	)
	if err != nil {
		// Lost the race against a concurrent upsert of the same (job_id,
		// url_hash); the winner's row satisfies this caller too.
		var retry string
		if scanErr := s.db.DB.QueryRowContext(ctx,
			`SELECT doc_id FROM source_documents WHERE job_id = $1 AND url_hash = $2`,
			jobID, urlHash,
		).Scan(&retry); scanErr == nil {
			return retry, nil
		}
		return "", fmt.Errorf("insert source: %w", err)
	}

	return docID, nil
}

// FindSourceByURL returns a cached document for url (any job) fetched within
// the configured TTL, the most recently fetched one if several jobs hold a
// copy. Returns ErrNotFound on a miss, including an expired row.
func (s *Store) FindSourceByURL(ctx context.Context, url string) (models.SourceDocument, error) {
	urlHash := clock.URLHash(url)

	var doc models.SourceDocument
	var metaJSON string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT doc_id, job_id, url, url_hash, domain, raw_content, status, metadata, fetched_at
		 FROM source_documents
		 WHERE url_hash = $1
		 ORDER BY fetched_at DESC
		 LIMIT 1`,
		urlHash,
	).Scan(&doc.DocID, &doc.JobID, &doc.URL, &doc.URLHash, &doc.Domain, &doc.RawContent, &doc.Status, &metaJSON, &doc.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SourceDocument{}, ErrNotFound
		}
		return models.SourceDocument{}, fmt.Errorf("query source by url: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		return models.SourceDocument{}, fmt.Errorf("unmarshal metadata: %w", err)
	}

	if s.clock.Now().Sub(doc.FetchedAt) >= s.ttl {
		return models.SourceDocument{}, ErrNotFound
	}

	return doc, nil
}

// InsertClaimsBatch atomically inserts claims. Duplicate
// (source_doc_id, field, value) triples are idempotent no-ops, enforced by
// the underlying unique index.
func (s *Store) InsertClaimsBatch(ctx context.Context, claims []models.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, c := range claims {
			claimID := c.ClaimID
			if claimID == "" {
				claimID = clock.NewID()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO claims (claim_id, item_id, source_doc_id, field, value, confidence, extracted_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (source_doc_id, field, value) DO NOTHING`,
				claimID, c.ItemID, c.SourceDocID, c.Field, c.Value, c.Confidence, s.clock.Now(),
			)
			if err != nil {
				return fmt.Errorf("insert claim for field %q: %w", c.Field, err)
			}
		}
		return nil
	})
}

// ClaimsForItem returns every claim attributed to item, in no particular
// order; the Trust Engine's resolution must not depend on the order
// returned here.
func (s *Store) ClaimsForItem(ctx context.Context, itemID string) ([]models.Claim, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT claim_id, item_id, source_doc_id, field, value, confidence, extracted_at
		 FROM claims WHERE item_id = $1`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query claims for item: %w", err)
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.ClaimID, &c.ItemID, &c.SourceDocID, &c.Field, &c.Value, &c.Confidence, &c.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// WeightedClaimsForItem returns every claim attributed to item joined with
// its source document's domain and fetch time: the shape the Trust Engine
// needs to weigh each vote by tier and decay it by age. Order is not
// meaningful; the Trust Engine must not depend on it.
func (s *Store) WeightedClaimsForItem(ctx context.Context, itemID string) ([]trust.WeightedClaim, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT c.claim_id, c.item_id, c.source_doc_id, c.field, c.value, c.confidence, c.extracted_at,
		        d.url, d.domain, d.fetched_at
		 FROM claims c
		 JOIN source_documents d ON d.doc_id = c.source_doc_id
		 WHERE c.item_id = $1`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query weighted claims for item: %w", err)
	}
	defer rows.Close()

	var out []trust.WeightedClaim
	for rows.Next() {
		var wc trust.WeightedClaim
		if err := rows.Scan(
			&wc.Claim.ClaimID, &wc.Claim.ItemID, &wc.Claim.SourceDocID, &wc.Claim.Field, &wc.Claim.Value, &wc.Claim.Confidence, &wc.Claim.ExtractedAt,
			&wc.SourceURL, &wc.SourceDomain, &wc.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan weighted claim: %w", err)
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

// SourcesForJob returns every source document fetched for job, for the
// synthesis fallback's combined-context prompt.
func (s *Store) SourcesForJob(ctx context.Context, jobID string) ([]models.SourceDocument, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT doc_id, job_id, url, url_hash, domain, raw_content, status, metadata, fetched_at
		 FROM source_documents WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources for job: %w", err)
	}
	defer rows.Close()

	var docs []models.SourceDocument
	for rows.Next() {
		var doc models.SourceDocument
		var metaJSON string
		if err := rows.Scan(&doc.DocID, &doc.JobID, &doc.URL, &doc.URLHash, &doc.Domain, &doc.RawContent, &doc.Status, &metaJSON, &doc.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
