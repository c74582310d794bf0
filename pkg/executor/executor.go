// Package executor implements the Task Executor: given one Frontier task,
// produce source documents and field claims, following the query/url/
// domain_crawl/domain_map behaviors, with cache-first fetching through the
// Evidence Store, retry of Transient adapter failures, and degraded-mode
// fallback once credits are exhausted.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/evidence"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/telemetry"
)

// RetryPolicy configures the Transient-error backoff applied around each
// Search, Scrape, and LLMJSON call. ScrapeBatch and FallbackSearch are
// called once, without retry.
type RetryPolicy struct {
	BaseDelay time.Duration
	Factor    float64
	Cap       time.Duration
	MaxTries  int
}

// Expansion is a follow-up query or URL to enqueue at the caller's
// discretion, with priority and depth already adjusted relative to the
// task that produced it.
type Expansion struct {
	Type     models.StrategyType
	Value    string
	Priority int
	Depth    int
}

// Result is what one task execution produced.
type Result struct {
	Docs       []models.SourceDocument
	Claims     []models.Claim
	Expansions []Expansion
	Exhausted  bool
}

// Executor processes one Frontier task at a time.
type Executor struct {
	adapters    adapters.Set
	evidence    *evidence.Store
	credits     *adapters.CreditState
	clock       clock.Clock
	retry       RetryPolicy
	relevanceK  int
	claimSchema map[string]any
}

// New builds an Executor.
func New(set adapters.Set, ev *evidence.Store, credits *adapters.CreditState, c clock.Clock, retry RetryPolicy, relevanceK int) *Executor {
	return &Executor{
		adapters:   set,
		evidence:   ev,
		credits:    credits,
		clock:      c,
		retry:      retry,
		relevanceK: relevanceK,
		claimSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"claims": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"field":      map[string]any{"type": "string"},
							"value":      map[string]any{"type": "string"},
							"confidence": map[string]any{"type": "number"},
						},
					},
				},
			},
		},
	}
}

// Execute runs task against job, returning whatever docs/claims/expansions
// it produced. It never mutates Frontier state directly; callers enqueue
// Expansions and call Frontier.Complete themselves.
func (e *Executor) Execute(ctx context.Context, job models.Job, task models.Task) (Result, error) {
	scope := adapters.JobScope(job.JobID)
	start := e.clock.Now()

	var res Result
	var err error
	switch task.Type {
	case models.StrategyQuery:
		res, err = e.executeQuery(ctx, job, task, task.Value, task.Priority, task.Depth, scope)
	case models.StrategyURL:
		res, err = e.executeURL(ctx, job, task.Value, scope)
	case models.StrategyDomainCrawl:
		res, err = e.executeDomainCrawl(ctx, job, task, scope)
	case models.StrategyDomainMap:
		res, err = e.executeDomainMap(ctx, job, task, scope)
	default:
		return Result{}, fmt.Errorf("executor: unknown task type %q", task.Type)
	}

	telemetry.RecordAdapterCall(ctx, string(task.Type), e.clock.Now().Sub(start), err)
	return res, err
}

// ExecuteBatch processes several url-typed tasks as one ScrapeBatch call,
// falling back to per-URL Scrape when the batch fails entirely.
func (e *Executor) ExecuteBatch(ctx context.Context, job models.Job, tasks []models.Task) ([]Result, error) {
	scope := adapters.JobScope(job.JobID)

	if e.credits.IsExhausted(scope) || e.adapters.ScrapeBatch == nil {
		return e.executeURLsOneByOne(ctx, job, tasks, scope)
	}

	urls := make([]string, len(tasks))
	for i, t := range tasks {
		urls[i] = t.Value
	}

	items, err := e.adapters.ScrapeBatch.ScrapeBatch(ctx, urls, adapters.ScrapeOptions{})
	if err != nil {
		if adapters.IsCreditsExhausted(err) {
			e.credits.MarkExhausted(scope)
		}
		return e.executeURLsOneByOne(ctx, job, tasks, scope)
	}

	byURL := make(map[string]adapters.BatchItem, len(items))
	for _, it := range items {
		byURL[it.URL] = it
	}

	results := make([]Result, len(tasks))
	for i, t := range tasks {
		item, ok := byURL[t.Value]
		if !ok || item.Err != nil {
			results[i], _ = e.executeURL(ctx, job, t.Value, scope)
			continue
		}
		doc, claims, err := e.persistScrape(ctx, job, t.Value, item.Result)
		if err != nil {
			continue
		}
		results[i] = Result{Docs: []models.SourceDocument{doc}, Claims: claims}
	}
	return results, nil
}

func (e *Executor) executeURLsOneByOne(ctx context.Context, job models.Job, tasks []models.Task, scope adapters.JobScope) ([]Result, error) {
	results := make([]Result, len(tasks))
	for i, t := range tasks {
		r, _ := e.executeURL(ctx, job, t.Value, scope)
		results[i] = r
	}
	return results, nil
}

// executeQuery implements the `query` task behavior: search, select the top
// K relevant hits, scrape each (cache-first), persist, extract claims.
func (e *Executor) executeQuery(ctx context.Context, job models.Job, task models.Task, query string, priority, depth int, scope adapters.JobScope) (Result, error) {
	if e.credits.IsExhausted(scope) && e.adapters.FallbackSearch != nil {
		return e.executeQueryFallback(ctx, job, query)
	}

	hits, err := e.search(ctx, query, job.Budgets.LimitPerQuery)
	if err != nil {
		if adapters.IsCreditsExhausted(err) {
			e.credits.MarkExhausted(scope)
			if e.adapters.FallbackSearch != nil {
				return e.executeQueryFallback(ctx, job, query)
			}
			return Result{Exhausted: true}, nil
		}
		return Result{}, err
	}

	relevant := e.selectRelevant(ctx, query, hits)

	var result Result
	for _, hit := range relevant {
		docResult, err := e.executeURL(ctx, job, hit.URL, scope)
		if err != nil {
			if adapters.IsPermanent(err) {
				// one hit failing permanently doesn't fail the whole query;
				// the remaining hits may still produce claims.
				continue
			}
			return Result{}, err
		}
		result.Docs = append(result.Docs, docResult.Docs...)
		result.Claims = append(result.Claims, docResult.Claims...)

		if docResult.Exhausted {
			result.Exhausted = true
			if e.adapters.FallbackSearch != nil {
				fallback, err := e.executeQueryFallback(ctx, job, query)
				if err == nil {
					result.Docs = append(result.Docs, fallback.Docs...)
					result.Claims = append(result.Claims, fallback.Claims...)
				}
			}
			break
		}
	}

	if task.Meta.Repair {
		// repair tasks don't request further expansion; they exist to close
		// one specific gap.
		return result, nil
	}

	expansions, err := e.requestExpansions(ctx, query, result.Docs)
	if err != nil {
		return result, nil // expansion failures never fail the base extraction
	}
	for _, exp := range expansions {
		result.Expansions = append(result.Expansions, Expansion{
			Type:     models.StrategyQuery,
			Value:    exp,
			Priority: priority - 10,
			Depth:    depth + 1,
		})
	}

	return result, nil
}

// executeQueryFallback bypasses Search/Scrape entirely via FallbackSearch,
// the only adapter path available once credits are exhausted for a query
// task. FallbackSearch returns content directly, so no caching lookup or
// Scrape retry applies.
func (e *Executor) executeQueryFallback(ctx context.Context, job models.Job, query string) (Result, error) {
	hits, err := e.adapters.FallbackSearch.FallbackSearch(ctx, query)
	if err != nil {
		return Result{Exhausted: true}, nil
	}

	var result Result
	result.Exhausted = true
	for _, hit := range hits {
		metadata := models.DocumentMetadata{Title: hit.Title}
		docID, err := e.evidence.UpsertSource(ctx, job.JobID, hit.URL, hit.Markdown, metadata)
		if err != nil {
			continue
		}
		claims, err := e.extractClaims(ctx, job.JobID, docID, hit.Markdown)
		if err != nil {
			continue
		}
		result.Docs = append(result.Docs, models.SourceDocument{DocID: docID, JobID: job.JobID, URL: hit.URL, RawContent: hit.Markdown, Metadata: metadata})
		result.Claims = append(result.Claims, claims...)
	}
	return result, nil
}

// executeURL implements the `url` task behavior: one cache-first Scrape,
// persisted, with claims extracted from the result.
func (e *Executor) executeURL(ctx context.Context, job models.Job, url string, scope adapters.JobScope) (Result, error) {
	if doc, err := e.evidence.FindSourceByURL(ctx, url); err == nil {
		claims, err := e.extractClaims(ctx, job.JobID, doc.DocID, doc.RawContent)
		if err != nil {
			return Result{}, err
		}
		return Result{Docs: []models.SourceDocument{doc}, Claims: claims}, nil
	} else if !errors.Is(err, evidence.ErrNotFound) {
		return Result{}, err
	}

	if e.credits.IsExhausted(scope) {
		return Result{Exhausted: true}, nil
	}

	scraped, err := e.scrape(ctx, url)
	if err != nil {
		if adapters.IsCreditsExhausted(err) {
			e.credits.MarkExhausted(scope)
			return Result{Exhausted: true}, nil
		}
		return Result{}, err
	}

	doc, claims, err := e.persistScrape(ctx, job, url, scraped)
	if err != nil {
		return Result{}, err
	}
	return Result{Docs: []models.SourceDocument{doc}, Claims: claims}, nil
}

// executeDomainCrawl handles the root URL exactly as a `url` task does: one
// cache-first Scrape with default ScrapeOptions (MaxDepth 0, so no depth
// allowance is passed) and claim extraction from that one document.
// Sub-documents are not followed or processed separately.
func (e *Executor) executeDomainCrawl(ctx context.Context, job models.Job, task models.Task, scope adapters.JobScope) (Result, error) {
	return e.executeURL(ctx, job, task.Value, scope)
}

// executeDomainMap searches scoped to target_domain, then behaves as `query`
// over the results.
func (e *Executor) executeDomainMap(ctx context.Context, job models.Job, task models.Task, scope adapters.JobScope) (Result, error) {
	domainQuery := task.Meta.TargetDomain
	if domainQuery == "" {
		domainQuery = task.Value
	}
	return e.executeQuery(ctx, job, task, domainQuery, task.Priority, task.Depth, scope)
}

func (e *Executor) persistScrape(ctx context.Context, job models.Job, url string, scraped adapters.ScrapeResult) (models.SourceDocument, []models.Claim, error) {
	metadata := models.DocumentMetadata{Title: scraped.Metadata.Title, SourceType: scraped.Metadata.SourceType}
	docID, err := e.evidence.UpsertSource(ctx, job.JobID, url, scraped.Markdown, metadata)
	if err != nil {
		return models.SourceDocument{}, nil, fmt.Errorf("persist source %s: %w", url, err)
	}

	claims, err := e.extractClaims(ctx, job.JobID, docID, scraped.Markdown)
	if err != nil {
		return models.SourceDocument{}, nil, err
	}

	doc := models.SourceDocument{DocID: docID, JobID: job.JobID, URL: url, RawContent: scraped.Markdown, Metadata: metadata}
	return doc, claims, nil
}

func (e *Executor) extractClaims(ctx context.Context, itemID, docID, content string) ([]models.Claim, error) {
	out, err := e.llmJSON(ctx, content, e.claimSchema, nil)
	if err != nil {
		if adapters.IsPermanent(err) {
			return nil, nil
		}
		return nil, err
	}

	rawClaims, _ := out["claims"].([]any)
	claims := make([]models.Claim, 0, len(rawClaims))
	for _, rc := range rawClaims {
		m, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		field, _ := m["field"].(string)
		value, _ := m["value"].(string)
		confidence, _ := m["confidence"].(float64)
		if field == "" {
			continue
		}
		claims = append(claims, models.Claim{
			ItemID:      itemID,
			SourceDocID: docID,
			Field:       field,
			Value:       value,
			Confidence:  confidence,
			ExtractedAt: e.clock.Now(),
		})
	}

	if len(claims) > 0 {
		if err := e.evidence.InsertClaimsBatch(ctx, claims); err != nil {
			return nil, fmt.Errorf("insert claims for doc %s: %w", docID, err)
		}
	}

	return claims, nil
}

func (e *Executor) selectRelevant(ctx context.Context, query string, hits []adapters.SearchHit) []adapters.SearchHit {
	if len(hits) == 0 {
		return nil
	}
	k := e.relevanceK
	if k <= 0 || k > len(hits) {
		k = len(hits)
	}

	hints := map[string]any{"query": query}
	schema := map[string]any{"type": "object", "properties": map[string]any{"relevant_urls": map[string]any{"type": "array"}}}
	out, err := e.llmJSON(ctx, "rank search results by relevance", schema, hints)
	if err != nil {
		return hits[:k]
	}

	ranked, _ := out["relevant_urls"].([]any)
	if len(ranked) == 0 {
		return hits[:k]
	}

	byURL := make(map[string]adapters.SearchHit, len(hits))
	for _, h := range hits {
		byURL[h.URL] = h
	}
	var selected []adapters.SearchHit
	for _, r := range ranked {
		u, _ := r.(string)
		if h, ok := byURL[u]; ok {
			selected = append(selected, h)
		}
		if len(selected) >= k {
			break
		}
	}
	if len(selected) == 0 {
		return hits[:k]
	}
	return selected
}

func (e *Executor) requestExpansions(ctx context.Context, query string, docs []models.SourceDocument) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	schema := map[string]any{"type": "object", "properties": map[string]any{"expansions": map[string]any{"type": "array"}}}
	out, err := e.llmJSON(ctx, "suggest follow-up queries", schema, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	raw, _ := out["expansions"].([]any)
	expansions := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok && s != "" {
			expansions = append(expansions, s)
		}
	}
	return expansions, nil
}

// search, scrape, and llmJSON each wrap their adapter call with the
// configured Transient-retry policy.
func (e *Executor) search(ctx context.Context, query string, limit int) ([]adapters.SearchHit, error) {
	var hits []adapters.SearchHit
	err := e.withRetry(ctx, func() error {
		var innerErr error
		hits, innerErr = e.adapters.Search.Search(ctx, query, adapters.SearchOptions{Limit: limit})
		return innerErr
	})
	return hits, err
}

func (e *Executor) scrape(ctx context.Context, url string) (adapters.ScrapeResult, error) {
	var res adapters.ScrapeResult
	err := e.withRetry(ctx, func() error {
		var innerErr error
		res, innerErr = e.adapters.Scrape.Scrape(ctx, url, adapters.ScrapeOptions{})
		return innerErr
	})
	return res, err
}

func (e *Executor) llmJSON(ctx context.Context, prompt string, schema map[string]any, hints map[string]any) (map[string]any, error) {
	var out map[string]any
	err := e.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = e.adapters.LLMJSON.LLMJSON(ctx, prompt, schema, hints)
		return innerErr
	})
	return out, err
}

// withRetry retries fn with exponential backoff only while it returns a
// Transient error; Permanent/NotFound/ValidationError/CreditsExhausted
// propagate immediately.
func (e *Executor) withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retry.BaseDelay
	policy.Multiplier = e.retry.Factor
	policy.MaxInterval = e.retry.Cap
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !adapters.IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempts >= e.retry.MaxTries {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}
	var permErr *backoff.PermanentError
	if errors.As(err, &permErr) {
		return permErr.Err
	}
	return err
}
