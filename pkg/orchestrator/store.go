package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/store"
)

// ErrJobNotFound indicates a job id does not exist.
var ErrJobNotFound = errors.New("orchestrator: job not found")

// ErrItemNotFound indicates a job has no Item row yet.
var ErrItemNotFound = errors.New("orchestrator: item not found")

// jobRepo persists Job, job_steps, and Item state: the durable record the
// stage machine rehydrates from on every call instead of carrying state in
// memory across invocations.
type jobRepo struct {
	db    *store.Store
	clock clock.Clock
}

// create inserts a new job, or returns an existing one sharing
// (tenant_id, input_hash) when req.ForceRefresh is false.
func (r *jobRepo) create(ctx context.Context, req models.TriggerJobRequest) (models.Job, error) {
	inputHash := clock.InputHash(req.InputRaw)

	if !req.ForceRefresh {
		existing, err := r.findByInputHash(ctx, req.TenantID, inputHash)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return models.Job{}, err
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = models.JobModeBalanced
	}
	budgetsJSON, err := json.Marshal(req.Budgets)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal job budgets: %w", err)
	}

	now := r.clock.Now()
	job := models.Job{
		JobID:         clock.NewID(),
		TenantID:      req.TenantID,
		InputRaw:      req.InputRaw,
		InputHash:     inputHash,
		Mode:          mode,
		Status:        models.JobStatusPending,
		ForceRefresh:  req.ForceRefresh,
		PreviousJobID: req.PreviousJobID,
		Budgets:       req.Budgets,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = r.db.DB.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, input_hash, input_raw, mode, status, force_refresh, previous_job_id, budgets, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.JobID, job.TenantID, job.InputHash, job.InputRaw, string(job.Mode), string(job.Status),
		job.ForceRefresh, job.PreviousJobID, string(budgetsJSON), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// findByInputHash returns the most recently created job sharing
// (tenant_id, input_hash), regardless of its status.
func (r *jobRepo) findByInputHash(ctx context.Context, tenantID, inputHash string) (models.Job, error) {
	row := r.db.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, input_hash, input_raw, mode, status, force_refresh, previous_job_id, budgets, created_at, updated_at, result_ref
		 FROM jobs WHERE tenant_id = $1 AND input_hash = $2 ORDER BY created_at DESC LIMIT 1`,
		tenantID, inputHash,
	)
	return scanJob(row)
}

// get returns a job by id.
func (r *jobRepo) get(ctx context.Context, jobID string) (models.Job, error) {
	row := r.db.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, input_hash, input_raw, mode, status, force_refresh, previous_job_id, budgets, created_at, updated_at, result_ref
		 FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanJob(row)
}

func scanJob(row *sql.Row) (models.Job, error) {
	var j models.Job
	var budgetsJSON string
	var resultRef sql.NullString
	err := row.Scan(&j.JobID, &j.TenantID, &j.InputHash, &j.InputRaw, &j.Mode, &j.Status,
		&j.ForceRefresh, &j.PreviousJobID, &budgetsJSON, &j.CreatedAt, &j.UpdatedAt, &resultRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Job{}, ErrJobNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(budgetsJSON), &j.Budgets); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal job budgets: %w", err)
	}
	j.ResultRef = resultRef.String
	return j, nil
}

// transition moves job to status, refusing the move if CanTransition denies
// it, and records a job_steps row. detail is opaque text describing what
// the stage did (or why it failed).
func (r *jobRepo) transition(ctx context.Context, job models.Job, to models.JobStatus, detail string) error {
	if !models.CanTransition(job.Status, to) {
		return fmt.Errorf("orchestrator: illegal job transition %s -> %s", job.Status, to)
	}
	now := r.clock.Now()
	if _, err := r.db.DB.ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(to), now, job.JobID,
	); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if _, err := r.db.DB.ExecContext(ctx,
		`INSERT INTO job_steps (job_id, stage, entered_at, detail) VALUES ($1, $2, $3, $4)`,
		job.JobID, string(to), now, detail,
	); err != nil {
		return fmt.Errorf("insert job step: %w", err)
	}
	return nil
}

// steps returns every recorded stage transition, oldest first.
func (r *jobRepo) steps(ctx context.Context, jobID string) ([]models.StageTransition, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT stage, entered_at, detail FROM job_steps WHERE job_id = $1 ORDER BY entered_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query job steps: %w", err)
	}
	defer rows.Close()

	var out []models.StageTransition
	for rows.Next() {
		var t models.StageTransition
		var detail sql.NullString
		if err := rows.Scan(&t.Stage, &t.EnteredAt, &detail); err != nil {
			return nil, fmt.Errorf("scan job step: %w", err)
		}
		t.Detail = detail.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// setExhausted durably marks the job as having hit a credit exhaustion
// signal during searching, so a resumed run after a crash still reports it.
func (r *jobRepo) setExhausted(ctx context.Context, jobID string) error {
	_, err := r.db.DB.ExecContext(ctx, `UPDATE jobs SET exhausted = true WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("set job exhausted: %w", err)
	}
	return nil
}

func (r *jobRepo) isExhausted(ctx context.Context, jobID string) (bool, error) {
	var exhausted bool
	err := r.db.DB.QueryRowContext(ctx, `SELECT exhausted FROM jobs WHERE id = $1`, jobID).Scan(&exhausted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrJobNotFound
		}
		return false, fmt.Errorf("query job exhausted: %w", err)
	}
	return exhausted, nil
}

// incrementSliceCount bumps the persisted slice counter and returns its new
// value, so MAX_SLICES is enforced across restarts rather than per process.
func (r *jobRepo) incrementSliceCount(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.db.DB.QueryRowContext(ctx,
		`UPDATE jobs SET slice_count = slice_count + 1 WHERE id = $1 RETURNING slice_count`,
		jobID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment slice count: %w", err)
	}
	return count, nil
}

func (r *jobRepo) sliceCount(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.db.DB.QueryRowContext(ctx, `SELECT slice_count FROM jobs WHERE id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query slice count: %w", err)
	}
	return count, nil
}

// setResultRef records the externally-addressable result pointer once a job
// reaches a terminal state.
func (r *jobRepo) setResultRef(ctx context.Context, jobID, ref string) error {
	_, err := r.db.DB.ExecContext(ctx, `UPDATE jobs SET result_ref = $1 WHERE id = $2`, ref, jobID)
	if err != nil {
		return fmt.Errorf("set job result ref: %w", err)
	}
	return nil
}

// upsertItem inserts or replaces the single Item row bound to a job.
func (r *jobRepo) upsertItem(ctx context.Context, item models.Item) error {
	dataJSON, err := json.Marshal(item.Data)
	if err != nil {
		return fmt.Errorf("marshal item data: %w", err)
	}
	evidenceJSON, err := json.Marshal(item.Evidence)
	if err != nil {
		return fmt.Errorf("marshal item evidence: %w", err)
	}
	validationJSON, err := json.Marshal(item.ValidationErrors)
	if err != nil {
		return fmt.Errorf("marshal item validation errors: %w", err)
	}
	if item.ItemID == "" {
		item.ItemID = clock.NewID()
	}

	_, err = r.db.DB.ExecContext(ctx,
		`INSERT INTO items (item_id, job_id, data, evidence, status, validation_errors, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (job_id) DO UPDATE SET
		   data = excluded.data,
		   evidence = excluded.evidence,
		   status = excluded.status,
		   validation_errors = excluded.validation_errors,
		   updated_at = excluded.updated_at`,
		item.ItemID, item.JobID, string(dataJSON), string(evidenceJSON), string(item.Status), string(validationJSON), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (r *jobRepo) getItem(ctx context.Context, jobID string) (models.Item, error) {
	var item models.Item
	var dataJSON, evidenceJSON, validationJSON string
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT item_id, job_id, data, evidence, status, validation_errors, updated_at
		 FROM items WHERE job_id = $1`,
		jobID,
	).Scan(&item.ItemID, &item.JobID, &dataJSON, &evidenceJSON, &item.Status, &validationJSON, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Item{}, ErrItemNotFound
		}
		return models.Item{}, fmt.Errorf("query item: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &item.Data); err != nil {
		return models.Item{}, fmt.Errorf("unmarshal item data: %w", err)
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &item.Evidence); err != nil {
		return models.Item{}, fmt.Errorf("unmarshal item evidence: %w", err)
	}
	if err := json.Unmarshal([]byte(validationJSON), &item.ValidationErrors); err != nil {
		return models.Item{}, fmt.Errorf("unmarshal item validation errors: %w", err)
	}
	return item, nil
}
