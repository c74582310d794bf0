// Package frontier implements the durable, prioritized work queue that
// drives the Slice Scheduler: add, next_batch, complete, stats, and the
// lease reaper.
package frontier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/store"
)

// ErrTaskNotFound indicates a task id does not exist.
var ErrTaskNotFound = errors.New("frontier: task not found")

// Dialect distinguishes Postgres (which supports SELECT ... FOR UPDATE SKIP
// LOCKED for safe concurrent claiming) from sqlite (single-writer, no
// locking clause needed or supported).
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Frontier is the persistent priority queue keyed by
// (job_id, priority desc, enqueued_at asc).
type Frontier struct {
	store   *store.Store
	clock   clock.Clock
	dialect Dialect

	lease       time.Duration
	maxAttempts int
}

// New builds a Frontier backed by st, using dialect-appropriate claim SQL.
func New(st *store.Store, c clock.Clock, dialect Dialect, lease time.Duration, maxAttempts int) *Frontier {
	return &Frontier{store: st, clock: c, dialect: dialect, lease: lease, maxAttempts: maxAttempts}
}

// Add inserts a task if (job_id, value) is not already enqueued in a
// non-terminal state. Returns the task id, which is the existing task's id
// on a dedup hit.
func (f *Frontier) Add(ctx context.Context, jobID string, typ models.StrategyType, value string, priority, depth int, meta models.TaskMeta) (string, error) {
	var existing string
	err := f.store.DB.QueryRowContext(ctx,
		`SELECT task_id FROM frontier WHERE job_id = $1 AND value = $2 AND state IN ('pending','processing')`,
		jobID, value,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("check existing task: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal task meta: %w", err)
	}

	taskID := clock.NewID()
	_, err = f.store.DB.ExecContext(ctx,
		`INSERT INTO frontier (task_id, job_id, type, value, priority, depth, state, attempts, meta, enqueued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7, $8)`,
		taskID, jobID, string(typ), value, priority, depth, string(metaJSON), f.clock.Now(),
	)
	if err != nil {
		// A concurrent Add may have won the race on the partial unique index;
		// treat that as a dedup hit rather than an error.
		var retry string
		if scanErr := f.store.DB.QueryRowContext(ctx,
			`SELECT task_id FROM frontier WHERE job_id = $1 AND value = $2 AND state IN ('pending','processing')`,
			jobID, value,
		).Scan(&retry); scanErr == nil {
			return retry, nil
		}
		return "", fmt.Errorf("insert task: %w", err)
	}

	return taskID, nil
}

// NextBatch first reaps expired leases (see ReapExpiredLeases), then
// atomically selects up to n pending tasks with highest priority (FIFO
// within equal priority), marks them processing, and sets their lease.
func (f *Frontier) NextBatch(ctx context.Context, jobID string, n int) ([]models.Task, error) {
	if n <= 0 {
		return nil, nil
	}

	if _, err := f.ReapExpiredLeases(ctx); err != nil {
		return nil, err
	}

	var tasks []models.Task
	err := f.store.WithTx(ctx, func(tx *sql.Tx) error {
		selectQuery := `SELECT task_id, type, value, priority, depth, attempts, meta, enqueued_at
			FROM frontier
			WHERE job_id = $1 AND state = 'pending'
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT $2`
		if f.dialect == DialectPostgres {
			selectQuery += " FOR UPDATE SKIP LOCKED"
		}

		rows, err := tx.QueryContext(ctx, selectQuery, jobID, n)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}

		var ids []string
		for rows.Next() {
			var t models.Task
			var metaJSON string
			if err := rows.Scan(&t.TaskID, &t.Type, &t.Value, &t.Priority, &t.Depth, &t.Attempts, &metaJSON, &t.EnqueuedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan candidate: %w", err)
			}
			if err := json.Unmarshal([]byte(metaJSON), &t.Meta); err != nil {
				rows.Close()
				return fmt.Errorf("unmarshal meta: %w", err)
			}
			t.JobID = jobID
			t.State = models.TaskProcessing
			tasks = append(tasks, t)
			ids = append(ids, t.TaskID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}

		now := f.clock.Now()
		leaseExpiresAt := now.Add(f.lease)
		for i := range tasks {
			tasks[i].LeaseExpiresAt = &leaseExpiresAt
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE frontier SET state = 'processing', lease_expires_at = $1 WHERE task_id = $2`,
				leaseExpiresAt, id,
			); err != nil {
				return fmt.Errorf("claim task %s: %w", id, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

// Complete transitions a processing task to completed or failed.
func (f *Frontier) Complete(ctx context.Context, taskID string, outcome models.TaskState) error {
	if outcome != models.TaskCompleted && outcome != models.TaskFailed {
		return fmt.Errorf("frontier: invalid completion outcome %q", outcome)
	}

	res, err := f.store.DB.ExecContext(ctx,
		`UPDATE frontier SET state = $1, lease_expires_at = NULL WHERE task_id = $2 AND state = 'processing'`,
		string(outcome), taskID,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Stats reports per-state task counts for a job.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Stats returns the current per-state task counts for a job.
func (f *Frontier) Stats(ctx context.Context, jobID string) (Stats, error) {
	rows, err := f.store.DB.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM frontier WHERE job_id = $1 GROUP BY state`, jobID)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch models.TaskState(state) {
		case models.TaskPending:
			s.Pending = count
		case models.TaskProcessing:
			s.Processing = count
		case models.TaskCompleted:
			s.Completed = count
		case models.TaskFailed:
			s.Failed = count
		}
	}
	return s, rows.Err()
}

// ReapExpiredLeases returns any processing task whose lease has expired to
// pending (incrementing attempts), or to failed once the incremented
// attempts count reaches max_attempts. Returns the number of tasks reaped.
func (f *Frontier) ReapExpiredLeases(ctx context.Context) (int, error) {
	now := f.clock.Now()

	res, err := f.store.DB.ExecContext(ctx,
		`UPDATE frontier
		 SET state = 'failed', lease_expires_at = NULL, attempts = attempts + 1
		 WHERE state = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1
		   AND attempts + 1 >= $2`,
		now, f.maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("reap to failed: %w", err)
	}
	failedCount, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	res, err = f.store.DB.ExecContext(ctx,
		`UPDATE frontier
		 SET state = 'pending', lease_expires_at = NULL, attempts = attempts + 1
		 WHERE state = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("reap to pending: %w", err)
	}
	pendingCount, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(failedCount + pendingCount), nil
}
