// Package scheduler implements the Slice Scheduler: a concurrency- and
// time-bounded drain of one job's Frontier, dispatching tasks to the Task
// Executor and feeding completions and expansions back into the Frontier.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rivergate-labs/veritas/pkg/executor"
	"github.com/rivergate-labs/veritas/pkg/frontier"
	"github.com/rivergate-labs/veritas/pkg/models"
)

// Result is what one slice produced.
type Result struct {
	Done      bool
	Exhausted bool
}

// Scheduler drives bounded execution slices for a job.
type Scheduler struct {
	frontier *frontier.Frontier
	executor *executor.Executor

	concurrency   int
	sliceDeadline time.Duration
	drainMargin   time.Duration
	drainTimeout  time.Duration
}

// New builds a Scheduler.
func New(f *frontier.Frontier, ex *executor.Executor, concurrency int, sliceDeadline, drainMargin, drainTimeout time.Duration) *Scheduler {
	return &Scheduler{
		frontier:      f,
		executor:      ex,
		concurrency:   concurrency,
		sliceDeadline: sliceDeadline,
		drainMargin:   drainMargin,
		drainTimeout:  drainTimeout,
	}
}

type taskOutcome struct {
	tasks   []models.Task
	results []executor.Result
	err     error
}

// RunSlice dispatches Frontier tasks for job up to the configured
// concurrency until the Frontier drains or the slice's drain margin is
// reached, then waits for in-flight work up to a hard drain timeout. Any
// future still running past that timeout is abandoned: its task stays
// "processing" in the Frontier and returns to pending once its lease
// expires, exactly as a crash mid-slice would.
func (s *Scheduler) RunSlice(ctx context.Context, job models.Job) (Result, error) {
	start := time.Now()
	deadline := start.Add(s.sliceDeadline)
	drainAt := deadline.Add(-s.drainMargin)
	hardStop := deadline.Add(s.drainTimeout)

	sliceCtx, cancel := context.WithDeadline(ctx, hardStop)
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.concurrency))
	outcomes := make(chan taskOutcome)
	active := 0
	exhausted := false

	dispatch := func(tasks []models.Task) {
		if !sem.TryAcquire(1) {
			// Concurrency is already fully booked; the caller only offers
			// batches sized within the currently free slot count, so this
			// is a defensive fallback rather than the expected path.
			_ = sem.Acquire(sliceCtx, 1)
		}
		active++
		go func() {
			defer sem.Release(1)
			var o taskOutcome
			if len(tasks) == 1 {
				res, err := s.executor.Execute(sliceCtx, job, tasks[0])
				o = taskOutcome{tasks: tasks, results: []executor.Result{res}, err: err}
			} else {
				results, err := s.executor.ExecuteBatch(sliceCtx, job, tasks)
				o = taskOutcome{tasks: tasks, results: results, err: err}
			}
			select {
			case outcomes <- o:
			case <-sliceCtx.Done():
			}
		}()
	}

	for time.Now().Before(drainAt) {
		free := s.concurrency - active
		if free > 0 {
			tasks, err := s.frontier.NextBatch(ctx, job.JobID, free)
			if err != nil {
				return Result{}, fmt.Errorf("scheduler: next batch: %w", err)
			}
			if len(tasks) == 0 {
				if active == 0 {
					return Result{Done: true, Exhausted: exhausted}, nil
				}
			} else {
				urlTasks, other := splitByType(tasks)
				if len(urlTasks) >= 2 {
					dispatch(urlTasks)
				} else {
					for _, t := range urlTasks {
						dispatch([]models.Task{t})
					}
				}
				for _, t := range other {
					dispatch([]models.Task{t})
				}
				continue
			}
		}

		select {
		case o := <-outcomes:
			active--
			if err := s.integrate(ctx, job, o, &exhausted); err != nil {
				return Result{}, err
			}
		case <-time.After(time.Until(drainAt)):
		}
	}

	for active > 0 {
		select {
		case o := <-outcomes:
			active--
			if err := s.integrate(ctx, job, o, &exhausted); err != nil {
				return Result{}, err
			}
		case <-sliceCtx.Done():
			return Result{Done: false, Exhausted: exhausted}, nil
		}
	}

	return Result{Done: false, Exhausted: exhausted}, nil
}

// integrate completes each task in o with its outcome, enqueues any
// expansions it produced, and folds its exhausted flag into the slice's.
func (s *Scheduler) integrate(ctx context.Context, job models.Job, o taskOutcome, exhausted *bool) error {
	for i, t := range o.tasks {
		var res executor.Result
		if i < len(o.results) {
			res = o.results[i]
		}

		outcome := models.TaskCompleted
		if o.err != nil {
			outcome = models.TaskFailed
		}
		if err := s.frontier.Complete(ctx, t.TaskID, outcome); err != nil && !errors.Is(err, frontier.ErrTaskNotFound) {
			return fmt.Errorf("scheduler: complete task %s: %w", t.TaskID, err)
		}

		if res.Exhausted {
			*exhausted = true
		}

		for _, exp := range res.Expansions {
			meta := models.TaskMeta{DiscoveredFrom: t.TaskID}
			if _, err := s.frontier.Add(ctx, job.JobID, exp.Type, exp.Value, exp.Priority, exp.Depth, meta); err != nil {
				return fmt.Errorf("scheduler: enqueue expansion: %w", err)
			}
		}
	}
	return nil
}

// splitByType partitions tasks into url-typed and everything else,
// preserving relative order within each group.
func splitByType(tasks []models.Task) (urlTasks, other []models.Task) {
	for _, t := range tasks {
		if t.Type == models.StrategyURL {
			urlTasks = append(urlTasks, t)
		} else {
			other = append(other, t)
		}
	}
	return urlTasks, other
}
