// Package orchestrator drives the stage machine that turns a triggered Job
// into a finished Item: plan, seed the Frontier, run search slices, resolve
// claims through the Trust Engine (with Synthesis fallback and Reflection
// repair), polish, gate-check, and finalize. Every stage reads its input
// from persisted state only, so Run can be called again after a crash and
// picks up exactly where it left off.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/evidence"
	"github.com/rivergate-labs/veritas/pkg/frontier"
	"github.com/rivergate-labs/veritas/pkg/gatekeeper"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/scheduler"
	"github.com/rivergate-labs/veritas/pkg/store"
	"github.com/rivergate-labs/veritas/pkg/telemetry"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// Config carries the job-independent tunables the stage machine needs
// beyond what each Deps collaborator already owns.
type Config struct {
	MaxSlices int

	RequiredFields            []string
	ImageFields               []string
	ReflectionConfidenceFloor float64
	MaxReflectionLoops        int
	ReflectionQueryTemplate   string

	SynthesisMaxDocs        int
	SynthesisMaxCharsPerDoc int

	RulesetVersion string
	ParserVersion  string
}

// Deps bundles every collaborator the stage machine calls out to: the
// single explicit value every constructor in this package threads through,
// replacing what would otherwise be ambient globals.
type Deps struct {
	Store      *store.Store
	Clock      clock.Clock
	Frontier   *frontier.Frontier
	Evidence   *evidence.Store
	Trust      *trust.Engine
	Adapters   adapters.Set
	Scheduler  *scheduler.Scheduler
	Gatekeeper *gatekeeper.Gatekeeper
	Config     Config
}

// Orchestrator is the stage machine over one Deps value.
type Orchestrator struct {
	deps Deps
	jobs *jobRepo
}

// New builds an Orchestrator backed by deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps: deps,
		jobs: &jobRepo{db: deps.Store, clock: deps.Clock},
	}
}

// Trigger creates (or returns the cached equivalent of) a Job for req. It
// does not run any stage; call Run to drive the returned job to completion.
func (o *Orchestrator) Trigger(ctx context.Context, req models.TriggerJobRequest) (models.TriggerJobResponse, error) {
	job, err := o.jobs.create(ctx, req)
	if err != nil {
		return models.TriggerJobResponse{}, fmt.Errorf("orchestrator: trigger: %w", err)
	}
	return models.TriggerJobResponse{JobID: job.JobID}, nil
}

// Status reports a job's current stage, its step log, and its result once
// it reaches a terminal status.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (models.StatusResponse, error) {
	job, err := o.jobs.get(ctx, jobID)
	if err != nil {
		return models.StatusResponse{}, fmt.Errorf("orchestrator: status: %w", err)
	}
	steps, err := o.jobs.steps(ctx, jobID)
	if err != nil {
		return models.StatusResponse{}, fmt.Errorf("orchestrator: status steps: %w", err)
	}

	resp := models.StatusResponse{JobID: job.JobID, Status: job.Status, Steps: steps}
	if job.Status != models.JobStatusDone && job.Status != models.JobStatusFailed {
		return resp, nil
	}

	item, err := o.jobs.getItem(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return resp, nil
		}
		return models.StatusResponse{}, fmt.Errorf("orchestrator: status item: %w", err)
	}
	resp.Result = &models.ResultRecord{
		JobID:                job.JobID,
		InputRaw:             job.InputRaw,
		InputHash:            job.InputHash,
		Data:                 item.Data,
		Evidence:             item.Evidence,
		Status:               string(item.Status),
		ValidationErrors:     item.ValidationErrors,
		ProcessedAt:          item.UpdatedAt,
		ProcessingDurationMs: item.UpdatedAt.Sub(job.CreatedAt).Milliseconds(),
		RulesetVersion:       o.deps.Config.RulesetVersion,
		ParserVersion:        o.deps.Config.ParserVersion,
	}
	return resp, nil
}

// Run drives job forward one stage at a time until it reaches Done or
// Failed. It is safe to call repeatedly (after a crash, from a worker
// polling loop): every stage re-derives whatever it needs from persisted
// state rather than from anything carried over in this call's memory.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	for {
		job, err := o.jobs.get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("orchestrator: run: %w", err)
		}

		switch job.Status {
		case models.JobStatusPending:
			if err := o.doPlan(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
		case models.JobStatusPlanning:
			if err := o.doSeedFrontier(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
		case models.JobStatusSearching:
			if err := o.stageSearchLoop(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
			if err := o.jobs.transition(ctx, job, models.JobStatusEnrichment, "search_loop complete"); err != nil {
				return o.fail(ctx, job, err)
			}
		case models.JobStatusEnrichment:
			if err := o.doResolve(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
			if err := o.jobs.transition(ctx, job, models.JobStatusPolish, "resolve complete"); err != nil {
				return o.fail(ctx, job, err)
			}
		case models.JobStatusPolish:
			if err := o.stagePolish(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
			if err := o.jobs.transition(ctx, job, models.JobStatusGateCheck, "polish complete"); err != nil {
				return o.fail(ctx, job, err)
			}
		case models.JobStatusGateCheck:
			if err := o.stageGateCheck(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
			if err := o.stageFinalize(ctx, job); err != nil {
				return o.fail(ctx, job, err)
			}
			if item, err := o.jobs.getItem(ctx, job.JobID); err == nil {
				telemetry.RecordJobCompletion(ctx, string(item.Status))
			}
			return o.jobs.transition(ctx, job, models.JobStatusDone, "finalize complete")
		case models.JobStatusDone, models.JobStatusFailed:
			return nil
		default:
			return fmt.Errorf("orchestrator: unknown job status %q", job.Status)
		}
	}
}

// fail records cause as the job's terminal failure and returns it, or a
// wrapped error if even the failure transition couldn't be recorded.
func (o *Orchestrator) fail(ctx context.Context, job models.Job, cause error) error {
	if tErr := o.jobs.transition(ctx, job, models.JobStatusFailed, cause.Error()); tErr != nil {
		return fmt.Errorf("%w (also failed to record failure: %v)", cause, tErr)
	}
	return cause
}

// doPlan builds the Plan, initializes the Item row, and moves the job into
// planning. Plan derivation is pure, so it costs nothing to redo on resume.
func (o *Orchestrator) doPlan(ctx context.Context, job models.Job) error {
	plan := buildPlan(job)

	item := models.Item{
		ItemID:    job.JobID,
		JobID:     job.JobID,
		Status:    models.ItemProcessing,
		UpdatedAt: o.deps.Clock.Now(),
	}
	if err := o.jobs.upsertItem(ctx, item); err != nil {
		return fmt.Errorf("plan: init item: %w", err)
	}

	detail := fmt.Sprintf("plan: %d strategies", len(plan.Strategies))
	if plan.MPN != "" {
		detail = fmt.Sprintf("%s (direct guess mpn=%s)", detail, plan.MPN)
	}
	return o.jobs.transition(ctx, job, models.JobStatusPlanning, detail)
}

// seedFrontierDetailPrefix marks the job_steps row recording that
// seed_frontier has already run for this planning stage.
const seedFrontierDetailPrefix = "seed_frontier:"

// doSeedFrontier runs seed_frontier exactly once per job (detected via the
// job_steps log) and then advances to searching.
func (o *Orchestrator) doSeedFrontier(ctx context.Context, job models.Job) error {
	steps, err := o.jobs.steps(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("seed_frontier: load steps: %w", err)
	}
	for _, s := range steps {
		if s.Stage == models.JobStatusPlanning && strings.HasPrefix(s.Detail, seedFrontierDetailPrefix) {
			return o.jobs.transition(ctx, job, models.JobStatusSearching, "search_loop start")
		}
	}

	plan := buildPlan(job)
	if err := o.seedFrontier(ctx, job, plan); err != nil {
		return err
	}
	return o.jobs.transition(ctx, job, models.JobStatusPlanning, fmt.Sprintf("%s%d tasks", seedFrontierDetailPrefix, len(plan.Strategies)))
}

// seedFrontier translates plan's strategies into Frontier tasks, ranked in
// the order they appear so the first strategy dispatches first.
func (o *Orchestrator) seedFrontier(ctx context.Context, job models.Job, plan models.Plan) error {
	for i, strat := range plan.Strategies {
		priority := 100 - i*10
		meta := models.TaskMeta{StrategyName: strat.Name, TargetDomain: strat.TargetDomain, Schema: strat.Schema}
		if _, err := o.deps.Frontier.Add(ctx, job.JobID, strat.Type, strat.Value, priority, 0, meta); err != nil {
			return fmt.Errorf("seed_frontier: add %q: %w", strat.Name, err)
		}
	}
	return nil
}

// stageSearchLoop repeatedly drains the Frontier in bounded slices until the
// scheduler reports done or the persisted slice count hits MaxSlices,
// folding each slice's exhausted flag into the job's durable state.
func (o *Orchestrator) stageSearchLoop(ctx context.Context, job models.Job) error {
	for {
		count, err := o.jobs.sliceCount(ctx, job.JobID)
		if err != nil {
			return fmt.Errorf("search_loop: slice count: %w", err)
		}
		if o.deps.Config.MaxSlices > 0 && count >= o.deps.Config.MaxSlices {
			return nil
		}

		res, err := o.deps.Scheduler.RunSlice(ctx, job)
		if err != nil {
			return fmt.Errorf("search_loop: run slice: %w", err)
		}
		telemetry.RecordSliceRun(ctx, res.Exhausted)
		if _, err := o.jobs.incrementSliceCount(ctx, job.JobID); err != nil {
			return fmt.Errorf("search_loop: increment slice count: %w", err)
		}
		if res.Exhausted {
			if err := o.jobs.setExhausted(ctx, job.JobID); err != nil {
				return fmt.Errorf("search_loop: set exhausted: %w", err)
			}
		}
		if res.Done {
			return nil
		}
	}
}

// doResolve runs the Trust Engine over every claim on file, falls back to
// Synthesis if the identity fields are still missing, then runs Reflection
// repair, and writes the result into the Item.
func (o *Orchestrator) doResolve(ctx context.Context, job models.Job) error {
	d, compat, err := o.resolveDraft(ctx, job)
	if err != nil {
		return err
	}

	added, err := o.synthesizeIdentity(ctx, job, d)
	if err != nil {
		return err
	}
	if added {
		d, compat, err = o.resolveDraft(ctx, job)
		if err != nil {
			return err
		}
	}

	d, err = o.runReflection(ctx, job, d)
	if err != nil {
		return err
	}

	item, err := o.jobs.getItem(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("resolve: load item: %w", err)
	}
	now := o.deps.Clock.Now()
	applyDraft(&item, d, compat, now)
	item.UpdatedAt = now
	if err := o.jobs.upsertItem(ctx, item); err != nil {
		return fmt.Errorf("resolve: save item: %w", err)
	}
	return nil
}
