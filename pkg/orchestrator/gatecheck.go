package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rivergate-labs/veritas/pkg/gatekeeper"
	"github.com/rivergate-labs/veritas/pkg/models"
)

var brandCaser = cases.Title(language.English)

// polishItem normalizes an already-resolved Item's string fields: trims
// incidental whitespace search/extraction tends to leave behind and
// title-cases brand, which the Trust Engine resolves verbatim from
// whichever source won the vote.
func polishItem(item *models.Item) {
	for field, v := range item.Data {
		s, ok := v.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		if field == "brand" {
			trimmed = brandCaser.String(trimmed)
		}
		item.Data[field] = trimmed
		if ev, ok := item.Evidence[field]; ok {
			ev.Value = trimmed
			item.Evidence[field] = ev
		}
	}
}

// gateRulesForMode builds the gatekeeper.Rules a job's mode is evaluated
// against: fast mode skips the packaging/logistics requirement, balanced
// and deep both require it.
func gateRulesForMode(cfg Config, mode models.JobMode) gatekeeper.Rules {
	return gatekeeper.Rules{
		RequiredFields:   cfg.RequiredFields,
		RequirePackaging: mode != models.JobModeFast,
		ImageFields:      cfg.ImageFields,
	}
}

// imageURLsFromDraft pulls the resolved URL for each of rules.ImageFields:
// an image-typed field's Trust Engine value is itself the image URL.
func imageURLsFromDraft(d draft, rules gatekeeper.Rules) []string {
	var urls []string
	for _, field := range rules.ImageFields {
		if res, ok := d[field]; ok && res.Value != "" {
			urls = append(urls, res.Value)
		}
	}
	return urls
}

// stagePolish normalizes the Item resolve last wrote, without touching
// claims or the Trust Engine: safe to re-run any number of times.
func (o *Orchestrator) stagePolish(ctx context.Context, job models.Job) error {
	item, err := o.jobs.getItem(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("polish: load item: %w", err)
	}
	polishItem(&item)
	item.UpdatedAt = o.deps.Clock.Now()
	if err := o.jobs.upsertItem(ctx, item); err != nil {
		return fmt.Errorf("polish: save item: %w", err)
	}
	return nil
}

// stageGateCheck reconstructs the draft from the polished Item, runs the
// Gatekeeper, and records the verdict as the Item's final status plus its
// validation errors.
func (o *Orchestrator) stageGateCheck(ctx context.Context, job models.Job) error {
	item, err := o.jobs.getItem(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("gate_check: load item: %w", err)
	}

	d, compat := draftFromItem(item)
	rules := gateRulesForMode(o.deps.Config, job.Mode)
	imageURLs := imageURLsFromDraft(d, rules)

	verdict, err := o.deps.Gatekeeper.Evaluate(ctx, d, compat, rules, imageURLs)
	if err != nil {
		return fmt.Errorf("gate_check: evaluate: %w", err)
	}

	exhausted, err := o.jobs.isExhausted(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("gate_check: exhausted lookup: %w", err)
	}
	reasons := verdict.Reasons
	if exhausted {
		reasons = append(reasons, models.ReasonCreditsExhausted)
	}

	item.Status = verdict.Status
	item.ValidationErrors = reasons
	item.UpdatedAt = o.deps.Clock.Now()
	if err := o.jobs.upsertItem(ctx, item); err != nil {
		return fmt.Errorf("gate_check: save item: %w", err)
	}
	return nil
}

// stageFinalize records the job's terminal result pointer. The Item itself
// already carries the authoritative record; result_ref lets callers address
// it without re-deriving it from the Item table.
func (o *Orchestrator) stageFinalize(ctx context.Context, job models.Job) error {
	return o.jobs.setResultRef(ctx, job.JobID, job.JobID)
}
