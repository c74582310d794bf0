package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/reflection"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// compatibilityField is the claim field name carrying a JSON-encoded list
// of compatible printer models; it resolves through ResolveCompatibility
// rather than the scalar weighted vote.
const compatibilityField = "compatible_printers"

// caseInsensitiveFields names the fields whose values should be casefolded
// before grouping in the Trust Engine; everything else compares exactly.
var caseInsensitiveFields = map[string]bool{
	"brand": true,
	"model": true,
}

// draft is a resolved field name to Trust Engine result mapping, the
// in-progress product record before it is written to an Item.
type draft map[string]trust.Result

// resolveDraft recombines every claim currently on file for job into a
// fresh draft: idempotent by construction, since it only reads from the
// Evidence Store and never consults the previous Item state.
func (o *Orchestrator) resolveDraft(ctx context.Context, job models.Job) (draft, trust.CompatibilityResult, error) {
	claims, err := o.deps.Evidence.WeightedClaimsForItem(ctx, job.JobID)
	if err != nil {
		return nil, trust.CompatibilityResult{}, fmt.Errorf("resolve: weighted claims: %w", err)
	}

	byField := map[string][]trust.WeightedClaim{}
	for _, c := range claims {
		byField[c.Claim.Field] = append(byField[c.Claim.Field], c)
	}

	d := draft{}
	var compat trust.CompatibilityResult
	var packagingResolved []trust.Result
	for field, fieldClaims := range byField {
		switch {
		case field == compatibilityField:
			compat = o.deps.Trust.ResolveCompatibility(fieldClaims)
		case strings.HasPrefix(field, "packaging."):
			res := o.deps.Trust.ResolveLogistics(field, fieldClaims)
			d[field] = res
			if res.Value != "" {
				packagingResolved = append(packagingResolved, res)
			}
		default:
			d[field] = o.deps.Trust.Resolve(field, fieldClaims, caseInsensitiveFields[field])
		}
	}
	if agg, ok := aggregatePackaging(packagingResolved); ok {
		d[packagingAggregateField] = agg
	}
	return d, compat, nil
}

// packagingAggregateField is the synthetic draft key the Gatekeeper checks
// for logistics readiness: it has no claims of its own, since claims are
// attributed to the specific dotted packaging.* field they describe.
const packagingAggregateField = "packaging"

// aggregatePackaging folds every resolved packaging.* sub-field into one
// summary Result so the Gatekeeper's RequiredFields check (a single
// "packaging" entry) can tell whether logistics data resolved at all,
// without knowing which sub-fields a given mode cares about. Confidence is
// the weakest of the resolved sub-fields, so one shaky dimension can still
// trip the Gatekeeper's confidence floor.
func aggregatePackaging(resolved []trust.Result) (trust.Result, bool) {
	if len(resolved) == 0 {
		return trust.Result{}, false
	}
	agg := trust.Result{Value: "resolved", Confidence: resolved[0].Confidence, Method: trust.MethodWeightedVote}
	for _, res := range resolved {
		if res.Confidence < agg.Confidence {
			agg.Confidence = res.Confidence
		}
		if res.IsConflict {
			agg.IsConflict = true
		}
		agg.SourceURLs = append(agg.SourceURLs, res.SourceURLs...)
	}
	return agg, true
}

// hasValue reports whether field is resolved to a non-empty value in d.
func hasValue(d draft, field string) bool {
	res, ok := d[field]
	return ok && res.Value != ""
}

// synthesisSourceURL is the synthetic source document veritas attributes
// Synthesis fallback claims to, since they don't come from any one scraped
// page.
const synthesisSourceURL = "synthesis://combined-sources"

// synthesizeIdentity runs the Synthesis fallback: when brand or model is
// still unresolved after the base pass, ask LLMJSON to extract them from
// every source document fetched so far, insert the result as claims
// against a synthetic source, and return whether it added anything.
func (o *Orchestrator) synthesizeIdentity(ctx context.Context, job models.Job, d draft) (bool, error) {
	if hasValue(d, "brand") && hasValue(d, "model") {
		return false, nil
	}
	if o.deps.Adapters.LLMJSON == nil {
		return false, nil
	}

	docs, err := o.deps.Evidence.SourcesForJob(ctx, job.JobID)
	if err != nil {
		return false, fmt.Errorf("synthesis: sources for job: %w", err)
	}
	if len(docs) == 0 {
		return false, nil
	}

	combined := combineSources(docs, o.deps.Config.SynthesisMaxDocs, o.deps.Config.SynthesisMaxCharsPerDoc)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"brand": map[string]any{"type": "string"},
			"model": map[string]any{"type": "string"},
		},
	}
	hints := map[string]any{"input_raw": job.InputRaw}

	out, err := o.deps.Adapters.LLMJSON.LLMJSON(ctx, combined, schema, hints)
	if err != nil {
		// Synthesis is a best-effort fallback, not load-bearing: a failure
		// here leaves the draft as-is for Reflection or the Gatekeeper to
		// flag instead of failing the job.
		return false, nil
	}

	docID, err := o.deps.Evidence.UpsertSource(ctx, job.JobID, synthesisSourceURL, combined, models.DocumentMetadata{SourceType: "synthesis"})
	if err != nil {
		return false, fmt.Errorf("synthesis: upsert synthetic source: %w", err)
	}

	var claims []models.Claim
	for _, field := range []string{"brand", "model"} {
		if hasValue(d, field) {
			continue
		}
		value, _ := out[field].(string)
		if value == "" {
			continue
		}
		claims = append(claims, models.Claim{
			ItemID:      job.JobID,
			SourceDocID: docID,
			Field:       field,
			Value:       value,
			Confidence:  60,
			ExtractedAt: o.deps.Clock.Now(),
		})
	}
	if len(claims) == 0 {
		return false, nil
	}
	if err := o.deps.Evidence.InsertClaimsBatch(ctx, claims); err != nil {
		return false, fmt.Errorf("synthesis: insert claims: %w", err)
	}
	return true, nil
}

// combineSources concatenates up to maxDocs source documents' content,
// each truncated to maxChars, into one prompt-sized block.
func combineSources(docs []models.SourceDocument, maxDocs, maxChars int) string {
	if maxDocs <= 0 {
		maxDocs = 10
	}
	if maxChars <= 0 {
		maxChars = 2000
	}
	var b strings.Builder
	for i, doc := range docs {
		if i >= maxDocs {
			break
		}
		content := doc.RawContent
		if len(content) > maxChars {
			content = content[:maxChars]
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", doc.URL, content)
	}
	return b.String()
}

// reflectionLoopPrefix tags a job_steps detail row recording one completed
// reflection loop, so the loop count survives a restart without a
// dedicated column: the count is just how many such rows exist.
const reflectionLoopPrefix = "reflection_loop:"

// runReflection repeats the critique-repair-merge cycle against d until
// ShouldLoop says to stop, persisting one job_steps row per loop so a
// crash mid-reflection resumes at the same loop count instead of running
// extra iterations.
func (o *Orchestrator) runReflection(ctx context.Context, job models.Job, d draft) (draft, error) {
	cfg := o.deps.Config
	steps, err := o.jobs.steps(ctx, job.JobID)
	if err != nil {
		return d, fmt.Errorf("reflection: load steps: %w", err)
	}
	loopCount := 0
	for _, s := range steps {
		if strings.HasPrefix(s.Detail, reflectionLoopPrefix) {
			loopCount++
		}
	}

	reflectCfg := reflection.Config{
		RequiredFields:  cfg.RequiredFields,
		ConfidenceFloor: cfg.ReflectionConfidenceFloor,
		MaxLoops:        cfg.MaxReflectionLoops,
		QueryTemplate:   cfg.ReflectionQueryTemplate,
	}

	for {
		goals := reflection.Critique(reflection.Draft(d), reflectCfg, job.InputRaw)
		if !reflection.ShouldLoop(goals, loopCount, cfg.MaxReflectionLoops) {
			return d, nil
		}

		for _, g := range goals {
			typ, value, priority, depth, meta := g.Task(1)
			if _, err := o.deps.Frontier.Add(ctx, job.JobID, typ, value, priority, depth, meta); err != nil {
				return d, fmt.Errorf("reflection: enqueue repair: %w", err)
			}
		}

		if _, err := o.deps.Scheduler.RunSlice(ctx, job); err != nil {
			return d, fmt.Errorf("reflection: run repair slice: %w", err)
		}

		updated, _, err := o.resolveDraft(ctx, job)
		if err != nil {
			return d, err
		}
		d = draft(reflection.Merge(reflection.Draft(d), reflection.Draft(updated)))

		loopCount++
		if err := o.jobs.transition(ctx, job, job.Status, fmt.Sprintf("%s%d", reflectionLoopPrefix, loopCount)); err != nil {
			return d, fmt.Errorf("reflection: record loop: %w", err)
		}
	}
}
