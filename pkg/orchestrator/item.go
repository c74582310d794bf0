package orchestrator

import (
	"fmt"
	"time"

	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// compatibilityDataKey is where a resolved CompatibilityResult is folded
// into an Item's Data map, so gate_check can reconstruct it without
// re-querying claims.
const compatibilityDataKey = "compatibility"

// applyDraft folds a resolved draft and compatibility result into item's
// Data and Evidence maps, overwriting any prior value for the same field.
// It never removes a field the draft doesn't mention, so a later stage
// (polish, repeated resolve) only ever adds or replaces, matching the
// confidence-monotonic merge the Reflection loop already enforces upstream.
func applyDraft(item *models.Item, d draft, compat trust.CompatibilityResult, now time.Time) {
	if item.Data == nil {
		item.Data = map[string]any{}
	}
	if item.Evidence == nil {
		item.Evidence = map[string]models.FieldEvidence{}
	}

	for field, res := range d {
		item.Data[field] = res.Value
		sourceURL := ""
		if len(res.SourceURLs) > 0 {
			sourceURL = res.SourceURLs[0]
		}
		item.Evidence[field] = models.FieldEvidence{
			Value:      res.Value,
			Confidence: res.Confidence,
			SourceURL:  sourceURL,
			IsConflict: res.IsConflict,
			Method:     res.Method,
			Timestamp:  now,
		}
	}

	item.Data[compatibilityDataKey] = map[string]any{
		"outcome":     string(compat.Outcome),
		"verified":    compat.Verified,
		"unverified":  compat.Unverified,
		"is_conflict": compat.IsConflict,
		"source_urls": compat.SourceURLs,
	}
}

// draftFromItem reconstructs a draft and CompatibilityResult from an
// already-persisted Item, the inverse of applyDraft: later stages (polish,
// gate_check) operate on whatever resolve last wrote without re-touching
// claims or the Trust Engine.
func draftFromItem(item models.Item) (draft, trust.CompatibilityResult) {
	d := draft{}
	for field, ev := range item.Evidence {
		value := fmt.Sprint(ev.Value)
		d[field] = trust.Result{
			Value:      value,
			Confidence: ev.Confidence,
			SourceURLs: nonEmptySlice(ev.SourceURL),
			IsConflict: ev.IsConflict,
			Method:     ev.Method,
		}
	}

	var compat trust.CompatibilityResult
	if raw, ok := item.Data[compatibilityDataKey].(map[string]any); ok {
		compat.Outcome = trust.CompatibilityOutcome(fmt.Sprint(raw["outcome"]))
		compat.Verified = toStringSlice(raw["verified"])
		compat.Unverified = toStringSlice(raw["unverified"])
		compat.IsConflict, _ = raw["is_conflict"].(bool)
		compat.SourceURLs = toStringSlice(raw["source_urls"])
	}
	return d, compat
}

func nonEmptySlice(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// toStringSlice converts a JSON-round-tripped []any (or already-typed
// []string) into []string, skipping anything that isn't a string.
func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
