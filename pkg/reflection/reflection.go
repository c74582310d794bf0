// Package reflection implements the critique-and-repair loop that runs
// after the Trust Engine produces a draft: find required fields that are
// still missing or under-confident, turn each into a targeted repair task,
// and merge the repair pass's results back in without ever regressing a
// field that was already better resolved.
package reflection

import (
	"fmt"

	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// RepairPriority is the fixed Frontier priority assigned to every repair task,
// independent of the priority scheme the original plan used.
const RepairPriority = 30

// Draft is a resolved field name to Trust Engine result mapping: the
// evolving state of a job's product record before it is written to an Item.
type Draft map[string]trust.Result

// Config carries the fields Gatekeeper-equivalent rules require for this
// job's mode, the confidence floor below which a field counts as
// under-resolved, the reflection loop cap, and the query template used to
// turn a bare field name into a search query.
type Config struct {
	RequiredFields  []string
	ConfidenceFloor float64
	MaxLoops        int
	QueryTemplate   string
}

// RepairGoal is one field the critique pass decided needs another look.
type RepairGoal struct {
	Field string
	Query string
}

// Critique inspects draft against cfg.RequiredFields and returns a
// RepairGoal for every field that is missing entirely or resolved below
// cfg.ConfidenceFloor.
func Critique(draft Draft, cfg Config, inputRaw string) []RepairGoal {
	var goals []RepairGoal
	for _, field := range cfg.RequiredFields {
		res, ok := draft[field]
		if !ok || res.Value == "" || res.Confidence < cfg.ConfidenceFloor {
			goals = append(goals, RepairGoal{Field: field, Query: buildQuery(cfg.QueryTemplate, inputRaw, field)})
		}
	}
	return goals
}

// ShouldLoop reports whether the orchestrator should run another repair
// slice: there must be outstanding goals and the loop budget must not be
// exhausted.
func ShouldLoop(goals []RepairGoal, loopCount, maxLoops int) bool {
	return len(goals) > 0 && loopCount < maxLoops
}

// Task returns the Frontier.Add arguments for enqueuing goal as a repair
// task at the given depth: a query-typed task at RepairPriority, tagged
// repair so the Executor skips requesting further expansions from it.
func (g RepairGoal) Task(depth int) (models.StrategyType, string, int, int, models.TaskMeta) {
	return models.StrategyQuery, g.Query, RepairPriority, depth, models.TaskMeta{Repair: true}
}

// Merge folds updated's resolved fields into draft. A field in updated only
// replaces its counterpart in draft when draft's value is missing or
// updated's confidence strictly exceeds it; a repair pass that resolved a
// field no better than before leaves the existing draft untouched.
func Merge(draft, updated Draft) Draft {
	merged := make(Draft, len(draft)+len(updated))
	for field, res := range draft {
		merged[field] = res
	}
	for field, newRes := range updated {
		old, exists := merged[field]
		if !exists || old.Value == "" || newRes.Confidence > old.Confidence {
			merged[field] = newRes
		}
	}
	return merged
}

func buildQuery(template, inputRaw, field string) string {
	if template == "" {
		template = "%s %s"
	}
	return fmt.Sprintf(template, inputRaw, field)
}
