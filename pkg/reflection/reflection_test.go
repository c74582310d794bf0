package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivergate-labs/veritas/pkg/models"
)

var testConfig = Config{
	RequiredFields:  []string{"brand", "model", "weight_kg"},
	ConfidenceFloor: 0.6,
	MaxLoops:        1,
	QueryTemplate:   "%s %s",
}

func TestCritique_FlagsMissingAndLowConfidenceFields(t *testing.T) {
	draft := Draft{
		"brand": {Value: "HP", Confidence: 0.95},
		"model": {Value: "CF217A", Confidence: 0.4},
	}

	goals := Critique(draft, testConfig, "HP CF217A toner")
	flagged := map[string]bool{}
	for _, g := range goals {
		flagged[g.Field] = true
	}
	assert.False(t, flagged["brand"], "brand is resolved confidently and should not be flagged")
	assert.True(t, flagged["model"], "model is below the confidence floor and should be flagged")
	assert.True(t, flagged["weight_kg"], "weight_kg is entirely missing and should be flagged")
	assert.Len(t, goals, 2)
}

func TestCritique_EmptyWhenAllFieldsConfident(t *testing.T) {
	draft := Draft{
		"brand":     {Value: "HP", Confidence: 0.95},
		"model":     {Value: "CF217A", Confidence: 0.8},
		"weight_kg": {Value: "0.5", Confidence: 0.7},
	}
	goals := Critique(draft, testConfig, "HP CF217A toner")
	assert.Empty(t, goals)
}

func TestCritique_QueryCombinesInputAndField(t *testing.T) {
	draft := Draft{}
	goals := Critique(draft, testConfig, "HP CF217A toner")
	for _, g := range goals {
		if g.Field == "weight_kg" {
			assert.Equal(t, "HP CF217A toner weight_kg", g.Query)
			return
		}
	}
	t.Fatal("expected a weight_kg goal")
}

func TestShouldLoop_StopsAtMaxLoops(t *testing.T) {
	goals := []RepairGoal{{Field: "model"}}
	assert.True(t, ShouldLoop(goals, 0, 1))
	assert.False(t, ShouldLoop(goals, 1, 1))
}

func TestShouldLoop_StopsWhenNoGoalsRemain(t *testing.T) {
	assert.False(t, ShouldLoop(nil, 0, 1))
}

func TestRepairGoal_TaskUsesFixedPriorityAndRepairTag(t *testing.T) {
	g := RepairGoal{Field: "model", Query: "HP CF217A model"}
	typ, value, priority, depth, meta := g.Task(2)
	assert.Equal(t, models.StrategyQuery, typ)
	assert.Equal(t, "HP CF217A model", value)
	assert.Equal(t, RepairPriority, priority)
	assert.Equal(t, 2, depth)
	assert.True(t, meta.Repair)
}

func TestMerge_ReplacesOnlyWhenConfidenceStrictlyImproves(t *testing.T) {
	draft := Draft{
		"model":     {Value: "CF217A", Confidence: 0.4},
		"weight_kg": {},
	}
	updated := Draft{
		"model":     {Value: "CF217A", Confidence: 0.3}, // worse, should not replace
		"weight_kg": {Value: "0.5", Confidence: 0.7},     // previously missing, should fill in
	}

	merged := Merge(draft, updated)
	assert.Equal(t, 0.4, merged["model"].Confidence, "a repair pass that resolves a field less confidently must not regress the draft")
	assert.Equal(t, "0.5", merged["weight_kg"].Value)
	assert.Equal(t, 0.7, merged["weight_kg"].Confidence)
}

func TestMerge_ReplacesWhenStrictlyMoreConfident(t *testing.T) {
	draft := Draft{"model": {Value: "CF217A", Confidence: 0.4}}
	updated := Draft{"model": {Value: "CF217A Pro", Confidence: 0.85}}

	merged := Merge(draft, updated)
	assert.Equal(t, "CF217A Pro", merged["model"].Value)
	assert.Equal(t, 0.85, merged["model"].Confidence)
}

func TestMerge_LeavesUntouchedFieldsAlone(t *testing.T) {
	draft := Draft{"brand": {Value: "HP", Confidence: 0.95}}
	merged := Merge(draft, Draft{})
	assert.Equal(t, "HP", merged["brand"].Value)
}
