package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

func TestApplyDraftAndDraftFromItem_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d := draft{
		"brand": trust.Result{Value: "HP", Confidence: 0.9, SourceURLs: []string{"https://www.hp.com/a"}, Method: trust.MethodWeightedVote},
		"model": trust.Result{Value: "CF217A", Confidence: 1, SourceURLs: []string{"https://www.hp.com/a"}, Method: trust.MethodWeightedVote},
	}
	compat := trust.CompatibilityResult{
		Outcome:    trust.CompatVerified,
		Verified:   []string{"laserjet pro m102"},
		SourceURLs: []string{"https://www.hp.com/a"},
	}

	item := &models.Item{}
	applyDraft(item, d, compat, now)

	require.Contains(t, item.Data, "brand")
	require.Contains(t, item.Data, compatibilityDataKey)
	assert.Equal(t, "HP", item.Data["brand"])
	assert.Equal(t, now, item.Evidence["brand"].Timestamp)

	gotDraft, gotCompat := draftFromItem(*item)
	assert.Equal(t, "HP", gotDraft["brand"].Value)
	assert.InDelta(t, 0.9, gotDraft["brand"].Confidence, 1e-9)
	assert.Equal(t, []string{"https://www.hp.com/a"}, gotDraft["brand"].SourceURLs)
	assert.Equal(t, trust.CompatVerified, gotCompat.Outcome)
	assert.Equal(t, []string{"laserjet pro m102"}, gotCompat.Verified)
}

func TestApplyDraft_NeverDropsFieldsFromEarlierCalls(t *testing.T) {
	item := &models.Item{}
	applyDraft(item, draft{"brand": trust.Result{Value: "HP", Confidence: 1}}, trust.CompatibilityResult{}, time.Now())
	applyDraft(item, draft{"model": trust.Result{Value: "CF217A", Confidence: 1}}, trust.CompatibilityResult{}, time.Now())

	assert.Equal(t, "HP", item.Data["brand"])
	assert.Equal(t, "CF217A", item.Data["model"])
}

func TestToStringSlice_HandlesJSONRoundTrippedAnySlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]any{"a", "b", 3}))
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]string{"a", "b"}))
	assert.Nil(t, toStringSlice(nil))
	assert.Nil(t, toStringSlice("not a slice"))
}
