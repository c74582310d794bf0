package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivergate-labs/veritas/pkg/models"
)

func TestDirectGuess_MatchesKnownMPNFamilies(t *testing.T) {
	cases := []struct {
		input    string
		wantMPN  string
		wantHost string
		wantOK   bool
	}{
		{"HP CF217A", "CF217A", "hp.com", true},
		{"  hp cf217a  ", "CF217A", "hp.com", true},
		{"Brother TN-2420", "TN2420", "brother.com", true},
		{"Brother TN2420", "TN2420", "brother.com", true},
		{"Canon PG-245", "", "", false},
		{"Some random title with no MPN", "", "", false},
	}
	for _, c := range cases {
		mpn, url, ok := directGuess(c.input)
		assert.Equal(t, c.wantOK, ok, c.input)
		if !c.wantOK {
			continue
		}
		assert.Equal(t, c.wantMPN, mpn, c.input)
		assert.Contains(t, url, c.wantHost, c.input)
	}
}

func TestBuildPlan_DirectGuessProducesSingleURLStrategy(t *testing.T) {
	job := models.Job{InputRaw: "HP CF217A", Mode: models.JobModeBalanced}
	plan := buildPlan(job)

	assert.Equal(t, "CF217A", plan.MPN)
	if assert.Len(t, plan.Strategies, 1) {
		assert.Equal(t, models.StrategyURL, plan.Strategies[0].Type)
		assert.Contains(t, plan.Strategies[0].Value, "hp.com")
	}
	assert.Equal(t, models.JobModeBalanced, plan.Suggested.Mode)
}

func TestBuildPlan_FallsBackToQueryStrategy(t *testing.T) {
	job := models.Job{InputRaw: "Epson 288XL ink cartridge black", Mode: models.JobModeFast}
	plan := buildPlan(job)

	assert.Empty(t, plan.MPN)
	if assert.Len(t, plan.Strategies, 1) {
		assert.Equal(t, models.StrategyQuery, plan.Strategies[0].Type)
		assert.Equal(t, job.InputRaw, plan.Strategies[0].Value)
	}
}

func TestSuggestedBudget_VariesByMode(t *testing.T) {
	fast := suggestedBudget(models.JobModeFast)
	balanced := suggestedBudget(models.JobModeBalanced)
	deep := suggestedBudget(models.JobModeDeep)

	assert.Less(t, fast.Concurrency, balanced.Concurrency)
	assert.Less(t, balanced.Concurrency, deep.Concurrency)
	assert.Less(t, fast.Depth, deep.Depth)
}
