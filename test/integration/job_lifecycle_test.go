package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/orchestrator"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// hpClassifier treats www.hp.com as the sole Tier A / logistics-authoritative
// source, mirroring a manufacturer site trusted for both identity and
// packaging data.
var hpClassifier = trust.DomainClassifier{
	Tiers:         map[string]trust.Tier{"www.hp.com": trust.TierA},
	LogisticsHost: "www.hp.com",
}

// TestJobLifecycle_DirectGuessPublishes drives a full Trigger→Run→Status
// round trip over HTTP against a real Postgres-backed store, confirming the
// job stage machine, Frontier leasing, and Evidence Store persistence all
// work against Postgres SQL, not just the sqlite dialect pkg/orchestrator's
// own unit tests exercise.
func TestJobLifecycle_DirectGuessPublishes(t *testing.T) {
	app := newTestApp(t, hpClassifier, orchestrator.Config{RulesetVersion: "v1", ParserVersion: "v1"})

	url := "https://www.hp.com/search?q=CF217A"
	app.Scrape.Results[url] = adapters.ScrapeResult{Markdown: "HP CF217A toner cartridge, 500g, fits LaserJet Pro M102"}
	app.LLM.Response = map[string]any{
		"claims": []any{
			map[string]any{"field": "brand", "value": "HP", "confidence": 95.0},
			map[string]any{"field": "model", "value": "CF217A", "confidence": 95.0},
			map[string]any{"field": "packaging.weight_g", "value": "500", "confidence": 90.0},
			map[string]any{"field": "compatible_printers", "value": `["LaserJet Pro M102"]`, "confidence": 90.0},
		},
	}

	trigger := app.postJSON(t, "/api/v1/jobs", models.TriggerJobRequest{
		InputRaw: "HP CF217A",
		TenantID: "tenant-1",
		Mode:     models.JobModeBalanced,
		Budgets:  models.JobBudgets{LimitPerQuery: 5},
	}, http.StatusAccepted)

	jobID, _ := trigger["job_id"].(string)
	require.NotEmpty(t, jobID)

	status := app.waitForTerminal(t, jobID, 10*time.Second)
	assert.Equal(t, "done", status["status"])

	result, ok := status["result"].(map[string]any)
	require.True(t, ok, "expected a result record, got: %v", status)
	assert.Equal(t, string(models.ItemPublished), result["status"])
	assert.Empty(t, result["validation_errors"])
	assert.Equal(t, "v1", result["ruleset_version"])
}

// TestJobLifecycle_MissingLogisticsData_NeedsReview confirms the Quality
// Gatekeeper's packaging requirement surfaces a reason code through the
// HTTP boundary when no logistics-authoritative source backs packaging.
func TestJobLifecycle_MissingLogisticsData_NeedsReview(t *testing.T) {
	classifier := trust.DomainClassifier{
		Tiers:         map[string]trust.Tier{"www.brother.com": trust.TierA},
		LogisticsHost: "some-other-logistics-host.example",
	}
	app := newTestApp(t, classifier, orchestrator.Config{})

	url := "https://www.brother.com/search?q=TN2420"
	app.Scrape.Results[url] = adapters.ScrapeResult{Markdown: "Brother TN-2420 toner cartridge"}
	app.LLM.Response = map[string]any{
		"claims": []any{
			map[string]any{"field": "brand", "value": "Brother", "confidence": 95.0},
			map[string]any{"field": "model", "value": "TN2420", "confidence": 95.0},
			map[string]any{"field": "compatible_printers", "value": `["HL-L2350DW"]`, "confidence": 90.0},
		},
	}

	trigger := app.postJSON(t, "/api/v1/jobs", models.TriggerJobRequest{
		InputRaw: "Brother TN-2420",
		TenantID: "tenant-1",
		Mode:     models.JobModeBalanced,
		Budgets:  models.JobBudgets{LimitPerQuery: 5},
	}, http.StatusAccepted)

	jobID, _ := trigger["job_id"].(string)
	require.NotEmpty(t, jobID)

	status := app.waitForTerminal(t, jobID, 10*time.Second)
	result, ok := status["result"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, string(models.ItemNeedsReview), result["status"])
	reasons, _ := result["validation_errors"].([]any)
	assert.Contains(t, reasons, string(models.ReasonMissingNixData))
}

// TestJobLifecycle_UnknownJob_404s confirms the API maps an unknown job id
// to a 404 rather than leaking an internal error.
func TestJobLifecycle_UnknownJob_404s(t *testing.T) {
	app := newTestApp(t, hpClassifier, orchestrator.Config{})
	app.getJSON(t, "/api/v1/jobs/does-not-exist", http.StatusNotFound)
}

// TestJobLifecycle_ResumesOnFreshOrchestratorInstance simulates a process
// restart: Trigger creates and persists a Job, then a second Orchestrator
// value — built fresh over the same store and collaborators, carrying no
// in-memory state the first Orchestrator accumulated — runs it to
// completion. Every stage handler must rebuild its view of the job purely
// from what Trigger persisted, since a real restart loses everything else.
func TestJobLifecycle_ResumesOnFreshOrchestratorInstance(t *testing.T) {
	ctx := t.Context()
	app := newTestApp(t, hpClassifier, orchestrator.Config{RulesetVersion: "v1", ParserVersion: "v1"})

	url := "https://www.hp.com/search?q=CF217A"
	app.Scrape.Results[url] = adapters.ScrapeResult{Markdown: "HP CF217A toner cartridge, 500g, fits LaserJet Pro M102"}
	app.LLM.Response = map[string]any{
		"claims": []any{
			map[string]any{"field": "brand", "value": "HP", "confidence": 95.0},
			map[string]any{"field": "model", "value": "CF217A", "confidence": 95.0},
			map[string]any{"field": "packaging.weight_g", "value": "500", "confidence": 90.0},
			map[string]any{"field": "compatible_printers", "value": `["LaserJet Pro M102"]`, "confidence": 90.0},
		},
	}

	resp, err := app.Orch.Trigger(ctx, models.TriggerJobRequest{
		InputRaw: "HP CF217A",
		TenantID: "tenant-1",
		Mode:     models.JobModeBalanced,
		Budgets:  models.JobBudgets{LimitPerQuery: 5},
	})
	require.NoError(t, err)

	// app.deps below reconstructs the exact collaborator set app.Orch was
	// built from, so the only thing that changes is the Orchestrator value
	// itself — modeling a second process instance over the same database.
	restarted := orchestrator.New(app.deps)
	require.NoError(t, restarted.Run(ctx, resp.JobID))

	status, err := restarted.Status(ctx, resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusDone, status.Status)
	require.NotNil(t, status.Result)
	assert.Equal(t, string(models.ItemPublished), status.Result.Status)
}
