// Package integration runs the full orchestrator stack — store, frontier,
// evidence, trust, executor, scheduler, gatekeeper, HTTP API — against a
// real Postgres-backed store, scripting adapters the same way pkg/orchestrator's
// own unit tests do but driving everything through the HTTP boundary instead
// of calling the Orchestrator directly.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/adapters/adaptertest"
	"github.com/rivergate-labs/veritas/pkg/api"
	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/evidence"
	"github.com/rivergate-labs/veritas/pkg/executor"
	"github.com/rivergate-labs/veritas/pkg/frontier"
	"github.com/rivergate-labs/veritas/pkg/gatekeeper"
	"github.com/rivergate-labs/veritas/pkg/orchestrator"
	"github.com/rivergate-labs/veritas/pkg/scheduler"
	"github.com/rivergate-labs/veritas/pkg/store"
	"github.com/rivergate-labs/veritas/pkg/trust"
	"github.com/rivergate-labs/veritas/test/util"
)

var testRetry = executor.RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond, MaxTries: 2}

// testApp bundles a running HTTP server fronting a real Postgres-backed
// Orchestrator, plus the fakes scripting its External Adapters.
type testApp struct {
	BaseURL string
	Store   *store.Store
	Orch    *orchestrator.Orchestrator
	deps    orchestrator.Deps

	Search  *adaptertest.FakeSearch
	Scrape  *adaptertest.FakeScrape
	LLM     *adaptertest.FakeLLMJSON
	ImageQC *adaptertest.FakeImageQC
}

func newTestApp(t *testing.T, classifier trust.Classifier, cfg orchestrator.Config) *testApp {
	t.Helper()

	st := util.SetupTestDatabase(t)

	sysClock := clock.System{}
	f := frontier.New(st, sysClock, frontier.DialectPostgres, 30*time.Second, 3)
	ev := evidence.New(st, sysClock, 24*time.Hour)
	trustEngine := trust.New(classifier, sysClock)

	app := &testApp{
		Store:   st,
		Search:  &adaptertest.FakeSearch{Hits: map[string][]adapters.SearchHit{}},
		Scrape:  &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{}},
		LLM:     &adaptertest.FakeLLMJSON{},
		ImageQC: &adaptertest.FakeImageQC{Default: adapters.ImageQCResult{Passes: true}},
	}
	set := adapters.Set{
		Search:  app.Search,
		Scrape:  app.Scrape,
		LLMJSON: app.LLM,
		ImageQC: app.ImageQC,
	}

	credits := adapters.NewCreditState()
	ex := executor.New(set, ev, credits, sysClock, testRetry, 5)
	sched := scheduler.New(f, ex, 4, 2*time.Second, 200*time.Millisecond, 500*time.Millisecond)
	gk := gatekeeper.New(app.ImageQC)

	if cfg.MaxSlices == 0 {
		cfg.MaxSlices = 5
	}
	if cfg.RequiredFields == nil {
		cfg.RequiredFields = []string{"brand", "model"}
	}

	app.deps = orchestrator.Deps{
		Store:      st,
		Clock:      sysClock,
		Frontier:   f,
		Evidence:   ev,
		Trust:      trustEngine,
		Adapters:   set,
		Scheduler:  sched,
		Gatekeeper: gk,
		Config:     cfg,
	}
	app.Orch = orchestrator.New(app.deps)

	server := api.NewServer(app.Orch)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = server.StartWithListener(ln) }()
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	app.BaseURL = fmt.Sprintf("http://%s", ln.Addr().String())
	return app
}

func (app *testApp) postJSON(t *testing.T, path string, body any, wantStatus int) map[string]any {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(app.BaseURL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equalf(t, wantStatus, resp.StatusCode, "body: %s", data)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func (app *testApp) getJSON(t *testing.T, path string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(app.BaseURL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equalf(t, wantStatus, resp.StatusCode, "body: %s", data)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// waitForTerminal polls GET /api/v1/jobs/:id until the job reaches a
// terminal status or the deadline passes.
func (app *testApp) waitForTerminal(t *testing.T, jobID string, deadline time.Duration) map[string]any {
	t.Helper()
	end := time.Now().Add(deadline)
	for {
		status := app.getJSON(t, "/api/v1/jobs/"+jobID, http.StatusOK)
		switch status["status"] {
		case "done", "failed":
			return status
		}
		if time.Now().After(end) {
			t.Fatalf("job %s did not reach a terminal status within %s (last: %v)", jobID, deadline, status["status"])
		}
		time.Sleep(20 * time.Millisecond)
	}
}
