package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/adapters/adaptertest"
	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/evidence"
	"github.com/rivergate-labs/veritas/pkg/executor"
	"github.com/rivergate-labs/veritas/pkg/frontier"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/store/sqlitestore"
)

var testRetry = executor.RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond, MaxTries: 2}

func setup(t *testing.T) (*frontier.Frontier, *evidence.Store, models.Job) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, input_hash, input_raw, mode, status) VALUES ('job-1','t1','h1','HP CF217A','balanced','pending')`)
	require.NoError(t, err)

	fixed := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := frontier.New(st, fixed, frontier.DialectSQLite, 60*time.Second, 3)
	ev := evidence.New(st, fixed, 24*time.Hour)
	job := models.Job{JobID: "job-1", TenantID: "t1", InputRaw: "HP CF217A", Budgets: models.JobBudgets{LimitPerQuery: 5}}
	return f, ev, job
}

func claimsResponse(field, value string, confidence float64) map[string]any {
	return map[string]any{
		"claims": []any{map[string]any{"field": field, "value": value, "confidence": confidence}},
	}
}

func TestRunSlice_DrainsAllPendingTasksAndReportsDone(t *testing.T) {
	ctx := context.Background()
	f, ev, job := setup(t)

	_, err := f.Add(ctx, job.JobID, models.StrategyURL, "https://hp.com/a", 50, 0, models.TaskMeta{})
	require.NoError(t, err)
	_, err = f.Add(ctx, job.JobID, models.StrategyURL, "https://hp.com/b", 40, 0, models.TaskMeta{})
	require.NoError(t, err)

	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/a": {Markdown: "doc a"},
		"https://hp.com/b": {Markdown: "doc b"},
	}}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 90)}
	set := adapters.Set{Scrape: scrape, LLMJSON: llm}
	ex := executor.New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	sched := New(f, ex, 4, 2*time.Second, 200*time.Millisecond, 500*time.Millisecond)
	result, err := sched.RunSlice(ctx, job)
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.False(t, result.Exhausted)

	stats, err := f.Stats(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 0, stats.Pending)
}

func TestRunSlice_RespectsConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	f, ev, job := setup(t)

	for i := 0; i < 6; i++ {
		url := "https://hp.com/p" + string(rune('a'+i))
		_, err := f.Add(ctx, job.JobID, models.StrategyURL, url, 50, 0, models.TaskMeta{})
		require.NoError(t, err)
	}

	tracker := &concurrencyTracker{}
	scrape := &trackingScrape{tracker: tracker, delay: 20 * time.Millisecond}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 90)}
	set := adapters.Set{Scrape: scrape, LLMJSON: llm}
	ex := executor.New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	sched := New(f, ex, 2, 3*time.Second, 300*time.Millisecond, 500*time.Millisecond)
	result, err := sched.RunSlice(ctx, job)
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.LessOrEqual(t, tracker.peak(), 2)
}

func TestRunSlice_EnqueuesExpansionsFromQueryTasks(t *testing.T) {
	ctx := context.Background()
	f, ev, job := setup(t)

	_, err := f.Add(ctx, job.JobID, models.StrategyQuery, "HP CF217A toner", 50, 0, models.TaskMeta{})
	require.NoError(t, err)

	search := &adaptertest.FakeSearch{Hits: map[string][]adapters.SearchHit{
		"HP CF217A toner": {{URL: "https://hp.com/cf217a", Title: "CF217A"}},
	}}
	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/cf217a": {Markdown: "HP CF217A toner"},
	}}
	llm := &expandingLLM{claim: claimsResponse("brand", "HP", 90), expansions: []any{"HP CF217A yield"}}
	set := adapters.Set{Search: search, Scrape: scrape, LLMJSON: llm}
	ex := executor.New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	sched := New(f, ex, 4, 2*time.Second, 200*time.Millisecond, 500*time.Millisecond)
	_, err = sched.RunSlice(ctx, job)
	require.NoError(t, err)

	stats, err := f.Stats(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed, "the follow-up query expansion should be enqueued and then run within the same slice")
	assert.Equal(t, 0, stats.Pending)
}

type expandingLLM struct {
	claim      map[string]any
	expansions []any
}

func (e *expandingLLM) LLMJSON(_ context.Context, _ string, schema map[string]any, _ map[string]any) (map[string]any, error) {
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["relevant_urls"]; ok {
		return map[string]any{"relevant_urls": []any{}}, nil
	}
	if _, ok := props["expansions"]; ok {
		return map[string]any{"expansions": e.expansions}, nil
	}
	return e.claim, nil
}

type concurrencyTracker struct {
	mu      sync.Mutex
	current int
	maxSeen int
}

func (c *concurrencyTracker) enter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	if c.current > c.maxSeen {
		c.maxSeen = c.current
	}
}

func (c *concurrencyTracker) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current--
}

func (c *concurrencyTracker) peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSeen
}

type trackingScrape struct {
	tracker *concurrencyTracker
	delay   time.Duration
}

func (s *trackingScrape) Scrape(ctx context.Context, url string, _ adapters.ScrapeOptions) (adapters.ScrapeResult, error) {
	s.tracker.enter()
	defer s.tracker.leave()
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return adapters.ScrapeResult{Markdown: "content for " + url}, nil
}
