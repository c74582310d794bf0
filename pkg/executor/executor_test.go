package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/adapters/adaptertest"
	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/evidence"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/store"
	"github.com/rivergate-labs/veritas/pkg/store/sqlitestore"
)

var testRetry = RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond, MaxTries: 3}

func newTestJob(t *testing.T, st *store.Store) models.Job {
	t.Helper()
	ctx := context.Background()
	_, err := st.DB.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, input_hash, input_raw, mode, status) VALUES ('job-1','t1','h1','HP CF217A','balanced','pending')`)
	require.NoError(t, err)
	return models.Job{JobID: "job-1", TenantID: "t1", InputRaw: "HP CF217A", Budgets: models.JobBudgets{LimitPerQuery: 5}}
}

func claimsResponse(field, value string, confidence float64) map[string]any {
	return map[string]any{
		"claims": []any{
			map[string]any{"field": field, "value": value, "confidence": confidence},
		},
	}
}

func TestExecuteURL_CachesOnSecondCall(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/cf217a": {Markdown: "HP CF217A toner", Metadata: adapters.ScrapeMetadata{Title: "CF217A"}},
	}}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 95)}

	set := adapters.Set{Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	r1, err := ex.Execute(ctx, job, models.Task{Type: models.StrategyURL, Value: "https://hp.com/cf217a"})
	require.NoError(t, err)
	require.Len(t, r1.Docs, 1)
	require.Len(t, r1.Claims, 1)
	assert.Equal(t, "HP", r1.Claims[0].Value)

	r2, err := ex.Execute(ctx, job, models.Task{Type: models.StrategyURL, Value: "https://hp.com/cf217a"})
	require.NoError(t, err)
	require.Len(t, r2.Docs, 1)
	assert.Equal(t, int32(1), scrape.Call, "second call should be served from the Evidence Store cache")
}

func TestExecuteQuery_ScrapesRelevantHitsAndExtractsClaims(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	search := &adaptertest.FakeSearch{Hits: map[string][]adapters.SearchHit{
		"HP CF217A toner": {
			{URL: "https://hp.com/cf217a", Title: "HP CF217A"},
			{URL: "https://forum.com/thread", Title: "forum chatter"},
		},
	}}
	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/cf217a": {Markdown: "HP CF217A toner, black", Metadata: adapters.ScrapeMetadata{Title: "CF217A"}},
	}}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 95)}

	set := adapters.Set{Search: search, Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 1)

	task := models.Task{Type: models.StrategyQuery, Value: "HP CF217A toner", Priority: 50, Depth: 0}
	r, err := ex.Execute(ctx, job, task)
	require.NoError(t, err)
	require.Len(t, r.Docs, 1, "relevanceK=1 should select a single hit when the LLM ranking yields nothing usable")
	assert.Equal(t, "https://hp.com/cf217a", r.Docs[0].URL)
	require.Len(t, r.Claims, 1)
}

func TestExecuteQuery_SelectsRankedHitsFromLLMJSON(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	search := &adaptertest.FakeSearch{Hits: map[string][]adapters.SearchHit{
		"HP CF217A toner": {
			{URL: "https://hp.com/cf217a", Title: "HP CF217A"},
			{URL: "https://forum.com/thread", Title: "forum chatter"},
		},
	}}
	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/cf217a": {Markdown: "HP CF217A toner, black"},
	}}
	llm := &rankThenClaimLLM{rank: []any{"https://hp.com/cf217a"}, claim: claimsResponse("brand", "HP", 95)}

	set := adapters.Set{Search: search, Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 1)

	task := models.Task{Type: models.StrategyQuery, Value: "HP CF217A toner"}
	r, err := ex.Execute(ctx, job, task)
	require.NoError(t, err)
	require.Len(t, r.Docs, 1)
	assert.Equal(t, "https://hp.com/cf217a", r.Docs[0].URL, "ranking should exclude the forum hit")
}

// rankThenClaimLLM distinguishes the relevance-ranking call from the
// claim-extraction call by schema shape, since FakeLLMJSON can only script
// one fixed response.
type rankThenClaimLLM struct {
	rank  []any
	claim map[string]any
}

func (r *rankThenClaimLLM) LLMJSON(_ context.Context, _ string, schema map[string]any, _ map[string]any) (map[string]any, error) {
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["relevant_urls"]; ok {
		return map[string]any{"relevant_urls": r.rank}, nil
	}
	if _, ok := props["expansions"]; ok {
		return map[string]any{"expansions": []any{}}, nil
	}
	return r.claim, nil
}

func TestExecute_CreditsExhaustedSetsFlagAndSkipsFurtherScrapes(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	scrape := &adaptertest.FakeScrape{ErrAfterN: 1}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 95)}

	set := adapters.Set{Scrape: scrape, LLMJSON: llm}
	credits := adapters.NewCreditState()
	ex := New(set, ev, credits, clock.Fixed{At: time.Now()}, testRetry, 3)

	r, err := ex.Execute(ctx, job, models.Task{Type: models.StrategyURL, Value: "https://hp.com/cf217a"})
	require.NoError(t, err)
	assert.True(t, r.Exhausted)
	assert.True(t, credits.IsExhausted(adapters.JobScope(job.JobID)))

	r2, err := ex.Execute(ctx, job, models.Task{Type: models.StrategyURL, Value: "https://hp.com/other"})
	require.NoError(t, err)
	assert.True(t, r2.Exhausted)
	assert.Equal(t, int32(1), scrape.Call, "once exhausted, no further Scrape calls should be attempted for url tasks")
}

func TestExecuteQuery_FallsBackToFallbackSearchWhenExhausted(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 95)}
	fallback := &adaptertest.FakeFallbackSearch{Hits: map[string][]adapters.FallbackSearchHit{
		"HP CF217A toner": {{URL: "https://hp.com/cf217a", Title: "CF217A", Markdown: "HP CF217A toner"}},
	}}

	set := adapters.Set{LLMJSON: llm, FallbackSearch: fallback}
	credits := adapters.NewCreditState()
	credits.MarkExhausted(adapters.JobScope(job.JobID))
	ex := New(set, ev, credits, clock.Fixed{At: time.Now()}, testRetry, 3)

	task := models.Task{Type: models.StrategyQuery, Value: "HP CF217A toner"}
	r, err := ex.Execute(ctx, job, task)
	require.NoError(t, err)
	assert.True(t, r.Exhausted)
	require.Len(t, r.Docs, 1)
	assert.Equal(t, "https://hp.com/cf217a", r.Docs[0].URL)
	assert.Equal(t, int32(1), fallback.Call)
}

func TestExecuteBatch_UsesScrapeBatchForMultipleURLTasks(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	inner := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/a": {Markdown: "doc a"},
		"https://hp.com/b": {Markdown: "doc b"},
	}}
	batch := &adaptertest.FakeScrapeBatch{Scraper: inner}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 90)}

	set := adapters.Set{Scrape: inner, ScrapeBatch: batch, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	tasks := []models.Task{
		{Type: models.StrategyURL, Value: "https://hp.com/a"},
		{Type: models.StrategyURL, Value: "https://hp.com/b"},
	}
	results, err := ex.ExecuteBatch(ctx, job, tasks)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://hp.com/a", results[0].Docs[0].URL)
	assert.Equal(t, "https://hp.com/b", results[1].Docs[0].URL)
}

func TestExecuteBatch_FallsBackToPerURLScrapeWhenBatchFails(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	inner := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/a": {Markdown: "doc a"},
		"https://hp.com/b": {Markdown: "doc b"},
	}}
	batch := &adaptertest.FakeScrapeBatch{Scraper: inner, FailBatch: true}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 90)}

	set := adapters.Set{Scrape: inner, ScrapeBatch: batch, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	tasks := []models.Task{
		{Type: models.StrategyURL, Value: "https://hp.com/a"},
		{Type: models.StrategyURL, Value: "https://hp.com/b"},
	}
	results, err := ex.ExecuteBatch(ctx, job, tasks)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://hp.com/a", results[0].Docs[0].URL)
	assert.Equal(t, "https://hp.com/b", results[1].Docs[0].URL)
	assert.Equal(t, int32(2), inner.Call, "batch failure should fall back to one Scrape call per URL")
}

func TestExecute_TransientScrapeErrorRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	scrape := &flakyThenOKScrape{failFor: 2, result: adapters.ScrapeResult{Markdown: "HP CF217A toner"}}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 95)}

	set := adapters.Set{Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	r, err := ex.Execute(ctx, job, models.Task{Type: models.StrategyURL, Value: "https://hp.com/cf217a"})
	require.NoError(t, err)
	require.Len(t, r.Docs, 1)
	assert.Equal(t, int32(3), scrape.calls)
}

type flakyThenOKScrape struct {
	failFor int
	calls   int32
	result  adapters.ScrapeResult
}

func (f *flakyThenOKScrape) Scrape(_ context.Context, _ string, _ adapters.ScrapeOptions) (adapters.ScrapeResult, error) {
	f.calls++
	if int(f.calls) <= f.failFor {
		return adapters.ScrapeResult{}, adapters.WrapTransient("scrape", errConnReset)
	}
	return f.result, nil
}

var errConnReset = errors.New("connection reset")

func TestExecute_PermanentScrapeErrorDoesNotRetryAndFailsTask(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	scrape := &adaptertest.FakeScrape{Errs: map[string]error{
		"https://hp.com/gone": adapters.WrapNotFound("scrape", adapters.ErrNotFound),
	}}
	llm := &adaptertest.FakeLLMJSON{}

	set := adapters.Set{Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	r, err := ex.Execute(ctx, job, models.Task{Type: models.StrategyURL, Value: "https://hp.com/gone"})
	require.Error(t, err)
	assert.True(t, adapters.IsPermanent(err))
	assert.Empty(t, r.Docs)
	assert.Equal(t, int32(1), scrape.Call)
}

func TestExecuteQuery_RepairTaskSkipsExpansionRequest(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	search := &adaptertest.FakeSearch{Hits: map[string][]adapters.SearchHit{
		"HP CF217A weight": {{URL: "https://hp.com/cf217a", Title: "CF217A"}},
	}}
	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/cf217a": {Markdown: "weighs 0.5kg"},
	}}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("weight_kg", "0.5", 80)}

	set := adapters.Set{Search: search, Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	task := models.Task{Type: models.StrategyQuery, Value: "HP CF217A weight", Meta: models.TaskMeta{Repair: true}}
	r, err := ex.Execute(ctx, job, task)
	require.NoError(t, err)
	assert.Empty(t, r.Expansions)
	assert.Len(t, llm.Calls, 2, "only the ranking and claim-extraction calls should happen, no expansion request")
}

func TestExecuteDomainMap_SearchesScopedToTargetDomainThenBehavesAsQuery(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()
	job := newTestJob(t, st)

	ev := evidence.New(st, clock.Fixed{At: time.Now()}, 24*time.Hour)
	search := &adaptertest.FakeSearch{Hits: map[string][]adapters.SearchHit{
		"hp.com": {{URL: "https://hp.com/cf217a", Title: "CF217A"}},
	}}
	scrape := &adaptertest.FakeScrape{Results: map[string]adapters.ScrapeResult{
		"https://hp.com/cf217a": {Markdown: "HP CF217A toner"},
	}}
	llm := &adaptertest.FakeLLMJSON{Response: claimsResponse("brand", "HP", 90)}

	set := adapters.Set{Search: search, Scrape: scrape, LLMJSON: llm}
	ex := New(set, ev, adapters.NewCreditState(), clock.Fixed{At: time.Now()}, testRetry, 3)

	task := models.Task{Type: models.StrategyDomainMap, Value: "hp.com", Meta: models.TaskMeta{TargetDomain: "hp.com"}}
	r, err := ex.Execute(ctx, job, task)
	require.NoError(t, err)
	require.Len(t, r.Docs, 1)
	assert.Equal(t, int32(1), search.Call)
}
