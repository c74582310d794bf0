// Package adaptertest provides deterministic, in-memory fakes for every
// adapters.* interface, for use by executor, scheduler, and orchestrator
// tests that need to drive the core against scripted adapter behavior
// without a network.
package adaptertest

import (
	"context"
	"sync/atomic"

	"github.com/rivergate-labs/veritas/pkg/adapters"
)

// FakeSearch returns a fixed hit list per query, or an error if Err is set.
type FakeSearch struct {
	Hits map[string][]adapters.SearchHit
	Err  error
	Call int32
}

// Search implements adapters.Search.
func (f *FakeSearch) Search(_ context.Context, query string, opts adapters.SearchOptions) ([]adapters.SearchHit, error) {
	atomic.AddInt32(&f.Call, 1)
	if f.Err != nil {
		return nil, f.Err
	}
	hits := f.Hits[query]
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// FakeScrape returns a fixed result per URL, or per-URL errors from Errs.
// ErrAfterN, once non-zero, forces every Nth call onward to return
// CreditsExhausted, modeling a scraper whose credits run out mid-slice.
type FakeScrape struct {
	Results   map[string]adapters.ScrapeResult
	Errs      map[string]error
	ErrAfterN int32
	Call      int32
}

// Scrape implements adapters.Scrape.
func (f *FakeScrape) Scrape(_ context.Context, url string, _ adapters.ScrapeOptions) (adapters.ScrapeResult, error) {
	n := atomic.AddInt32(&f.Call, 1)
	if f.ErrAfterN > 0 && n >= f.ErrAfterN {
		return adapters.ScrapeResult{}, adapters.WrapCreditsExhausted("scrape", adapters.ErrCreditsExhausted)
	}
	if err, ok := f.Errs[url]; ok {
		return adapters.ScrapeResult{}, err
	}
	return f.Results[url], nil
}

// FakeScrapeBatch fetches through an underlying FakeScrape unless FailBatch
// is set, in which case it reports a single batch-wide error so callers
// exercise the per-URL fallback path.
type FakeScrapeBatch struct {
	Scraper   *FakeScrape
	FailBatch bool
}

// ScrapeBatch implements adapters.ScrapeBatch.
func (f *FakeScrapeBatch) ScrapeBatch(ctx context.Context, urls []string, opts adapters.ScrapeOptions) ([]adapters.BatchItem, error) {
	if f.FailBatch {
		return nil, adapters.WrapTransient("scrape_batch", errBatchUnavailable)
	}
	items := make([]adapters.BatchItem, 0, len(urls))
	for _, u := range urls {
		res, err := f.Scraper.Scrape(ctx, u, opts)
		items = append(items, adapters.BatchItem{URL: u, Result: res, Err: err})
	}
	return items, nil
}

// FakeExtractSchema returns a fixed structured payload per URL.
type FakeExtractSchema struct {
	Results map[string]map[string]any
	Err     error
}

// ExtractSchema implements adapters.ExtractSchema.
func (f *FakeExtractSchema) ExtractSchema(_ context.Context, url string, _ map[string]any) (map[string]any, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Results[url], nil
}

// FakeLLMJSON returns the same fixed JSON payload for every call, ignoring
// the prompt, schema, and hints; it records each prompt in Calls. Tests that
// need schema-dependent answers supply their own LLMJSON implementation.
type FakeLLMJSON struct {
	Response map[string]any
	Err      error
	Calls    []string
}

// LLMJSON implements adapters.LLMJSON.
func (f *FakeLLMJSON) LLMJSON(_ context.Context, prompt string, _ map[string]any, _ map[string]any) (map[string]any, error) {
	f.Calls = append(f.Calls, prompt)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

// FakeImageQC returns a fixed verdict per image URL, or Err if set.
type FakeImageQC struct {
	Verdicts map[string]adapters.ImageQCResult
	Default  adapters.ImageQCResult
	Err      error
}

// ImageQC implements adapters.ImageQC.
func (f *FakeImageQC) ImageQC(_ context.Context, imageURL string) (adapters.ImageQCResult, error) {
	if f.Err != nil {
		return adapters.ImageQCResult{}, f.Err
	}
	if v, ok := f.Verdicts[imageURL]; ok {
		return v, nil
	}
	return f.Default, nil
}

// FakeFallbackSearch returns a fixed hit list per query.
type FakeFallbackSearch struct {
	Hits map[string][]adapters.FallbackSearchHit
	Call int32
}

// FallbackSearch implements adapters.FallbackSearch.
func (f *FakeFallbackSearch) FallbackSearch(_ context.Context, query string) ([]adapters.FallbackSearchHit, error) {
	atomic.AddInt32(&f.Call, 1)
	return f.Hits[query], nil
}

var errBatchUnavailable = &batchUnavailableError{}

type batchUnavailableError struct{}

func (*batchUnavailableError) Error() string { return "adaptertest: batch scrape unavailable" }
