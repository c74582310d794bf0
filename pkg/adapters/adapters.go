// Package adapters declares the abstract collaborators the core depends on
// for all outside-world interaction: search, scrape, structured extraction,
// LLM-backed JSON extraction, and image quality checks. The core never
// branches on a concrete adapter implementation; it only sees these
// interfaces and the fixed result/error taxonomy below.
package adapters

import "context"

// SearchHit is one search result.
type SearchHit struct {
	URL     string
	Title   string
	Snippet string
}

// SearchOptions bounds a Search call.
type SearchOptions struct {
	Limit int
}

// Search finds candidate URLs for a query.
type Search interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error)
}

// ScrapeResult is fetched page content normalized to markdown, plus the
// small fixed metadata set the core understands.
type ScrapeResult struct {
	Markdown string
	Metadata ScrapeMetadata
}

// ScrapeMetadata is the fixed metadata shape returned alongside scraped content.
type ScrapeMetadata struct {
	Title      string
	SourceType string
}

// ScrapeOptions bounds a Scrape call.
type ScrapeOptions struct {
	MaxDepth int
}

// Scrape fetches and converts a single URL's content.
type Scrape interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (ScrapeResult, error)
}

// BatchItem is one URL's outcome within a ScrapeBatch call: exactly one of
// Result or Err is set.
type BatchItem struct {
	URL    string
	Result ScrapeResult
	Err    error
}

// ScrapeBatch fetches several URLs, amortizing adapter overhead versus
// calling Scrape in a loop. A batch-wide failure is reported as a single
// error; the caller falls back to per-URL Scrape.
type ScrapeBatch interface {
	ScrapeBatch(ctx context.Context, urls []string, opts ScrapeOptions) ([]BatchItem, error)
}

// ExtractSchema pulls structured JSON out of a page against a caller-supplied
// JSON Schema, for sources that expose structured markup the generic
// LLMJSON extractor shouldn't be trusted to summarize freehand.
type ExtractSchema interface {
	ExtractSchema(ctx context.Context, url string, schema map[string]any) (map[string]any, error)
}

// LLMJSON is a black-box structured extractor: prompt text plus hints in,
// a JSON value matching schema out. The core never parses or assembles
// prompt semantics; prompts are opaque strings owned by configuration.
type LLMJSON interface {
	LLMJSON(ctx context.Context, prompt string, schema map[string]any, hints map[string]any) (map[string]any, error)
}

// ImageQCResult is an image quality verdict.
type ImageQCResult struct {
	Passes  bool
	Reasons []string
}

// ImageQC validates a referenced product image.
type ImageQC interface {
	ImageQC(ctx context.Context, imageURL string) (ImageQCResult, error)
}

// FallbackSearchHit is a fallback search result; unlike Search it returns
// page content directly, since the fallback path exists precisely because
// the primary Scrape path is unavailable (credits exhausted or zero hits).
type FallbackSearchHit struct {
	URL      string
	Title    string
	Markdown string
}

// FallbackSearch is used only when the primary scraper returns
// CreditsExhausted or yields zero results.
type FallbackSearch interface {
	FallbackSearch(ctx context.Context, query string) ([]FallbackSearchHit, error)
}

// Set bundles every adapter the Task Executor depends on. A single
// implementation may satisfy several interfaces at once; Set just lets
// executor construction take one value instead of seven.
type Set struct {
	Search         Search
	Scrape         Scrape
	ScrapeBatch    ScrapeBatch
	ExtractSchema  ExtractSchema
	LLMJSON        LLMJSON
	ImageQC        ImageQC
	FallbackSearch FallbackSearch
}
