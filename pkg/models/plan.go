package models

// StrategyType is the kind of research strategy a Plan strategy entry names.
type StrategyType string

// Strategy types.
const (
	StrategyQuery       StrategyType = "query"
	StrategyURL         StrategyType = "url"
	StrategyDomainCrawl StrategyType = "domain_crawl"
	StrategyDomainMap   StrategyType = "domain_map"
)

// Strategy is one entry in a Plan's strategies list.
type Strategy struct {
	Name         string
	Type         StrategyType
	Value        string
	TargetDomain string
	Schema       map[string]any
}

// SuggestedBudget narrows a Plan's recommendation for how hard to push a job.
type SuggestedBudget struct {
	Mode        JobMode
	Concurrency int
	Depth       int
}

// Plan is the research strategy derived from a job's input. Produced once at
// the plan stage and immutable thereafter.
type Plan struct {
	Strategies     []Strategy
	MPN            string
	CanonicalName  string
	Suggested      SuggestedBudget
	Evidence       map[string]any
}
