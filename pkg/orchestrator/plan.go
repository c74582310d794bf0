package orchestrator

import (
	"regexp"
	"strings"

	"github.com/rivergate-labs/veritas/pkg/models"
)

// directGuessPattern pairs a known-MPN regex with the manufacturer domain
// search treats as authoritative once it matches: the one-shot shortcut
// that lets plan skip building a search strategy entirely.
type directGuessPattern struct {
	re     *regexp.Regexp
	domain string
}

// directGuessPatterns is deliberately small: it only recognizes the MPN
// families this build has concrete manufacturer domains for. An input that
// doesn't match any of these falls through to ordinary query planning, it
// is never a hard failure.
var directGuessPatterns = []directGuessPattern{
	{re: regexp.MustCompile(`(?i)^HP\s+(C[A-Z]\d{3}[A-Z]?)$`), domain: "hp.com"},
	{re: regexp.MustCompile(`(?i)^Brother\s+(TN-?\d{3,4}[A-Z]?)$`), domain: "brother.com"},
}

// directGuess reports the MPN and canonical manufacturer URL for inputRaw,
// if it matches one of directGuessPatterns.
func directGuess(inputRaw string) (mpn, url string, ok bool) {
	trimmed := strings.TrimSpace(inputRaw)
	for _, p := range directGuessPatterns {
		m := p.re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		mpn = strings.ToUpper(strings.ReplaceAll(m[1], "-", ""))
		url = "https://www." + p.domain + "/search?q=" + mpn
		return mpn, url, true
	}
	return "", "", false
}

// suggestedBudget maps a job's mode to the Plan's recommended
// concurrency/depth envelope. The recommendation is only recorded on the
// Plan; it is not merged with the Job's own (caller-supplied) Budgets.
func suggestedBudget(mode models.JobMode) models.SuggestedBudget {
	switch mode {
	case models.JobModeFast:
		return models.SuggestedBudget{Mode: mode, Concurrency: 2, Depth: 1}
	case models.JobModeDeep:
		return models.SuggestedBudget{Mode: mode, Concurrency: 8, Depth: 3}
	default:
		return models.SuggestedBudget{Mode: models.JobModeBalanced, Concurrency: 4, Depth: 2}
	}
}

// buildPlan derives a Plan purely from job's input and mode: no adapter
// calls, so replaying it on resume after a crash is free and always
// produces the same strategies.
func buildPlan(job models.Job) models.Plan {
	if mpn, url, ok := directGuess(job.InputRaw); ok {
		return models.Plan{
			MPN:       mpn,
			Suggested: suggestedBudget(job.Mode),
			Strategies: []models.Strategy{
				{Name: "direct_guess", Type: models.StrategyURL, Value: url},
			},
		}
	}

	query := strings.TrimSpace(job.InputRaw)
	return models.Plan{
		Suggested: suggestedBudget(job.Mode),
		Strategies: []models.Strategy{
			{Name: "primary_query", Type: models.StrategyQuery, Value: query},
		},
	}
}
