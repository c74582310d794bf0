// Package trust arbitrates conflicting field claims into a single resolved
// value with provenance: a weighted vote over source tiers, decayed by
// claim age, with policy overrides for logistics and compatibility fields.
package trust

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rivergate-labs/veritas/pkg/clock"
	"github.com/rivergate-labs/veritas/pkg/models"
)

// Tier is a source trust category.
type Tier string

// Source tiers, highest to lowest trust.
const (
	TierA Tier = "A" // official/manufacturer
	TierB Tier = "B" // verified retailer, logistics-authoritative host
	TierC Tier = "C" // general marketplace
	TierD Tier = "D" // oem-factory / foreign wholesale
	TierE Tier = "E" // unknown, forum
)

// Weight returns the per-tier vote weight.
func (t Tier) Weight() float64 {
	switch t {
	case TierA:
		return 1.00
	case TierB:
		return 0.90
	case TierC:
		return 0.70
	case TierD:
		return 0.55
	case TierE:
		return 0.35
	default:
		return TierE.Weight()
	}
}

// Resolution methods recorded on a resolved field.
const (
	MethodWeightedVote         = "weighted_vote"
	MethodWeightedVoteConflict = "weighted_vote_with_conflict"
)

// conflictRatio is the runner-up/winner score threshold above which two
// disagreeing groups are flagged as a conflict rather than a clean win.
const conflictRatio = 0.85

// freshnessFloor is the minimum freshness multiplier a claim can decay to,
// regardless of age.
const freshnessFloor = 0.5

// freshnessHorizonDays is the age at which a claim would decay to zero
// absent the floor.
const freshnessHorizonDays = 365.0

// Classifier assigns a trust tier to a source domain and identifies the
// single host treated as authoritative for logistics (packaging.*) fields.
type Classifier interface {
	TierFor(domain string) Tier
	IsLogisticsAuthoritative(domain string) bool
}

// DomainClassifier is a static, config-driven Classifier. Domains absent
// from Tiers default to TierE.
type DomainClassifier struct {
	Tiers         map[string]Tier
	LogisticsHost string
}

// TierFor returns the configured tier for domain, or TierE if unlisted.
func (d DomainClassifier) TierFor(domain string) Tier {
	if t, ok := d.Tiers[strings.ToLower(domain)]; ok {
		return t
	}
	return TierE
}

// IsLogisticsAuthoritative reports whether domain is the designated
// logistics host.
func (d DomainClassifier) IsLogisticsAuthoritative(domain string) bool {
	return d.LogisticsHost != "" && strings.EqualFold(domain, d.LogisticsHost)
}

// WeightedClaim pairs a persisted Claim with the source metadata the Trust
// Engine needs but the claims table doesn't carry directly: the source's
// domain (for tier lookup) and fetch time (for freshness decay).
type WeightedClaim struct {
	Claim        models.Claim
	SourceURL    string
	SourceDomain string
	FetchedAt    time.Time
}

// Result is one field's resolution.
type Result struct {
	Value         string
	Confidence    float64
	SourceURLs    []string
	IsConflict    bool
	Method        string
	FailureReason string
}

// Engine resolves claim sets into fields.
type Engine struct {
	classifier Classifier
	clock      clock.Clock
}

// New builds an Engine.
func New(classifier Classifier, c clock.Clock) *Engine {
	return &Engine{classifier: classifier, clock: c}
}

type scoredGroup struct {
	normalizedValue string
	displayValue    string
	score           float64
	urls            []string
	weightedCount   int
}

// Resolve arbitrates claims for a single scalar field using the weighted
// vote. caseInsensitive controls whether string values are casefolded
// before grouping. Returns a zero Result if claims is empty.
func (e *Engine) Resolve(field string, claims []WeightedClaim, caseInsensitive bool) Result {
	if len(claims) == 0 {
		return Result{}
	}

	groups := e.scoreGroups(claims, caseInsensitive)
	return finalize(groups)
}

// ResolveLogistics resolves a packaging.* field, counting only claims from
// the designated authoritative logistics host. If none qualify, returns a
// Result with FailureReason set.
func (e *Engine) ResolveLogistics(field string, claims []WeightedClaim) Result {
	var filtered []WeightedClaim
	for _, c := range claims {
		if e.classifier.IsLogisticsAuthoritative(c.SourceDomain) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return Result{FailureReason: models.ReasonMissingNixData}
	}
	groups := e.scoreGroups(filtered, false)
	return finalize(groups)
}

// CompatibilityOutcome is the compatibility-entry verification status.
type CompatibilityOutcome string

// Compatibility outcomes.
const (
	CompatVerified CompatibilityOutcome = "ru_verified"
	CompatUnknown  CompatibilityOutcome = "ru_unknown"
	CompatRejected CompatibilityOutcome = "ru_rejected"
)

// CompatibilityResult is the resolved set of compatible printer models,
// split into the verified union and the unverified (conflicting) remainder.
type CompatibilityResult struct {
	Outcome    CompatibilityOutcome
	Verified   []string
	Unverified []string
	IsConflict bool
	SourceURLs []string
}

// ResolveCompatibility merges array-valued compatibility claims (each
// claim.Value a JSON-encoded list of printer model strings) into a verified
// union plus an unverified remainder, per the independent-source policy:
// a model requires >=2 independent Tier<=C sources or 1 Tier A source to be
// marked verified.
func (e *Engine) ResolveCompatibility(claims []WeightedClaim) CompatibilityResult {
	if len(claims) == 0 {
		return CompatibilityResult{Outcome: CompatRejected}
	}

	type support struct {
		tierACount  int
		tierLECount int // Tier A, B, or C ("<= C")
		domains     map[string]bool
		urls        []string
	}
	perModel := map[string]*support{}

	for _, c := range claims {
		modelList := splitArrayValue(c.Claim.Value)
		tier := e.classifier.TierFor(c.SourceDomain)
		for _, m := range modelList {
			key := normalizeString(m, true)
			s, ok := perModel[key]
			if !ok {
				s = &support{domains: map[string]bool{}}
				perModel[key] = s
			}
			if s.domains[c.SourceDomain] {
				continue // same host voting twice for the same model isn't independent
			}
			s.domains[c.SourceDomain] = true
			s.urls = append(s.urls, c.SourceURL)
			if tier == TierA {
				s.tierACount++
			}
			if tier == TierA || tier == TierB || tier == TierC {
				s.tierLECount++
			}
		}
	}

	var verified, unverified []string
	urlSet := map[string]bool{}
	for model, s := range perModel {
		if s.tierACount >= 1 || s.tierLECount >= 2 {
			verified = append(verified, model)
		} else {
			unverified = append(unverified, model)
		}
		for _, u := range s.urls {
			urlSet[u] = true
		}
	}
	sort.Strings(verified)
	sort.Strings(unverified)

	var urls []string
	for u := range urlSet {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	outcome := CompatRejected
	switch {
	case len(verified) > 0:
		outcome = CompatVerified
	case len(unverified) > 0:
		outcome = CompatUnknown
	}

	return CompatibilityResult{
		Outcome:    outcome,
		Verified:   verified,
		Unverified: unverified,
		IsConflict: len(unverified) > 0 && len(verified) > 0,
		SourceURLs: urls,
	}
}

func (e *Engine) scoreGroups(claims []WeightedClaim, caseInsensitive bool) []scoredGroup {
	byValue := map[string]*scoredGroup{}
	now := e.clock.Now()

	for _, c := range claims {
		normalized := normalizeString(c.Claim.Value, caseInsensitive)
		g, ok := byValue[normalized]
		if !ok {
			g = &scoredGroup{normalizedValue: normalized, displayValue: c.Claim.Value}
			byValue[normalized] = g
		}
		tier := e.classifier.TierFor(c.SourceDomain)
		ageDays := now.Sub(c.FetchedAt).Hours() / 24
		fresh := freshness(ageDays)
		g.score += tier.Weight() * (c.Claim.Confidence / 100) * fresh
		g.urls = append(g.urls, c.SourceURL)
		g.weightedCount++
	}

	groups := make([]scoredGroup, 0, len(byValue))
	for _, g := range byValue {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].score > groups[j].score })
	return groups
}

func finalize(groups []scoredGroup) Result {
	if len(groups) == 0 {
		return Result{}
	}

	winner := groups[0]
	method := MethodWeightedVote
	isConflict := false

	if len(groups) > 1 {
		runnerUp := groups[1]
		if runnerUp.score >= conflictRatio*winner.score {
			isConflict = true
			method = MethodWeightedVoteConflict
		}
	}

	confidence := clamp(winner.score/maxPossibleScore, 0, 1)

	return Result{
		Value:      winner.displayValue,
		Confidence: confidence,
		SourceURLs: dedupStrings(winner.urls),
		IsConflict: isConflict,
		Method:     method,
	}
}

// maxPossibleScore is the theoretical ceiling one claim can contribute:
// Tier A (weight 1) at full confidence (1.0) with no age decay (1.0). A
// single claim at that ceiling must resolve to confidence 1.0; a single
// claim short of it resolves to its own w_tier*c_claim, never boosted by
// normalizing against its own score.
const maxPossibleScore = 1.0

func freshness(ageDays float64) float64 {
	v := 1 - ageDays/freshnessHorizonDays
	if v < freshnessFloor {
		return freshnessFloor
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeString applies NFC normalization and trims whitespace, then
// canonicalizes numeric values (trailing zeros, sign) so "7.50" and "7.5"
// group together, whatever caseInsensitive says; a non-numeric value is
// also casefolded when caseInsensitive is set.
func normalizeString(value string, caseInsensitive bool) string {
	v := strings.TrimSpace(norm.NFC.String(value))
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if caseInsensitive {
		v = strings.ToLower(v)
	}
	return v
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// splitArrayValue parses a JSON-encoded string array claim value. Malformed
// or non-array values are treated as a single-element list so a stray
// scalar claim doesn't silently vanish from compatibility resolution.
func splitArrayValue(value string) []string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "[") {
		return []string{trimmed}
	}
	trimmed = strings.Trim(trimmed, "[]")
	if trimmed == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
