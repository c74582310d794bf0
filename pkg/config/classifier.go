package config

import "github.com/rivergate-labs/veritas/pkg/trust"

// Classifier builds the Trust Engine's domain classifier from TrustTiers
// and LogisticsHost. Unrecognized tier letters fall through to TierE, same
// as an unlisted domain.
func (c *JobConfig) Classifier() trust.Classifier {
	tiers := make(map[string]trust.Tier, len(c.TrustTiers))
	for domain, letter := range c.TrustTiers {
		tiers[domain] = tierFromLetter(letter)
	}
	return trust.DomainClassifier{Tiers: tiers, LogisticsHost: c.LogisticsHost}
}

func tierFromLetter(letter string) trust.Tier {
	switch letter {
	case string(trust.TierA), string(trust.TierB), string(trust.TierC), string(trust.TierD), string(trust.TierE):
		return trust.Tier(letter)
	default:
		return trust.TierE
	}
}
