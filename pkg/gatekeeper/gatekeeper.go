// Package gatekeeper implements the final publish-readiness check: a small,
// ordered set of data-driven rules run over a resolved draft, each
// contributing reason codes to the Item's validation errors. A record
// publishes only if every rule passes; otherwise it needs review.
package gatekeeper

import (
	"context"
	"fmt"

	"github.com/rivergate-labs/veritas/pkg/adapters"
	"github.com/rivergate-labs/veritas/pkg/models"
	"github.com/rivergate-labs/veritas/pkg/trust"
)

// ConfidenceFloor is the minimum resolved confidence a required field must
// clear; below it the field counts as unresolved even if a value is present.
const ConfidenceFloor = 0.6

// missingReason and lowConfidenceReason give a few fields their own named
// reason code instead of the generic one; everything else falls back to
// ReasonMissingRequiredField, whether missing or under-confident.
var (
	missingReason = map[string]string{
		"brand":     models.ReasonFailedParseBrand,
		"model":     models.ReasonFailedParseModel,
		"packaging": models.ReasonMissingNixData,
	}
	lowConfidenceReason = map[string]string{
		"packaging": models.ReasonLowConfidenceNixData,
	}
)

// Rules carries the mode-dependent inputs a job's gate check is evaluated
// against. RequiredFields excludes compatibility, which has its own
// dedicated check below.
type Rules struct {
	RequiredFields   []string
	RequirePackaging bool
	ImageFields      []string
}

// Verdict is the outcome of one gate check: the resulting status plus every
// reason code that fired, in rule order.
type Verdict struct {
	Status  models.ItemStatus
	Reasons []string
}

// Gatekeeper evaluates a resolved draft against a job's Rules.
type Gatekeeper struct {
	imageQC adapters.ImageQC
}

// New builds a Gatekeeper backed by imageQC.
func New(imageQC adapters.ImageQC) *Gatekeeper {
	return &Gatekeeper{imageQC: imageQC}
}

// Evaluate runs every rule in order against draft and compat, returning the
// accumulated verdict. Image checks call out to ImageQC and can fail with an
// adapter error distinct from a failing verdict; callers should treat an
// error as inconclusive rather than as automatic needs_review.
func (g *Gatekeeper) Evaluate(ctx context.Context, draft map[string]trust.Result, compat trust.CompatibilityResult, rules Rules, imageURLs []string) (Verdict, error) {
	var reasons []string

	fields := rules.RequiredFields
	if rules.RequirePackaging {
		fields = append(append([]string{}, fields...), "packaging")
	}
	for _, field := range fields {
		if reason := checkRequiredField(draft, field); reason != "" {
			reasons = append(reasons, reason)
		}
	}

	if compat.Outcome != trust.CompatVerified {
		reasons = append(reasons, models.ReasonInsufficientRUVerification)
	}

	imageReasons, err := g.checkImages(ctx, imageURLs)
	if err != nil {
		return Verdict{}, fmt.Errorf("gatekeeper: image qc: %w", err)
	}
	reasons = append(reasons, imageReasons...)

	status := models.ItemPublished
	if len(reasons) > 0 {
		status = models.ItemNeedsReview
	}
	return Verdict{Status: status, Reasons: reasons}, nil
}

// checkRequiredField reports the reason code for field's failure against
// draft, or "" if it is present with confidence at or above ConfidenceFloor.
func checkRequiredField(draft map[string]trust.Result, field string) string {
	res, ok := draft[field]
	if !ok || res.Value == "" {
		if reason, ok := missingReason[field]; ok {
			return reason
		}
		return models.ReasonMissingRequiredField
	}
	if res.Confidence < ConfidenceFloor {
		if reason, ok := lowConfidenceReason[field]; ok {
			return reason
		}
		return models.ReasonMissingRequiredField
	}
	return ""
}

// checkImages runs ImageQC over every referenced image URL, returning one
// ReasonImageValidationIssues entry if any fails.
func (g *Gatekeeper) checkImages(ctx context.Context, imageURLs []string) ([]string, error) {
	if g.imageQC == nil || len(imageURLs) == 0 {
		return nil, nil
	}
	for _, url := range imageURLs {
		res, err := g.imageQC.ImageQC(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("image qc for %s: %w", url, err)
		}
		if !res.Passes {
			return []string{models.ReasonImageValidationIssues}, nil
		}
	}
	return nil, nil
}
