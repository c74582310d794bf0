package models

import "time"

// ItemStatus is the lifecycle state of an evolving product record.
type ItemStatus string

// Item statuses.
const (
	ItemProcessing  ItemStatus = "processing"
	ItemNeedsReview ItemStatus = "needs_review"
	ItemPublished   ItemStatus = "published"
	ItemFailed      ItemStatus = "failed"
)

// Item is the evolving product record bound to a job, upserted by the
// Orchestrator at stage transitions.
type Item struct {
	ItemID           string
	JobID            string
	Data             map[string]any
	Evidence         map[string]FieldEvidence
	Status           ItemStatus
	ValidationErrors []string
	UpdatedAt        time.Time
}

// Known validation error reason codes.
const (
	ReasonMissingNixData             = "missing_nix_data"
	ReasonInsufficientRUVerification = "insufficient_ru_verification"
	ReasonLowConfidenceNixData       = "low_confidence_nix_data"
	ReasonInvalidDimensions          = "invalid_dimensions"
	ReasonCompatibilityConflict      = "compatibility_conflict"
	ReasonImageValidationIssues      = "image_validation_issues"
	ReasonFailedParseModel           = "failed_parse_model"
	ReasonFailedParseBrand           = "failed_parse_brand"
	ReasonCreditsExhausted           = "credits_exhausted"
	ReasonMissingRequiredField       = "missing_required_field"
)
