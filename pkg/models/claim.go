package models

import "time"

// Claim is an atomic field extraction, attributable to exactly one source document.
// Confidence is on a 0-100 scale, as extracted; the Trust Engine normalizes to
// 0-1 when it computes a resolved field's confidence.
type Claim struct {
	ClaimID     string
	ItemID      string
	SourceDocID string
	Field       string
	Value       string
	Confidence  float64
	ExtractedAt time.Time
}
