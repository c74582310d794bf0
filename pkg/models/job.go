// Package models holds the data model shared by every veritas component:
// Job, Plan, Task, SourceDocument, Claim, and Item, plus the request/response
// DTOs services accept.
package models

import "time"

// JobStatus is the Job's monotonic stage status.
type JobStatus string

// Job status values, in stage order. Failed is terminal from any non-terminal state.
const (
	JobStatusPending     JobStatus = "pending"
	JobStatusPlanning    JobStatus = "planning"
	JobStatusSearching   JobStatus = "searching"
	JobStatusEnrichment  JobStatus = "enrichment"
	JobStatusPolish      JobStatus = "polish"
	JobStatusGateCheck   JobStatus = "gate_check"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
)

// stageOrder gives each non-terminal status its position, used to enforce
// the monotonic transition invariant.
var stageOrder = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusPlanning:   1,
	JobStatusSearching:  2,
	JobStatusEnrichment: 3,
	JobStatusPolish:     4,
	JobStatusGateCheck:  5,
	JobStatusDone:       6,
}

// CanTransition reports whether moving from "from" to "to" is legal:
// monotonic in stage order, except that "failed" is reachable from any
// non-terminal status.
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusFailed {
		return from != JobStatusDone && from != JobStatusFailed
	}
	fromRank, fromOK := stageOrder[from]
	toRank, toOK := stageOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank >= fromRank
}

// JobMode controls the budget/concurrency/depth envelope for a job.
type JobMode string

// Supported modes.
const (
	JobModeFast     JobMode = "fast"
	JobModeBalanced JobMode = "balanced"
	JobModeDeep     JobMode = "deep"
)

// Job is a unit of work for one input title.
type Job struct {
	JobID          string
	TenantID       string
	InputRaw       string
	InputHash      string
	Mode           JobMode
	Status         JobStatus
	ForceRefresh   bool
	PreviousJobID  string
	Budgets        JobBudgets
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResultRef      string
}

// JobBudgets carries the caller-supplied resource envelope.
type JobBudgets struct {
	MaxQueries     int
	LimitPerQuery  int
	Concurrency    int
}

// TriggerJobRequest is the boundary-contract input for starting a job.
type TriggerJobRequest struct {
	InputRaw      string     `json:"input_raw"`
	TenantID      string     `json:"tenant_id"`
	Mode          JobMode    `json:"mode"`
	ForceRefresh  bool       `json:"force_refresh"`
	PreviousJobID string     `json:"previous_job_id,omitempty"`
	APIKeysRef    string     `json:"api_keys_ref,omitempty"`
	Budgets       JobBudgets `json:"budgets,omitempty"`
}

// TriggerJobResponse is the boundary-contract output for starting a job.
type TriggerJobResponse struct {
	JobID string `json:"job_id"`
}

// StageTransition is one entry in a Job's append-only steps[] log.
type StageTransition struct {
	Stage     JobStatus `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
	Detail    string    `json:"detail,omitempty"`
}

// StatusResponse is the boundary-contract output for a status query.
type StatusResponse struct {
	JobID  string            `json:"job_id"`
	Status JobStatus         `json:"status"`
	Steps  []StageTransition `json:"steps"`
	Result *ResultRecord     `json:"result,omitempty"`
}

// ResultRecord is the persisted, externally-consumed shape of a finished Item.
type ResultRecord struct {
	JobID                string                    `json:"job_id"`
	InputRaw             string                    `json:"input_raw"`
	InputHash            string                    `json:"input_hash"`
	Data                 map[string]any            `json:"data"`
	Evidence             map[string]FieldEvidence   `json:"evidence"`
	Status               string                    `json:"status"`
	ValidationErrors     []string                  `json:"validation_errors"`
	ProcessedAt          time.Time                 `json:"processed_at"`
	ProcessingDurationMs int64                     `json:"processing_duration_ms"`
	RulesetVersion       string                    `json:"ruleset_version"`
	ParserVersion        string                    `json:"parser_version"`
}

// FieldEvidence is the per-field provenance record.
type FieldEvidence struct {
	Value      any    `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceURL  string  `json:"source_url"`
	IsConflict bool    `json:"is_conflict"`
	Method     string  `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
}
