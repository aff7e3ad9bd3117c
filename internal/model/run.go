package model

import "time"

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunStats counts what happened at each stage of a run.
type RunStats struct {
	RecordsIn          int                      `json:"records_in"`
	RecordsRejected    int                      `json:"records_rejected"`
	Rejections         map[ValidationReason]int `json:"rejections,omitempty"`
	RecordsSuperseded  int                      `json:"records_superseded"`
	Groups             int                      `json:"groups"`
	ExactJoins         int                      `json:"exact_joins"`
	FuzzyJoins         int                      `json:"fuzzy_joins"`
	Suppressed         int                      `json:"suppressed"`
	Ambiguities        int                      `json:"ambiguities"`
	MergeConflicts     int                      `json:"merge_conflicts"`
	NewLeads           int                      `json:"new_leads"`
	UpdatedLeads       int                      `json:"updated_leads"`
	TotalLeads         int                      `json:"total_leads"`
	Enriched           int                      `json:"enriched"`
	EnrichmentSkipped  int                      `json:"enrichment_skipped"`
	EnrichmentFailures int                      `json:"enrichment_failures"`
	Scored             int                      `json:"scored"`
	Tiers              map[Tier]int             `json:"tiers,omitempty"`
}

// PipelineRun is the persisted record of one pipeline invocation.
type PipelineRun struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      RunStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
}
