// Package store persists canonical leads, their source attributions, score
// history, and pipeline runs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// ErrNotFound is returned when a requested lead or run does not exist.
var ErrNotFound = eris.New("store: not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Tier    model.Tier       `json:"tier,omitempty"`
	Status  model.LeadStatus `json:"status,omitempty"`
	NewOnly bool             `json:"new_only,omitempty"`
	Limit   int              `json:"limit,omitempty"`
	Offset  int              `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Leads
	LoadLeads(ctx context.Context) ([]*model.CanonicalLead, error)
	SaveLeads(ctx context.Context, leads []*model.CanonicalLead) error
	GetLead(ctx context.Context, leadUID string) (*model.CanonicalLead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]*model.CanonicalLead, error)

	// Attributions, one per (lead_uid, source).
	LoadAttributions(ctx context.Context) ([]model.SourceAttribution, error)
	SaveAttributions(ctx context.Context, attrs []model.SourceAttribution) error
	ListAttributions(ctx context.Context, leadUID string) ([]model.SourceAttribution, error)

	// Score history is append-only.
	AppendSnapshots(ctx context.Context, snaps []model.ScoreSnapshot) error
	ListSnapshots(ctx context.Context, leadUID string, limit int) ([]model.ScoreSnapshot, error)

	// Runs
	CreateRun(ctx context.Context, run *model.PipelineRun) error
	FinishRun(ctx context.Context, run *model.PipelineRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func listLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}
