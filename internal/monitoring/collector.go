// Package monitoring watches pipeline run history and raises alerts when the
// weekly lead build is failing, late, or degraded.
package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

// runHistoryLimit caps how many runs one collection reads.
const runHistoryLimit = 1000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Most recent complete run, regardless of window.
	LastCompleteAt     *time.Time `json:"last_complete_at,omitempty"`
	HoursSinceComplete float64    `json:"hours_since_complete"`

	// Latest complete run.
	RecordsIn             int     `json:"records_in"`
	RecordsRejected       int     `json:"records_rejected"`
	RejectionRate         float64 `json:"rejection_rate"`
	TotalLeads            int     `json:"total_leads"`
	EnrichmentFailures    int     `json:"enrichment_failures"`
	EnrichmentFailureRate float64 `json:"enrichment_failure_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run history in a store.
type Collector struct {
	store store.Store
	clock clockwork.Clock
}

// NewCollector creates a new metrics collector. A nil clock uses wall time.
func NewCollector(st store.Store, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{store: st, clock: clock}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.clock.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours:      lookbackHours,
		CollectedAt:        now,
		HoursSinceComplete: -1,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: runHistoryLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	latest, err := c.store.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest complete run")
	}
	if len(latest) == 0 {
		return snap, nil
	}

	last := latest[0]
	at := last.StartedAt
	if last.FinishedAt != nil {
		at = *last.FinishedAt
	}
	snap.LastCompleteAt = &at
	snap.HoursSinceComplete = now.Sub(at).Hours()

	s := last.Stats
	snap.RecordsIn = s.RecordsIn
	snap.RecordsRejected = s.RecordsRejected
	if s.RecordsIn > 0 {
		snap.RejectionRate = float64(s.RecordsRejected) / float64(s.RecordsIn)
	}
	snap.TotalLeads = s.TotalLeads
	snap.EnrichmentFailures = s.EnrichmentFailures
	if attempted := s.Enriched + s.EnrichmentFailures; attempted > 0 {
		snap.EnrichmentFailureRate = float64(s.EnrichmentFailures) / float64(attempted)
	}
	return snap, nil
}
