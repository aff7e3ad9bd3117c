package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate     AlertType = "run_failure_rate"
	AlertRunStale           AlertType = "run_stale"
	AlertEnrichmentDegraded AlertType = "enrichment_degraded"
	AlertRejectionSpike     AlertType = "rejection_spike"
)

// minFinishedRuns is the sample size below which failure rate is not judged.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		switch {
		case snap.LastCompleteAt == nil:
			alerts = append(alerts, Alert{
				Type:      AlertRunStale,
				Severity:  "high",
				Message:   "No pipeline run has ever completed",
				Timestamp: now,
			})
		case snap.HoursSinceComplete > float64(a.cfg.StaleAfterHours):
			alerts = append(alerts, Alert{
				Type:     AlertRunStale,
				Severity: "high",
				Message: fmt.Sprintf(
					"Last complete run was %.0fh ago, more than %dh",
					snap.HoursSinceComplete, a.cfg.StaleAfterHours,
				),
				Details: map[string]any{
					"last_complete_at": snap.LastCompleteAt,
					"stale_after_h":    a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.EnrichmentFailureThreshold > 0 && snap.EnrichmentFailureRate > a.cfg.EnrichmentFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEnrichmentDegraded,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Enrichment unavailable for %.1f%% of attempts in the latest run (threshold %.1f%%)",
				snap.EnrichmentFailureRate*100, a.cfg.EnrichmentFailureThreshold*100,
			),
			Details: map[string]any{
				"failures":     snap.EnrichmentFailures,
				"failure_rate": snap.EnrichmentFailureRate,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RejectionRateThreshold > 0 && snap.RejectionRate > a.cfg.RejectionRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRejectionSpike,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d records rejected in the latest run (%.1f%%)",
				snap.RecordsRejected, snap.RecordsIn, snap.RejectionRate*100,
			),
			Details: map[string]any{
				"rejected":       snap.RecordsRejected,
				"records_in":     snap.RecordsIn,
				"rejection_rate": snap.RejectionRate,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
