package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/monitoring"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check pipeline run health and report alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		asJSON, _ := cmd.Flags().GetBool("json")
		send, _ := cmd.Flags().GetBool("send")
		lookback, _ := cmd.Flags().GetInt("lookback")
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, lookback)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)

		if send && len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("health: alerts delivered", zap.Int("sent", sent), zap.Int("triggered", len(alerts)))
		}

		if asJSON {
			return writeJSON(os.Stdout, map[string]any{"metrics": snap, "alerts": alerts})
		}
		formatHealth(os.Stdout, snap, alerts)
		return nil
	},
}

func formatHealth(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d complete, %d failed, %d running)\n",
		snap.RunsTotal, snap.RunsComplete, snap.RunsFailed, snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.FailRate*100)
	if snap.LastCompleteAt != nil {
		_, _ = fmt.Fprintf(w, "Last complete:\t%s (%.0fh ago)\n",
			snap.LastCompleteAt.Format("2006-01-02 15:04"), snap.HoursSinceComplete)
	} else {
		_, _ = fmt.Fprintln(w, "Last complete:\tnever")
	}
	_, _ = fmt.Fprintf(w, "Rejected:\t%d / %d (%.1f%%)\n",
		snap.RecordsRejected, snap.RecordsIn, snap.RejectionRate*100)
	_, _ = fmt.Fprintf(w, "Enrichment failures:\t%d (%.1f%%)\n",
		snap.EnrichmentFailures, snap.EnrichmentFailureRate*100)
	_, _ = fmt.Fprintf(w, "Leads:\t%d\n", snap.TotalLeads)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func init() {
	healthCmd.Flags().Bool("json", false, "output JSON")
	healthCmd.Flags().Bool("send", false, "deliver triggered alerts to the configured webhook")
	healthCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(healthCmd)
}
