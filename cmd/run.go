package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/ingest"
	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/pipeline"
)

var (
	runSource     string
	runIngestedAt string
	runSheet      string
)

var runCmd = &cobra.Command{
	Use:   "run [file...]",
	Short: "Ingest source exports and rebuild, enrich, and score the lead set",
	Long: "Reads JSON, CSV, or XLSX exports of one source, merges them into the stored leads, " +
		"then enriches and scores every lead. With no files, stored leads are re-matched and re-scored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ingestedAt, err := parseIngestedAt(runIngestedAt, time.Now())
		if err != nil {
			return err
		}
		var src model.Source
		if runSource != "" {
			if src, err = model.ParseSource(runSource); err != nil {
				return err
			}
		}

		// Read every file before touching the store so a malformed export
		// leaves stored leads as they were.
		batches := make([]model.RawBatch, 0, len(args))
		for _, path := range args {
			b, err := ingest.ReadFile(ctx, path, ingest.Options{
				Source:     src,
				IngestedAt: ingestedAt,
				SheetName:  runSheet,
			})
			if err != nil {
				return err
			}
			zap.L().Info("read batch",
				zap.String("file", path),
				zap.String("source", string(b.Source)),
				zap.Int("records", len(b.Records)),
			)
			batches = append(batches, *b)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := pipeline.New(cfg, st)
		if err != nil {
			return err
		}
		res, err := p.Run(ctx, batches)
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		formatRunSummary(os.Stdout, res.Run)
		return nil
	},
}

// parseIngestedAt accepts RFC 3339 or a bare date. Empty means now.
func parseIngestedAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, eris.Errorf("invalid --ingested-at %q: want RFC 3339 or YYYY-MM-DD", s)
}

// formatRunSummary writes per-stage counts for one run.
func formatRunSummary(out io.Writer, run *model.PipelineRun) {
	s := run.Stats
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s (%s)\n", run.ID, run.Status)
	_, _ = fmt.Fprintf(w, "Records in:\t%d\n", s.RecordsIn)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.RecordsRejected)
	for _, reason := range sortedKeys(s.Rejections) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", reason, s.Rejections[reason])
	}
	_, _ = fmt.Fprintf(w, "Superseded:\t%d\n", s.RecordsSuperseded)
	_, _ = fmt.Fprintf(w, "Matched:\t%d exact, %d fuzzy, %d ambiguous\n", s.ExactJoins, s.FuzzyJoins, s.Ambiguities)
	_, _ = fmt.Fprintf(w, "Suppressed:\t%d\n", s.Suppressed)
	_, _ = fmt.Fprintf(w, "Merge conflicts:\t%d\n", s.MergeConflicts)
	_, _ = fmt.Fprintf(w, "Leads:\t%d total, %d new, %d updated\n", s.TotalLeads, s.NewLeads, s.UpdatedLeads)
	_, _ = fmt.Fprintf(w, "Enriched:\t%d (%d skipped, %d unavailable)\n", s.Enriched, s.EnrichmentSkipped, s.EnrichmentFailures)
	_, _ = fmt.Fprintf(w, "Scored:\t%d\n", s.Scored)
	for _, tier := range []model.Tier{model.TierHot, model.TierWarm, model.TierCool, model.TierCold} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", tier, s.Tiers[tier])
	}
	_ = w.Flush()
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "source of the files: npi, adph, or cms (JSON envelopes may carry their own)")
	runCmd.Flags().StringVar(&runIngestedAt, "ingested-at", "", "ingestion time, RFC 3339 or YYYY-MM-DD (default now)")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "worksheet name for xlsx files (default first sheet)")
	rootCmd.AddCommand(runCmd)
}
