package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harvest-med/lead-pipeline/internal/pipeline"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Re-score stored leads with the current scorer configuration",
	Long:  "Scores every stored lead without matching or enrichment and appends a score snapshot for each.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := pipeline.New(cfg, st)
		if err != nil {
			return err
		}
		res, err := p.Rescore(ctx)
		if err != nil {
			return eris.Wrap(err, "rescore")
		}

		formatRunSummary(os.Stdout, res.Run)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}
