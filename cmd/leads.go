package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect canonical leads",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads by score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tier, _ := cmd.Flags().GetString("tier")
		status, _ := cmd.Flags().GetString("status")
		newOnly, _ := cmd.Flags().GetBool("new")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		leads, err := st.ListLeads(ctx, store.LeadFilter{
			Tier:    model.Tier(tier),
			Status:  model.LeadStatus(status),
			NewOnly: newOnly,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if asJSON {
			return writeJSON(os.Stdout, leads)
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}
		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-uid>",
	Short: "Show a lead with its sources and latest score breakdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return eris.Errorf("lead %s not found", args[0])
			}
			return eris.Wrap(err, "leads show")
		}
		attrs, err := st.ListAttributions(ctx, lead.LeadUID)
		if err != nil {
			return eris.Wrap(err, "leads show: attributions")
		}
		snaps, err := st.ListSnapshots(ctx, lead.LeadUID, 1)
		if err != nil {
			return eris.Wrap(err, "leads show: scores")
		}

		var latest *model.ScoreSnapshot
		if len(snaps) > 0 {
			latest = &snaps[0]
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, map[string]any{
				"lead":    lead,
				"sources": attrs,
				"score":   latest,
			})
		}
		formatLeadDetail(os.Stdout, lead, attrs, latest)
		return nil
	},
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// formatLeadsList writes a table of leads.
func formatLeadsList(out io.Writer, leads []*model.CanonicalLead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "UID\tFACILITY\tCATEGORY\tCITY\tSCORE\tTIER\tSTATUS\tNEW")
	_, _ = fmt.Fprintln(w, "---\t--------\t--------\t----\t-----\t----\t------\t---")

	for _, l := range leads {
		name := l.FacilityName
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		isNew := ""
		if l.NewThisWeek {
			isNew = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.LeadUID,
			name,
			l.Category,
			l.City,
			intOrDash(l.LeadScore),
			l.PriorityTier,
			l.Status,
			isNew,
		)
	}
	_ = w.Flush()
}

// formatLeadDetail writes canonical fields, sources, and the score breakdown.
func formatLeadDetail(out io.Writer, l *model.CanonicalLead, attrs []model.SourceAttribution, snap *model.ScoreSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			_, _ = fmt.Fprintf(w, "%s:\t%s\n", label, value)
		}
	}

	row("Lead", l.LeadUID)
	row("Facility", l.FacilityName)
	row("Category", string(l.Category))
	row("Entity", string(l.EntityType))
	row("NPI", l.NPINumber)
	row("License", l.LicenseNumber)
	row("Administrator", l.Administrator)
	row("Address", joinNonEmpty(", ", l.AddressLine1, l.AddressLine2, l.City, l.State+" "+l.Zip5))
	row("County", l.County)
	row("Phone", l.Phone)
	row("Fax", l.Fax)
	row("Beds", intOrDash(l.BedCount))
	row("Waste (lbs/day)", floatOrDash(l.EstimatedWasteLbsPerDay))
	row("Waste tier", l.WasteTier)
	row("Distance (mi)", floatOrDash(l.DistanceFromBirmingham))
	row("Service zone", l.ServiceZone)
	row("Completeness", floatOrDash(l.CompletenessScore))
	row("Score", intOrDash(l.LeadScore))
	row("Tier", string(l.PriorityTier))
	row("Status", string(l.Status))
	row("First seen", l.FirstSeen.Format("2006-01-02"))
	if l.EnrichedAt != nil {
		row("Enriched", l.EnrichedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	if len(attrs) > 0 {
		_, _ = fmt.Fprintln(out, "\nSources:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  SOURCE\tSOURCE_ID\tMETHOD\tCONFIDENCE\tINGESTED")
		sorted := append([]model.SourceAttribution(nil), attrs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Source.Rank() < sorted[j].Source.Rank() })
		for _, a := range sorted {
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%.2f\t%s\n",
				a.Source, a.SourceID, a.MatchMethod, a.MatchConfidence, a.IngestedAt.Format("2006-01-02"))
		}
		_ = w.Flush()
	}

	if snap != nil {
		_, _ = fmt.Fprintf(out, "\nScore breakdown (%s, config %s):\n", snap.ScoredAt.Format("2006-01-02 15:04"), snap.ConfigHash)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  FACTOR\tRAW\tNORMALIZED\tWEIGHT\tCONTRIBUTION")
		for _, f := range snap.Breakdown {
			raw := floatOrDash(f.Raw)
			if f.Detail != "" {
				raw = f.Detail
			}
			if !f.Available {
				raw = "unknown"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%.4f\t%.2f\t%.2f\n", f.Factor, raw, f.Normalized, f.Weight, f.Contribution)
		}
		_, _ = fmt.Fprintf(w, "  total\t\t\t\t%d (%s)\n", snap.Score, snap.PriorityTier)
		_ = w.Flush()
	}
}

func intOrDash(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func floatOrDash(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func joinNonEmpty(sep string, parts ...string) string {
	var out string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}

func init() {
	leadsListCmd.Flags().String("tier", "", "filter by priority tier (Hot, Warm, Cool, Cold)")
	leadsListCmd.Flags().String("status", "", "filter by sales status")
	leadsListCmd.Flags().Bool("new", false, "only leads new this week")
	leadsListCmd.Flags().Int("limit", 50, "max leads to show")
	leadsListCmd.Flags().Int("offset", 0, "skip this many leads")
	leadsListCmd.Flags().Bool("json", false, "output JSON")
	leadsShowCmd.Flags().Bool("json", false, "output JSON")

	leadsCmd.AddCommand(leadsListCmd, leadsShowCmd)
	rootCmd.AddCommand(leadsCmd)
}
