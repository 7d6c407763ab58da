package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/stats"
)

func newResultsCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "results <id|key>",
		Short: "Show results for an experiment",
		Long: `Show per-variant participants, conversions, conversion rates, confidence
and the 95% interval for each rate. Works for running, paused and completed
experiments.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(rt *runtime) error {
				ctx := cmd.Context()

				e, err := rt.svc.GetExperiment(ctx, args[0])
				if err != nil {
					return err
				}
				results, err := rt.svc.GetExperimentResults(ctx, e.ID)
				if err != nil {
					return err
				}
				summary := stats.Summarize(results)

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]any{
						"experiment_id": e.ID,
						"status":        e.Status,
						"variants":      results,
						"summary":       summary,
					})
				}

				fmt.Fprintf(out, "EXPERIMENT: %s\n", e.Name)
				fmt.Fprintf(out, "STATUS: %s\n", e.Status)
				fmt.Fprintf(out, "CREATED: %s\n", e.CreatedAt.Format("2006-01-02"))
				fmt.Fprintln(out)

				fmt.Fprintln(out, "VARIANT           USERS    CONVERSIONS  RATE     CONFIDENCE  95% CI")
				fmt.Fprintln(out, strings.Repeat("─", 72))

				for _, v := range results {
					indicator := ""
					if v.VariantID == summary.BestPerformingVariant && len(results) > 1 && summary.TotalParticipants > 0 {
						indicator = " ← LEADING"
					}

					ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower, v.CIUpper)
					if v.Participants == 0 {
						ciStr = "N/A"
					}

					name := v.VariantID
					if v.IsControl {
						name += "*"
					}
					if len(name) > 16 {
						name = name[:13] + "..."
					}

					fmt.Fprintf(out, "%-16s  %-7d  %-11s  %-7s  %-10s  %s%s\n",
						name,
						v.Participants,
						formatValue(v.Conversions),
						formatPercent(v.ConversionRate),
						formatPercent(v.Confidence),
						ciStr,
						indicator,
					)
				}

				fmt.Fprintln(out)
				fmt.Fprintf(out, "Total: %d users, %s conversions, %s average rate\n",
					summary.TotalParticipants, formatValue(summary.TotalConversions), formatPercent(summary.AverageConversionRate))

				if len(results) > 1 && summary.TotalParticipants > 0 {
					if summary.StatisticalSignificance {
						fmt.Fprintf(out, "Statistical significance: reached %.0f%% confidence, \"%s\" is leading\n",
							stats.SignificanceThreshold, summary.BestPerformingVariant)
					} else {
						fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
					}
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func formatPercent(pct float64) string {
	if pct == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", pct)
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
