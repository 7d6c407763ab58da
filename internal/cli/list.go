package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/store"
)

func newListCmd(opts *options) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all experiments",
		Long:  `List all experiments with their status and participation totals.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(rt *runtime) error {
				ctx := cmd.Context()

				experiments, err := rt.svc.ListExperiments(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(experiments) == 0 {
					fmt.Fprintln(out, "No experiments yet.")
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Create one with:")
					fmt.Fprintln(out, "  dxp create \"Profile QR Prompt\" --variants \"control,qr\"")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tNAME\tSTATUS\tVARIANTS\tTRAFFIC\tPARTICIPANTS\tCONVERSIONS\tCREATED")

				for _, e := range experiments {
					if status != "" && e.Status != store.Status(status) {
						continue
					}

					summary, err := rt.svc.GetExperimentStats(ctx, e.ID)
					if err != nil {
						return fmt.Errorf("failed to get stats for experiment %s: %w", e.Key, err)
					}

					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d%%\t%s\t%s\t%s\n",
						e.Key,
						e.Name,
						strings.ToUpper(string(e.Status)),
						len(e.Variants),
						e.TrafficAllocation,
						formatNumber(summary.TotalParticipants),
						formatNumber(int(summary.TotalConversions)),
						e.CreatedAt.Format("2006-01-02"),
					)
				}

				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only show experiments with this status")
	return cmd
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
