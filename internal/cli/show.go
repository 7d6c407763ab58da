package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|key>",
		Short: "Show an experiment definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(rt *runtime) error {
				e, err := rt.svc.GetExperiment(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "EXPERIMENT: %s\n", e.Name)
				fmt.Fprintf(out, "KEY: %s\n", e.Key)
				fmt.Fprintf(out, "ID: %s\n", e.ID)
				fmt.Fprintf(out, "STATUS: %s\n", e.Status)
				if e.Description != "" {
					fmt.Fprintf(out, "DESCRIPTION: %s\n", e.Description)
				}
				fmt.Fprintf(out, "TRAFFIC: %d%%\n", e.TrafficAllocation)
				fmt.Fprintf(out, "CREATED: %s\n", e.CreatedAt.Format("2006-01-02"))
				if e.StartDate != nil {
					fmt.Fprintf(out, "STARTED: %s\n", e.StartDate.Format(time.DateTime))
				}
				if e.EndDate != nil {
					fmt.Fprintf(out, "ENDED: %s\n", e.EndDate.Format(time.DateTime))
				}

				fmt.Fprintln(out)
				fmt.Fprintln(out, "VARIANTS:")
				for _, v := range e.Variants {
					marker := ""
					if v.IsControl {
						marker = " (control)"
					}
					fmt.Fprintf(out, "  %s  %s  weight %g%s\n", v.ID, v.Name, v.TrafficWeight, marker)
					keys := make([]string, 0, len(v.Configuration))
					for k := range v.Configuration {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(out, "      %s = %s\n", k, v.Configuration[k])
					}
				}

				if len(e.Targeting) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "TARGETING:")
					for _, r := range e.Targeting {
						fmt.Fprintf(out, "  %s: %s\n", r.Kind, strings.Join(r.Values, ", "))
					}
				}

				if len(e.Metrics) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "METRICS:")
					for _, m := range e.Metrics {
						fmt.Fprintf(out, "  %s  %s  %s/%s\n", m.ID, m.Name, m.Type, m.Direction)
					}
				}
				return nil
			})
		},
	}
}
