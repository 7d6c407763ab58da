package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/definition"
	"github.com/dislink/dxp/internal/experiment"
	"github.com/dislink/dxp/internal/store"
)

func newCreateCmd(opts *options) *cobra.Command {
	var (
		file        string
		key         string
		description string
		variants    string
		control     string
		allocation  int
		metrics     string
		userIDs     string
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new draft experiment",
		Long: `Create a new draft experiment from flags or from a YAML definition file.

Variants are given as id[:weight]; weights default to 1. The first variant is
the control unless --control names another.

Examples:
  dxp create "Profile QR Prompt" --variants "control:50,qr:50"
  dxp create "Follow-up Reminder" --variants "off,email,push" --allocation 20 --metric reply
  dxp create --file experiments/qr-prompt.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var def experiment.Definition
			if file != "" {
				if len(args) > 0 {
					return fmt.Errorf("use a name argument OR --file, not both")
				}
				var err error
				def, err = definition.LoadFile(file)
				if err != nil {
					return err
				}
			} else {
				if len(args) == 0 {
					return fmt.Errorf("name is required. Example: dxp create \"Profile QR Prompt\" --variants \"control,qr\"")
				}
				variantList, err := parseVariants(variants, control)
				if err != nil {
					return err
				}
				def = experiment.Definition{
					Name:              args[0],
					Key:               key,
					Description:       description,
					TrafficAllocation: allocation,
					Variants:          variantList,
					Metrics:           parseMetrics(metrics),
				}
				if ids := splitList(userIDs); len(ids) > 0 {
					def.Targeting = []store.Rule{{Kind: store.RuleUserIDs, Values: ids}}
				}
			}

			return withService(cmd.Context(), opts, func(rt *runtime) error {
				id, err := rt.svc.CreateExperiment(cmd.Context(), def)
				if err != nil {
					return err
				}
				exp, err := rt.svc.GetExperiment(cmd.Context(), id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created experiment '%s' (%s) with %d variants:\n", exp.Name, exp.Key, len(exp.Variants))
				for _, v := range exp.Variants {
					marker := ""
					if v.IsControl {
						marker = " (control)"
					}
					fmt.Fprintf(out, "  %s: weight %g%s\n", v.ID, v.TrafficWeight, marker)
				}
				fmt.Fprintf(out, "  ID: %s\n", exp.ID)
				fmt.Fprintf(out, "\nStart it with: dxp start %s\n", exp.Key)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML definition file")
	cmd.Flags().StringVar(&key, "key", "", "experiment key (default: derived from name)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variants as id[:weight]")
	cmd.Flags().StringVar(&control, "control", "", "control variant id (default: first variant)")
	cmd.Flags().IntVarP(&allocation, "allocation", "a", 100, "percentage of users eligible for the experiment")
	cmd.Flags().StringVarP(&metrics, "metric", "m", "", "comma-separated conversion metric ids")
	cmd.Flags().StringVar(&userIDs, "user-ids", "", "comma-separated user ids to restrict the experiment to")

	return cmd
}

func parseVariants(list, control string) ([]store.Variant, error) {
	items := splitList(list)
	if len(items) == 0 {
		return nil, fmt.Errorf("need at least 1 variant. Example: --variants \"control:50,qr:50\"")
	}

	variants := make([]store.Variant, 0, len(items))
	for _, item := range items {
		id, weightStr, hasWeight := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		weight := 1.0
		if hasWeight {
			w, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight for variant %q: %s", id, weightStr)
			}
			weight = w
		}
		variants = append(variants, store.Variant{ID: id, Name: id, TrafficWeight: weight})
	}

	if control == "" {
		variants[0].IsControl = true
		return variants, nil
	}
	for i := range variants {
		if variants[i].ID == control {
			variants[i].IsControl = true
			return variants, nil
		}
	}
	return nil, fmt.Errorf("control variant %q is not in --variants", control)
}

func parseMetrics(list string) []store.Metric {
	var metrics []store.Metric
	for _, id := range splitList(list) {
		metrics = append(metrics, store.Metric{
			ID:        id,
			Name:      id,
			Type:      store.MetricConversion,
			Direction: store.DirectionIncrease,
			Weight:    1,
		})
	}
	return metrics
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
