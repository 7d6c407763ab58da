package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/experiment"
)

func newAssignCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id|key> <user-id>",
		Short: "Assign a user to an experiment",
		Long: `Assign a user to a running experiment and print the variant. Repeated calls
return the same variant.

Example:
  dxp assign profile-qr-prompt 3f2504e0-4f89-11d3-9a0c-0305e82c3301`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(rt *runtime) error {
				variantID, ok := rt.svc.AssignUserToExperiment(cmd.Context(), args[1], args[0])
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "User '%s' is not in experiment '%s'\n", args[1], args[0])
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), variantID)
				return nil
			})
		},
	}
}

func newConvertCmd(opts *options) *cobra.Command {
	var value float64

	cmd := &cobra.Command{
		Use:   "convert <id|key> <user-id> <metric-id>",
		Short: "Record a conversion",
		Long: `Record a conversion for an assigned user. Users without an assignment are
ignored.

Example:
  dxp convert profile-qr-prompt 3f2504e0-4f89-11d3-9a0c-0305e82c3301 contact_saved`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if value < 0 {
				return fmt.Errorf("value must not be negative")
			}
			if value == 0 {
				value = experiment.DefaultConversionValue
			}

			return withService(cmd.Context(), opts, func(rt *runtime) error {
				ctx := cmd.Context()
				if _, ok := rt.svc.GetUserVariant(ctx, args[1], args[0]); !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "User '%s' has no assignment in '%s'; nothing recorded\n", args[1], args[0])
					return nil
				}
				rt.svc.TrackConversion(ctx, args[1], args[0], args[2], value)
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s = %g for user '%s'\n", args[2], value, args[1])
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&value, "value", experiment.DefaultConversionValue, "conversion value")
	return cmd
}
