package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/experiment"
)

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id|key>",
		Short: "Start or resume an experiment",
		Long: `Move a draft or paused experiment to running. Users can be assigned
while an experiment is running. Completed experiments cannot be restarted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, opts, args[0], "started", (*experiment.Service).StartExperiment)
		},
	}
}

func newPauseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id|key>",
		Short: "Pause a running experiment",
		Long:  `Stop new assignments. Existing assignments and conversion tracking are kept.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, opts, args[0], "paused", (*experiment.Service).PauseExperiment)
		},
	}
}

func newCompleteCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "complete <id|key>",
		Short: "Complete an experiment",
		Long: `Complete an experiment for good. No new users are assigned and it cannot be
restarted. Results stay available.

Example:
  dxp complete profile-qr-prompt --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("Complete '%s'? This cannot be undone", args[0]),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
						fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
						return nil
					}
					return err
				}
			}
			return transition(cmd, opts, args[0], "completed", (*experiment.Service).CompleteExperiment)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func transition(cmd *cobra.Command, opts *options, id, verb string, fn func(*experiment.Service, context.Context, string) error) error {
	return withService(cmd.Context(), opts, func(rt *runtime) error {
		if err := fn(rt.svc, cmd.Context(), id); err != nil {
			return err
		}
		e, err := rt.svc.GetExperiment(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Experiment '%s' %s (status: %s)\n", e.Key, verb, e.Status)
		return nil
	})
}
