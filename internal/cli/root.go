// Package cli implements the dxp command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/config"
)

// options holds values shared by every command.
type options struct {
	cfg     *config.Config
	dbPath  string
	logMode string
}

func NewRootCmd(cfg *config.Config) *cobra.Command {
	opts := &options{cfg: cfg}

	rootCmd := &cobra.Command{
		Use:   "dxp",
		Short: "Dislink experiment engine",
		Long: `dxp manages A/B experiments for Dislink: define experiments, move them
through their lifecycle, assign users, record conversions and read results.

Settings come from DXP_* environment variables or a .env file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", cfg.DBPath, "database path")
	rootCmd.PersistentFlags().StringVar(&opts.logMode, "log-mode", cfg.LogMode, "log mode: dev, prod or off")

	rootCmd.AddCommand(
		newCreateCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newStartCmd(opts),
		newPauseCmd(opts),
		newCompleteCmd(opts),
		newResultsCmd(opts),
		newAssignCmd(opts),
		newConvertCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
	)

	return rootCmd
}

func Execute() error {
	return NewRootCmd(config.Load()).Execute()
}
