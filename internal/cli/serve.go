package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the dxp HTTP server.

The server provides:
  - Assignment and conversion endpoints for the app
  - Admin endpoints for managing experiments (token protected)
  - Prometheus metrics at /metrics
  - Health check endpoint

Experiments are reloaded from the database every DXP_REFRESH_INTERVAL so
changes made with the CLI show up without a restart.

Example:
  dxp serve --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withService(ctx, opts, func(rt *runtime) error {
				srv := server.New(rt.svc, rt.store, server.Options{
					Port:            port,
					Token:           opts.cfg.AdminToken,
					RefreshInterval: opts.cfg.RefreshInterval,
					Logger:          rt.log,
					Registry:        rt.registry,
				})

				// Write token to file for the token command
				tokenFile := tokenFilePath(opts.dbPath)
				if err := os.WriteFile(tokenFile, []byte(srv.Token()), 0600); err != nil {
					rt.log.Warn("failed to write token file", "path", tokenFile, "error", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out)
				fmt.Fprintf(out, "dxp running on http://localhost:%d\n", port)
				fmt.Fprintln(out, "Admin token: run 'dxp token'")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Press Ctrl+C to stop")

				return srv.Run(ctx)
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", opts.cfg.Port, "port to listen on")
	return cmd
}

// tokenFilePath keeps the token file alongside the database.
func tokenFilePath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), ".dxp-token")
}
