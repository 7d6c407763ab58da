package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/server"
)

func newTokenCmd(opts *options) *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show the admin API token",
		Long: `Show the admin token used by the running server.

The token comes from DXP_ADMIN_TOKEN when set. Otherwise the server generates
one at startup and this command reads it back. Use --new to generate a token
to put in DXP_ADMIN_TOKEN.

Example:
  dxp token`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if generate {
				fmt.Fprintln(out, server.GenerateToken())
				return nil
			}

			token := opts.cfg.AdminToken
			if token == "" {
				data, err := os.ReadFile(tokenFilePath(opts.dbPath))
				if err != nil {
					if os.IsNotExist(err) {
						return fmt.Errorf("no server running. Start with: dxp serve")
					}
					return fmt.Errorf("failed to read token file: %w", err)
				}
				token = strings.TrimSpace(string(data))
			}
			if token == "" {
				return fmt.Errorf("token file is empty. Restart the server with: dxp serve")
			}

			fmt.Fprintf(out, "Admin token: %s\n", token)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Example: curl -H \"Authorization: Bearer %s\" http://localhost:%d/api/admin/experiments\n", token, opts.cfg.Port)
			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "new", false, "generate a new random token")
	return cmd
}
