// Command ccrelay-cli is an operator-facing terminal client for the admin
// HTTP facade (§12.2, §12.3): it never opens the config database directly,
// it only ever talks to a running ccrelayd over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
)

var rootCmd = &cobra.Command{
	Use:   "ccrelay-cli",
	Short: "Operator CLI for a ccrelayd proxy",
	Long: `ccrelay-cli drives a running ccrelayd's admin HTTP facade:

  ccrelay-cli providers list
  ccrelay-cli providers reset-failures <id>
  ccrelay-cli providers unblacklist <id>
  ccrelay-cli config validate <path>
  ccrelay-cli version`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080/admin", "ccrelayd admin facade base URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("CCRELAY_ADMIN_TOKEN"), "admin bearer token (default: $CCRELAY_ADMIN_TOKEN)")

	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
