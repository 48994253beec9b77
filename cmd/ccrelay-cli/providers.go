package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage providers via the admin API",
}

var providersListCLIType string

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers, optionally filtered by --cli-type",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/providers/"
		if providersListCLIType != "" {
			path += "?cli_type=" + providersListCLIType
		}

		var providers []struct {
			ID                  int64  `json:"id"`
			CLIType             string `json:"cli_type"`
			Name                string `json:"name"`
			BaseURL             string `json:"base_url"`
			Enabled             bool   `json:"enabled"`
			IsBlacklisted       bool   `json:"is_blacklisted"`
			ConsecutiveFailures int    `json:"consecutive_failures"`
			SortOrder           int    `json:"sort_order"`
		}
		if err := newAdminClient().do("GET", path, nil, &providers); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCLI\tNAME\tSORT\tENABLED\tBLACKLISTED\tFAILURES")
		for _, p := range providers {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\t%t\t%d\n", p.ID, p.CLIType, p.Name, p.SortOrder, p.Enabled, p.IsBlacklisted, p.ConsecutiveFailures)
		}
		return tw.Flush()
	},
}

var providersResetFailuresCmd = &cobra.Command{
	Use:   "reset-failures <id>",
	Short: "Reset a provider's consecutive failure counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAdminClient().do("POST", "/providers/"+args[0]+"/reset-failures", nil, nil); err != nil {
			return err
		}
		fmt.Printf("provider %s: failures reset\n", args[0])
		return nil
	},
}

var providersUnblacklistCmd = &cobra.Command{
	Use:   "unblacklist <id>",
	Short: "Immediately lift a provider's blacklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAdminClient().do("POST", "/providers/"+args[0]+"/unblacklist", nil, nil); err != nil {
			return err
		}
		fmt.Printf("provider %s: unblacklisted\n", args[0])
		return nil
	},
}

func init() {
	providersListCmd.Flags().StringVar(&providersListCLIType, "cli-type", "", "filter by cli_type (claude_code|codex|gemini)")
	providersCmd.AddCommand(providersListCmd, providersResetFailuresCmd, providersUnblacklistCmd)
}
