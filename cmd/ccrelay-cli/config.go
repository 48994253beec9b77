package main

import (
	"fmt"

	"github.com/ccrelay/ccrelay"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with bootstrap config files",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Run a bootstrap config through the same loader and checks ccrelayd uses at startup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ccrelay.LoadConfig(args[0])
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := ccrelay.ValidateConfig(*cfg); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		fmt.Println("config is valid")
		fmt.Printf("  listen_addr: %s\n", cfg.ListenAddr)
		fmt.Printf("  config_dsn:  %s\n", cfg.ConfigDSN)
		fmt.Printf("  log_dsn:     %s\n", cfg.LogDSN)
		if cfg.AdminAddr != "" {
			fmt.Printf("  admin_addr:  %s\n", cfg.AdminAddr)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
