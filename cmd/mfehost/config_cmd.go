package main

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the host configuration",
		Long:  "Show or validate the effective configuration after defaults and MFEHOST_* overrides",
	}

	cmd.AddCommand(configShowCmd(), configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				fmt.Fprintln(out, string(data))
			case "toml":
				if err := toml.NewEncoder(out).Encode(cfg); err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
			default:
				return fmt.Errorf("unknown format %q (expected json or toml)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "json", "output format (json or toml)")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d remote(s), shared %v, fail mode %s\n",
				len(cfg.Remotes), cfg.SharedNames(), cfg.Server.FailMode)
			return nil
		},
	}
}
