package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect suphist configuration",
	Long:  `Show, validate and write suphist configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, .env files and
SUPHIST_* environment variables are applied. Secrets are masked.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.Storage.PostgresDSN = maskSecret(shown.Storage.PostgresDSN)
	shown.Cache.RedisPassword = maskSecret(shown.Cache.RedisPassword)

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// PersistentPreRunE already failed on errors
	result := cfg.Validate()
	if len(result.Warnings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Configuration is valid")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "⚠️  Configuration is valid with warnings:")
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", w)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ".suphist/config.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Configuration written to %s\n", path)
	return nil
}

// maskSecret keeps a short prefix of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", 8)
}
