package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agentlink/internal/infra/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	cmd.AddCommand(newConfigEncryptCmd())
	return cmd
}

// newConfigEncryptCmd prints an "enc:" value for llm.api_key or
// gateway.admin_token. The passphrase comes from AGENTLINK_CONFIG_KEY.
func newConfigEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a secret for the config file",
		Long: "Encrypt a secret with the passphrase in AGENTLINK_CONFIG_KEY and print\n" +
			"it with the enc: prefix. The same variable must be set when the\n" +
			"config is loaded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := os.Getenv("AGENTLINK_CONFIG_KEY")
			if pass == "" {
				return errors.New("config encrypt: AGENTLINK_CONFIG_KEY is not set")
			}
			enc, err := config.EncryptValue(args[0], pass)
			if err != nil {
				return fmt.Errorf("config encrypt: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enc:%s\n", enc)
			return nil
		},
	}
}
