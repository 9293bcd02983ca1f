// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trustdental/isaac/internal/config"
	"github.com/trustdental/isaac/internal/secrets"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// NewRootCmd creates the root isaac command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "isaac",
		Short:         "Isaac — Trust Dental clinical assistant",
		Long:          "Isaac is a domain-restricted clinical AI assistant for dental professionals: patient records, verified literature, and treatment guidance.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newStartCmd(),
		newChatCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return isaacerr.Errorf(isaacerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		v.SetConfigName("isaac")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/isaac")
		v.AddConfigPath("/etc/isaac")
		// No config file is fine — defaults and env vars still apply.
		// Parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return isaacerr.Errorf(isaacerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	// Config values may reference the OS keyring (keyring://service/key)
	// instead of holding plaintext API keys.
	secrets.ResolveViperSecrets(v, secretStoreFactory())

	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeCLISetupFailure, "binding verbose flag")
	}
	return nil
}
