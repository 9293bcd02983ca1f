// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trustdental/isaac/internal/secrets"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// serviceName is the keyring service name under which Isaac stores secrets.
const serviceName = "isaac"

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long:  "Store, list, and delete secrets (provider API keys) under the Isaac service in the operating system keyring. Config values can then reference them as keyring://isaac/<name>.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret, reading its value from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	fmt.Fprintf(cmd.OutOrStdout(), "Value for %s: ", name)
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeCLIInputInvalid, "reading secret value")
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return isaacerr.New(isaacerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	store := secretStoreFactory()
	if err := store.Store(serviceName, name, value); err != nil {
		return isaacerr.Wrapf(err, isaacerr.CodeSecretStoreFailure, "storing secret %q", name)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\nReference it in config as keyring://%s/%s\n", name, serviceName, name)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	store := secretStoreFactory()
	keys, err := store.List(serviceName)
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeSecretListFailure, "listing secrets")
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	store := secretStoreFactory()

	if err := store.Delete(serviceName, name); err != nil {
		if isaacerr.HasCode(err, isaacerr.CodeSecretNotFound) {
			return isaacerr.Errorf(isaacerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return isaacerr.Wrapf(err, isaacerr.CodeSecretDeleteFailure, "deleting secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
