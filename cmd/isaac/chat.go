// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trustdental/isaac/internal/config"
	"github.com/trustdental/isaac/internal/orchestrator"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with Isaac from the terminal",
		Long:  "Run an interactive session against a locally wired engine. Ctrl-D or /quit ends the session.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg, viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer rt.Close()

	convID := uuid.NewString()
	fmt.Fprintln(cmd.OutOrStdout(), "Isaac ready. Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		out, err := rt.engine.HandleTurn(cmd.Context(), orchestrator.Inbound{
			ConversationID: convID,
			Text:           line,
		})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", out.Text)
	}

	rt.engine.End(convID)
	fmt.Fprintln(cmd.OutOrStdout(), "Session ended.")
	return scanner.Err()
}
