// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trustdental/isaac/internal/config"
	"github.com/trustdental/isaac/internal/server"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Isaac HTTP server",
		Long:  "Load configuration, wire the turn pipeline, and serve the chat API until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg, viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.New(server.Config{
		ListenAddr:     cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		ProviderHealth: rt.health,
	}, rt.engine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.logger.Info("isaac listening", "addr", cfg.Server.Listen, "model", cfg.Models.Default)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
