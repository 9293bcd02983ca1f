// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/trustdental/isaac/internal/config"
	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/gate"
	"github.com/trustdental/isaac/internal/orchestrator"
	"github.com/trustdental/isaac/internal/provider"
	"github.com/trustdental/isaac/internal/provider/anthropic"
	"github.com/trustdental/isaac/internal/provider/openai"
	storesqlite "github.com/trustdental/isaac/internal/store/sqlite"
	"github.com/trustdental/isaac/internal/tools"
	"github.com/trustdental/isaac/internal/tools/knowledge"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

// runtime holds everything a running command needs, plus its closers.
type runtime struct {
	engine  *orchestrator.Engine
	logger  *slog.Logger
	health  func(ctx context.Context) map[string]health.Metrics
	closers []io.Closer
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
}

// buildRuntime wires the full pipeline from configuration.
func buildRuntime(cfg *config.Config, verbose bool) (*runtime, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	refs := append([]string{cfg.Models.Default}, cfg.Models.Failover...)
	llm, err := provider.NewRouter(refs, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger, health: llm.Health}
	rt.closers = append(rt.closers, llm)

	registered := 0
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			continue
		}
		var p provider.Provider
		switch name {
		case "anthropic":
			p, err = anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		case "openai":
			p, err = openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		default:
			logger.Warn("ignoring unknown provider", "provider", name)
			continue
		}
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := llm.Register(p); err != nil {
			rt.Close()
			return nil, err
		}
		registered++
	}
	if registered == 0 {
		rt.Close()
		return nil, isaacerr.New(isaacerr.CodeConfigValidateMissingKey,
			"no provider has an api_key configured; set providers.anthropic.api_key or providers.openai.api_key")
	}

	records, err := storesqlite.NewRecordStore(cfg.Storage.RecordsPath)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, records)

	// A remote retrieval endpoint wins; a local literature index is the
	// offline fallback. With neither, knowledge lookups report
	// unavailable and the engine degrades to foundational knowledge.
	var kb tools.KnowledgeTool
	switch {
	case cfg.Tools.Knowledge.Endpoint != "":
		kb = knowledge.New(cfg.Tools.Knowledge.Endpoint)
	case cfg.Storage.LiteraturePath != "":
		lit, err := storesqlite.NewLiteratureStore(cfg.Storage.LiteraturePath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, lit)
		kb = lit
	}

	executor := tools.NewExecutor(kb, records, cfg.Tools.Timeout, cfg.Tools.MaxRetries)

	rt.engine = orchestrator.New(
		convo.NewStore(cfg.Containment.DriftWindow),
		gate.New(gate.Config{
			DecayAfter: cfg.Containment.DecayAfter,
			DriftRatio: cfg.Containment.DriftRatio,
		}),
		llm,
		executor,
		orchestrator.Config{
			ModelTimeout:  cfg.Models.Timeout,
			HistoryWindow: cfg.Session.HistoryWindow,
		},
		logger,
	)
	return rt, nil
}
