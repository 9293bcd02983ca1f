// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package provider

import (
	"context"
	"log/slog"
	"sync"

	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

// Router holds registered providers and walks an ordered list of model
// references (default first, then failovers) until one produces a
// completion.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	refs      []string
	logger    *slog.Logger
}

// NewRouter creates a Router over the given model references.
func NewRouter(refs []string, logger *slog.Logger) (*Router, error) {
	if len(refs) == 0 {
		return nil, isaacerr.New(isaacerr.CodeProviderInvalidModelRef, "at least one model reference is required")
	}
	for _, ref := range refs {
		if _, _, err := ParseModelRef(ref); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		providers: make(map[string]Provider),
		refs:      refs,
		logger:    logger,
	}, nil
}

// Register adds a provider under its name.
func (r *Router) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; ok {
		return isaacerr.Errorf(isaacerr.CodeProviderRequestInvalid, "provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Complete runs the request against the first healthy model reference,
// failing over in order. It returns the completion and the model
// reference that served it.
func (r *Router) Complete(ctx context.Context, req ChatRequest) (Completion, string, error) {
	r.mu.RLock()
	refs := r.refs
	r.mu.RUnlock()

	var lastErr error
	for _, ref := range refs {
		providerName, model, err := ParseModelRef(ref)
		if err != nil {
			lastErr = err
			continue
		}

		r.mu.RLock()
		p, ok := r.providers[providerName]
		r.mu.RUnlock()
		if !ok {
			lastErr = isaacerr.Errorf(isaacerr.CodeProviderNotFound, "provider %q not registered", providerName)
			continue
		}
		if !p.Available(ctx) {
			r.logger.Debug("skipping provider in cooldown", "provider", providerName, "model", model)
			lastErr = isaacerr.Errorf(isaacerr.CodeProviderUpstreamFailure, "provider %q unavailable", providerName)
			continue
		}

		reqCopy := req
		reqCopy.Model = model
		events, err := p.Chat(ctx, reqCopy)
		if err != nil {
			r.logger.Warn("chat request rejected, failing over", "model_ref", ref, "error", err)
			lastErr = err
			continue
		}
		completion, err := Collect(ctx, events)
		if err != nil {
			r.logger.Warn("chat stream failed, failing over", "model_ref", ref, "error", err)
			lastErr = err
			continue
		}
		return completion, ref, nil
	}

	return Completion{}, "", isaacerr.Wrap(lastErr, isaacerr.CodeProviderAllUnavailable,
		"no model reference produced a completion")
}

// Health reports a metrics snapshot per registered provider. Providers
// that do not expose detailed metrics report availability only.
func (r *Router) Health(ctx context.Context) map[string]health.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Metrics, len(r.providers))
	for name, p := range r.providers {
		if reporter, ok := p.(interface{ Health() health.Metrics }); ok {
			out[name] = reporter.Health()
			continue
		}
		out[name] = health.Metrics{Available: p.Available(ctx)}
	}
	return out
}

// Close closes all registered providers.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, isaacerr.Wrap(err, isaacerr.CodeProviderUpstreamFailure, "closing provider "+name))
		}
	}
	return isaacerr.Join(errs...)
}
