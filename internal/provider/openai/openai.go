// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package openai implements provider.Provider over the OpenAI Chat
// Completions API.
package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/trustdental/isaac/internal/provider"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider using the OpenAI Chat Completions API.
type Provider struct {
	client openaisdk.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new OpenAI provider. Returns an error if the API key is
// missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, isaacerr.New(isaacerr.CodeConfigValidateMissingKey, "openai: missing api_key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: openaisdk.NewClient(opts...),
		config: cfg,
		health: health,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// Health reports the current health metrics snapshot.
func (p *Provider) Health() health.Metrics {
	return p.health.Metrics()
}

func (p *Provider) Close() error { return nil }

// Chat starts a streaming completion and returns the event channel.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params := buildParams(req)

	eventCh := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(eventCh)
		p.streamChat(ctx, params, eventCh)
	}()
	return eventCh, nil
}

func buildParams(req provider.ChatRequest) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertMessages(req.Messages, req.SystemPrompt),
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Options.Temperature)
	}
	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Options.StopSequences,
		}
	}
	return params
}

// convertMessages prepends the system prompt as a system message when
// present.
func convertMessages(msgs []provider.Message, systemPrompt string) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}
	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleAssistant:
			result = append(result, openaisdk.AssistantMessage(msg.Content))
		default:
			result = append(result, openaisdk.UserMessage(msg.Content))
		}
	}
	return result
}

// streamChat converts SDK chunks into provider.ChatEvent values.
func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeTextDelta,
					Text: choice.Delta.Content,
				}
			}
		}

		if chunk.Usage.TotalTokens > 0 {
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				},
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		ch <- provider.ChatEvent{
			Type:  provider.EventTypeError,
			Error: err.Error(),
		}
		return
	}

	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}
