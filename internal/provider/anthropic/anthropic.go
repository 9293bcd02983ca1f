// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package anthropic implements provider.Provider over the Anthropic
// Messages API.
package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/trustdental/isaac/internal/provider"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new Anthropic provider. Returns an error if the API key
// is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, isaacerr.New(isaacerr.CodeConfigValidateMissingKey, "anthropic: missing api_key")
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
		client: anthropicsdk.NewClient(opts...),
		config: cfg,
		health: health,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

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

func buildParams(req provider.ChatRequest) anthropicsdk.MessageNewParams {
	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Options.Temperature)
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	return params
}

func convertMessages(msgs []provider.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		default:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		}
	}
	return result
}

// streamChat converts SDK stream events into provider.ChatEvent values.
func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeTextDelta,
					Text: event.Delta.Text,
				}
			}

		case "message_start":
			if event.Message.Usage.InputTokens > 0 || event.Message.Usage.OutputTokens > 0 {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeUsage,
					Usage: &provider.Usage{
						InputTokens:  int(event.Message.Usage.InputTokens),
						OutputTokens: int(event.Message.Usage.OutputTokens),
					},
				}
			}

		case "message_delta":
			// message_delta carries final usage info.
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(event.Usage.InputTokens),
					OutputTokens: int(event.Usage.OutputTokens),
				},
			}

		case "message_stop":
			p.health.RecordSuccess()
			ch <- provider.ChatEvent{Type: provider.EventTypeDone}
			return
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
