// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package provider defines the LLM provider surface: a streaming Chat
// interface, per-provider health tracking with cooldown, and a failover
// router over configured model references.
package provider

import (
	"context"
	"strings"

	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// Provider is the interface every LLM backend implements.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
	Close() error
}

// ChatRequest is a single generation request.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Options      ChatOptions
}

// ChatOptions contains model configuration. Nil Temperature means
// provider default.
type ChatOptions struct {
	Temperature   *float64
	MaxTokens     int
	StopSequences []string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message represents a conversation message.
type Message struct {
	Role    MessageRole
	Content string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// ChatEvent is a streaming response event.
type ChatEvent struct {
	Type  EventType
	Text  string
	Usage *Usage
	Error string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a fully drained chat stream.
type Completion struct {
	Text  string
	Usage Usage
}

// Collect drains a chat stream into a Completion. It returns on done,
// error event, or context cancellation.
func Collect(ctx context.Context, events <-chan ChatEvent) (Completion, error) {
	var (
		b     strings.Builder
		usage Usage
	)
	for {
		select {
		case <-ctx.Done():
			return Completion{}, isaacerr.Wrap(ctx.Err(), isaacerr.CodeProviderTimeout, "chat stream interrupted")
		case ev, ok := <-events:
			if !ok {
				return Completion{Text: b.String(), Usage: usage}, nil
			}
			switch ev.Type {
			case EventTypeTextDelta:
				b.WriteString(ev.Text)
			case EventTypeUsage:
				if ev.Usage != nil {
					usage.InputTokens += ev.Usage.InputTokens
					usage.OutputTokens += ev.Usage.OutputTokens
				}
			case EventTypeError:
				return Completion{}, isaacerr.New(isaacerr.CodeProviderUpstreamFailure, ev.Error)
			case EventTypeDone:
				return Completion{Text: b.String(), Usage: usage}, nil
			}
		}
	}
}

// ParseModelRef splits "provider/model" into its parts.
func ParseModelRef(ref string) (providerName, model string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", isaacerr.Errorf(isaacerr.CodeProviderInvalidModelRef,
			"model reference %q must be provider/model", ref)
	}
	return parts[0], parts[1], nil
}
