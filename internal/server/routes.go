// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/trustdental/isaac/internal/orchestrator"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// ChatRequest is one inbound message.
type ChatRequest struct {
	Body ChatRequestBody
}

// ChatRequestBody is the JSON payload for a chat turn.
type ChatRequestBody struct {
	ConversationID string `json:"conversation_id,omitempty" doc:"Conversation to continue; omit to start a new one"`
	Text           string `json:"text" minLength:"1" doc:"Message text"`
}

// ChatResponseBody is the reply for one turn.
type ChatResponseBody struct {
	ConversationID string `json:"conversation_id" doc:"Conversation identifier"`
	Text           string `json:"text" doc:"Reply text"`
	Mode           string `json:"mode" enum:"succinct,deep_dive" doc:"Active response mode"`
	Contained      bool   `json:"contained" doc:"True when the turn was contained by the security gate"`
}

// ChatResponse wraps the reply body for huma.
type ChatResponse struct {
	Body ChatResponseBody
}

func (s *Server) registerChatRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/v1/chat",
		Summary:     "Send a message and receive the full reply",
		Tags:        []string{"chat"},
	}, func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		out, err := s.turns.HandleTurn(ctx, orchestrator.Inbound{
			ConversationID: req.Body.ConversationID,
			Text:           req.Body.Text,
		})
		if err != nil {
			return nil, humaError(err)
		}
		return &ChatResponse{Body: ChatResponseBody{
			ConversationID: out.ConversationID,
			Text:           out.Text,
			Mode:           string(out.Mode),
			Contained:      out.Contained,
		}}, nil
	})
}

// humaError maps coded errors onto huma status errors so handlers never
// leak internals.
func humaError(err error) error {
	status := isaacerr.HTTPStatus(err)
	switch {
	case status >= 500:
		return huma.Error500InternalServerError("internal error")
	case status == http.StatusNotFound:
		return huma.Error404NotFound(err.Error())
	default:
		return huma.NewError(status, err.Error())
	}
}
