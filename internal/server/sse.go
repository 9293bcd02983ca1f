// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/trustdental/isaac/internal/orchestrator"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// sseChunkSize is how much reply text each streamed chunk carries. The
// turn resolves fully before streaming starts; chunking is a transport
// concern only.
const sseChunkSize = 160

// StreamChunk is the payload of one "chunk" event.
type StreamChunk struct {
	Text string `json:"text"`
}

// StreamDone is the payload of the terminating "done" event.
type StreamDone struct {
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
	Contained      bool   `json:"contained"`
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/v1/chat/stream", s.handleChatStream)

	// The SSE handler needs raw ResponseWriter access, so the chi route
	// above does the work and this operation entry documents it.
	minLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/v1/chat/stream",
		Summary:     "Send a message and stream the reply via SSE",
		Description: "The reply streams as chunk events and terminates with a done event carrying the turn metadata.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"text"},
						Properties: map[string]*huma.Schema{
							"conversation_id": {Type: "string", Description: "Conversation to continue"},
							"text":            {Type: "string", MinLength: &minLen, Description: "Message text"},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string"}},
				},
			},
			"400": {Description: "Invalid request body"},
			"422": {Description: "Missing text"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body ChatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusUnprocessableEntity)
		return
	}

	out, err := s.turns.HandleTurn(r.Context(), orchestrator.Inbound{
		ConversationID: body.ConversationID,
		Text:           body.Text,
	})
	if err != nil {
		http.Error(w, `{"error":"turn failed"}`, isaacerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	for _, chunk := range chunkText(out.Text, sseChunkSize) {
		data, _ := json.Marshal(StreamChunk{Text: chunk})
		if _, err := fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	done, _ := json.Marshal(StreamDone{
		ConversationID: out.ConversationID,
		Mode:           string(out.Mode),
		Contained:      out.Contained,
	})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", done)
	if flusher != nil {
		flusher.Flush()
	}
}

// chunkText splits on rune boundaries into chunks of at most size runes.
func chunkText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
