// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/orchestrator"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

type fakeTurns struct {
	out orchestrator.Outbound
	err error
}

func (f *fakeTurns) HandleTurn(_ context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error) {
	if f.err != nil {
		return orchestrator.Outbound{}, f.err
	}
	out := f.out
	if out.ConversationID == "" {
		out.ConversationID = in.ConversationID
	}
	return out, nil
}

func newTestServer(t *testing.T, turns TurnHandler) *Server {
	t.Helper()
	s, err := New(Config{ListenAddr: "127.0.0.1:0"}, turns)
	require.NoError(t, err)
	return s
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeTurns{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestChatEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeTurns{out: orchestrator.Outbound{
		Text: "Etch, prime, bond.\n\nWant the full protocol?",
		Mode: convo.ModeSuccinct,
	}})

	body, _ := json.Marshal(map[string]string{
		"conversation_id": "c1",
		"text":            "How do I bond to enamel?",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, "succinct", resp.Mode)
	assert.False(t, resp.Contained)
	assert.Contains(t, resp.Text, "Etch, prime, bond.")
}

func TestChatEndpointRejectsEmptyText(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeTurns{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"text":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatEndpointHidesInternalErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeTurns{err: isaacerr.New(isaacerr.CodeEngineTurnFailure, "pipeline exploded with secrets")})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"text":"hello molar"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secrets")
}

func TestStreamEndpointChunksAndTerminates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Periodontal maintenance every three months. ", 12)
	s := newTestServer(t, &fakeTurns{out: orchestrator.Outbound{
		ConversationID: "c9",
		Text:           long,
		Mode:           convo.ModeDeepDive,
	}})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(`{"conversation_id":"c9","text":"recall interval?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Greater(t, strings.Count(out, "event: chunk"), 1, "long replies stream in several chunks")

	// The done event is the end-of-turn marker and comes last.
	doneIdx := strings.LastIndex(out, "event: done")
	require.NotEqual(t, -1, doneIdx)
	assert.Equal(t, -1, strings.Index(out[doneIdx:], "event: chunk"))
	assert.Contains(t, out[doneIdx:], `"conversation_id":"c9"`)
	assert.Contains(t, out[doneIdx:], `"mode":"deep_dive"`)
}

func TestStreamEndpointValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeTurns{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(`{"text":"   "}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewRequiresListenAddrAndHandler(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &fakeTurns{})
	assert.Error(t, err)

	_, err = New(Config{ListenAddr: "127.0.0.1:0"}, nil)
	assert.Error(t, err)
}

func TestHealthEndpointReportsProviders(t *testing.T) {
	cooldown := time.Now().Add(30 * time.Second)
	srv, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		ProviderHealth: func(context.Context) map[string]health.Metrics {
			return map[string]health.Metrics{
				"anthropic": {Available: true},
				"openai":    {Available: false, FailureCount: 3, CooldownUntil: &cooldown},
			}
		},
	}, &fakeTurns{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.Contains(t, body.Providers, "openai")
	assert.False(t, body.Providers["openai"].Available)
	assert.EqualValues(t, 3, body.Providers["openai"].FailureCount)
}
