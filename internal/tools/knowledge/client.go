// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package knowledge is the HTTP client for the clinical literature
// retrieval service backing KNOWLEDGE_LOOKUP.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/trustdental/isaac/internal/tools"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

const defaultTimeout = 15 * time.Second

// Client calls the retrieval service over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the given endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupRequest struct {
	Query string `json:"query"`
}

type lookupResult struct {
	Text     string  `json:"text"`
	Citation string  `json:"citation"`
	Score    float64 `json:"score"`
}

type lookupResponse struct {
	Success bool           `json:"success"`
	Results []lookupResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// Lookup queries the retrieval service. A 2xx response with zero results
// is reported as not_found; transport and server errors surface as errors
// so the executor's retry policy applies.
func (c *Client) Lookup(ctx context.Context, query string) (tools.Response, error) {
	body, err := json.Marshal(lookupRequest{Query: query})
	if err != nil {
		return tools.Response{}, isaacerr.Wrap(err, isaacerr.CodeToolInvalidQuery, "encoding lookup request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return tools.Response{}, isaacerr.Wrap(err, isaacerr.CodeToolUnavailable, "building lookup request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tools.Response{}, isaacerr.Wrap(err, isaacerr.CodeToolUnavailable, "knowledge lookup request failed",
			isaacerr.FieldTool(string(tools.KnowledgeLookup)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return tools.Response{}, isaacerr.Errorf(isaacerr.CodeToolUnavailable,
			"knowledge service returned status %d", resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return tools.Response{}, isaacerr.Wrap(err, isaacerr.CodeToolUnavailable, "decoding lookup response")
	}

	out := tools.Response{
		Tool:    tools.KnowledgeLookup,
		Query:   query,
		Success: payload.Success && len(payload.Results) > 0,
	}
	if !out.Success {
		out.ErrorKind = tools.ErrorNotFound
		return out, nil
	}
	out.Results = make([]tools.Result, 0, len(payload.Results))
	for _, r := range payload.Results {
		out.Results = append(out.Results, tools.Result{Text: r.Text, Citation: r.Citation, Score: r.Score})
	}
	return out, nil
}
