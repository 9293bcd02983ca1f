// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package tools defines the external tool contracts and the execution
// policy applied to every call: an independent timeout per call, at most
// one automatic retry, and a timeout treated identically to a failed
// response.
package tools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// Name identifies a tool.
type Name string

const (
	KnowledgeLookup Name = "KNOWLEDGE_LOOKUP"
	RecordLookup    Name = "RECORD_LOOKUP"
	Notify          Name = "NOTIFY"
)

// ErrorKind tags a failed tool outcome.
type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorNotFound    ErrorKind = "not_found"
	ErrorAmbiguous   ErrorKind = "ambiguous"
	ErrorUnavailable ErrorKind = "unavailable"
	ErrorDisabled    ErrorKind = "disabled"
)

// Request is one tool invocation.
type Request struct {
	ID    string
	Tool  Name
	Query string
}

// NewRequest creates a request with a fresh ID.
func NewRequest(tool Name, query string) Request {
	return Request{ID: uuid.New().String(), Tool: tool, Query: query}
}

// Result is one ranked retrieval hit.
type Result struct {
	Text     string
	Citation string
	Score    float64
}

// RecordRef is an opaque patient record handle. Only the patient name may
// be surfaced proactively; everything else waits for a specific follow-up.
type RecordRef struct {
	Handle      string
	PatientName string
}

// Response is the tagged outcome of a tool call. It is the single source
// of truth for any externally verified fact; it is never fabricated.
type Response struct {
	Tool      Name
	Query     string
	Success   bool
	Results   []Result
	Record    *RecordRef
	ErrorKind ErrorKind
}

// Citations collects the citation strings of all results.
func (r Response) Citations() []string {
	if len(r.Results) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Citation != "" {
			out = append(out, res.Citation)
		}
	}
	return out
}

// KnowledgeTool retrieves ranked documents for a query.
type KnowledgeTool interface {
	Lookup(ctx context.Context, query string) (Response, error)
}

// RecordTool retrieves a patient record by identifier, name, or search
// text from the "trust" index.
type RecordTool interface {
	Retrieve(ctx context.Context, identifier string) (Response, error)
}

// NotificationTool sends outbound messages. The only implementation is
// permanently disabled.
type NotificationTool interface {
	Send(ctx context.Context, to, body string) (Response, error)
}

// DisabledNotifier is the notification channel: present in the contract
// surface, always unavailable.
type DisabledNotifier struct{}

func (DisabledNotifier) Send(_ context.Context, _, _ string) (Response, error) {
	return Response{Tool: Notify, Success: false, ErrorKind: ErrorDisabled}, nil
}

// Executor applies the execution policy to tool calls.
type Executor struct {
	knowledge KnowledgeTool
	records   RecordTool
	timeout   time.Duration
	// maxRetries is the number of automatic retries after the first
	// failed attempt; the policy caps it at one.
	maxRetries int
}

// NewExecutor creates an Executor over the given backends.
func NewExecutor(knowledge KnowledgeTool, records RecordTool, timeout time.Duration, maxRetries int) *Executor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 1 {
		maxRetries = 1
	}
	return &Executor{knowledge: knowledge, records: records, timeout: timeout, maxRetries: maxRetries}
}

// Execute runs one tool call under the policy. Protocol outcomes
// (not_found, ambiguous) return as-is; backend errors and timeouts are
// retried at most once, then reported as unavailable. Execute never
// returns a fabricated success.
func (e *Executor) Execute(ctx context.Context, req Request) Response {
	attempts := 1 + e.maxRetries

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := e.attempt(ctx, req)
		if err == nil {
			return resp
		}
		if errors.Is(err, context.Canceled) {
			break
		}
	}

	return Response{Tool: req.Tool, Query: req.Query, Success: false, ErrorKind: ErrorUnavailable}
}

func (e *Executor) attempt(ctx context.Context, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch req.Tool {
	case KnowledgeLookup:
		if e.knowledge == nil {
			return Response{}, isaacerr.New(isaacerr.CodeToolUnavailable, "knowledge backend not configured")
		}
		return e.call(callCtx, req, func(c context.Context) (Response, error) {
			return e.knowledge.Lookup(c, req.Query)
		})
	case RecordLookup:
		if e.records == nil {
			return Response{}, isaacerr.New(isaacerr.CodeToolUnavailable, "record backend not configured")
		}
		return e.call(callCtx, req, func(c context.Context) (Response, error) {
			return e.records.Retrieve(c, req.Query)
		})
	default:
		return Response{}, isaacerr.Errorf(isaacerr.CodeToolUnknown, "unknown tool %q", req.Tool)
	}
}

// call runs fn and folds a context deadline into the unavailable outcome,
// so a timeout and a backend failure look identical downstream.
func (e *Executor) call(ctx context.Context, req Request, fn func(context.Context) (Response, error)) (Response, error) {
	type outcome struct {
		resp Response
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		resp, err := fn(ctx)
		ch <- outcome{resp, err}
	}()

	select {
	case <-ctx.Done():
		return Response{}, isaacerr.Wrap(ctx.Err(), isaacerr.CodeToolTimeout, "tool call timed out",
			isaacerr.FieldTool(string(req.Tool)))
	case out := <-ch:
		if out.err != nil {
			return Response{}, out.err
		}
		resp := out.resp
		resp.Tool = req.Tool
		resp.Query = req.Query
		return resp, nil
	}
}
