// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := isaacerr.New(
		isaacerr.CodeToolNotFound,
		"no record matched",
		isaacerr.FieldConversationID("conv-123"),
		isaacerr.Field("identifier", "John Doe"),
	)

	require.Error(t, err)
	assert.Equal(t, isaacerr.CodeToolNotFound, isaacerr.CodeOf(err))
	assert.True(t, isaacerr.HasCode(err, isaacerr.CodeToolNotFound))

	fields := isaacerr.FieldsOf(err)
	assert.Equal(t, "conv-123", fields["conversation_id"])
	assert.Equal(t, "John Doe", fields["identifier"])
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := isaacerr.Errorf(isaacerr.CodeProviderUpstreamFailure, "chat call to %s: status %d", "anthropic", 502)
	require.Error(t, err)
	assert.Equal(t, isaacerr.CodeProviderUpstreamFailure, isaacerr.CodeOf(err))
	assert.Contains(t, err.Error(), "chat call to anthropic: status 502")
}

func TestWrapPreservesInnerError(t *testing.T) {
	inner := stderrors.New("connection refused")
	err := isaacerr.Wrap(inner, isaacerr.CodeToolUnavailable, "knowledge lookup", isaacerr.FieldTool("KNOWLEDGE_LOOKUP"))
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, isaacerr.CodeToolUnavailable, isaacerr.CodeOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, isaacerr.Wrap(nil, isaacerr.CodeToolUnavailable, "ignored"))
	assert.NoError(t, isaacerr.Wrapf(nil, isaacerr.CodeToolUnavailable, "ignored"))
	assert.NoError(t, isaacerr.With(nil, isaacerr.Field("k", "v")))
}

func TestCodeOfNonOopsError(t *testing.T) {
	assert.Equal(t, isaacerr.Code(""), isaacerr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, isaacerr.Code(""), isaacerr.CodeOf(nil))
}

func TestTaxonomyPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"tool timeout is unavailable", isaacerr.New(isaacerr.CodeToolTimeout, "deadline"), isaacerr.IsToolUnavailable},
		{"tool backend error is unavailable", isaacerr.New(isaacerr.CodeToolUnavailable, "502"), isaacerr.IsToolUnavailable},
		{"record miss is not found", isaacerr.New(isaacerr.CodeToolNotFound, "no match"), isaacerr.IsNotFound},
		{"duplicate names are ambiguous", isaacerr.New(isaacerr.CodeToolAmbiguous, "two patients"), isaacerr.IsAmbiguous},
		{"provider timeout is model unavailable", isaacerr.New(isaacerr.CodeProviderTimeout, "deadline"), isaacerr.IsModelUnavailable},
		{"provider upstream failure is model unavailable", isaacerr.New(isaacerr.CodeProviderUpstreamFailure, "502"), isaacerr.IsModelUnavailable},
		{"all providers down is model unavailable", isaacerr.New(isaacerr.CodeProviderAllUnavailable, "none"), isaacerr.IsModelUnavailable},
		{"composer contract is policy violation", isaacerr.New(isaacerr.CodeComposePolicyViolation, "missing follow-up"), isaacerr.IsPolicyViolation},
		{"notification channel is disabled", isaacerr.New(isaacerr.CodeToolDisabled, "off"), isaacerr.IsDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
		})
	}
}

func TestPredicatesDoNotCrossDomains(t *testing.T) {
	// A provider failure is not a tool failure and vice versa.
	assert.False(t, isaacerr.IsToolUnavailable(isaacerr.New(isaacerr.CodeProviderTimeout, "x")))
	assert.False(t, isaacerr.IsModelUnavailable(isaacerr.New(isaacerr.CodeToolTimeout, "x")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", isaacerr.New(isaacerr.CodeToolNotFound, "x"), http.StatusNotFound},
		{"ambiguous", isaacerr.New(isaacerr.CodeToolAmbiguous, "x"), http.StatusConflict},
		{"invalid input", isaacerr.New(isaacerr.CodeEngineInvalidInput, "x"), http.StatusBadRequest},
		{"model unavailable", isaacerr.New(isaacerr.CodeProviderAllUnavailable, "x"), http.StatusServiceUnavailable},
		{"tool unavailable", isaacerr.New(isaacerr.CodeToolUnavailable, "x"), http.StatusServiceUnavailable},
		{"internal", isaacerr.New(isaacerr.CodeServerInternalFailure, "x"), http.StatusInternalServerError},
		{"plain error", stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isaacerr.HTTPStatus(tt.err))
		})
	}
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	err := isaacerr.Join(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
}
