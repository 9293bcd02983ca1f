// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package mode_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/mode"
)

func newConv() *convo.Conversation {
	return convo.NewConversation("conv-1", 10, time.Now())
}

func TestExplicitSwitchBothDirections(t *testing.T) {
	t.Parallel()

	ctrl := mode.New()
	c := newConv()

	d := ctrl.Apply(c, "switch to deep dive mode")
	assert.True(t, d.Switched)
	assert.Equal(t, convo.ModeDeepDive, c.Mode)

	d = ctrl.Apply(c, "please switch to succinct mode now")
	assert.True(t, d.Switched)
	assert.Equal(t, convo.ModeSuccinct, c.Mode)
}

func TestVerboseAliasSwitches(t *testing.T) {
	t.Parallel()

	ctrl := mode.New()
	c := newConv()

	d := ctrl.Apply(c, "switch to verbose mode")
	assert.True(t, d.Switched)
	assert.Equal(t, convo.ModeDeepDive, c.Mode)
}

func TestWhyQuestionSuggestsOnce(t *testing.T) {
	t.Parallel()

	ctrl := mode.New()
	c := newConv()

	d := ctrl.Apply(c, "Why does the graft fail in smokers?")
	assert.False(t, d.Switched)
	assert.NotEmpty(t, d.Suggestion)
	assert.Equal(t, convo.ModeSuccinct, c.Mode, "suggestion must never force-switch")

	// The offer is one-time.
	d = ctrl.Apply(c, "Why is that the case?")
	assert.Empty(t, d.Suggestion)
}

func TestSecondClarificationSuggests(t *testing.T) {
	t.Parallel()

	ctrl := mode.New()
	c := newConv()

	d := ctrl.Apply(c, "Can you clarify?")
	assert.Empty(t, d.Suggestion)

	d = ctrl.Apply(c, "I don't understand, can you elaborate?")
	assert.NotEmpty(t, d.Suggestion)
	assert.Equal(t, convo.ModeSuccinct, c.Mode)
}

func TestNoSuggestionInDeepDive(t *testing.T) {
	t.Parallel()

	ctrl := mode.New()
	c := newConv()
	c.Mode = convo.ModeDeepDive

	d := ctrl.Apply(c, "Why does osseointegration take months?")
	assert.Empty(t, d.Suggestion)
}

func TestIsCommand(t *testing.T) {
	t.Parallel()

	assert.True(t, mode.IsCommand("switch to deep dive"))
	assert.True(t, mode.IsCommand("switch to verbose mode"))
	assert.True(t, mode.IsCommand("Switch to succinct mode"))
	assert.False(t, mode.IsCommand("what mode are we in"))
}
