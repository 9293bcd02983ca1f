// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package convo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustdental/isaac/internal/convo"
)

func TestStrikeAdvanceOneLevelAtATime(t *testing.T) {
	t.Parallel()

	var s convo.StrikeState
	assert.Equal(t, convo.StrikeNone, s.Level)

	s.Advance()
	assert.Equal(t, convo.Strike1, s.Level)
	s.Advance()
	assert.Equal(t, convo.Strike2, s.Level)
	s.Advance()
	assert.Equal(t, convo.Strike3Locked, s.Level)

	// Advancing past locked stays locked.
	s.Advance()
	assert.Equal(t, convo.Strike3Locked, s.Level)
}

func TestStrikeLockSkipsLevels(t *testing.T) {
	t.Parallel()

	var s convo.StrikeState
	s.Lock()
	assert.True(t, s.Locked())
	assert.Equal(t, convo.Strike3Locked, s.Level)
}

func TestStrikeDecayResetsAfterRun(t *testing.T) {
	t.Parallel()

	var s convo.StrikeState
	s.Advance()
	require.Equal(t, convo.Strike1, s.Level)

	s.NoteOnTopic(3)
	s.NoteOnTopic(3)
	assert.Equal(t, convo.Strike1, s.Level, "run below threshold must not decay")

	s.NoteOnTopic(3)
	assert.Equal(t, convo.StrikeNone, s.Level)
	assert.Equal(t, 0, s.OnTopicRun)
}

func TestStrikeDecayRunResetsOnAdvance(t *testing.T) {
	t.Parallel()

	var s convo.StrikeState
	s.Advance()
	s.NoteOnTopic(3)
	s.NoteOnTopic(3)
	s.Advance() // off-topic turn breaks the run
	require.Equal(t, convo.Strike2, s.Level)

	s.NoteOnTopic(3)
	s.NoteOnTopic(3)
	assert.Equal(t, convo.Strike2, s.Level)
	s.NoteOnTopic(3)
	assert.Equal(t, convo.StrikeNone, s.Level)
}

func TestLockedNeverDecays(t *testing.T) {
	t.Parallel()

	var s convo.StrikeState
	s.Lock()
	for i := 0; i < 20; i++ {
		s.NoteOnTopic(1)
	}
	assert.True(t, s.Locked())
}

func TestDriftWindowRatio(t *testing.T) {
	t.Parallel()

	w := convo.NewDriftWindow(4)
	assert.Zero(t, w.Ratio())

	w.Observe(false)
	w.Observe(true)
	assert.Equal(t, 2, w.Count())
	assert.InDelta(t, 0.5, w.Ratio(), 1e-9)

	w.Observe(false)
	w.Observe(false)
	assert.InDelta(t, 0.25, w.Ratio(), 1e-9)

	// The window is bounded: the oldest (on-topic) observation falls out.
	w.Observe(true)
	assert.Equal(t, 4, w.Count())
	assert.InDelta(t, 0.5, w.Ratio(), 1e-9)
}

func TestConversationTurnsAreCopied(t *testing.T) {
	t.Parallel()

	c := convo.NewConversation("conv-1", 10, time.Now())
	turn := convo.Turn{ID: "t1", Role: convo.RoleUser, Text: "original"}
	c.Append(turn)

	turn.Text = "mutated after append"
	got := c.Turns()
	require.Len(t, got, 1)
	assert.Equal(t, "original", got[0].Text)

	// Mutating the returned slice must not touch history either.
	got[0].Text = "mutated copy"
	assert.Equal(t, "original", c.Turns()[0].Text)
}

func TestConversationRecentAndLastAssistant(t *testing.T) {
	t.Parallel()

	c := convo.NewConversation("conv-1", 10, time.Now())
	c.Append(convo.Turn{ID: "u1", Role: convo.RoleUser, Text: "first"})
	c.Append(convo.Turn{ID: "a1", Role: convo.RoleAssistant, Text: "reply"})
	c.Append(convo.Turn{ID: "u2", Role: convo.RoleUser, Text: "second"})

	recent := c.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "a1", recent[0].ID)
	assert.Equal(t, "u2", recent[1].ID)

	last, ok := c.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "a1", last.ID)
}

func TestToolFailureRuns(t *testing.T) {
	t.Parallel()

	c := convo.NewConversation("conv-1", 10, time.Now())
	assert.Equal(t, 1, c.NoteToolFailure("KNOWLEDGE_LOOKUP"))
	assert.Equal(t, 2, c.NoteToolFailure("KNOWLEDGE_LOOKUP"))
	assert.Equal(t, 1, c.NoteToolFailure("RECORD_LOOKUP"))

	c.NoteToolSuccess("KNOWLEDGE_LOOKUP")
	assert.Zero(t, c.ToolFailureRun("KNOWLEDGE_LOOKUP"))
	assert.Equal(t, 1, c.ToolFailureRun("RECORD_LOOKUP"))
}
