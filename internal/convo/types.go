// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package convo holds per-conversation dialogue state: turn history, the
// strike machine, the topic-drift window, and the active verbosity mode.
package convo

import (
	"time"
)

// Mode is the active verbosity mode for a conversation.
type Mode string

const (
	ModeSuccinct Mode = "succinct"
	ModeDeepDive Mode = "deep_dive"
)

// Valid reports whether the mode is a known verbosity mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSuccinct, ModeDeepDive:
		return true
	default:
		return false
	}
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Class is the security gate's classification of an inbound turn.
type Class string

const (
	ClassOnTopic   Class = "on_topic"
	ClassAmbiguous Class = "ambiguous" // 1-2 word clinical stub needing clarification
	ClassOffTopic  Class = "off_topic"
	ClassProbing   Class = "probing"
	ClassJailbreak Class = "jailbreak_signature"
)

// OffTopic reports whether the class counts against the drift window.
func (c Class) OffTopic() bool {
	switch c {
	case ClassOffTopic, ClassProbing, ClassJailbreak:
		return true
	default:
		return false
	}
}

// StrikeLevel is a discrete escalation step in the containment machine.
type StrikeLevel int

const (
	StrikeNone StrikeLevel = iota
	Strike1
	Strike2
	Strike3Locked
)

func (l StrikeLevel) String() string {
	switch l {
	case StrikeNone:
		return "NONE"
	case Strike1:
		return "STRIKE_1"
	case Strike2:
		return "STRIKE_2"
	case Strike3Locked:
		return "STRIKE_3_LOCKED"
	default:
		return "UNKNOWN"
	}
}

// StrikeState tracks the escalation level and the on-topic run used by the
// decay rule. Levels only move forward except through Decay; Strike3Locked
// is sticky for the remainder of the conversation.
type StrikeState struct {
	Level      StrikeLevel
	OnTopicRun int
}

// Advance moves exactly one level toward Strike3Locked and clears the
// on-topic run. Advancing a locked state is a no-op.
func (s *StrikeState) Advance() {
	if s.Level >= Strike3Locked {
		return
	}
	s.Level++
	s.OnTopicRun = 0
}

// Lock jumps directly to Strike3Locked regardless of the current level.
func (s *StrikeState) Lock() {
	s.Level = Strike3Locked
	s.OnTopicRun = 0
}

// Locked reports whether the conversation is permanently contained.
func (s *StrikeState) Locked() bool {
	return s.Level == Strike3Locked
}

// NoteOnTopic records a clearly on-topic turn. Once decayAfter consecutive
// on-topic turns accumulate at STRIKE_1 or STRIKE_2 the level resets to
// NONE. Locked never decays.
func (s *StrikeState) NoteOnTopic(decayAfter int) {
	if s.Locked() {
		return
	}
	s.OnTopicRun++
	if s.Level == StrikeNone {
		return
	}
	if decayAfter > 0 && s.OnTopicRun >= decayAfter {
		s.Level = StrikeNone
		s.OnTopicRun = 0
	}
}

// DriftWindow is a bounded ring of recent on/off-topic observations.
type DriftWindow struct {
	size     int
	offTopic []bool
	next     int
	filled   int
}

// NewDriftWindow creates a window over the last size turns.
func NewDriftWindow(size int) *DriftWindow {
	if size < 1 {
		size = 1
	}
	return &DriftWindow{size: size, offTopic: make([]bool, size)}
}

// Observe records one classified turn.
func (w *DriftWindow) Observe(offTopic bool) {
	w.offTopic[w.next] = offTopic
	w.next = (w.next + 1) % w.size
	if w.filled < w.size {
		w.filled++
	}
}

// Count returns how many turns the window currently holds.
func (w *DriftWindow) Count() int {
	return w.filled
}

// Ratio returns the off-topic fraction of the observed turns.
func (w *DriftWindow) Ratio() float64 {
	if w.filled == 0 {
		return 0
	}
	off := 0
	for i := 0; i < w.filled; i++ {
		if w.offTopic[i] {
			off++
		}
	}
	return float64(off) / float64(w.filled)
}

// ToolCallRecord is the per-turn record of one tool invocation. It is the
// single source of truth for any externally verified fact in the turn.
type ToolCallRecord struct {
	Tool      string
	Query     string
	Success   bool
	ErrorKind string
	Citations []string
}

// Turn is one inbound message or its outbound reply. Immutable once
// appended to a conversation.
type Turn struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// User-turn fields.
	Class     Class
	Contained bool

	// Assistant-turn fields.
	ToolCalls []ToolCallRecord
	FollowUp  string
}

// Conversation is the whole per-session dialogue state. It is owned by the
// engine for its lifetime and never shared across conversations.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	turns []Turn

	Mode   Mode
	Strike StrikeState
	Drift  *DriftWindow

	// DeepDiveSuggested marks that the one-time deep-dive offer was made.
	DeepDiveSuggested bool
	// ClarifyCount counts clarification requests in the current topic.
	ClarifyCount int
	// LastFollowUp is the previous assistant follow-up question, used by
	// the composer's freshness check.
	LastFollowUp string

	// toolFailureRuns tracks consecutive unavailable outcomes per tool so
	// a second failure moves straight to graceful degradation.
	toolFailureRuns map[string]int
}

// NewConversation creates an empty conversation in succinct mode.
func NewConversation(id string, driftWindow int, now time.Time) *Conversation {
	return &Conversation{
		ID:              id,
		CreatedAt:       now,
		Mode:            ModeSuccinct,
		Drift:           NewDriftWindow(driftWindow),
		toolFailureRuns: make(map[string]int),
	}
}

// Append adds a turn to the history. Turns are stored by value so later
// mutation of the caller's copy cannot alter recorded history.
func (c *Conversation) Append(t Turn) {
	c.turns = append(c.turns, t)
}

// Turns returns a copy of the turn history.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of recorded turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Recent returns up to n most recent turns in chronological order.
func (c *Conversation) Recent(n int) []Turn {
	if n <= 0 || len(c.turns) == 0 {
		return nil
	}
	start := len(c.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(c.turns)-start)
	copy(out, c.turns[start:])
	return out
}

// LastAssistant returns the most recent assistant turn, if any.
func (c *Conversation) LastAssistant() (Turn, bool) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == RoleAssistant {
			return c.turns[i], true
		}
	}
	return Turn{}, false
}

// NoteToolFailure records a ToolUnavailable outcome for the named tool and
// returns the current consecutive failure count.
func (c *Conversation) NoteToolFailure(tool string) int {
	c.toolFailureRuns[tool]++
	return c.toolFailureRuns[tool]
}

// NoteToolSuccess clears the consecutive failure run for the named tool.
func (c *Conversation) NoteToolSuccess(tool string) {
	delete(c.toolFailureRuns, tool)
}

// ToolFailureRun returns the consecutive failure count for the named tool.
func (c *Conversation) ToolFailureRun(tool string) int {
	return c.toolFailureRuns[tool]
}
