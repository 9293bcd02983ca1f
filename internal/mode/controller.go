// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package mode tracks the per-conversation verbosity mode: SUCCINCT by
// default, DEEP_DIVE on explicit request. Mode only shapes rendering,
// never tool routing or security decisions.
package mode

import (
	"regexp"
	"strings"

	"github.com/trustdental/isaac/internal/convo"
)

var (
	deepDiveCommand = regexp.MustCompile(`(?i)\bswitch\s+to\s+(deep[\s-]?dive|verbose)\s*(mode)?\b`)
	succinctCommand = regexp.MustCompile(`(?i)\bswitch\s+to\s+(succinct|brief|concise)\s*(mode)?\b`)

	whyHowQuestion = regexp.MustCompile(`(?i)\b(why|how\s+(does|do|did|would|comes?))\b.*\?`)

	clarificationRequest = regexp.MustCompile(`(?i)\b(what\s+do\s+you\s+mean|can\s+you\s+(clarify|elaborate|explain\s+that)|i\s+(don'?t|do\s+not)\s+(understand|follow)|explain\s+(that|it)\s+(again|more))\b`)
)

// deepDiveOffer is the one-time suggestion; it never switches by itself.
const deepDiveOffer = "I notice you're asking for more detail. Would you like me to switch to deep dive mode for comprehensive explanations?"

// Command is an explicit mode switch found in the turn text.
type Command int

const (
	CommandNone Command = iota
	CommandDeepDive
	CommandSuccinct
)

// ParseCommand detects an explicit mode switch in the text.
func ParseCommand(text string) Command {
	switch {
	case deepDiveCommand.MatchString(text):
		return CommandDeepDive
	case succinctCommand.MatchString(text):
		return CommandSuccinct
	default:
		return CommandNone
	}
}

// IsCommand reports whether the text is (or contains) a mode switch.
func IsCommand(text string) bool {
	return ParseCommand(text) != CommandNone
}

// Decision is the controller's output for one turn.
type Decision struct {
	// Switched is set when an explicit command changed the mode; the
	// reply acknowledges briefly instead of answering a question.
	Switched bool
	// Suggestion, when non-empty, is appended to the reply offering the
	// deep-dive switch. Offered at most once per conversation.
	Suggestion string
}

// Controller applies mode commands and the auto-suggest triggers.
type Controller struct{}

// New creates a Controller.
func New() *Controller {
	return &Controller{}
}

// Apply updates conv.Mode from the turn text and returns suggestions. A
// why/how question or a second clarification request in the current topic
// triggers the one-time deep-dive offer while in succinct mode.
func (c *Controller) Apply(conv *convo.Conversation, text string) Decision {
	switch ParseCommand(text) {
	case CommandDeepDive:
		conv.Mode = convo.ModeDeepDive
		conv.ClarifyCount = 0
		return Decision{Switched: true}
	case CommandSuccinct:
		conv.Mode = convo.ModeSuccinct
		conv.ClarifyCount = 0
		return Decision{Switched: true}
	}

	if conv.Mode != convo.ModeSuccinct || conv.DeepDiveSuggested {
		return Decision{}
	}

	if clarificationRequest.MatchString(text) {
		conv.ClarifyCount++
	} else if !strings.HasSuffix(strings.TrimSpace(text), "?") {
		// A new statement moves the topic along; the clarification
		// counter tracks the current topic only.
		conv.ClarifyCount = 0
	}

	if whyHowQuestion.MatchString(text) || conv.ClarifyCount >= 2 {
		conv.DeepDiveSuggested = true
		return Decision{Suggestion: deepDiveOffer}
	}

	return Decision{}
}

// SwitchAck is the short acknowledgment for an explicit mode change.
func SwitchAck(m convo.Mode) string {
	if m == convo.ModeDeepDive {
		return "Switched to deep dive mode. I'll give comprehensive explanations with full clinical rationale."
	}
	return "Switched to succinct mode. I'll keep responses brief and to the point."
}
