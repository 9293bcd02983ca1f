// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package gate classifies inbound turns and enforces escalating topic
// containment: NONE → STRIKE_1 → STRIKE_2 → STRIKE_3_LOCKED, with an
// independent topic-drift signal over a sliding window.
package gate

import (
	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/mode"
)

// maxContentLength bounds inbound text; anything larger is treated as
// off-topic noise rather than parsed.
const maxContentLength = 1 << 16 // 64KB

// probeLockRun is how many capability-probing turns in direct succession
// count as a high-confidence attack signature.
const probeLockRun = 3

// Config tunes the gate.
type Config struct {
	// DecayAfter consecutive clearly on-topic turns reset STRIKE_1/2.
	DecayAfter int
	// DriftRatio is the off-topic fraction that forces strict
	// dental-only containment independent of the strike counter.
	DriftRatio float64
	// DriftMinTurns is the minimum classified turns before the ratio is
	// considered meaningful.
	DriftMinTurns int
}

// Decision is the gate's verdict for one inbound turn.
type Decision struct {
	Class convo.Class
	// Contained means the turn is short-circuited: Reply is emitted with
	// no tool calls, no generation, and no follow-up question.
	Contained bool
	Reply     string
	Level     convo.StrikeLevel
}

// Gate is the per-turn security/topic-containment state machine. It is
// stateless itself; all mutable state lives on the Conversation, which the
// caller holds locked for the duration of the turn.
type Gate struct {
	cfg   Config
	rules []Rule
}

// New creates a gate with the built-in rule set.
func New(cfg Config) *Gate {
	if cfg.DecayAfter <= 0 {
		cfg.DecayAfter = 3
	}
	if cfg.DriftRatio <= 0 {
		cfg.DriftRatio = 0.30
	}
	if cfg.DriftMinTurns <= 0 {
		cfg.DriftMinTurns = 3
	}

	rules := make([]Rule, 0, 16)
	rules = append(rules, LockRules()...)
	rules = append(rules, ProbeRules()...)

	return &Gate{cfg: cfg, rules: rules}
}

// Containment replies are fixed and non-explanatory, a small set per level.
// Selection cycles by turn count so repeated redirects vary without ever
// justifying themselves.
var (
	redirectReplies = []string{
		"I'm here to help with dental and clinical questions. What dental topic can I work through with you today?",
		"Let's get back to dentistry. Is there a case or clinical question I can help with?",
	}
	strictReplies = []string{
		"I can only assist with dental and clinical topics. Which patient case or dental question would you like to discuss?",
		"My assistance is limited to dentistry. What clinical question can I help you with?",
	}
	lockedReply = "This conversation has been flagged for a security review and I can no longer continue this session."
)

// LockedReply returns the fixed message for a locked conversation.
func LockedReply() string { return lockedReply }

// Check classifies the inbound text, advances the strike and drift state on
// conv, and decides whether the turn is contained. Once locked, every turn
// gets the fixed containment message with no further classification.
func (g *Gate) Check(conv *convo.Conversation, text string) Decision {
	if conv.Strike.Locked() {
		return Decision{Contained: true, Reply: lockedReply, Level: convo.Strike3Locked}
	}

	text = Normalize(text)
	class, lock := g.classify(conv, text)

	conv.Drift.Observe(class.OffTopic())

	if lock {
		conv.Strike.Lock()
		return Decision{Class: class, Contained: true, Reply: lockedReply, Level: conv.Strike.Level}
	}

	switch class {
	case convo.ClassProbing:
		if g.consecutiveProbes(conv) >= probeLockRun-1 {
			// This probe plus the preceding run is a signature.
			conv.Strike.Lock()
			return Decision{Class: class, Contained: true, Reply: lockedReply, Level: conv.Strike.Level}
		}
		conv.Strike.Advance()
		return g.containedAtLevel(conv, class)

	case convo.ClassOffTopic:
		conv.Strike.Advance()
		return g.containedAtLevel(conv, class)
	}

	// On-topic (including ambiguous stubs): feed the decay rule, then
	// check the independent drift signal. Either signal can contain.
	conv.Strike.NoteOnTopic(g.cfg.DecayAfter)

	if g.driftBreached(conv) {
		return Decision{
			Class:     class,
			Contained: true,
			Reply:     pick(redirectReplies, conv.Len()),
			Level:     conv.Strike.Level,
		}
	}

	return Decision{Class: class, Level: conv.Strike.Level}
}

// classify runs the ordered rule list: attack signatures first, then
// probing patterns, then the domain heuristics. The second result is the
// matched rule's Lock flag.
func (g *Gate) classify(conv *convo.Conversation, text string) (convo.Class, bool) {
	if len(text) > maxContentLength {
		return convo.ClassOffTopic, false
	}

	for _, rule := range g.rules {
		if rule.Pattern.MatchString(text) {
			return rule.Class, rule.Lock
		}
	}

	if Smalltalk(text) || mode.IsCommand(text) {
		return convo.ClassOnTopic, false
	}

	if ClinicalRelevant(text) {
		if BriefStub(text) {
			return convo.ClassAmbiguous, false
		}
		return convo.ClassOnTopic, false
	}

	return convo.ClassOffTopic, false
}

// consecutiveProbes counts the run of probing user turns immediately
// preceding the current one.
func (g *Gate) consecutiveProbes(conv *convo.Conversation) int {
	run := 0
	for _, t := range reverseUserTurns(conv) {
		if t.Class != convo.ClassProbing {
			break
		}
		run++
	}
	return run
}

func reverseUserTurns(conv *convo.Conversation) []convo.Turn {
	turns := conv.Turns()
	out := make([]convo.Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == convo.RoleUser {
			out = append(out, turns[i])
		}
	}
	return out
}

// containedAtLevel builds the containment decision after a strike advance.
func (g *Gate) containedAtLevel(conv *convo.Conversation, class convo.Class) Decision {
	reply := pick(redirectReplies, conv.Len())
	switch conv.Strike.Level {
	case convo.Strike2:
		reply = pick(strictReplies, conv.Len())
	case convo.Strike3Locked:
		reply = lockedReply
	}
	return Decision{Class: class, Contained: true, Reply: reply, Level: conv.Strike.Level}
}

// driftBreached reports whether the off-topic ratio over the window crossed
// the configured threshold. The signal is independent of the strike level.
func (g *Gate) driftBreached(conv *convo.Conversation) bool {
	if conv.Drift.Count() < g.cfg.DriftMinTurns {
		return false
	}
	return conv.Drift.Ratio() >= g.cfg.DriftRatio
}

func pick(replies []string, n int) string {
	return replies[n%len(replies)]
}
