// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package compose renders the outbound reply: fixed templates for record
// and verification outcomes, mode-appropriate shaping, an output scrub
// for self-referential security or tool narration, and the follow-up
// contract (exactly one fresh, non-generic question, blank-line
// separated, never omitted).
package compose

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/grounding"
	"github.com/trustdental/isaac/internal/route"
)

const (
	// RecordAckTemplate acknowledges a retrieved record without volunteering
	// its contents, in either mode.
	RecordAckTemplate = "I've retrieved the record for %s. What specific information would you like to know?"

	// TreatmentPlanDisclaimer is appended verbatim to every treatment-plan
	// response.
	TreatmentPlanDisclaimer = "These are potential treatment pathways based on the clinical information provided. For a comprehensive, customized treatment plan with financial considerations, our dedicated treatment planning software (launching soon) will provide enhanced functionality."

	// succinctSentenceCap bounds answer length in succinct mode.
	succinctSentenceCap = 6
)

// FollowUpSource produces a candidate follow-up question for the turn,
// typically a lightweight model call over the answer body.
type FollowUpSource interface {
	FollowUp(ctx context.Context, body string, history []convo.Turn) (string, error)
}

// FollowUpFunc adapts a function to FollowUpSource.
type FollowUpFunc func(ctx context.Context, body string, history []convo.Turn) (string, error)

func (f FollowUpFunc) FollowUp(ctx context.Context, body string, history []convo.Turn) (string, error) {
	return f(ctx, body, history)
}

// genericFollowUps are rejected outright; they add nothing.
var genericFollowUps = map[string]struct{}{
	"anything else?":                       {},
	"is there anything else?":              {},
	"can i help with anything else?":       {},
	"is there anything else i can help with?": {},
	"do you have any other questions?":     {},
	"any other questions?":                 {},
	"let me know if you have questions.":   {},
	"what else would you like to know?":    {},
}

// fallbackFollowUps are deterministic replacements when generation cannot
// produce a valid question.
var fallbackFollowUps = []string{
	"Would you like me to go into the clinical evidence behind this?",
	"Should I walk through how this applies to a specific patient case?",
	"Would a comparison with the alternative approaches be useful here?",
	"Do you want the step-by-step protocol for this procedure?",
}

// selfRefPattern matches sentences that narrate internal machinery; they
// are removed before emission.
var selfRefPattern = regexp.MustCompile(`(?i)(security gate|security layer|guardrail|system prompt|my instructions|i was instructed|knowledge_lookup|record_lookup|tool call|invoking the tool|as an ai)`)

var sentenceSplit = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)

// Input carries everything the composer needs for one turn.
type Input struct {
	Mode    convo.Mode
	Plan    route.Plan
	Verdict grounding.Verdict
	// Body is the generated answer text; it may be empty when a fixed
	// template fully covers the turn.
	Body string
	// SwitchAck and Suggestion come from the mode controller.
	SwitchAck  string
	Suggestion string
}

// Composer renders outbound replies.
type Composer struct {
	followups FollowUpSource
}

// New creates a Composer. A nil source always uses the deterministic
// fallback follow-ups.
func New(followups FollowUpSource) *Composer {
	return &Composer{followups: followups}
}

// Compose renders the final reply text and records the emitted follow-up
// on the conversation. It never returns a malformed reply: a follow-up
// that fails validation is replaced, not emitted.
func (c *Composer) Compose(ctx context.Context, conv *convo.Conversation, in Input) string {
	body := c.body(in)
	body = Scrub(body)
	if in.Mode == convo.ModeSuccinct {
		body = capSentences(body, succinctSentenceCap)
	}

	var parts []string
	if body != "" {
		parts = append(parts, body)
	}
	if in.Plan.TreatmentPlan {
		parts = append(parts, TreatmentPlanDisclaimer)
	}
	if in.SwitchAck != "" {
		parts = append(parts, in.SwitchAck)
	}
	if in.Suggestion != "" {
		parts = append(parts, in.Suggestion)
	}

	// The record acknowledgement and disambiguation templates close with
	// their own question; generating another would emit two.
	switch {
	case in.Verdict.RecordAck && in.Verdict.Record != nil:
		conv.LastFollowUp = "What specific information would you like to know?"
		return strings.Join(parts, "\n\n")
	case in.Verdict.RecordAmbiguous:
		conv.LastFollowUp = "Could you give me the full name or the patient ID?"
		return strings.Join(parts, "\n\n")
	}

	followUp := c.followUp(ctx, conv, strings.Join(parts, "\n\n"))
	conv.LastFollowUp = followUp
	parts = append(parts, followUp)

	return strings.Join(parts, "\n\n")
}

// body resolves the answer body, letting fixed templates take precedence
// over generated text where the grounding verdict demands it.
func (c *Composer) body(in Input) string {
	var parts []string

	switch {
	case in.Verdict.RecordAck && in.Verdict.Record != nil:
		// Acknowledge only; record details wait for a specific question.
		parts = append(parts, fmt.Sprintf(RecordAckTemplate, in.Verdict.Record.PatientName))
	case in.Verdict.RecordAmbiguous:
		parts = append(parts, grounding.RecordAmbiguousReply)
	case in.Verdict.RecordFailed:
		parts = append(parts, grounding.RecordFailureReply)
	}

	if in.Verdict.CannotVerify != "" {
		parts = append(parts, fmt.Sprintf(grounding.CannotVerifyTemplate, in.Verdict.CannotVerify))
	}

	body := in.Body
	if in.Verdict.RecordAck && in.Verdict.Record != nil {
		// The acknowledgement replaces any generated record narration.
		body = ""
	}
	if body != "" {
		if in.Verdict.Degraded {
			body = grounding.DegradationNotice + "\n\n" + body
		}
		parts = append(parts, body)
	} else if in.Verdict.Degraded && len(parts) == 0 {
		parts = append(parts, grounding.DegradationNotice)
	}

	return strings.Join(parts, "\n\n")
}

// followUp returns a validated follow-up question: generated, regenerated
// once on validation failure, then a deterministic fallback that differs
// from the previous turn's question.
func (c *Composer) followUp(ctx context.Context, conv *convo.Conversation, body string) string {
	if c.followups != nil {
		history := conv.Recent(6)
		for attempt := 0; attempt < 2; attempt++ {
			candidate, err := c.followups.FollowUp(ctx, body, history)
			if err != nil {
				break
			}
			if validFollowUp(candidate, conv.LastFollowUp) {
				return strings.TrimSpace(candidate)
			}
		}
	}

	for i := 0; i < len(fallbackFollowUps); i++ {
		candidate := fallbackFollowUps[(conv.Len()+i)%len(fallbackFollowUps)]
		if !strings.EqualFold(candidate, conv.LastFollowUp) {
			return candidate
		}
	}
	return fallbackFollowUps[0]
}

// validFollowUp enforces the contract: a single non-generic question that
// does not repeat the previous turn's follow-up.
func validFollowUp(candidate, last string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || !strings.HasSuffix(candidate, "?") {
		return false
	}
	if strings.Count(candidate, "?") != 1 {
		return false
	}
	if strings.EqualFold(candidate, strings.TrimSpace(last)) {
		return false
	}
	if _, generic := genericFollowUps[strings.ToLower(candidate)]; generic {
		return false
	}
	return true
}

// Scrub removes sentences that narrate security handling or tool
// machinery from an answer body.
func Scrub(text string) string {
	if text == "" || !selfRefPattern.MatchString(text) {
		return text
	}

	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		var kept []string
		for _, sentence := range splitSentences(para) {
			if selfRefPattern.MatchString(sentence) {
				continue
			}
			kept = append(kept, sentence)
		}
		if len(kept) > 0 {
			out = append(out, strings.Join(kept, " "))
		}
	}
	return strings.Join(out, "\n\n")
}

func capSentences(text string, n int) string {
	sentences := splitSentences(text)
	if len(sentences) <= n {
		return text
	}
	return strings.Join(sentences[:n], " ")
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	matches := sentenceSplit.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	var (
		out      []string
		consumed int
	)
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
		consumed += len(m[0])
	}
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
