// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package grounding turns tool outcomes into the grounded context block
// handed to generation. A successful tool result is ground truth and
// overrides whatever the model believes; a failed verification is said
// plainly, never papered over with a fabricated answer.
package grounding

import (
	"fmt"
	"strings"

	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/route"
	"github.com/trustdental/isaac/internal/tools"
)

const (
	// CannotVerifyTemplate is the fixed reply when literature lookup finds
	// nothing for a flagged term.
	CannotVerifyTemplate = "I cannot find verified information about %q in recognized dental or medical literature."

	// RecordFailureReply is the fixed reply when a record lookup fails.
	RecordFailureReply = "I'm unable to access that patient record. Please verify the patient name/ID and try again."

	// RecordAmbiguousReply asks for disambiguation when a lookup matches
	// more than one patient.
	RecordAmbiguousReply = "I found more than one patient matching that. Could you give me the full name or the patient ID?"

	// DegradationNotice prefixes answers produced while external
	// resources are unreachable.
	DegradationNotice = "I'm experiencing technical difficulties accessing external resources. Based on my foundational knowledge:"

	// degradeAfterFailures is the consecutive unavailable outcomes that
	// trip the degradation path for the rest of the turn.
	degradeAfterFailures = 2
)

// SourceKind ranks fact provenance. Patient records outrank live
// literature search for this patient's care.
type SourceKind string

const (
	SourceRecord     SourceKind = "patient_record"
	SourceLiterature SourceKind = "literature"
)

// Fact is one grounded statement available to generation.
type Fact struct {
	Source   SourceKind
	Text     string
	Citation string
}

// Verdict is the grounding outcome for one turn.
type Verdict struct {
	Facts  []Fact
	Record *tools.RecordRef

	// RecordAck directs the composer to emit the record acknowledgement
	// instead of narrating record contents.
	RecordAck bool
	// CannotVerify holds the term that failed literature verification.
	CannotVerify string
	// RecordFailed / RecordAmbiguous select the fixed record replies.
	RecordFailed    bool
	RecordAmbiguous bool
	// Degraded marks the turn as running without external resources.
	Degraded bool
}

// Citations lists all citations across grounded facts, record first.
func (v Verdict) Citations() []string {
	var out []string
	for _, f := range v.Facts {
		if f.Citation != "" {
			out = append(out, f.Citation)
		}
	}
	return out
}

// HasSource reports whether any fact came from the given source.
func (v Verdict) HasSource(kind SourceKind) bool {
	for _, f := range v.Facts {
		if f.Source == kind {
			return true
		}
	}
	return false
}

// Policy assembles verdicts from tool outcomes.
type Policy struct{}

// New creates a Policy.
func New() *Policy {
	return &Policy{}
}

// SkipTool reports whether the named tool has failed often enough in a
// row that further attempts should be skipped and the degradation path
// taken directly.
func (p *Policy) SkipTool(conv *convo.Conversation, tool tools.Name) bool {
	return conv.ToolFailureRun(string(tool)) >= degradeAfterFailures
}

// Assemble folds the turn's tool responses into a Verdict and records
// per-tool failure/success runs on the conversation.
func (p *Policy) Assemble(conv *convo.Conversation, plan route.Plan, responses []tools.Response) Verdict {
	var v Verdict

	for _, resp := range responses {
		switch {
		case resp.ErrorKind == tools.ErrorUnavailable:
			if conv.NoteToolFailure(string(resp.Tool)) >= degradeAfterFailures {
				v.Degraded = true
			}
		case resp.Success:
			conv.NoteToolSuccess(string(resp.Tool))
		}

		switch resp.Tool {
		case tools.RecordLookup:
			p.foldRecord(&v, resp)
		case tools.KnowledgeLookup:
			p.foldKnowledge(&v, plan, resp)
		}
	}

	return v
}

func (p *Policy) foldRecord(v *Verdict, resp tools.Response) {
	if resp.Success {
		v.Record = resp.Record
		v.RecordAck = true
		for _, r := range resp.Results {
			v.Facts = append(v.Facts, Fact{Source: SourceRecord, Text: r.Text, Citation: r.Citation})
		}
		return
	}
	switch resp.ErrorKind {
	case tools.ErrorAmbiguous:
		v.RecordAmbiguous = true
	default:
		v.RecordFailed = true
	}
}

func (p *Policy) foldKnowledge(v *Verdict, plan route.Plan, resp tools.Response) {
	if resp.Success {
		for _, r := range resp.Results {
			v.Facts = append(v.Facts, Fact{Source: SourceLiterature, Text: r.Text, Citation: r.Citation})
		}
		return
	}
	switch resp.ErrorKind {
	case tools.ErrorNotFound:
		term := plan.UncertainTerm
		if term == "" {
			term = resp.Query
		}
		v.CannotVerify = term
	case tools.ErrorUnavailable:
		// A lookup the router deemed mandatory could not run. The turn
		// must say so and fall back to foundational knowledge, not pass
		// off unchecked claims as verified.
		v.Degraded = true
	}
}

// PromptBlock renders the grounded context handed to generation. An empty
// string means the turn runs on stable internal knowledge alone.
func (v Verdict) PromptBlock() string {
	if len(v.Facts) == 0 && !v.Degraded && v.CannotVerify == "" {
		return ""
	}

	var b strings.Builder
	if v.Degraded {
		b.WriteString("External resources are unavailable. Answer from foundational knowledge only and do not invent citations.\n\n")
	}

	if v.HasSource(SourceRecord) {
		b.WriteString("Patient record findings (authoritative for this patient):\n")
		for _, f := range v.Facts {
			if f.Source == SourceRecord {
				fmt.Fprintf(&b, "- %s [%s]\n", f.Text, f.Citation)
			}
		}
		b.WriteString("\n")
	}
	if v.HasSource(SourceLiterature) {
		b.WriteString("Verified literature findings:\n")
		for _, f := range v.Facts {
			if f.Source == SourceLiterature {
				fmt.Fprintf(&b, "- %s [%s]\n", f.Text, f.Citation)
			}
		}
		b.WriteString("\n")
	}

	if v.HasSource(SourceRecord) && v.HasSource(SourceLiterature) {
		b.WriteString("If record findings and literature disagree, present both, give the patient record precedence for this patient, and note that clinical correlation would be essential.\n")
	} else if !v.HasSource(SourceRecord) && v.HasSource(SourceLiterature) {
		b.WriteString("No case record is in context; frame the answer as general knowledge.\n")
	}

	if v.CannotVerify != "" {
		fmt.Fprintf(&b, "The term %q could not be verified; state that plainly and do not speculate about it.\n", v.CannotVerify)
	}

	return strings.TrimRight(b.String(), "\n")
}
