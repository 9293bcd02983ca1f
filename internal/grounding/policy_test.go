// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package grounding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustdental/isaac/internal/convo"
	"github.com/trustdental/isaac/internal/route"
	"github.com/trustdental/isaac/internal/tools"
)

func newConv() *convo.Conversation {
	return convo.NewConversation("c1", 10, time.Now())
}

func TestAssembleRecordSuccess(t *testing.T) {
	t.Parallel()

	p := New()
	v := p.Assemble(newConv(), route.Plan{RecordQuery: "John Doe"}, []tools.Response{{
		Tool:    tools.RecordLookup,
		Success: true,
		Record:  &tools.RecordRef{Handle: "DEN1-2D1AF6-T32", PatientName: "John Doe"},
		Results: []tools.Result{{Text: "History: crown prep tooth 14", Citation: "record:DEN1-2D1AF6-T32"}},
	}})

	require.NotNil(t, v.Record)
	assert.True(t, v.RecordAck)
	assert.True(t, v.HasSource(SourceRecord))
	assert.Contains(t, v.PromptBlock(), "authoritative for this patient")
}

func TestAssembleKnowledgeNotFoundSetsCannotVerify(t *testing.T) {
	t.Parallel()

	p := New()
	plan := route.Plan{KnowledgeQuery: "carbothermic remineralization", UncertainTerm: "carbothermic remineralization"}
	v := p.Assemble(newConv(), plan, []tools.Response{{
		Tool:      tools.KnowledgeLookup,
		Success:   false,
		ErrorKind: tools.ErrorNotFound,
	}})

	assert.Equal(t, "carbothermic remineralization", v.CannotVerify)
	assert.False(t, v.Degraded)
}

func TestAssembleRecordFailureAndAmbiguity(t *testing.T) {
	t.Parallel()

	p := New()

	v := p.Assemble(newConv(), route.Plan{RecordQuery: "Nobody"}, []tools.Response{{
		Tool: tools.RecordLookup, Success: false, ErrorKind: tools.ErrorNotFound,
	}})
	assert.True(t, v.RecordFailed)

	v = p.Assemble(newConv(), route.Plan{RecordQuery: "Doe"}, []tools.Response{{
		Tool: tools.RecordLookup, Success: false, ErrorKind: tools.ErrorAmbiguous,
	}})
	assert.True(t, v.RecordAmbiguous)
	assert.False(t, v.RecordFailed)
}

func TestAssembleKnowledgeUnavailableDegradesTurn(t *testing.T) {
	t.Parallel()

	p := New()
	v := p.Assemble(newConv(), route.Plan{KnowledgeQuery: "zirconia crown survival"}, []tools.Response{{
		Tool:      tools.KnowledgeLookup,
		Success:   false,
		ErrorKind: tools.ErrorUnavailable,
	}})

	assert.True(t, v.Degraded, "a single unavailable lookup must not pass silently")
	assert.Contains(t, v.PromptBlock(), "foundational knowledge")
	assert.Contains(t, v.PromptBlock(), "do not invent citations")
}

func TestConsecutiveUnavailableSkipsFurtherAttempts(t *testing.T) {
	t.Parallel()

	p := New()
	conv := newConv()

	v := p.Assemble(conv, route.Plan{KnowledgeQuery: "q"}, []tools.Response{{
		Tool: tools.KnowledgeLookup, Success: false, ErrorKind: tools.ErrorUnavailable,
	}})
	assert.True(t, v.Degraded)
	assert.False(t, p.SkipTool(conv, tools.KnowledgeLookup), "one failure does not yet skip the tool")

	v = p.Assemble(conv, route.Plan{KnowledgeQuery: "q"}, []tools.Response{{
		Tool: tools.KnowledgeLookup, Success: false, ErrorKind: tools.ErrorUnavailable,
	}})
	assert.True(t, v.Degraded)
	assert.True(t, p.SkipTool(conv, tools.KnowledgeLookup), "further attempts are skipped")
	assert.Contains(t, v.PromptBlock(), "foundational knowledge")
}

func TestSuccessResetsFailureRun(t *testing.T) {
	t.Parallel()

	p := New()
	conv := newConv()

	p.Assemble(conv, route.Plan{KnowledgeQuery: "q"}, []tools.Response{{
		Tool: tools.KnowledgeLookup, Success: false, ErrorKind: tools.ErrorUnavailable,
	}})
	p.Assemble(conv, route.Plan{KnowledgeQuery: "q"}, []tools.Response{{
		Tool: tools.KnowledgeLookup, Success: true,
		Results: []tools.Result{{Text: "ok", Citation: "c"}},
	}})

	assert.False(t, p.SkipTool(conv, tools.KnowledgeLookup))
}

func TestPromptBlockBothSourcesOrdersAuthority(t *testing.T) {
	t.Parallel()

	p := New()
	v := p.Assemble(newConv(), route.Plan{}, []tools.Response{
		{
			Tool: tools.RecordLookup, Success: true,
			Record:  &tools.RecordRef{Handle: "H", PatientName: "P"},
			Results: []tools.Result{{Text: "record fact", Citation: "record:H"}},
		},
		{
			Tool: tools.KnowledgeLookup, Success: true,
			Results: []tools.Result{{Text: "literature fact", Citation: "J 2025"}},
		},
	})

	block := v.PromptBlock()
	assert.Contains(t, block, "clinical correlation would be essential")
	assert.Less(t, indexOf(block, "record fact"), indexOf(block, "literature fact"))
	assert.Equal(t, []string{"record:H", "J 2025"}, v.Citations())
}

func TestPromptBlockGeneralKnowledgeLabel(t *testing.T) {
	t.Parallel()

	p := New()
	v := p.Assemble(newConv(), route.Plan{}, []tools.Response{{
		Tool: tools.KnowledgeLookup, Success: true,
		Results: []tools.Result{{Text: "lit only", Citation: "J 2025"}},
	}})

	assert.Contains(t, v.PromptBlock(), "general knowledge")
}

func TestEmptyPromptBlock(t *testing.T) {
	t.Parallel()

	p := New()
	v := p.Assemble(newConv(), route.Plan{}, nil)

	assert.Empty(t, v.PromptBlock())
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
