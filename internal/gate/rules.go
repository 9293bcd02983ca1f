// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package gate

import (
	"regexp"
	"strings"

	"github.com/trustdental/isaac/internal/convo"
	"golang.org/x/text/unicode/norm"
)

// Rule is one deterministic classification pattern. Rules are evaluated in
// order; the first match wins, so attack signatures must precede the
// generic off-topic heuristics.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Class   convo.Class
	// Lock marks a high-confidence signature that jumps straight to
	// STRIKE_3_LOCKED regardless of the current level.
	Lock bool
}

// invisibleCharReplacer strips zero-width and other invisible Unicode
// characters to reduce evasion via homoglyph smuggling.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200B", "", // zero-width space
	"\u200C", "", // zero-width non-joiner
	"\u200D", "", // zero-width joiner
	"\uFEFF", "", // zero-width no-break space / BOM
	"\u00AD", "", // soft hyphen
	"\u2060", "", // word joiner
	"\u2061", "", // invisible function application
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
	"\u2064", "", // invisible plus
)

// Normalize applies NFKC normalization and strips zero-width characters so
// rules match disguised input.
func Normalize(s string) string {
	s = invisibleCharReplacer.Replace(s)
	return norm.NFKC.String(s)
}

// LockRules returns high-confidence attack signatures: explicit requests
// for internal instructions, known jailbreak phrasing, and system-block
// injection. A match locks the conversation immediately.
func LockRules() []Rule {
	return []Rule{
		{
			Name:    "instruction_override",
			Pattern: regexp.MustCompile(`(?i)(ignore|disregard|override|forget|do\s+not\s+follow)\s+(all\s+)?(your|these|previous|prior|above)\s+(instructions|prompts|rules|guidelines)`),
			Class:   convo.ClassJailbreak,
			Lock:    true,
		},
		{
			Name: "jailbreak_persona",
			// The persona token only counts all-caps; "Dan" is a name.
			Pattern: regexp.MustCompile(`(?i)\b((?-i:DAN)|do\s+anything\s+now|developer\s+mode|jailbreak)\b`),
			Class:   convo.ClassJailbreak,
			Lock:    true,
		},
		{
			Name:    "internal_instruction_request",
			Pattern: regexp.MustCompile(`(?i)(reveal|show|print|repeat|output|share)\b.{0,40}\b(system\s+prompt|internal\s+instructions?|initial\s+prompt|hidden\s+(rules|prompt))`),
			Class:   convo.ClassJailbreak,
			Lock:    true,
		},
		{
			Name:    "role_confusion",
			Pattern: regexp.MustCompile(`(?i)you\s+are\s+now\s+\w+[,.]?\s*(do|ignore|forget|disregard)`),
			Class:   convo.ClassJailbreak,
			Lock:    true,
		},
		{
			Name:    "system_block_injection",
			Pattern: regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>|` + "```system\\b" + `)`),
			Class:   convo.ClassJailbreak,
			Lock:    true,
		},
		{
			Name:    "new_task_injection",
			Pattern: regexp.MustCompile(`(?i)(from\s+now\s+on\s+you|pretend\s+(?:the\s+)?(?:above|previous)\s+(?:rules?|instructions?)\s+(?:do\s+not|don'?t)\s+exist)`),
			Class:   convo.ClassJailbreak,
			Lock:    true,
		},
	}
}

// ProbeRules returns capability/limitation fishing patterns. These strike
// rather than lock; a run of them in direct succession locks (see Gate).
func ProbeRules() []Rule {
	return []Rule{
		{
			Name:    "limitation_fishing",
			Pattern: regexp.MustCompile(`(?i)what\s+(are|is)\s+(you|your)\b.{0,30}\b(not\s+allowed|forbidden|restricted|limitations?|restrictions?|constraints?)`),
			Class:   convo.ClassProbing,
		},
		{
			Name:    "guardrail_probe",
			Pattern: regexp.MustCompile(`(?i)\b(your|any)\s+(guardrails?|safety\s+(rules|filters?)|content\s+polic(y|ies))\b`),
			Class:   convo.ClassProbing,
		},
		{
			Name:    "model_probe",
			Pattern: regexp.MustCompile(`(?i)(what|which)\s+(model|llm|ai\s+system)\b.{0,30}\b(are\s+you|powers?\s+you|running)`),
			Class:   convo.ClassProbing,
		},
		{
			Name:    "refusal_probe",
			Pattern: regexp.MustCompile(`(?i)(why|when)\s+(would|do|did)\s+you\s+(refuse|decline|block|censor)`),
			Class:   convo.ClassProbing,
		},
	}
}

// clinicalVocab matches terms establishing dental/clinical relevance.
// Deliberately broad: treatment-planning language, anatomy, procedures,
// materials, records, and CDT-code-like tokens all count.
var clinicalVocab = regexp.MustCompile(`(?i)\b(` +
	`dental|dentist(ry)?|tooth|teeth|molar|premolar|incisor|canine|enamel|dentin|pulp|` +
	`gum|gingiv\w*|periodont\w*|endodont\w*|orthodont\w*|prosthodont\w*|occlus\w*|` +
	`caries|cavity|cavities|filling|restoration|composite|amalgam|crown|bridge|veneer|inlay|onlay|` +
	`implant|abutment|denture|extraction|root\s+canal|apicoectomy|graft(ing)?|osseous|` +
	`radiograph\w*|x-?ray|panoramic|bitewing|cbct|scan|` +
	`fluoride|whitening|bleaching|sealant|plaque|calculus|tartar|abscess|lesion|` +
	`tmj|tmd|bruxism|malocclusion|overbite|underbite|crossbite|` +
	`anesthe\w*|lidocaine|articaine|antibiotic\w*|amoxicillin|ibuprofen|analgesi\w*|` +
	`patient|clinical|diagnos\w*|treatment|therapy|prognosis|chart|record|medical\s+history|` +
	`procedure|surgery|surgical|hygien\w*|prophylaxis|scaling|root\s+planing|debridement|` +
	`cdt|d\d{4}|insurance|remineraliz\w*|demineraliz\w*|xerostomia|halitosis|` +
	`pain|swelling|sensitivity|bleeding|infection|inflammation` +
	`)\b`)

// smalltalk matches greetings and acknowledgments that respond to the
// assistant's own questions; these are neutral, never off-topic.
var smalltalk = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good\s+(morning|afternoon|evening)|yes|yeah|yep|no|nope|ok(ay)?|sure|thanks?|thank\s+you|please\s+do|go\s+ahead|sounds\s+good)\s*[.!?]*\s*$`)

// ClinicalRelevant reports whether the text carries dental/clinical terms.
func ClinicalRelevant(text string) bool {
	return clinicalVocab.MatchString(text)
}

// Smalltalk reports whether the text is a greeting or acknowledgment.
func Smalltalk(text string) bool {
	return smalltalk.MatchString(text)
}

// BriefStub reports whether the text is a one-or-two word fragment with no
// sentence structure, e.g. "bone graft" or "implant".
func BriefStub(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.ContainsAny(trimmed, "?.!,") {
		return false
	}
	return len(strings.Fields(trimmed)) <= 2
}
