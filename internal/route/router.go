// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package route maps a classified, non-contained turn to the tool calls it
// requires. The logic is pure pattern matching so routing stays
// deterministic and side-effect-free.
package route

import (
	"regexp"
	"strings"

	"github.com/trustdental/isaac/internal/convo"
)

// Plan is the router's verdict for one turn. Zero, one, or both lookup
// queries may be set; when both are set they run concurrently.
type Plan struct {
	// RecordQuery is non-empty when the turn asks for a stored patient
	// record; it holds the extracted identifier, name, or search text.
	RecordQuery string
	// KnowledgeQuery is non-empty when the turn needs external
	// verification or current information. Once set, the lookup is
	// mandatory: generation must not silently skip it.
	KnowledgeQuery string
	// UncertainTerm is the specific term that triggered verification,
	// used by the cannot-verify template. May be empty for general
	// search requests.
	UncertainTerm string
	// TreatmentPlan marks a treatment-plan request: no tools, and the
	// composer appends the fixed disclaimer.
	TreatmentPlan bool
	// Clarify marks a brief ambiguous stub: no tools, the reply asks
	// for 2–3 concrete sub-options.
	Clarify bool
}

// NeedsTools reports whether the plan issues any tool call.
func (p Plan) NeedsTools() bool {
	return p.RecordQuery != "" || p.KnowledgeQuery != ""
}

var (
	// Explicit "do not search" phrasing wins over every knowledge trigger.
	noSearchPhrases = []string{
		"don't search", "do not search", "no internet search",
		"skip the search", "no need to search",
	}

	// Record-retrieval intent. Must pair with an identifier-like or
	// name-like token, or fall back to semantic record search.
	recordPhrases = []string{
		"pull up", "bring up", "patient record", "patient's record", "the record",
		"access record", "access the record", "chart", "case id", "file id",
	}

	// Explicit search verbs and phrases.
	searchPhrases = []string{
		"search online", "search for", "look up", "find information",
		"check online", "google", "what's the latest", "find recent",
		"get the latest", "retrieve literature", "current literature",
		"get references", "find sources", "literature review", "literature search",
		"where can i find", "show me the sources", "give me references",
		"where can i learn more",
	}

	// Resource/evidence requests need a recency cue alongside.
	resourceTerms = []string{
		"article", "paper", "publication", "study", "studies", "journal",
		"reference", "citation", "course", "guideline", "statistic",
		"survey", "video", "webinar", "podcast", "tutorial",
	}
	temporalTerms = []string{
		"latest", "current", "recent", "new", "updated", "modern",
		"today", "this year",
	}

	treatmentPlanPhrases = []string{
		"treatment plan", "treatment options", "treatment pathway",
		"plan the treatment", "sequence the treatment", "treatment sequencing",
	}

	// ID tokens like DEN1-2D1AF6-T32: 2-3 uppercase letters then at
	// least five more uppercase alphanumerics or dashes.
	recordIDPattern = regexp.MustCompile(`\b[A-Z]{2,3}[A-Z0-9-]{5,}\b`)
	// Name-like: two capitalized words.
	namePattern = regexp.MustCompile(`\b([A-Z][a-z]+\s+[A-Z][a-z]+)\b`)

	// CDT procedure codes are never guessed; they always verify.
	cdtCodePattern = regexp.MustCompile(`\b[Dd]\d{4}\b`)

	// Any four-digit year 2024 or later forces a search.
	recentYearPattern = regexp.MustCompile(`\b20(2[4-9]|[3-9][0-9])\b`)

	// Compound terms built from scientific prefixes are verification
	// candidates unless the plausibility pre-check clears them.
	compoundTermPattern = regexp.MustCompile(`(?i)\b((?:quantum|nano|carbo|electro|cryo|magneto|sono|photo|plasma|piezo)[a-z]{2,}(?:\s+[a-z]{4,})?)\b`)
)

// establishedTerms is the plausibility pre-check whitelist: compound terms
// that are unambiguously well-established in the field and need no lookup.
// The pre-check can only cancel doubt, never answer an uncertain term
// without checking.
var establishedTerms = map[string]struct{}{
	"photopolymerization":  {},
	"electrosurgery":       {},
	"piezoelectric":        {},
	"piezosurgery":         {},
	"nanohybrid":           {},
	"nanofilled":           {},
	"sonography":           {},
	"photodynamic therapy": {},
}

// Router produces tool plans for non-contained turns.
type Router struct{}

// New creates a Router.
func New() *Router {
	return &Router{}
}

// Plan inspects the classified turn text and decides which lookups it
// requires. The gate has already excluded contained turns.
func (r *Router) Plan(class convo.Class, text string) Plan {
	if class == convo.ClassAmbiguous {
		return Plan{Clarify: true}
	}

	lower := strings.ToLower(text)

	if containsAny(lower, treatmentPlanPhrases) {
		// Treatment planning runs on internal knowledge only.
		return Plan{TreatmentPlan: true}
	}

	var plan Plan

	if containsAny(lower, recordPhrases) {
		plan.RecordQuery = extractRecordQuery(text)
	}

	if !containsAny(lower, noSearchPhrases) {
		plan.KnowledgeQuery, plan.UncertainTerm = knowledgeQuery(text, lower)
	}

	return plan
}

// extractRecordQuery pulls the best identifier out of a record request: an
// explicit ID token, then a capitalized name, then the raw text for
// semantic record search.
func extractRecordQuery(text string) string {
	if id := recordIDPattern.FindString(text); id != "" {
		return id
	}
	if name := namePattern.FindString(text); name != "" {
		return name
	}
	return strings.TrimSpace(text)
}

// knowledgeQuery decides whether external verification is needed and what
// to ask for. Returns empty strings when generation may proceed on stable
// domain knowledge.
func knowledgeQuery(text, lower string) (query, term string) {
	if code := cdtCodePattern.FindString(text); code != "" {
		return text, strings.ToUpper(code)
	}

	if t := uncertainCompound(text); t != "" {
		return text, t
	}

	if containsAny(lower, searchPhrases) {
		return text, ""
	}

	if containsAny(lower, resourceTerms) && containsAny(lower, temporalTerms) {
		return text, ""
	}

	if recentYearPattern.MatchString(text) {
		return text, ""
	}

	return "", ""
}

// uncertainCompound returns a scientific-prefix compound term that failed
// the plausibility pre-check, or "" when nothing needs verification.
func uncertainCompound(text string) string {
	for _, match := range compoundTermPattern.FindAllString(text, -1) {
		candidate := strings.ToLower(strings.TrimSpace(match))
		if _, ok := establishedTerms[candidate]; ok {
			continue
		}
		// Also clear the bare first word, e.g. "photopolymerization
		// shrinkage" where the head term alone is established.
		head := strings.Fields(candidate)[0]
		if _, ok := establishedTerms[head]; ok {
			continue
		}
		return candidate
	}
	return ""
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
