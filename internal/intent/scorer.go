// Package intent derives a deterministic conversion-intent score from an
// inbound message and the contact signals that arrived with it. Scoring is
// rule-based and pure: no I/O, no randomness, same input same output.
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Input is everything the scorer looks at.
type Input struct {
	Text       string
	HasEmail   bool
	HasPhone   bool
	ProjectIDs []string // candidate project ids to match against the text
}

// Assessment is the scoring result. It is recomputed per signal, never
// accumulated across touches.
type Assessment struct {
	Score      int      `json:"intent_score"`
	Focus      string   `json:"focus"`
	Reasoning  string   `json:"reasoning"`
	NextAction string   `json:"next_action"`
	ProjectIDs []string `json:"project_ids,omitempty"` // distinct ids referenced in the text
}

// Recommended next actions, ordered by urgency. NextAction is monotonic in
// Score: a higher score never maps to a less urgent action.
const (
	ActionNurture    = "nurture"
	ActionFollowUp   = "follow_up"
	ActionContactNow = "contact_now"
)

// Score weights. Each lexicon category contributes its weight at most once
// regardless of how many of its phrases appear, so repeated keywords cannot
// run the score away.
const (
	baseScore     = 10
	emailWeight   = 15
	phoneWeight   = 20
	projectWeight = 5
	maxScore      = 100

	followUpThreshold   = 40
	contactNowThreshold = 70
)

// category is one lexicon bucket of high-intent phrases.
type category struct {
	name    string
	weight  int
	phrases []string
}

// Categories are scanned in declaration order; Focus tie-breaks go to the
// earlier entry, so ordering is part of the contract.
var categories = []category{
	{name: "buying", weight: 20, phrases: []string{
		"ready to buy", "buy", "purchase", "interested", "invest", "make an offer",
	}},
	{name: "pricing", weight: 15, phrases: []string{
		"price", "pricing", "cost", "how much", "budget", "quote", "payment plan",
	}},
	{name: "scheduling", weight: 15, phrases: []string{
		"schedule", "viewing", "visit", "appointment", "book", "tour", "available",
	}},
	{name: "contact-channel", weight: 10, phrases: []string{
		"whatsapp", "call me", "phone", "reach me", "contact me",
	}},
}

// phoneLike spots a phone-number-shaped digit run embedded in the text, a
// strong signal even when no structured phone field was provided.
var phoneLike = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)

// Score computes the intent assessment for one inbound signal.
//
// Holding Text fixed, flipping HasEmail or HasPhone false→true never lowers
// the score.
func Score(in Input) Assessment {
	text := strings.ToLower(in.Text)

	score := baseScore
	var signals []string

	if in.HasEmail {
		score += emailWeight
		signals = append(signals, "email provided")
	}
	if in.HasPhone {
		score += phoneWeight
		signals = append(signals, "phone provided")
	}

	focus := "general"
	focusWeight := 0
	for _, c := range categories {
		matched := matchPhrases(text, c.phrases)
		if len(matched) == 0 {
			continue
		}
		score += c.weight
		signals = append(signals, fmt.Sprintf("%s (%s)", c.name, strings.Join(matched, ", ")))
		if c.weight > focusWeight {
			focus = c.name
			focusWeight = c.weight
		}
	}

	if !in.HasPhone && phoneLike.MatchString(text) {
		score += 10
		signals = append(signals, "phone-like number in text")
	}

	matchedProjects := matchProjects(text, in.ProjectIDs)
	if len(matchedProjects) > 0 {
		score += projectWeight * len(matchedProjects)
		signals = append(signals, fmt.Sprintf("%d project(s) referenced", len(matchedProjects)))
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}

	reasoning := "no strong signals"
	if len(signals) > 0 {
		reasoning = strings.Join(signals, "; ")
	}

	return Assessment{
		Score:      score,
		Focus:      focus,
		Reasoning:  reasoning,
		NextAction: nextAction(score),
		ProjectIDs: matchedProjects,
	}
}

// nextAction maps a score to the recommended follow-up, monotonically.
func nextAction(score int) string {
	switch {
	case score >= contactNowThreshold:
		return ActionContactNow
	case score >= followUpThreshold:
		return ActionFollowUp
	default:
		return ActionNurture
	}
}

// matchPhrases returns the distinct phrases present in text, in lexicon order.
func matchPhrases(text string, phrases []string) []string {
	var matched []string
	for _, p := range phrases {
		if strings.Contains(text, p) {
			matched = append(matched, p)
		}
	}
	return matched
}

// matchProjects returns the distinct project ids mentioned in the text,
// sorted for deterministic output.
func matchProjects(text string, projectIDs []string) []string {
	seen := make(map[string]bool, len(projectIDs))
	var matched []string
	for _, id := range projectIDs {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" || seen[key] {
			continue
		}
		if strings.Contains(text, key) {
			seen[key] = true
			matched = append(matched, id)
		}
	}
	sort.Strings(matched)
	return matched
}
