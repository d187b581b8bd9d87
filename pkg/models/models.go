// Package models contains the persisted domain types shared across storage,
// the judgment pipeline, and the tool layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a prefixed random identifier, e.g. "jdg_9f1c...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// Verdict is the judgment outcome, ordered from best to worst.
type Verdict string

const (
	// VerdictHowl marks an exemplary action (score >= 90).
	VerdictHowl Verdict = "HOWL"
	// VerdictWag marks an approved action (score >= 70).
	VerdictWag Verdict = "WAG"
	// VerdictGrowl marks a questionable action (score >= 40).
	VerdictGrowl Verdict = "GROWL"
	// VerdictBark marks a rejected action (score < 40).
	VerdictBark Verdict = "BARK"
)

// Valid reports whether v is one of the four defined verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictHowl, VerdictWag, VerdictGrowl, VerdictBark:
		return true
	}
	return false
}

// AxiomHit records one axiom evaluation inside a judgment.
type AxiomHit struct {
	Axiom  string  `json:"axiom"`
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
	Note   string  `json:"note,omitempty"`
}

// Judgment is the output record of the judge pipeline.
type Judgment struct {
	ID         string         `json:"judgment_id"`
	SessionID  string         `json:"session_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Item       map[string]any `json:"item"`
	Score      float64        `json:"score"`
	Verdict    Verdict        `json:"verdict"`
	Confidence float64        `json:"confidence"`
	Axioms     []AxiomHit     `json:"axioms,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
