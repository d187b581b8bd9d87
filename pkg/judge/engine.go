// Package judge implements the deterministic axiom engine behind the judge
// tool. Scoring is rule-based: each axiom inspects the submitted item and
// passes or fails; the weighted pass ratio becomes the score.
package judge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// Verdict thresholds over the 0-100 score range.
const (
	HowlThreshold  = 90
	WagThreshold   = 70
	GrowlThreshold = 40
)

// VerdictForScore maps a score to its verdict band.
func VerdictForScore(score float64) models.Verdict {
	switch {
	case score >= HowlThreshold:
		return models.VerdictHowl
	case score >= WagThreshold:
		return models.VerdictWag
	case score >= GrowlThreshold:
		return models.VerdictGrowl
	default:
		return models.VerdictBark
	}
}

// Request is one item submitted for judgment.
type Request struct {
	Item      map[string]any
	SessionID string
	UserID    string
}

// Axiom is a single deterministic rule. Check returns whether the item
// passed, whether the axiom could be decisively evaluated, and a short note
// for the reasoning trail.
type Axiom struct {
	Name   string
	Weight float64
	Check  func(item map[string]any) (passed bool, decisive bool, note string)
}

// Engine evaluates items against a fixed axiom set. The zero set produced
// by NewEngine is deterministic: identical items always yield identical
// judgments (modulo IDs and timestamps).
type Engine struct {
	axioms []Axiom
}

// NewEngine creates an engine with the built-in axiom set.
func NewEngine() *Engine {
	return &Engine{axioms: builtinAxioms()}
}

// NewEngineWithAxioms creates an engine with a custom axiom set.
// Empty sets are rejected at Judge time, not here.
func NewEngineWithAxioms(axioms []Axiom) *Engine {
	return &Engine{axioms: axioms}
}

// NewEngineWithWeights creates an engine with the built-in axiom set,
// applying per-axiom weight overrides by name. Unknown names are ignored;
// a zero or negative weight removes that axiom from the set.
func NewEngineWithWeights(overrides map[string]float64) *Engine {
	axioms := builtinAxioms()
	if len(overrides) == 0 {
		return &Engine{axioms: axioms}
	}
	tuned := axioms[:0]
	for _, ax := range axioms {
		if w, ok := overrides[ax.Name]; ok {
			if w <= 0 {
				continue
			}
			ax.Weight = w
		}
		tuned = append(tuned, ax)
	}
	return &Engine{axioms: tuned}
}

// AxiomCount returns the number of axioms in the active set.
func (e *Engine) AxiomCount() int {
	return len(e.axioms)
}

// Judge evaluates a request and returns a fully populated judgment record.
// The engine does not persist; callers own storage and event fan-out.
func (e *Engine) Judge(ctx context.Context, req Request) (*models.Judgment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(e.axioms) == 0 {
		return nil, fmt.Errorf("judge engine has no axioms")
	}
	if req.Item == nil {
		return nil, fmt.Errorf("judge request has no item")
	}

	var (
		totalWeight  float64
		passedWeight float64
		decisive     int
		hits         = make([]models.AxiomHit, 0, len(e.axioms))
		notes        = make([]string, 0, len(e.axioms))
	)

	for _, axiom := range e.axioms {
		passed, wasDecisive, note := axiom.Check(req.Item)
		totalWeight += axiom.Weight
		if passed {
			passedWeight += axiom.Weight
		}
		if wasDecisive {
			decisive++
		}
		hits = append(hits, models.AxiomHit{
			Axiom:  axiom.Name,
			Passed: passed,
			Weight: axiom.Weight,
			Note:   note,
		})
		if note != "" {
			notes = append(notes, fmt.Sprintf("%s: %s", axiom.Name, note))
		}
	}

	score := math.Round(100 * passedWeight / totalWeight)
	confidence := float64(decisive) / float64(len(e.axioms))
	if confidence < 0.25 {
		confidence = 0.25
	}

	return &models.Judgment{
		ID:         models.NewID("jdg"),
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Item:       req.Item,
		Score:      score,
		Verdict:    VerdictForScore(score),
		Confidence: confidence,
		Axioms:     hits,
		Reasoning:  strings.Join(notes, "; "),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Health reports the engine state for the health endpoint.
func (e *Engine) Health() map[string]any {
	status := "healthy"
	if len(e.axioms) == 0 {
		status = "unhealthy"
	}
	return map[string]any{
		"status": status,
		"axioms": len(e.axioms),
	}
}

// harmPatterns fail the harmlessness axiom when found in item text.
var harmPatterns = []string{
	"attack", "exploit", "steal", "deceive", "sabotage", "harass",
}

// builtinAxioms returns the standard four-axiom set.
func builtinAxioms() []Axiom {
	return []Axiom{
		{
			Name:   "verification",
			Weight: 30,
			Check: func(item map[string]any) (bool, bool, string) {
				v, present := item["verified"]
				if !present {
					return false, false, "no verification claim"
				}
				verified, _ := v.(bool)
				if verified {
					return true, true, ""
				}
				return false, true, "explicitly unverified"
			},
		},
		{
			Name:   "transparency",
			Weight: 20,
			Check: func(item map[string]any) (bool, bool, string) {
				if itemText(item) != "" {
					return true, true, ""
				}
				return false, true, "no content or description provided"
			},
		},
		{
			Name:   "harmlessness",
			Weight: 30,
			Check: func(item map[string]any) (bool, bool, string) {
				text := strings.ToLower(itemText(item))
				if text == "" {
					return true, false, ""
				}
				for _, pattern := range harmPatterns {
					if strings.Contains(text, pattern) {
						return false, true, fmt.Sprintf("harm indicator %q", pattern)
					}
				}
				return true, true, ""
			},
		},
		{
			Name:   "consistency",
			Weight: 20,
			Check: func(item map[string]any) (bool, bool, string) {
				claims, hasClaims := itemList(item, "claims")
				evidence, hasEvidence := itemList(item, "evidence")
				if !hasClaims {
					// Nothing claimed, nothing to contradict.
					return true, false, ""
				}
				if !hasEvidence || len(evidence) < len(claims) {
					return false, true, fmt.Sprintf("%d claims, %d pieces of evidence", len(claims), len(evidence))
				}
				return true, true, ""
			},
		},
	}
}

// itemText extracts the judgeable text from an item.
func itemText(item map[string]any) string {
	for _, key := range []string{"content", "description", "text"} {
		if s, ok := item[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// itemList extracts a list field from an item.
func itemList(item map[string]any, key string) ([]any, bool) {
	v, ok := item[key]
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	return list, ok
}
