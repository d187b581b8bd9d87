package models

import "time"

// GenesisHash is the sentinel previous-hash of slot 0.
const GenesisHash = "genesis"

// JudgmentRef is the per-judgment entry stored inside a sealed block.
type JudgmentRef struct {
	JudgmentID string  `json:"judgment_id"`
	Verdict    Verdict `json:"verdict,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// PoJBlock is one sealed proof-of-judgment block.
//
// Invariants: slots are 0-indexed and contiguous; slot 0 carries GenesisHash
// as its previous hash; for every later slot, PreviousHash equals the hash of
// the preceding block.
type PoJBlock struct {
	Slot          int           `json:"slot"`
	PreviousHash  string        `json:"previous_hash"`
	JudgmentsRoot string        `json:"judgments_root"`
	Judgments     []JudgmentRef `json:"judgments"`
	Hash          string        `json:"hash"`
	CreatedAt     time.Time     `json:"created_at"`
}
