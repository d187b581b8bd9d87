// Package hooks defines the hook event wire types and the collective that
// evaluates them.
//
// Every tool call passes through the collective twice: a pre-hook that can
// block execution and a post-hook that observes the outcome. External
// processes can also push events in through the HTTP hook ingress.
package hooks

import (
	"context"
	"encoding/json"
)

// HookType identifies the lifecycle point an event belongs to.
type HookType string

const (
	// PreToolUse fires before a tool handler runs. A blocked response
	// prevents execution.
	PreToolUse HookType = "PreToolUse"

	// PostToolUse fires after a tool handler returns. Responses are
	// advisory only.
	PostToolUse HookType = "PostToolUse"

	// SessionStart fires when a session is created or replaced.
	SessionStart HookType = "SessionStart"

	// SessionEnd fires when a session is ended.
	SessionEnd HookType = "SessionEnd"

	// Notification carries free-form external events.
	Notification HookType = "Notification"
)

// Valid reports whether t is a recognised hook type.
func (t HookType) Valid() bool {
	switch t {
	case PreToolUse, PostToolUse, SessionStart, SessionEnd, Notification:
		return true
	}
	return false
}

// Payload carries the event details. Field names follow the external wire
// format (camelCase), not the storage format.
type Payload struct {
	Tool       string         `json:"tool,omitempty"`
	ToolUseID  string         `json:"toolUseId,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Event is one hook occurrence presented to the collective.
type Event struct {
	Type    HookType `json:"hookType"`
	Payload Payload  `json:"payload"`
}

// Decision is a single agent's stance on an event.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

// AgentResult is one agent's evaluation of an event.
type AgentResult struct {
	Agent    string   `json:"agent"`
	Decision Decision `json:"decision"`
	Message  string   `json:"message,omitempty"`
}

// Response is the collective's combined answer. Blocked is set when any
// agent blocked; BlockedBy and BlockMessage identify the first blocker.
type Response struct {
	Blocked      bool          `json:"blocked"`
	BlockedBy    string        `json:"blockedBy,omitempty"`
	BlockMessage string        `json:"blockMessage,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Results      []AgentResult `json:"results"`
}

// Receiver accepts hook events for evaluation. Implemented by Collective;
// callers that need no agent pipeline can supply a stub.
type Receiver interface {
	ReceiveHookEvent(ctx context.Context, evt Event) (*Response, error)
}

// InputString renders the event input as compact JSON for pattern matching
// and logging. Returns "" when there is no input.
func (e Event) InputString() string {
	if len(e.Payload.Input) == 0 {
		return ""
	}
	data, err := json.Marshal(e.Payload.Input)
	if err != nil {
		return ""
	}
	return string(data)
}
