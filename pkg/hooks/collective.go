package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Agent is one member of the collective. Evaluate must be safe for
// concurrent calls and should never block for long; slow agents stall the
// tool pipeline.
type Agent interface {
	Name() string
	Evaluate(ctx context.Context, evt Event) AgentResult
}

// Collective fans a hook event out to its agents in registration order and
// folds their results into a single Response. The first block wins; warns
// accumulate; a panicking agent counts as allow.
type Collective struct {
	mu     sync.RWMutex
	agents []Agent
}

// NewCollective creates a collective with the given agents.
func NewCollective(agents ...Agent) *Collective {
	return &Collective{agents: agents}
}

// NewDefaultCollective creates the standard agent lineup: a guardian that
// blocks known-dangerous calls and an auditor that warns on oversized input.
func NewDefaultCollective() *Collective {
	return NewCollective(
		NewGuardianAgent(nil, nil),
		NewAuditorAgent(0),
	)
}

// AddAgent appends an agent to the evaluation order.
func (c *Collective) AddAgent(a Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = append(c.agents, a)
}

// AgentNames returns the registered agent names in evaluation order.
func (c *Collective) AgentNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.agents))
	for i, a := range c.agents {
		names[i] = a.Name()
	}
	return names
}

// ReceiveHookEvent evaluates evt against every agent. It never returns an
// error for agent failures; only a nil receiver or context cancellation can
// fail the call.
func (c *Collective) ReceiveHookEvent(ctx context.Context, evt Event) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	agents := make([]Agent, len(c.agents))
	copy(agents, c.agents)
	c.mu.RUnlock()

	resp := &Response{Results: make([]AgentResult, 0, len(agents))}
	for _, agent := range agents {
		result := c.evaluate(ctx, agent, evt)
		resp.Results = append(resp.Results, result)

		switch result.Decision {
		case DecisionBlock:
			if !resp.Blocked {
				resp.Blocked = true
				resp.BlockedBy = result.Agent
				resp.BlockMessage = result.Message
			}
		case DecisionWarn:
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %s", result.Agent, result.Message))
		}
	}

	return resp, nil
}

// evaluate runs one agent with panic containment.
func (c *Collective) evaluate(ctx context.Context, agent Agent, evt Event) (result AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hook agent panicked",
				"agent", agent.Name(),
				"hook_type", evt.Type,
				"panic", r)
			result = AgentResult{Agent: agent.Name(), Decision: DecisionAllow}
		}
	}()
	return agent.Evaluate(ctx, evt)
}

// ────────────────────────────────────────────────────────────
// Built-in agents
// ────────────────────────────────────────────────────────────

// defaultDeniedTools are blocked outright by the guardian.
var defaultDeniedTools = []string{"dangerous", "self_destruct"}

// defaultDeniedPatterns block a call when found in the serialized input.
var defaultDeniedPatterns = []string{
	"rm -rf /",
	"DROP TABLE",
	"DROP DATABASE",
	"mkfs.",
	":(){ :|:& };:",
}

// GuardianAgent blocks tool calls by name or by dangerous input patterns.
type GuardianAgent struct {
	deniedTools    map[string]bool
	deniedPatterns []string
}

// NewGuardianAgent creates a guardian. Nil slices select the built-in
// denylists.
func NewGuardianAgent(deniedTools, deniedPatterns []string) *GuardianAgent {
	if deniedTools == nil {
		deniedTools = defaultDeniedTools
	}
	if deniedPatterns == nil {
		deniedPatterns = defaultDeniedPatterns
	}
	byName := make(map[string]bool, len(deniedTools))
	for _, name := range deniedTools {
		byName[name] = true
	}
	return &GuardianAgent{deniedTools: byName, deniedPatterns: deniedPatterns}
}

func (g *GuardianAgent) Name() string { return "guardian" }

// Evaluate blocks denied tools on pre-hooks. Post-hooks and session events
// always pass; guarding after execution is pointless.
func (g *GuardianAgent) Evaluate(_ context.Context, evt Event) AgentResult {
	if evt.Type != PreToolUse {
		return AgentResult{Agent: g.Name(), Decision: DecisionAllow}
	}

	if g.deniedTools[evt.Payload.Tool] {
		return AgentResult{
			Agent:    g.Name(),
			Decision: DecisionBlock,
			Message:  fmt.Sprintf("tool %q is on the deny list", evt.Payload.Tool),
		}
	}

	input := evt.InputString()
	for _, pattern := range g.deniedPatterns {
		if strings.Contains(input, pattern) {
			return AgentResult{
				Agent:    g.Name(),
				Decision: DecisionBlock,
				Message:  fmt.Sprintf("input matches denied pattern %q", pattern),
			}
		}
	}

	return AgentResult{Agent: g.Name(), Decision: DecisionAllow}
}

// DefaultAuditThreshold is the serialized input size that triggers an
// auditor warning.
const DefaultAuditThreshold = 16 * 1024

// AuditorAgent warns (never blocks) when tool input is suspiciously large.
type AuditorAgent struct {
	threshold int
}

// NewAuditorAgent creates an auditor. A non-positive threshold selects
// DefaultAuditThreshold.
func NewAuditorAgent(threshold int) *AuditorAgent {
	if threshold <= 0 {
		threshold = DefaultAuditThreshold
	}
	return &AuditorAgent{threshold: threshold}
}

func (a *AuditorAgent) Name() string { return "auditor" }

func (a *AuditorAgent) Evaluate(_ context.Context, evt Event) AgentResult {
	if evt.Type != PreToolUse {
		return AgentResult{Agent: a.Name(), Decision: DecisionAllow}
	}
	if size := len(evt.InputString()); size > a.threshold {
		return AgentResult{
			Agent:    a.Name(),
			Decision: DecisionWarn,
			Message:  fmt.Sprintf("input size %d exceeds audit threshold %d", size, a.threshold),
		}
	}
	return AgentResult{Agent: a.Name(), Decision: DecisionAllow}
}
