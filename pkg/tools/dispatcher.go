package tools

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/hooks"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/session"
)

const (
	// maxHookOutputBytes bounds the output prefix handed to post-hook
	// agents. Full results never travel through the hook pipeline.
	maxHookOutputBytes = 1000

	// postHookTimeout bounds the detached post-hook evaluation.
	postHookTimeout = 5 * time.Second
)

// Dispatcher runs tool calls through the full pipeline: registry lookup,
// pre-hook, schema validation, handler execution, session accounting, and
// the detached post-hook.
type Dispatcher struct {
	registry   *Registry
	collective hooks.Receiver
	sessions   *session.Manager
	events     *bus.Bus
	logger     *slog.Logger
}

// NewDispatcher wires the dispatch pipeline. collective, sessions, and
// events may be nil; the corresponding stage is skipped.
func NewDispatcher(registry *Registry, collective hooks.Receiver, sessions *session.Manager, events *bus.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:   registry,
		collective: collective,
		sessions:   sessions,
		events:     events,
		logger:     logger.With("component", "dispatcher"),
	}
}

// newToolUseID mints a correlation ID shared by the pre-hook, the post-hook,
// and the bus events of one call.
func newToolUseID() string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// Timestamp alone still correlates; collisions only cost log clarity.
		return fmt.Sprintf("tu_%d_000000", time.Now().UnixMilli())
	}
	return fmt.Sprintf("tu_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}

// Dispatch executes the named tool. The handler does not start until the
// pre-hook returns; the post-hook runs detached and is never awaited.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	ent, ok := d.registry.resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	toolUseID := newToolUseID()
	sessionID, userID := d.identity()

	agents := 0
	if d.collective != nil {
		evt := hooks.Event{
			Type: hooks.PreToolUse,
			Payload: hooks.Payload{
				Tool:      name,
				ToolUseID: toolUseID,
				Input:     args,
				SessionID: sessionID,
				UserID:    userID,
			},
		}
		resp, err := d.collective.ReceiveHookEvent(ctx, evt)
		if err != nil {
			d.logger.Warn("pre-hook evaluation failed", "tool", name, "error", err)
		}
		if resp != nil {
			agents = len(resp.Results)
			for _, w := range resp.Warnings {
				d.logger.Warn("hook warning", "tool", name, "tool_use_id", toolUseID, "warning", w)
			}
			if resp.Blocked {
				d.increment(ctx, models.CounterBlocked, 1)
				d.publish(bus.TopicToolPre, map[string]any{
					"tool":      name,
					"toolUseId": toolUseID,
					"blockedBy": resp.BlockedBy,
					"timestamp": time.Now().UTC(),
				})
				d.logger.Warn("tool call blocked",
					"tool", name, "tool_use_id", toolUseID, "blocked_by", resp.BlockedBy)
				return nil, &BlockedError{Tool: name, Agent: resp.BlockedBy, Message: resp.BlockMessage}
			}
		}
	}

	d.publish(bus.TopicToolPre, map[string]any{
		"tool":      name,
		"toolUseId": toolUseID,
		"agents":    agents,
		"timestamp": time.Now().UTC(),
	})

	if err := ent.compiled.validate(args); err != nil {
		d.increment(ctx, models.CounterErrors, 1)
		return nil, fmt.Errorf("%w for %q: %v", ErrInvalidArguments, name, err)
	}

	start := time.Now()
	result, err := ent.Handler(ctx, args)
	duration := time.Since(start)
	success := err == nil

	d.increment(ctx, models.CounterToolCalls, 1)
	if !success {
		d.increment(ctx, models.CounterErrors, 1)
	}

	d.afterCall(ctx, ent.Name, toolUseID, args, sessionID, userID, result, err, duration)

	if err != nil {
		return nil, fmt.Errorf("tool %q failed: %w", name, err)
	}
	return result, nil
}

// afterCall runs the post-hook and publishes tool_post without holding up
// the response path.
func (d *Dispatcher) afterCall(ctx context.Context, name, toolUseID string, args map[string]any, sessionID, userID string, result any, callErr error, duration time.Duration) {
	success := callErr == nil
	output := outputPrefix(result, callErr)

	detached := context.WithoutCancel(ctx)
	go func() {
		if d.collective != nil {
			hctx, cancel := context.WithTimeout(detached, postHookTimeout)
			defer cancel()

			evt := hooks.Event{
				Type: hooks.PostToolUse,
				Payload: hooks.Payload{
					Tool:       name,
					ToolUseID:  toolUseID,
					Input:      args,
					Output:     output,
					DurationMs: duration.Milliseconds(),
					Success:    &success,
					SessionID:  sessionID,
					UserID:     userID,
				},
			}
			if _, err := d.collective.ReceiveHookEvent(hctx, evt); err != nil {
				d.logger.Debug("post-hook evaluation failed", "tool", name, "error", err)
			}
		}

		d.publish(bus.TopicToolPost, map[string]any{
			"tool":       name,
			"toolUseId":  toolUseID,
			"durationMs": duration.Milliseconds(),
			"success":    success,
			"timestamp":  time.Now().UTC(),
		})
	}()
}

// outputPrefix renders a bounded preview of the handler outcome for the
// post-hook payload.
func outputPrefix(result any, callErr error) string {
	if callErr != nil {
		return truncateTo(callErr.Error(), maxHookOutputBytes)
	}
	if result == nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return truncateTo(string(data), maxHookOutputBytes)
}

func truncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (d *Dispatcher) identity() (sessionID, userID string) {
	if d.sessions == nil {
		return "", ""
	}
	if cur := d.sessions.Current(); cur != nil {
		return cur.ID, cur.UserID
	}
	return "", ""
}

func (d *Dispatcher) increment(ctx context.Context, field string, delta int) {
	if d.sessions != nil {
		d.sessions.IncrementCounter(ctx, field, delta)
	}
}

func (d *Dispatcher) publish(topic string, payload map[string]any) {
	if d.events != nil {
		d.events.Publish(topic, payload, bus.WithSource("dispatcher"))
	}
}
