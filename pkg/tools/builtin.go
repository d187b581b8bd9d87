package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/chain"
	"github.com/goodboyai/kennel/pkg/judge"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

// Builtin domains.
const (
	DomainBrain     = "brain"
	DomainKnowledge = "knowledge"
	DomainSession   = "session"
)

// BuiltinFactories returns the full built-in catalogue in registration
// order.
func BuiltinFactories() []Factory {
	return []Factory{
		judgeFactory(),
		feedbackFactory(),
		searchJudgmentsFactory(),
		patternFactory(),
		knowledgeFactory(),
		factFactory(),
		libraryLookupFactory(),
		sessionControlFactory(),
		goalFactory(),
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func boolArg(args map[string]any, key string) *bool {
	if v, ok := args[key].(bool); ok {
		return &v
	}
	return nil
}

func mapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func judgeFactory() Factory {
	return Factory{
		Name:     "judge",
		Domain:   DomainBrain,
		Requires: []string{"judge", "storage", "sessions", "chain", "events"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "judge",
				Description: "Score an item against the axiom set and record the judgment on the proof-of-judgment chain.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item":      map[string]any{"type": "object", "description": "The item under judgment."},
						"sessionId": map[string]any{"type": "string"},
						"userId":    map[string]any{"type": "string"},
					},
					"required": []string{"item"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					req := judge.Request{
						Item:      mapArg(args, "item"),
						SessionID: stringArg(args, "sessionId"),
						UserID:    stringArg(args, "userId"),
					}
					if cur := s.Sessions.Current(); cur != nil {
						if req.SessionID == "" {
							req.SessionID = cur.ID
						}
						if req.UserID == "" {
							req.UserID = cur.UserID
						}
					}

					j, err := s.Judge.Judge(ctx, req)
					if err != nil {
						return nil, fmt.Errorf("failed to judge item: %w", err)
					}
					if err := s.Storage.StoreJudgment(ctx, j); err != nil {
						return nil, fmt.Errorf("failed to store judgment: %w", err)
					}

					ref := models.JudgmentRef{JudgmentID: j.ID, Verdict: j.Verdict, Score: j.Score}
					if err := s.Chain.Add(ctx, ref); err != nil && !errors.Is(err, chain.ErrClosed) {
						s.Logger.Warn("failed to add judgment to chain", "judgment_id", j.ID, "error", err)
					}

					s.Sessions.IncrementCounter(ctx, models.CounterJudgments, 1)
					s.Events.Publish(bus.TopicJudgmentCreated, j, bus.WithSource("judge"))

					return map[string]any{
						"requestId":  models.NewID("req"),
						"judgmentId": j.ID,
						"score":      j.Score,
						"verdict":    j.Verdict,
						"confidence": j.Confidence,
						"reasoning":  j.Reasoning,
					}, nil
				},
			}}
		},
	}
}

func feedbackFactory() Factory {
	return Factory{
		Name:     "feedback",
		Domain:   DomainBrain,
		Requires: []string{"storage", "sessions", "events"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "feedback",
				Description: "Record user feedback on a judgment.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"judgmentId": map[string]any{"type": "string"},
						"rating":     map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
						"agree":      map[string]any{"type": "boolean"},
						"comment":    map[string]any{"type": "string"},
					},
					"required": []string{"rating"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					fb := &models.Feedback{
						ID:         models.NewID("fbk"),
						JudgmentID: stringArg(args, "judgmentId"),
						Rating:     intArg(args, "rating", 0),
						Agree:      boolArg(args, "agree"),
						Comment:    stringArg(args, "comment"),
						CreatedAt:  time.Now().UTC(),
					}
					if cur := s.Sessions.Current(); cur != nil {
						fb.SessionID = cur.ID
						fb.UserID = cur.UserID
					}

					if err := s.Storage.StoreFeedback(ctx, fb); err != nil {
						return nil, fmt.Errorf("failed to store feedback: %w", err)
					}
					s.Sessions.IncrementCounter(ctx, models.CounterFeedback, 1)
					s.Events.Publish(bus.TopicFeedback, fb, bus.WithSource("feedback"))

					return map[string]any{"feedbackId": fb.ID, "recorded": true}, nil
				},
			}}
		},
	}
}

func searchJudgmentsFactory() Factory {
	return Factory{
		Name:     "search_judgments",
		Domain:   DomainBrain,
		Requires: []string{"storage"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "search_judgments",
				Description: "Search stored judgments by text, verdict, session, or user.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query":     map[string]any{"type": "string"},
						"verdict":   map[string]any{"type": "string", "enum": []string{"HOWL", "WAG", "GROWL", "BARK"}},
						"sessionId": map[string]any{"type": "string"},
						"userId":    map[string]any{"type": "string"},
						"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": storage.MaxSearchLimit},
					},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					filter := storage.JudgmentFilter{
						Query:     stringArg(args, "query"),
						Verdict:   models.Verdict(stringArg(args, "verdict")),
						SessionID: stringArg(args, "sessionId"),
						UserID:    stringArg(args, "userId"),
						Limit:     intArg(args, "limit", 0),
					}
					list, err := s.Storage.SearchJudgments(ctx, filter)
					if err != nil {
						return nil, fmt.Errorf("failed to search judgments: %w", err)
					}
					return map[string]any{"count": len(list), "judgments": list}, nil
				},
			}}
		},
	}
}

func patternFactory() Factory {
	return Factory{
		Name:     "pattern",
		Domain:   DomainBrain,
		Requires: []string{"storage"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "pattern",
				Description: "Store, look up, or list behavioral patterns extracted from judgments.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":      map[string]any{"type": "string", "enum": []string{"store", "lookup", "list"}},
						"name":        map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"verdict":     map[string]any{"type": "string", "enum": []string{"HOWL", "WAG", "GROWL", "BARK"}},
						"judgmentId":  map[string]any{"type": "string"},
						"limit":       map[string]any{"type": "integer", "minimum": 1, "maximum": storage.MaxSearchLimit},
					},
					"required": []string{"action"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					switch action := stringArg(args, "action"); action {
					case "store":
						name := stringArg(args, "name")
						if name == "" {
							return nil, fmt.Errorf("pattern store requires a name")
						}
						p, err := RecordPattern(ctx, s.Storage, name,
							stringArg(args, "description"),
							models.Verdict(stringArg(args, "verdict")),
							stringArg(args, "judgmentId"))
						if err != nil {
							return nil, err
						}
						return map[string]any{"patternId": p.ID, "occurrences": p.Occurrences}, nil

					case "lookup":
						name := stringArg(args, "name")
						if name == "" {
							return nil, fmt.Errorf("pattern lookup requires a name")
						}
						p, err := s.Storage.GetPatternByName(ctx, name)
						if err != nil {
							return nil, fmt.Errorf("failed to look up pattern: %w", err)
						}
						if p == nil {
							return map[string]any{"found": false}, nil
						}
						return map[string]any{"found": true, "pattern": p}, nil

					case "list":
						list, err := s.Storage.ListPatterns(ctx, intArg(args, "limit", 0))
						if err != nil {
							return nil, fmt.Errorf("failed to list patterns: %w", err)
						}
						return map[string]any{"count": len(list), "patterns": list}, nil

					default:
						return nil, fmt.Errorf("unknown pattern action %q", action)
					}
				},
			}}
		},
	}
}

// RecordPattern merges one observation into the named pattern: a new pattern
// starts at one occurrence, an existing one is bumped and keeps its most
// recent judgment examples. Shared with the judgment learning hook.
func RecordPattern(ctx context.Context, store *storage.Manager, name, description string, verdict models.Verdict, judgmentID string) (*models.Pattern, error) {
	const maxExamples = 10

	now := time.Now().UTC()
	p, err := store.GetPatternByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern: %w", err)
	}
	if p == nil {
		p = &models.Pattern{
			ID:        models.NewID("pat"),
			Name:      name,
			FirstSeen: now,
		}
	}

	p.Occurrences++
	p.LastSeen = now
	if description != "" {
		p.Description = description
	}
	if verdict != "" {
		p.Verdict = verdict
	}
	if judgmentID != "" {
		p.Examples = append(p.Examples, judgmentID)
		if len(p.Examples) > maxExamples {
			p.Examples = p.Examples[len(p.Examples)-maxExamples:]
		}
	}

	if err := store.UpsertPattern(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return p, nil
}

func knowledgeFactory() Factory {
	return Factory{
		Name:     "knowledge",
		Domain:   DomainKnowledge,
		Requires: []string{"storage"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "knowledge",
				Description: "Store or search reference knowledge entries.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":  map[string]any{"type": "string", "enum": []string{"store", "search"}},
						"topic":   map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
						"source":  map[string]any{"type": "string"},
						"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"query":   map[string]any{"type": "string"},
						"limit":   map[string]any{"type": "integer", "minimum": 1, "maximum": storage.MaxSearchLimit},
					},
					"required": []string{"action"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					switch action := stringArg(args, "action"); action {
					case "store":
						topic, content := stringArg(args, "topic"), stringArg(args, "content")
						if topic == "" || content == "" {
							return nil, fmt.Errorf("knowledge store requires topic and content")
						}
						entry := &models.KnowledgeEntry{
							ID:        models.NewID("kno"),
							Topic:     topic,
							Content:   content,
							Source:    stringArg(args, "source"),
							Tags:      stringsArg(args, "tags"),
							CreatedAt: time.Now().UTC(),
						}
						if err := s.Storage.StoreKnowledge(ctx, entry); err != nil {
							return nil, fmt.Errorf("failed to store knowledge: %w", err)
						}
						return map[string]any{"knowledgeId": entry.ID, "stored": true}, nil

					case "search":
						list, err := s.Storage.SearchKnowledge(ctx, stringArg(args, "query"), intArg(args, "limit", 0))
						if err != nil {
							return nil, fmt.Errorf("failed to search knowledge: %w", err)
						}
						return map[string]any{"count": len(list), "entries": list}, nil

					default:
						return nil, fmt.Errorf("unknown knowledge action %q", action)
					}
				},
			}}
		},
	}
}

func factFactory() Factory {
	return Factory{
		Name:     "fact",
		Domain:   DomainKnowledge,
		Requires: []string{"storage"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "fact",
				Description: "Remember a declarative fact or recall facts about a subject.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":     map[string]any{"type": "string", "enum": []string{"remember", "recall"}},
						"subject":    map[string]any{"type": "string"},
						"statement":  map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"limit":      map[string]any{"type": "integer", "minimum": 1, "maximum": storage.MaxSearchLimit},
					},
					"required": []string{"action", "subject"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					subject := stringArg(args, "subject")

					switch action := stringArg(args, "action"); action {
					case "remember":
						statement := stringArg(args, "statement")
						if statement == "" {
							return nil, fmt.Errorf("fact remember requires a statement")
						}
						f := &models.Fact{
							ID:         models.NewID("fct"),
							Subject:    subject,
							Statement:  statement,
							Confidence: floatArg(args, "confidence", 0.8),
							CreatedAt:  time.Now().UTC(),
						}
						if err := s.Storage.StoreFact(ctx, f); err != nil {
							return nil, fmt.Errorf("failed to store fact: %w", err)
						}
						return map[string]any{"factId": f.ID, "remembered": true}, nil

					case "recall":
						list, err := s.Storage.ListFacts(ctx, subject, intArg(args, "limit", 0))
						if err != nil {
							return nil, fmt.Errorf("failed to recall facts: %w", err)
						}
						return map[string]any{"count": len(list), "facts": list}, nil

					default:
						return nil, fmt.Errorf("unknown fact action %q", action)
					}
				},
			}}
		},
	}
}

func libraryLookupFactory() Factory {
	return Factory{
		Name:     "library_lookup",
		Domain:   DomainKnowledge,
		Requires: []string{"library"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "library_lookup",
				Description: "Look up an ecosystem library and return its card (description, homepage, install hint).",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"name"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					card, err := s.Library.Lookup(ctx, stringArg(args, "name"))
					if err != nil {
						return nil, fmt.Errorf("failed to look up library: %w", err)
					}
					return card, nil
				},
			}}
		},
	}
}

func sessionControlFactory() Factory {
	return Factory{
		Name:     "session_control",
		Domain:   DomainSession,
		Requires: []string{"sessions"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "session_control",
				Description: "Start a session, end one, or report session status.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":    map[string]any{"type": "string", "enum": []string{"start", "end", "status"}},
						"userId":    map[string]any{"type": "string"},
						"project":   map[string]any{"type": "string"},
						"sessionId": map[string]any{"type": "string"},
					},
					"required": []string{"action"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					switch action := stringArg(args, "action"); action {
					case "start":
						sess, err := s.Sessions.Start(ctx, stringArg(args, "userId"), stringArg(args, "project"), nil)
						if err != nil {
							return nil, fmt.Errorf("failed to start session: %w", err)
						}
						return map[string]any{
							"sessionId": sess.ID,
							"userId":    sess.UserID,
							"project":   sess.Project,
							"createdAt": sess.CreatedAt,
						}, nil

					case "end":
						sessionID := stringArg(args, "sessionId")
						if sessionID == "" {
							if cur := s.Sessions.Current(); cur != nil {
								sessionID = cur.ID
							}
						}
						return s.Sessions.End(ctx, sessionID), nil

					case "status":
						return s.Sessions.GetSummary(), nil

					default:
						return nil, fmt.Errorf("unknown session action %q", action)
					}
				},
			}}
		},
	}
}

func goalFactory() Factory {
	return Factory{
		Name:     "goal",
		Domain:   DomainBrain,
		Requires: []string{"storage"},
		Create: func(s Services) []Descriptor {
			return []Descriptor{{
				Name:        "goal",
				Description: "Manage autonomy goals and their tasks.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":      map[string]any{"type": "string", "enum": []string{"set", "list", "add_task", "list_tasks", "notifications"}},
						"title":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"goalId":      map[string]any{"type": "string"},
						"status":      map[string]any{"type": "string"},
						"unreadOnly":  map[string]any{"type": "boolean"},
						"limit":       map[string]any{"type": "integer", "minimum": 1, "maximum": storage.MaxSearchLimit},
					},
					"required": []string{"action"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					now := time.Now().UTC()

					switch action := stringArg(args, "action"); action {
					case "set":
						title := stringArg(args, "title")
						if title == "" {
							return nil, fmt.Errorf("goal set requires a title")
						}
						g := &models.Goal{
							ID:          models.NewID("gol"),
							Title:       title,
							Description: stringArg(args, "description"),
							Status:      "open",
							CreatedAt:   now,
							UpdatedAt:   now,
						}
						if err := s.Storage.StoreGoal(ctx, g); err != nil {
							return nil, fmt.Errorf("failed to store goal: %w", err)
						}
						return map[string]any{"goalId": g.ID, "status": g.Status}, nil

					case "list":
						list, err := s.Storage.ListGoals(ctx, stringArg(args, "status"), intArg(args, "limit", 0))
						if err != nil {
							return nil, fmt.Errorf("failed to list goals: %w", err)
						}
						return map[string]any{"count": len(list), "goals": list}, nil

					case "add_task":
						title := stringArg(args, "title")
						if title == "" {
							return nil, fmt.Errorf("goal add_task requires a title")
						}
						t := &models.Task{
							ID:        models.NewID("tsk"),
							GoalID:    stringArg(args, "goalId"),
							Title:     title,
							Status:    "pending",
							CreatedAt: now,
							UpdatedAt: now,
						}
						if err := s.Storage.StoreTask(ctx, t); err != nil {
							return nil, fmt.Errorf("failed to store task: %w", err)
						}
						return map[string]any{"taskId": t.ID, "status": t.Status}, nil

					case "list_tasks":
						list, err := s.Storage.ListTasks(ctx, stringArg(args, "goalId"), intArg(args, "limit", 0))
						if err != nil {
							return nil, fmt.Errorf("failed to list tasks: %w", err)
						}
						return map[string]any{"count": len(list), "tasks": list}, nil

					case "notifications":
						unread := false
						if v := boolArg(args, "unreadOnly"); v != nil {
							unread = *v
						}
						list, err := s.Storage.ListNotifications(ctx, unread, intArg(args, "limit", 0))
						if err != nil {
							return nil, fmt.Errorf("failed to list notifications: %w", err)
						}
						return map[string]any{"count": len(list), "notifications": list}, nil

					default:
						return nil, fmt.Errorf("unknown goal action %q", action)
					}
				},
			}}
		},
	}
}
