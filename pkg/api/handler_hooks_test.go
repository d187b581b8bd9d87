package api

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/config"
)

// busRecorder captures published events per topic for assertions.
type busRecorder struct {
	mu     sync.Mutex
	events map[string][]bus.Event
}

func recordTopics(events *bus.Bus, topics ...string) *busRecorder {
	rec := &busRecorder{events: make(map[string][]bus.Event)}
	for _, topic := range topics {
		events.Subscribe(topic, func(evt bus.Event) {
			rec.mu.Lock()
			rec.events[evt.Name] = append(rec.events[evt.Name], evt)
			rec.mu.Unlock()
		})
	}
	return rec
}

func (r *busRecorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[topic])
}

func (r *busRecorder) last(topic string) (bus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evts := r.events[topic]
	if len(evts) == 0 {
		return bus.Event{}, false
	}
	return evts[len(evts)-1], true
}

func TestHandleHookEvent_PostToolUse(t *testing.T) {
	var rec *busRecorder
	s := newTestServer(t, func(deps *Deps, _ *config.HTTPConfig) {
		rec = recordTopics(deps.Events, bus.TopicHookReceived, bus.TopicToolPost)
	})

	payload := `{
		"hookType": "PostToolUse",
		"payload": {
			"tool": "Bash",
			"toolUseId": "tu_1_abc",
			"durationMs": 42,
			"success": true,
			"sessionId": "ses_x"
		}
	}`
	w := doRequest(t, s, http.MethodPost, "/hooks/event", []byte(payload))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["blocked"])
	assert.Contains(t, body, "results")

	assert.Equal(t, 1, rec.count(bus.TopicHookReceived))
	assert.Equal(t, 1, rec.count(bus.TopicToolPost))

	evt, ok := rec.last(bus.TopicToolPost)
	require.True(t, ok)
	fields, ok := evt.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bash", fields["tool"])
	assert.Equal(t, int64(42), fields["durationMs"])
	assert.Equal(t, true, fields["success"])
}

func TestHandleHookEvent_PreToolUseBlocked(t *testing.T) {
	s := newTestServer(t, nil)

	payload := `{
		"hookType": "PreToolUse",
		"payload": {"tool": "dangerous", "toolUseId": "tu_2_def", "input": {}}
	}`
	w := doRequest(t, s, http.MethodPost, "/hooks/event", []byte(payload))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["blocked"])
	assert.Equal(t, "guardian", body["blockedBy"])
}

func TestHandleHookEvent_Rejections(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("unknown hook type", func(t *testing.T) {
		w := doRequest(t, s, http.MethodPost, "/hooks/event", []byte(`{"hookType":"Exploded","payload":{}}`))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeBody(t, w)["error"], "Exploded")
	})

	t.Run("missing hook type", func(t *testing.T) {
		w := doRequest(t, s, http.MethodPost, "/hooks/event", []byte(`{"payload":{}}`))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		w := doRequest(t, s, http.MethodPost, "/hooks/event", []byte(`{`))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleHookEvent_SessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	start := `{"hookType":"SessionStart","payload":{"sessionId":"ses_ext","userId":"usr_1"}}`
	w := doRequest(t, s, http.MethodPost, "/hooks/event", []byte(start))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["blocked"])

	end := `{"hookType":"SessionEnd","payload":{"sessionId":"ses_ext"}}`
	w = doRequest(t, s, http.MethodPost, "/hooks/event", []byte(end))
	require.Equal(t, http.StatusOK, w.Code)
}
