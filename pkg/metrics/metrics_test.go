package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: "unknown"},
		{name: "spaces replaced", input: "my tool", expected: "my_tool"},
		{name: "plain value kept", input: "judge", expected: "judge"},
		{name: "long value truncated", input: string(make([]byte, 200)), expected: string(make([]byte, maxLabelLen))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeLabel(tt.input))
		})
	}
}

func TestSnapshotCounts(t *testing.T) {
	m := New()

	m.RecordToolCall("judge", 5*time.Millisecond, true)
	m.RecordToolCall("judge", 2*time.Millisecond, false)
	m.RecordToolBlocked("dangerous", "guardian")
	m.RecordJudgment("WAG")
	m.RecordJudgment("WAG")
	m.RecordJudgment("BARK")
	m.RecordBlockSealed(8)
	m.RecordHTTPRequest("POST", "/rpc", "200")
	m.SSEClientAdd(1)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.ToolCalls)
	assert.Equal(t, int64(1), snap.ToolErrors)
	assert.Equal(t, int64(1), snap.ToolsBlocked)
	assert.Equal(t, int64(2), snap.Judgments["WAG"])
	assert.Equal(t, int64(1), snap.Judgments["BARK"])
	assert.Equal(t, int64(1), snap.BlocksSealed)
	assert.Equal(t, int64(1), snap.HTTPRequests)
	assert.Equal(t, int64(1), snap.SSEClients)

	m.SSEClientAdd(-1)
	assert.Equal(t, int64(0), m.Snapshot().SSEClients)
}

func TestSnapshotIsolation(t *testing.T) {
	m := New()
	m.RecordJudgment("HOWL")

	snap := m.Snapshot()
	snap.Judgments["HOWL"] = 99

	assert.Equal(t, int64(1), m.Snapshot().Judgments["HOWL"])
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.RecordToolCall("judge", time.Millisecond, true)
	m.RecordJudgment("GROWL")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "kennel_tools_calls_total")
	assert.Contains(t, body, "kennel_judge_judgments_total")
	assert.Contains(t, body, `verdict="GROWL"`)
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	a := New()
	b := New()

	a.RecordToolCall("judge", time.Millisecond, true)
	assert.Equal(t, int64(1), a.Snapshot().ToolCalls)
	assert.Equal(t, int64(0), b.Snapshot().ToolCalls)
}
