package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe(TopicJudgmentCreated, func(e Event) {
		got = append(got, "first")
	})
	b.Subscribe(TopicJudgmentCreated, func(e Event) {
		got = append(got, "second")
	})

	evt := b.Publish(TopicJudgmentCreated, map[string]any{"judgment_id": "jdg_1"})

	assert.Len(t, got, 2)
	assert.Contains(t, got, "first")
	assert.Contains(t, got, "second")
	assert.True(t, len(evt.ID) > 4 && evt.ID[:4] == "evt_")
	assert.Equal(t, TopicJudgmentCreated, evt.Name)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestBus_PublishOptions(t *testing.T) {
	b := New()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var received Event
	b.Subscribe(TopicSessionEnded, func(e Event) { received = e })

	b.Publish(TopicSessionEnded, nil, WithSource("session-manager"), WithTimestamp(ts))

	assert.Equal(t, "session-manager", received.Source)
	assert.Equal(t, ts, received.Timestamp)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	calls := 0
	unsub := b.Subscribe(TopicToolPre, func(e Event) { calls++ })

	b.Publish(TopicToolPre, nil)
	unsub()
	b.Publish(TopicToolPre, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.SubscriberCount(TopicToolPre))
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := New()

	first := b.Subscribe(TopicToolPost, func(e Event) {})
	second := b.Subscribe(TopicToolPost, func(e Event) {})
	require.Equal(t, 2, b.SubscriberCount(TopicToolPost))

	// Calling the same handle repeatedly must not remove other subscribers.
	first()
	first()
	first()

	assert.Equal(t, 1, b.SubscriberCount(TopicToolPost))
	second()
	assert.Equal(t, 0, b.SubscriberCount(TopicToolPost))
}

func TestBus_PanickingHandlerDoesNotAbortOthers(t *testing.T) {
	b := New()

	survived := false
	b.Subscribe(TopicAnomaly, func(e Event) { panic("broken subscriber") })
	b.Subscribe(TopicAnomaly, func(e Event) { survived = true })

	assert.NotPanics(t, func() {
		b.Publish(TopicAnomaly, nil)
	})
	assert.True(t, survived)
}

func TestBus_LateSubscriberSeesNoPriorEvents(t *testing.T) {
	b := New()
	b.Publish(TopicBlockCreated, map[string]any{"slot": 0})

	calls := 0
	b.Subscribe(TopicBlockCreated, func(e Event) { calls++ })

	assert.Equal(t, 0, calls)
}

func TestBus_SubscribeDuringPublishNotDelivered(t *testing.T) {
	b := New()

	lateCalls := 0
	b.Subscribe(TopicFeedback, func(e Event) {
		// Subscribing mid-delivery must not join the in-flight snapshot.
		b.Subscribe(TopicFeedback, func(e Event) { lateCalls++ })
	})

	b.Publish(TopicFeedback, nil)
	assert.Equal(t, 0, lateCalls)

	b.Publish(TopicFeedback, nil)
	assert.Equal(t, 1, lateCalls)
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := New()

	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		b.Subscribe(TopicToolPost, func(e Event) {
			mu.Lock()
			total++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(TopicToolPost, nil)
		}()
	}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe(TopicToolPre, func(e Event) {})
			unsub()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 8*16, total)
}

func TestTopics_CoversKnownNames(t *testing.T) {
	topics := Topics()
	assert.Contains(t, topics, TopicToolPre)
	assert.Contains(t, topics, TopicBlockCreated)
	assert.Contains(t, topics, TopicHookReceived)
	assert.Len(t, topics, 9)
}
