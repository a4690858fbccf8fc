package failure

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-racer/preview/internal/session"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBus()
	assert.NotPanics(t, func() {
		assert.Equal(t, 0, b.Publish(session.Session{ID: "s1"}, EventFailed))
	})
	assert.Equal(t, 0, b.Pending("s1", EventFailed))
}

func TestPublishIsSingleShot(t *testing.T) {
	b := NewBus()
	calls := 0
	b.Subscribe("s1", EventFailed, func(session.Session) { calls++ })

	assert.Equal(t, 1, b.Publish(session.Session{ID: "s1"}, EventFailed))
	assert.Equal(t, 0, b.Publish(session.Session{ID: "s1"}, EventFailed))
	assert.Equal(t, 1, calls)
}

func TestPublishMatchesSessionAndKind(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe("s1", EventFailed, func(s session.Session) { got = append(got, "s1/failed") })
	b.Subscribe("s1", EventStopped, func(s session.Session) { got = append(got, "s1/stopped") })
	b.Subscribe("s2", EventFailed, func(s session.Session) { got = append(got, "s2/failed") })

	b.Publish(session.Session{ID: "s1"}, EventFailed)

	assert.Equal(t, []string{"s1/failed"}, got)
	assert.Equal(t, 1, b.Pending("s1", EventStopped))
	assert.Equal(t, 1, b.Pending("s2", EventFailed))
}

func TestPublishOrderAndPayload(t *testing.T) {
	b := NewBus()
	var order []int
	var seen session.Session
	for i := 0; i < 3; i++ {
		b.Subscribe("s1", EventFailed, func(s session.Session) {
			order = append(order, i)
			seen = s
		})
	}

	b.Publish(session.Session{ID: "s1", Status: session.StartFailed}, EventFailed)
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, session.StartFailed, seen.Status)
}

func TestCancel(t *testing.T) {
	b := NewBus()
	calls := 0
	cancel := b.Subscribe("s1", EventFailed, func(session.Session) { calls++ })
	keep := b.Subscribe("s1", EventFailed, func(session.Session) { calls += 10 })
	_ = keep

	cancel()
	cancel()
	assert.Equal(t, 1, b.Pending("s1", EventFailed))

	b.Publish(session.Session{ID: "s1"}, EventFailed)
	assert.Equal(t, 10, calls)
}

func TestCancelAfterDeliveryIsNoop(t *testing.T) {
	b := NewBus()
	cancel := b.Subscribe("s1", EventFailed, func(session.Session) {})
	b.Publish(session.Session{ID: "s1"}, EventFailed)

	later := 0
	b.Subscribe("s1", EventFailed, func(session.Session) { later++ })
	cancel()

	b.Publish(session.Session{ID: "s1"}, EventFailed)
	assert.Equal(t, 1, later, "stale cancel must not remove a newer subscription")
}

func TestCallbackMaySubscribeAgain(t *testing.T) {
	b := NewBus()
	calls := 0
	var resubscribe Callback
	resubscribe = func(session.Session) {
		calls++
		b.Subscribe("s1", EventFailed, resubscribe)
	}
	b.Subscribe("s1", EventFailed, resubscribe)

	b.Publish(session.Session{ID: "s1"}, EventFailed)
	assert.Equal(t, 1, calls)
	b.Publish(session.Session{ID: "s1"}, EventFailed)
	assert.Equal(t, 2, calls)
}

func TestConcurrentPublishDeliversOnce(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	calls := 0
	for i := 0; i < 20; i++ {
		b.Subscribe("s1", EventFailed, func(session.Session) {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(session.Session{ID: "s1"}, EventFailed)
		}()
	}
	wg.Wait()

	require.Equal(t, 20, calls)
}
