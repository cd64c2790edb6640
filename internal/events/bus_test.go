package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records every event it handles, for assertions after Close.
type collector struct {
	mu   sync.Mutex
	got  []Event
	done chan struct{} // closed once want events have arrived
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) Handle(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, evt)
	if len(c.got) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.got...)
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(16, nil, nil)
	a := newCollector(1)
	b := newCollector(1)
	bus.Register(a)
	bus.Register(b)

	bus.Publish(Event{Type: TypeTurnReport, SessionID: "s1"})
	bus.Close()

	require.Len(t, a.events(), 1)
	require.Len(t, b.events(), 1)
	assert.Equal(t, TypeTurnReport, a.events()[0].Type)
}

func TestBusUnregisteredSubscriberStopsReceiving(t *testing.T) {
	bus := NewBus(16, nil, nil)
	c := newCollector(1)
	sub := bus.Register(c)

	bus.Publish(Event{Type: TypeTurnReport, SessionID: "s1"})
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	require.NoError(t, sub.Close())
	bus.Publish(Event{Type: TypeTurnReport, SessionID: "s2"})
	bus.Close()

	require.Len(t, c.events(), 1)
}

func TestBusOverflowDropsOldestNonCritical(t *testing.T) {
	// A bus whose consumer is gated lets the queue fill deterministically.
	gate := make(chan struct{})
	bus := NewBus(2, nil, nil)
	blocked := newCollector(1)
	bus.Register(SubscriberFunc(func(ctx context.Context, evt Event) error {
		<-gate
		return blocked.Handle(ctx, evt)
	}))

	// The consumer takes one event off the queue and parks on the gate, so
	// three more publishes fill and then overflow the 2-slot queue.
	bus.Publish(Event{Type: TypeToolInvoked, SessionID: "first"})
	time.Sleep(20 * time.Millisecond)
	bus.Publish(Event{Type: TypeToolInvoked, SessionID: "second"})
	bus.Publish(Event{Type: TypeToolInvoked, SessionID: "third"})
	bus.Publish(Event{Type: TypeTurnAborted, SessionID: "critical", Critical: true})

	close(gate)
	bus.Close()

	sids := map[string]bool{}
	for _, e := range blocked.events() {
		sids[e.SessionID] = true
	}
	assert.True(t, sids["critical"], "the critical event must survive the overflow")
	assert.False(t, sids["second"], "the oldest queued non-critical event is the one dropped")
}

func TestPrometheusSinkTracksSessions(t *testing.T) {
	sink := NewPrometheusSink()
	active := 3.0
	sink.TrackSessions(func() float64 { return active })

	families, err := sink.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "concierge_sessions_active" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, 3.0, f.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("concierge_sessions_active not registered")
}

func TestPrometheusSinkCountsEvents(t *testing.T) {
	sink := NewPrometheusSink()
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, Event{Type: TypeTurnReport, Payload: map[string]any{"duration_ms": int64(1200)}}))
	require.NoError(t, sink.Handle(ctx, Event{Type: TypeTurnAborted, Payload: map[string]any{"reason": "llm_stream_error"}}))
	require.NoError(t, sink.Handle(ctx, Event{Type: TypeToolInvoked, Payload: map[string]any{"name": "task_create", "ok": true}}))
	require.NoError(t, sink.Handle(ctx, Event{Type: TypeSemanticEvaluated, Payload: map[string]any{"result": true}}))
	require.NoError(t, sink.Handle(ctx, Event{Type: TypeGoalTransitioned}))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.turnsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.turnsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.turnsAborted.WithLabelValues("llm_stream_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.llmStreamErr))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.toolCalls.WithLabelValues("task_create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.semanticEvals.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.goalTransition))
}
