package events

import (
	"context"
	"sync"

	"github.com/fieldservice/concierge/internal/telemetry"
)

// Bus is a non-blocking Publish in front of a bounded queue drained by a
// single background consumer, so event delivery never blocks the
// orchestrator.
type Bus struct {
	log     telemetry.Logger
	metrics telemetry.Metrics

	queue chan Event

	mu   sync.RWMutex
	subs map[*subscription]Subscriber

	done chan struct{}
}

type subscription struct {
	bus  *Bus
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return nil
}

// NewBus builds a Bus with the given bounded queue capacity and starts its
// background consumer goroutine.
func NewBus(capacity int, log telemetry.Logger, metrics telemetry.Metrics) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	b := &Bus{
		log:     log,
		metrics: metrics,
		queue:   make(chan Event, capacity),
		subs:    make(map[*subscription]Subscriber),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Register adds a subscriber, returning a handle whose Close unregisters
// it.
func (b *Bus) Register(sub Subscriber) *subscription {
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subs[s] = sub
	b.mu.Unlock()
	return s
}

// Publish enqueues evt without blocking. If the queue is full, the oldest
// non-critical event is dropped to make room; if the queue is full of only
// critical events, evt itself is dropped and a counter is recorded.
func (b *Bus) Publish(evt Event) {
	select {
	case b.queue <- evt:
		return
	default:
	}
	if b.dropOldestNonCritical() {
		select {
		case b.queue <- evt:
			return
		default:
		}
	}
	b.metrics.IncCounter("events_dropped_total", 1, "type", string(evt.Type))
}

func (b *Bus) dropOldestNonCritical() bool {
	for i := 0; i < cap(b.queue); i++ {
		select {
		case oldest := <-b.queue:
			if oldest.Critical {
				// Put it back; we don't drop critical events. This is a
				// best-effort reordering, acceptable since ordering across
				// event types is not a guarantee this sink makes.
				select {
				case b.queue <- oldest:
				default:
				}
				continue
			}
			b.metrics.IncCounter("events_dropped_total", 1, "type", string(oldest.Type))
			return true
		default:
			return false
		}
	}
	return false
}

func (b *Bus) run() {
	defer close(b.done)
	for evt := range b.queue {
		b.dispatch(evt)
	}
}

func (b *Bus) dispatch(evt Event) {
	ctx := context.Background()
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.Handle(ctx, evt); err != nil {
			b.log.Warn(ctx, "event subscriber failed", "type", string(evt.Type), "error", err)
		}
	}
}

// Close stops accepting new events and waits for the queue to drain.
func (b *Bus) Close() {
	close(b.queue)
	<-b.done
}
