// ABOUTME: In-memory fan-out of decoded socket events to per-kind subscribers.
// ABOUTME: Subscriptions are cancellable handles; slow subscribers drop events.

package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/helio-ai/console/internal/wire"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Subscription is a cancellable handle on one event kind's stream. Lifetime is
// structural: Cancel detaches the subscriber and closes C.
type Subscription struct {
	C    <-chan wire.Event
	once sync.Once
	stop func()
}

// Cancel detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(s.stop)
}

// broadcaster fans decoded events out to subscribers keyed by event kind.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[wire.EventKind]map[string]chan wire.Event
	logger *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		subs:   make(map[wire.EventKind]map[string]chan wire.Event),
		logger: logger.With("component", "broadcaster"),
	}
}

// subscribe registers a subscriber for one event kind.
func (b *broadcaster) subscribe(kind wire.EventKind) *Subscription {
	id := uuid.New().String()
	ch := make(chan wire.Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subs[kind]; !ok {
		b.subs[kind] = make(map[string]chan wire.Event)
	}
	b.subs[kind][id] = ch
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		stop: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			kindSubs, ok := b.subs[kind]
			if !ok {
				return
			}
			got, ok := kindSubs[id]
			if !ok {
				return
			}
			delete(kindSubs, id)
			close(got)
			if len(kindSubs) == 0 {
				delete(b.subs, kind)
			}
		},
	}
}

// publish sends an event to all subscribers of its kind. Non-blocking: events
// are dropped for subscribers whose channels are full.
func (b *broadcaster) publish(event wire.Event) {
	kind := event.Kind()

	b.mu.RLock()
	kindSubs, ok := b.subs[kind]
	if !ok || len(kindSubs) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]chan wire.Event, 0, len(kindSubs))
	for _, ch := range kindSubs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "kind", string(kind))
		}
	}
}

// close shuts down the broadcaster and closes all subscriber channels.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, kindSubs := range b.subs {
		for id, ch := range kindSubs {
			close(ch)
			delete(kindSubs, id)
		}
		delete(b.subs, kind)
	}
}
