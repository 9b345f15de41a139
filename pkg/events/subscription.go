package events

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/nixblitz/installer-engine/pkg/install"
)

// Subscription is one observer's bounded FIFO of events.
type Subscription struct {
	id       uint64
	hub      *Hub
	capacity int

	mu     sync.Mutex
	queue  []install.Event
	gap    bool
	closed bool
	notify chan struct{}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uint64 {
	return s.id
}

// push enqueues ev without blocking. When the queue is full the oldest
// non-terminal event is dropped and the next delivered event is marked as
// following a gap. Terminal events are never dropped.
func (s *Subscription) push(ev install.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.queue) >= s.capacity {
		dropped := false
		for i, queued := range s.queue {
			if !queued.Terminal() {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				dropped = true
				break
			}
		}
		s.gap = true
		s.hub.metrics.EventDropped()
		if !dropped && !ev.Terminal() {
			slog.Warn("hub_event_dropped", "subscriber", s.id, "seq", ev.Seq)
			return
		}
		slog.Warn("hub_queue_full", "subscriber", s.id, "seq", ev.Seq)
	}

	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the subscription is closed, or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (install.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if s.gap {
				ev.Gap = true
				s.gap = false
			}
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return install.Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return install.Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// All yields events until the subscription closes or ctx is done.
func (s *Subscription) All(ctx context.Context) iter.Seq[install.Event] {
	return func(yield func(install.Event) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from the hub. Queued events can still be
// read; Next returns ErrClosed once they are drained.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.hub.remove(s.id)
}
