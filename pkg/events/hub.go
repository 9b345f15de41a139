// Package events fans engine events out to any number of observers without
// ever blocking the publisher.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/metrics"
)

// DefaultCapacity is the per-subscriber queue length.
const DefaultCapacity = 100

// ErrClosed is returned by Next after the subscription was closed and drained.
var ErrClosed = errors.New("subscription closed")

// Hub stamps events with a sequence number and delivers them to every
// subscriber queue. The last state event is cached for late joiners.
type Hub struct {
	mu       sync.Mutex
	seq      uint64
	last     *install.Event
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
	metrics  *metrics.Metrics
}

// NewHub creates a hub. A non-positive capacity selects DefaultCapacity.
func NewHub(capacity int, m *metrics.Metrics) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		metrics:  m,
	}
}

// Publish assigns the next sequence number to ev and enqueues it for every
// subscriber. It returns the stamped event.
func (h *Hub) Publish(ev install.Event) install.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev.Seq = h.seq
	ev.Gap = false
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Kind == install.EventStateChanged {
		cached := ev
		h.last = &cached
	}

	for _, s := range h.subs {
		s.push(ev)
	}
	h.metrics.EventPublished()
	return ev
}

// Subscribe registers a new observer. Its first event is the cached state,
// if any state was published yet.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{
		id:       h.nextID,
		hub:      h,
		capacity: h.capacity,
		notify:   make(chan struct{}, 1),
	}
	if h.last != nil {
		s.push(*h.last)
	}
	h.subs[s.id] = s
	h.metrics.SubscriberAdded()

	slog.Debug("hub_subscribe", "subscriber", s.id, "subscribers", len(h.subs))
	return s
}

// Current returns the cached state event.
func (h *Hub) Current() (install.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return install.Event{}, false
	}
	return *h.last, true
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		h.metrics.SubscriberRemoved()
		slog.Debug("hub_unsubscribe", "subscriber", id, "subscribers", len(h.subs))
	}
}

// Run publishes a heartbeat every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Publish(install.Heartbeat())
		}
	}
}
