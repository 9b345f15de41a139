package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

func logEvent(ordinal int) install.Event {
	return install.LogAppended(pipeline.Result{Ordinal: ordinal})
}

func next(t *testing.T, s *Subscription) install.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestHub_LateJoinReceivesCurrentState(t *testing.T) {
	h := NewHub(10, nil)
	h.Publish(install.StateChanged(install.Snapshot{State: install.Idle{}}))
	h.Publish(install.StateChanged(install.Snapshot{State: install.CheckingSystem{}}))
	h.Publish(logEvent(0))

	s := h.Subscribe()
	defer s.Close()

	first := next(t, s)
	assert.Equal(t, install.EventStateChanged, first.Kind)
	assert.Equal(t, install.PhaseCheckingSystem, first.State.State.Phase())
	assert.Equal(t, uint64(2), first.Seq)

	h.Publish(logEvent(1))
	second := next(t, s)
	assert.Equal(t, install.EventLogAppended, second.Kind)
	assert.Equal(t, uint64(4), second.Seq)
}

func TestHub_NoStateYet(t *testing.T) {
	h := NewHub(10, nil)
	s := h.Subscribe()
	assert.Equal(t, 0, s.Pending())

	_, ok := h.Current()
	assert.False(t, ok)
}

func TestHub_OrderPreservedPerSubscriber(t *testing.T) {
	h := NewHub(1000, nil)
	a := h.Subscribe()
	b := h.Subscribe()

	for i := 0; i < 50; i++ {
		h.Publish(logEvent(i))
	}

	for _, s := range []*Subscription{a, b} {
		var last uint64
		for i := 0; i < 50; i++ {
			ev := next(t, s)
			assert.Greater(t, ev.Seq, last)
			last = ev.Seq
		}
	}
}

func TestHub_FullQueueDropsOldestNonTerminal(t *testing.T) {
	h := NewHub(3, nil)
	s := h.Subscribe()

	h.Publish(install.StateChanged(install.Snapshot{State: install.Failed{StepIndex: 2}}))
	h.Publish(logEvent(1))
	h.Publish(logEvent(2))
	h.Publish(logEvent(3))

	first := next(t, s)
	assert.True(t, first.Terminal(), "terminal event must survive")
	assert.True(t, first.Gap)

	second := next(t, s)
	assert.Equal(t, 2, second.Log.Ordinal)
	assert.False(t, second.Gap)

	third := next(t, s)
	assert.Equal(t, 3, third.Log.Ordinal)
}

func TestHub_TerminalEventsNeverDropped(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe()

	h.Publish(install.StateChanged(install.Snapshot{State: install.Succeeded{}}))
	h.Publish(logEvent(9))
	h.Publish(install.StateChanged(install.Snapshot{State: install.Failed{}}))

	assert.Equal(t, 2, s.Pending())
	assert.True(t, next(t, s).Terminal())
	assert.True(t, next(t, s).Terminal())
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(2, nil)
	slow := h.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(logEvent(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, 2, slow.Pending())
}

func TestSubscription_CloseDrainsThenErrors(t *testing.T) {
	h := NewHub(10, nil)
	s := h.Subscribe()
	h.Publish(logEvent(0))
	s.Close()
	s.Close()

	assert.Equal(t, 0, h.Subscribers())
	next(t, s)

	_, err := s.Next(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSubscription_NextWakesOnPublish(t *testing.T) {
	h := NewHub(10, nil)
	s := h.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	var got install.Event
	go func() {
		defer wg.Done()
		got, _ = s.Next(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	h.Publish(logEvent(5))
	wg.Wait()
	assert.Equal(t, 5, got.Log.Ordinal)
}

func TestSubscription_All(t *testing.T) {
	h := NewHub(10, nil)
	s := h.Subscribe()
	for i := 0; i < 3; i++ {
		h.Publish(logEvent(i))
	}
	s.Close()

	var ordinals []int
	for ev := range s.All(context.Background()) {
		ordinals = append(ordinals, ev.Log.Ordinal)
	}
	assert.Equal(t, []int{0, 1, 2}, ordinals)
}

func TestHub_RunPublishesHeartbeats(t *testing.T) {
	h := NewHub(10, nil)
	s := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx, 10*time.Millisecond)
	defer cancel()

	ev := next(t, s)
	assert.Equal(t, install.EventHeartbeat, ev.Kind)
}
