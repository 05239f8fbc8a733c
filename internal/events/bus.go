package events

import (
	"context"
	"sync"
)

// maxQueued bounds the undelivered events a subscription keeps. Past it log
// lines are dropped; status and outcome events are still queued.
const maxQueued = 256

// Bus fans events out to subscriptions without ever blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscription for every event.
func (b *Bus) Subscribe() *Subscription {
	return b.subscribe("")
}

// SubscribeTo registers a subscription for the events of one download.
func (b *Bus) SubscribeTo(downloadID string) *Subscription {
	return b.subscribe(downloadID)
}

func (b *Bus) subscribe(downloadID string) *Subscription {
	s := &Subscription{
		bus:        b,
		downloadID: downloadID,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Publish implements Sink.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if s.downloadID == "" || s.downloadID == e.DownloadID {
			s.push(e)
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription buffers events for one observer. Consecutive progress events
// are coalesced to the latest one.
type Subscription struct {
	bus        *Bus
	downloadID string

	mu      sync.Mutex
	queue   []Event
	pending *Event
	dropped int

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()

	switch {
	case e.Type == TypeProgress:
		s.pending = &e
	case e.Droppable() && len(s.queue) >= maxQueued:
		s.dropped++
	default:
		if s.pending != nil {
			s.queue = append(s.queue, *s.pending)
			s.pending = nil
		}

		s.queue = append(s.queue, e)
	}

	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the subscription is closed or ctx
// is done.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	for {
		if e, ok := s.pop(); ok {
			return e, true
		}

		select {
		case <-s.notify:
		case <-s.done:
			return s.pop()
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) > 0 {
		e := s.queue[0]
		s.queue = s.queue[1:]

		return e, true
	}

	if s.pending != nil {
		e := *s.pending
		s.pending = nil

		return e, true
	}

	return Event{}, false
}

// Dropped returns how many log events were dropped for this subscription.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropped
}

// Close unregisters the subscription. Events already queued can still be read.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}
