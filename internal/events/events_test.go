package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressEvent(id string, pct float64) Event {
	return Event{DownloadID: id, Type: TypeProgress, Record: &progress.Record{Status: progress.StatusDownloading, Percentage: pct}}
}

func statusEvent(id string, s progress.Status) Event {
	return Event{DownloadID: id, Type: TypeStatus, Record: &progress.Record{Status: s}}
}

func drain(t *testing.T, s *Subscription) []Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out []Event

	for {
		e, ok := s.Next(ctx)
		if !ok {
			return out
		}

		out = append(out, e)
	}
}

func TestBus_CoalescesProgressButKeepsOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(statusEvent("a", progress.StatusResolving))
	bus.Publish(progressEvent("a", 10))
	bus.Publish(progressEvent("a", 20))
	bus.Publish(progressEvent("a", 30))
	bus.Publish(statusEvent("a", progress.StatusConverting))
	bus.Publish(Event{DownloadID: "a", Type: TypeOutcome, Outcome: &media.Outcome{Success: true}})

	got := drain(t, sub)
	require.Len(t, got, 4)
	assert.Equal(t, TypeStatus, got[0].Type)
	assert.Equal(t, TypeProgress, got[1].Type)
	assert.Equal(t, 30.0, got[1].Record.Percentage)
	assert.Equal(t, progress.StatusConverting, got[2].Record.Status)
	assert.Equal(t, TypeOutcome, got[3].Type)
}

func TestBus_DropsLogsButNeverTerminalEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	for i := 0; i < maxQueued+50; i++ {
		bus.Publish(Event{DownloadID: "a", Type: TypeLog, Line: fmt.Sprintf("line %d", i)})
	}

	bus.Publish(statusEvent("a", progress.StatusFailed))
	bus.Publish(Event{DownloadID: "a", Type: TypeOutcome, Outcome: &media.Outcome{}})

	assert.Equal(t, 50, sub.Dropped())

	got := drain(t, sub)
	require.Len(t, got, maxQueued+2)
	assert.Equal(t, TypeStatus, got[len(got)-2].Type)
	assert.Equal(t, TypeOutcome, got[len(got)-1].Type)
}

func TestEvent_Droppable(t *testing.T) {
	tests := map[Type]bool{
		TypeProgress: true,
		TypeLog:      true,
		TypeStatus:   false,
		TypeOutcome:  false,
	}

	for typ, want := range tests {
		assert.Equal(t, want, Event{Type: typ}.Droppable(), typ)
	}
}

func TestBus_SubscribeToFiltersByDownload(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeTo("b")
	defer sub.Close()

	bus.Publish(statusEvent("a", progress.StatusResolving))
	bus.Publish(statusEvent("b", progress.StatusResolving))

	got := drain(t, sub)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].DownloadID)
}

func TestSubscription_CloseStopsDeliveryAndUnblocks(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := sub.Next(context.Background())
		assert.False(t, ok)
	}()

	sub.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}

	bus.Publish(statusEvent("a", progress.StatusResolving))
	_, ok := sub.pop()
	assert.False(t, ok)
}

func TestSnapshotStore(t *testing.T) {
	store := NewSnapshotStore()

	_, _, ok := store.Latest()
	assert.False(t, ok)

	store.Publish(progressEvent("a", 10))
	store.Publish(progressEvent("b", 5))
	store.Publish(progressEvent("a", 60))
	store.Publish(Event{DownloadID: "a", Type: TypeLog, Line: "ignored"})

	id, rec, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, "b", id)
	assert.Equal(t, 5.0, rec.Percentage)

	rec, ok = store.Get("a")
	require.True(t, ok)
	assert.Equal(t, 60.0, rec.Percentage)

	store.Forget("b")
	_, _, ok = store.Latest()
	assert.False(t, ok)
}

func TestFanoutAndCallback(t *testing.T) {
	var got []Type
	store := NewSnapshotStore()

	sink := Fanout(Callback(func(e Event) { got = append(got, e.Type) }), nil, store)
	sink.Publish(progressEvent("a", 1))
	sink.Publish(Event{DownloadID: "a", Type: TypeLog})

	assert.Equal(t, []Type{TypeProgress, TypeLog}, got)

	_, ok := store.Get("a")
	assert.True(t, ok)
}
