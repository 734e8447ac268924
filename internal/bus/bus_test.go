package bus

import (
	"testing"
	"time"
)

func TestPublishReachesMatchingSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceRun, 10)
	defer unsub()

	b.Publish(Event{Kind: KindRunCompleted, Timestamp: time.Now(), Payload: "summary"})

	select {
	case evt := <-ch:
		if evt.Kind != KindRunCompleted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindRunCompleted)
		}
		if evt.Payload != "summary" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceIndex, 10)
	defer unsub()

	// An index subscriber never sees run traffic.
	b.Publish(Event{Kind: KindRunCompleted})
	b.Publish(Event{Kind: KindIndexBatch})

	select {
	case evt := <-ch:
		if evt.Kind != KindIndexBatch {
			t.Errorf("got kind %q, want %q", evt.Kind, KindIndexBatch)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("run event leaked to index subscriber: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceRun, 10)
	unsub()

	b.Publish(Event{Kind: KindRunCompleted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSubscriberDropsWithoutBlocking(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceIndex, 1)
	defer unsub()

	b.Publish(Event{Kind: KindIndexBatch, Payload: "first"})
	// Buffer is full; this one is dropped and the backfill pass will pick
	// the rows up instead.
	b.Publish(Event{Kind: KindIndexBatch, Payload: "second"})

	evt := <-ch
	if evt.Payload != "first" {
		t.Errorf("payload = %v, want the first batch", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("second batch should have been dropped, got %v", evt)
	default:
	}
}
