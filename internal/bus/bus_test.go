package bus

import (
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscription) any {
	t.Helper()

	select {
	case msg := <-sub:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message received")
		return nil
	}
}

func TestSubscribeReceivesAllTopics(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe("a", "b")
	b.Publish("a", 1)
	b.Publish("c", 99)
	b.Publish("b", "two")

	if got := receive(t, sub); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := receive(t, sub); got != "two" {
		t.Fatalf("expected two, got %v", got)
	}
}

func TestUnsubscribeSingleTopic(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe("a", "b")
	b.Unsubscribe(sub, "a")
	b.Publish("a", 1)
	b.Publish("b", 2)

	if got := receive(t, sub); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := New(nil)
	b.Close()
	b.Close()

	b.Publish("a", 1)
	b.Unsubscribe(make(Subscription))

	sub := b.Subscribe("a")
	if _, ok := <-sub; ok {
		t.Fatalf("expected closed subscription after bus close")
	}
}

func TestStalledSubscriberDoesNotBlockPublishers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	stalled := b.Subscribe("events")
	live := b.Subscribe("events", "other")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 3 * defaultCapacity {
			b.Publish("events", i)
		}
		b.Publish("other", "after")
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("publish blocked on a subscriber that never reads")
	}

	if got := len(stalled); got != defaultCapacity {
		t.Fatalf("expected stalled buffer to hold %d messages, got %d", defaultCapacity, got)
	}
	if got := receive(t, live); got != 0 {
		t.Fatalf("expected first message 0, got %v", got)
	}
}
