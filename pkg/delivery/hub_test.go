package delivery

import (
	"testing"
	"time"

	"github.com/replicatedhq/chartsmith/pkg/domain"
)

func TestSubscribePublishDelivers(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("run-1")
	defer unsubscribe()

	h.Publish("run-1", domain.Activity{RunID: "run-1", Kind: domain.ActivityThinking})

	select {
	case a := <-ch:
		if a.Kind != domain.ActivityThinking {
			t.Errorf("got kind %s, want %s", a.Kind, domain.ActivityThinking)
		}
	case <-time.After(time.Second):
		t.Fatal("expected to receive the published activity")
	}
}

func TestPublishIgnoresOtherRuns(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("run-1")
	defer unsubscribe()

	h.Publish("run-2", domain.Activity{RunID: "run-2", Kind: domain.ActivityThinking})

	select {
	case a := <-ch:
		t.Fatalf("unexpected activity delivered to unrelated subscriber: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("run-1")
	unsubscribe()

	h.Publish("run-1", domain.Activity{RunID: "run-1", Kind: domain.ActivityThinking})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unsubscribed channel should not receive new activities")
		}
	case <-time.After(50 * time.Millisecond):
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.runs["run-1"]) != 0 {
		t.Error("run-1's subscriber set should be empty after the last unsubscribe")
	}
}

func TestPublishDropsSlowSubscriberRatherThanBlocking(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("run-1")
	defer unsubscribe()

	for i := 0; i < bufferSize+5; i++ {
		h.Publish("run-1", domain.Activity{RunID: "run-1", Kind: domain.ActivityThinking})
	}

	var last domain.Activity
	drained := 0
	for {
		select {
		case a, ok := <-ch:
			if !ok {
				goto done
			}
			last = a
			drained++
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Fatal("expected at least the buffered activities to be drained")
	}
	if last.Kind != "stream.degraded" {
		t.Errorf("expected the final frame to be a degraded marker, got %s", last.Kind)
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	h := NewHub()
	ch1, unsub1 := h.Subscribe("run-1")
	ch2, unsub2 := h.Subscribe("run-1")
	defer unsub1()
	defer unsub2()

	h.Publish("run-1", domain.Activity{RunID: "run-1", Kind: domain.ActivityRunCompleted})

	for _, ch := range []<-chan domain.Activity{ch1, ch2} {
		select {
		case a := <-ch:
			if a.Kind != domain.ActivityRunCompleted {
				t.Errorf("got %s, want %s", a.Kind, domain.ActivityRunCompleted)
			}
		case <-time.After(time.Second):
			t.Fatal("expected both subscribers to receive the activity")
		}
	}
}
