package events

import (
	"testing"

	"github.com/oobits/snare/internal/models"
)

func TestHubPublishToSubscriber(t *testing.T) {
	h := NewHub()

	id, ch := h.Subscribe(1)
	defer h.Unsubscribe(1, id)

	ev := Event{Kind: models.KindDNS, Label: "abc123"}
	h.Publish(1, ev)

	select {
	case got := <-ch:
		if got.Kind != models.KindDNS || got.Label != "abc123" {
			t.Errorf("got %+v", got)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestHubOwnerIsolation(t *testing.T) {
	h := NewHub()

	id1, ch1 := h.Subscribe(1)
	defer h.Unsubscribe(1, id1)
	id2, ch2 := h.Subscribe(2)
	defer h.Unsubscribe(2, id2)

	h.Publish(1, Event{Label: "forone"})

	select {
	case <-ch2:
		t.Fatal("owner 2 received owner 1's event")
	default:
	}

	select {
	case got := <-ch1:
		if got.Label != "forone" {
			t.Errorf("label = %q", got.Label)
		}
	default:
		t.Fatal("owner 1 did not receive its event")
	}
}

func TestHubFanoutToAllSessions(t *testing.T) {
	h := NewHub()

	id1, ch1 := h.Subscribe(1)
	defer h.Unsubscribe(1, id1)
	id2, ch2 := h.Subscribe(1)
	defer h.Unsubscribe(1, id2)

	if id1 == id2 {
		t.Fatal("session ids should be distinct")
	}

	h.Publish(1, Event{Label: "both"})

	for n, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Label != "both" {
				t.Errorf("session %d: label = %q", n, got.Label)
			}
		default:
			t.Errorf("session %d did not receive the event", n)
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()

	id, ch := h.Subscribe(1)
	h.Unsubscribe(1, id)

	if _, open := <-ch; open {
		t.Error("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	h.Publish(1, Event{Label: "late"})

	// Unsubscribing twice is a no-op.
	h.Unsubscribe(1, id)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	h := NewHub()

	id, _ := h.Subscribe(1)
	defer h.Unsubscribe(1, id)

	// Nobody is draining: the buffer fills, later events drop.
	for i := 0; i < sessionBuffer*2; i++ {
		h.Publish(1, Event{Label: "burst"})
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	h := NewHub()
	h.Publish(42, Event{Label: "nobody"})
}
