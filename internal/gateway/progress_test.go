package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestProgressHub_PublishToSubscriber(t *testing.T) {
	t.Parallel()

	h := NewProgressHub(testLogger())
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	h.Publish(ProgressEvent{RunID: "run-1", Text: "creating chat"})

	select {
	case ev := <-ch:
		if ev.RunID != "run-1" {
			t.Errorf("run_id = %q, want %q", ev.RunID, "run-1")
		}
		if ev.Time.IsZero() {
			t.Error("publish should stamp a time")
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestProgressHub_DropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	h := NewProgressHub(testLogger())
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// Overfill: Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(ProgressEvent{RunID: "run-1", Text: "step"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", got, subscriberBuffer)
	}
}

func TestProgressHub_NoSubscribers(t *testing.T) {
	t.Parallel()

	h := NewProgressHub(testLogger())
	h.Publish(ProgressEvent{RunID: "run-1", Text: "nobody listening"})
}

func TestProgressHub_WebSocketStream(t *testing.T) {
	t.Parallel()

	h := NewProgressHub(testLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Subscription happens inside ServeHTTP after the upgrade; poll until
	// the hub sees the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		n := len(h.subs)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	want := ProgressEvent{RunID: "run-7", Text: "topic 2/5 created"}
	h.Publish(want)

	var got ProgressEvent
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.RunID != want.RunID || got.Text != want.Text {
		t.Errorf("got %+v, want run_id %q text %q", got, want.RunID, want.Text)
	}
}
