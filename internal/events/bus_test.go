package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishDispatchesToAllSubscribers(t *testing.T) {
	b := New(8)
	var mu sync.Mutex
	var got []Event

	b.Subscribe(func(ctx context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	b.Publish(Event{Origin: Session, Kind: MessageAdded, URI: "cortex://session/thread-1", SessionID: "thread-1"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for event dispatch")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	mu.Lock()
	defer mu.Unlock()
	if got[0].Kind != MessageAdded || got[0].Origin != Session {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := New(1)
	block := make(chan struct{})
	b.Subscribe(func(ctx context.Context, ev Event) {
		<-block
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(Event{Origin: Session, Kind: MessageAdded, URI: "a"})
	time.Sleep(20 * time.Millisecond) // let it land in-flight in the handler
	b.Publish(Event{Origin: Session, Kind: MessageAdded, URI: "b"})
	b.Publish(Event{Origin: Session, Kind: MessageAdded, URI: "c"})
	close(block)
}
