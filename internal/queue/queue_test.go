package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	want := Message{Kind: KindLoginCode, StudentID: "s1", ConfigID: "c1"}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	select {
	case got := <-out:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	t.Run("cancel closes the stream", func(t *testing.T) {
		cancel()
		select {
		case _, ok := <-out:
			if ok {
				t.Fatal("expected closed channel")
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed after cancel")
		}
	})
}

func TestInMemoryPublishBlockedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	if err := q.Publish(ctx, Message{Kind: KindBooked}); err != nil {
		t.Fatal(err)
	}
	cancel()
	// Buffer is full and nobody is consuming.
	if err := q.Publish(ctx, Message{Kind: KindBooked}); err == nil {
		t.Fatal("expected context error on blocked publish")
	}
}
