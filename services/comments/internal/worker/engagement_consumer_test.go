package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/walletkun/Bookstagram/services/comments/internal/store"
	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
)

func seedNode(t *testing.T, s *store.Memory, id string) {
	t.Helper()
	err := s.Mutate(context.Background(), "t1", func(ctx context.Context, tx tree.TreeTx) error {
		return tx.Put(ctx, tree.Node{ID: id, TreeID: "t1", Left: 1, Right: 2})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func likeCount(t *testing.T, s *store.Memory, id string) int {
	t.Helper()
	var n tree.Node
	err := s.View(context.Background(), "t1", func(ctx context.Context, tx tree.TreeTx) error {
		var err error
		n, err = tx.Get(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return n.LikeCount
}

func TestHandle_LikeEvent(t *testing.T) {
	s := store.NewMemory()
	seedNode(t, s, "c1")

	data, _ := json.Marshal(EngagementEvent{EventID: "e1", CommentID: "c1", UserID: "u1", Delta: 1})
	msg := &nats.Msg{Subject: "engagement.comments.like", Data: data}

	if err := handle(context.Background(), s, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := likeCount(t, s, "c1"); got != 1 {
		t.Fatalf("expected like_count 1, got %d", got)
	}
}

func TestHandle_ZeroDeltaDefaultsToOne(t *testing.T) {
	s := store.NewMemory()
	seedNode(t, s, "c1")

	data, _ := json.Marshal(EngagementEvent{EventID: "e1", CommentID: "c1"})
	msg := &nats.Msg{Subject: "engagement.comments.like", Data: data}

	if err := handle(context.Background(), s, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := likeCount(t, s, "c1"); got != 1 {
		t.Fatalf("expected like_count 1, got %d", got)
	}
}

func TestHandle_MissingCommentIsDropped(t *testing.T) {
	s := store.NewMemory()

	data, _ := json.Marshal(EngagementEvent{EventID: "e1", CommentID: "ghost"})
	msg := &nats.Msg{Subject: "engagement.comments.flag", Data: data}

	// Deleted comments must not cause redelivery loops.
	if err := handle(context.Background(), s, msg); err != nil {
		t.Fatalf("expected nil for missing comment, got %v", err)
	}
}

func TestHandle_UnknownActionIgnored(t *testing.T) {
	s := store.NewMemory()
	seedNode(t, s, "c1")

	data, _ := json.Marshal(EngagementEvent{EventID: "e1", CommentID: "c1"})
	msg := &nats.Msg{Subject: "engagement.comments.sparkle", Data: data}

	if err := handle(context.Background(), s, msg); err != nil {
		t.Fatalf("expected unknown action to be ignored, got %v", err)
	}
	if got := likeCount(t, s, "c1"); got != 0 {
		t.Fatalf("expected counters untouched, got %d", got)
	}
}

type fakeSub struct {
	mu      sync.Mutex
	batches [][]*nats.Msg
	cancel  context.CancelFunc
}

func (f *fakeSub) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		f.cancel()
		return nil, nats.ErrTimeout
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestConsumeLoop_AppliesBatchAndStopsOnCancel(t *testing.T) {
	s := store.NewMemory()
	seedNode(t, s, "c1")

	data, _ := json.Marshal(EngagementEvent{EventID: "e1", CommentID: "c1", Delta: 2})
	msg := &nats.Msg{Subject: "engagement.comments.like", Data: data}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakeSub{batches: [][]*nats.Msg{{msg}}, cancel: cancel}

	done := make(chan struct{})
	go func() {
		consumeLoop(ctx, sub, s)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop did not stop after cancellation")
	}
	if got := likeCount(t, s, "c1"); got != 2 {
		t.Fatalf("expected like_count 2, got %d", got)
	}
}

func TestHandle_MalformedPayload(t *testing.T) {
	s := store.NewMemory()
	msg := &nats.Msg{Subject: "engagement.comments.like", Data: []byte("not json")}

	if err := handle(context.Background(), s, msg); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
