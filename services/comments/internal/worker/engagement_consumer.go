package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
)

// EngagementEvent is published by the engagement and moderation
// collaborators when a comment is liked or flagged. Counter updates go
// through direct field writes, never the tree mutation path.
type EngagementEvent struct {
	EventID   string `json:"event_id"`
	CommentID string `json:"comment_id"`
	UserID    string `json:"user_id"`
	Delta     int    `json:"delta"`
	CreatedAt string `json:"created_at"`
}

// StartEngagementConsumer subscribes to engagement.comments.* and applies
// like/flag counter increments to the node store. It returns once the
// subscription is set up; consumption runs on a single background
// goroutine until ctx is done.
func StartEngagementConsumer(ctx context.Context, nc *nats.Conn, store tree.NodeStore) {
	js, err := nc.JetStream()
	if err != nil {
		log.Printf("engagement_consumer: jetstream: %v", err)
		return
	}

	sub, err := js.PullSubscribe("engagement.comments.*", "comments_engagement")
	if err != nil {
		log.Printf("engagement_consumer: subscribe: %v", err)
		return
	}

	go consumeLoop(ctx, sub, store)
}

type fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

func consumeLoop(ctx context.Context, sub fetcher, store tree.NodeStore) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(100, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			log.Printf("engagement_consumer: fetch: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			if err := handle(ctx, store, m); err != nil {
				log.Printf("engagement_consumer: %v", err)
				if err := m.Nak(); err != nil {
					log.Printf("engagement_consumer: nak: %v", err)
				}
				continue
			}
			if err := m.Ack(); err != nil {
				log.Printf("engagement_consumer: ack: %v", err)
			}
		}
	}
}

func handle(ctx context.Context, store tree.NodeStore, m *nats.Msg) error {
	var ev EngagementEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return err
	}
	delta := ev.Delta
	if delta == 0 {
		delta = 1
	}

	action := strings.TrimPrefix(m.Subject, "engagement.comments.")
	var err error
	switch action {
	case "like":
		err = store.IncrementLike(ctx, ev.CommentID, delta)
	case "flag":
		err = store.IncrementFlag(ctx, ev.CommentID, delta)
	default:
		log.Printf("engagement_consumer: unknown action %q", action)
		return nil
	}

	// A counter event for a deleted comment is not worth redelivering.
	if errors.Is(err, tree.ErrNotFound) {
		return nil
	}
	return err
}
