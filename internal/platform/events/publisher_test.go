package events

import "testing"

func TestPublish_NilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	// Must not panic.
	p.Publish(SubjectCommentCreated, "comment_created", "user-1", nil)
}

func TestPublish_NoJetStreamIsNoop(t *testing.T) {
	p := New(nil, nil)
	p.Publish(SubjectCommentDeleted, "comment_deleted", "", map[string]any{"comment_id": "c1"})
}
