package tree

import "context"

// Attachment maps an owning entity (a post, review or shelf) to its
// comment tree. There is exactly one tree engine; the three comment
// flavors differ only in how they resolve a tree id.
type Attachment interface {
	Kind() Kind
	// Attach returns the tree id for the owning entity, minting one on
	// first use.
	Attach(ctx context.Context, s NodeStore, ownerID string) (string, error)
	// Lookup returns the tree id without minting; ErrNotFound when the
	// entity has no comments yet.
	Lookup(ctx context.Context, s NodeStore, ownerID string) (string, error)
}

type attachment struct{ kind Kind }

func (a attachment) Kind() Kind { return a.kind }

func (a attachment) Attach(ctx context.Context, s NodeStore, ownerID string) (string, error) {
	return s.ResolveTree(ctx, a.kind, ownerID, true)
}

func (a attachment) Lookup(ctx context.Context, s NodeStore, ownerID string) (string, error) {
	return s.ResolveTree(ctx, a.kind, ownerID, false)
}

// The three comment flavors.
var (
	PostAttachment   Attachment = attachment{KindPost}
	ReviewAttachment Attachment = attachment{KindReview}
	ShelfAttachment  Attachment = attachment{KindShelf}
)

// AttachmentFor returns the attachment for a kind.
func AttachmentFor(k Kind) Attachment { return attachment{k} }
