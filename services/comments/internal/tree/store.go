package tree

import "context"

// TreeTx is the storage surface a single mutation or read scope runs
// against. Bound shifts are bulk operations so SQL backends can do them
// in one statement.
type TreeTx interface {
	// Get returns the node by id or ErrNotFound.
	Get(ctx context.Context, id string) (Node, error)
	// Put inserts a node row, or rewrites its tree position (parent,
	// bounds, depth) if the row exists. Content, counters and
	// timestamps are owned by the direct NodeStore write paths.
	Put(ctx context.Context, n Node) error
	// Delete removes the given node rows.
	Delete(ctx context.Context, ids ...string) error
	// ScanTree returns every node of the tree ordered by left bound
	// ascending (depth-first pre-order).
	ScanTree(ctx context.Context, treeID string) ([]Node, error)
	// MaxRight returns the largest right bound in the tree, 0 if empty.
	MaxRight(ctx context.Context, treeID string) (int, error)
	// ShiftLeft adds delta to the left bound of every node in the tree
	// whose left bound is >= min.
	ShiftLeft(ctx context.Context, treeID string, min, delta int) error
	// ShiftRight does the same for right bounds.
	ShiftRight(ctx context.Context, treeID string, min, delta int) error
}

// NodeStore is durable keyed storage for tree nodes plus the attachment
// mapping. Mutation scopes on the same tree are serialized; scopes on
// different trees never block one another. A scope whose fn returns an
// error leaves the store untouched.
type NodeStore interface {
	// Mutate runs fn in an exclusive, atomic scope over one tree.
	// May return ErrConflict if the scope lost a race and should be retried.
	Mutate(ctx context.Context, treeID string, fn func(ctx context.Context, tx TreeTx) error) error
	// View runs fn in a consistent read-only scope over one tree.
	View(ctx context.Context, treeID string, fn func(ctx context.Context, tx TreeTx) error) error

	// ResolveTree maps an owning entity to its tree id, minting a fresh
	// tree id when mint is true and no mapping exists yet. Without mint
	// it returns ErrNotFound for unmapped entities.
	ResolveTree(ctx context.Context, kind Kind, ownerID string, mint bool) (string, error)
	// TreeOf returns the tree id a node belongs to, or ErrNotFound.
	TreeOf(ctx context.Context, nodeID string) (string, error)

	// Counter and content updates are direct field writes; they bypass
	// the tree mutation path and never touch bounds.
	IncrementLike(ctx context.Context, nodeID string, delta int) error
	IncrementFlag(ctx context.Context, nodeID string, delta int) error
	UpdateContent(ctx context.Context, nodeID, authorID, content string) error
}
