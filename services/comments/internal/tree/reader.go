package tree

import (
	"context"
	"errors"
)

// Read operations. All are pure boundary arithmetic over a consistent
// snapshot of one tree; none mutate state.

// Get returns a single node by id.
func (e *Engine) Get(ctx context.Context, nodeID string) (Node, error) {
	treeID, err := e.store.TreeOf(ctx, nodeID)
	if err != nil {
		return Node{}, err
	}
	var out Node
	err = e.store.View(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		out, err = tx.Get(ctx, nodeID)
		return err
	})
	return out, err
}

// Ancestors returns the chain above nodeID in root-to-parent order.
func (e *Engine) Ancestors(ctx context.Context, nodeID string) ([]Node, error) {
	return e.selectAround(ctx, nodeID, func(target, n Node) bool {
		return n.Contains(target)
	})
}

// Descendants returns the subtree below nodeID in depth-first pre-order.
func (e *Engine) Descendants(ctx context.Context, nodeID string) ([]Node, error) {
	return e.selectAround(ctx, nodeID, func(target, n Node) bool {
		return target.Contains(n)
	})
}

// Siblings returns the other nodes sharing nodeID's parent, ordered by
// left bound. For a top-level comment these are the tree's other roots.
func (e *Engine) Siblings(ctx context.Context, nodeID string) ([]Node, error) {
	return e.selectAround(ctx, nodeID, func(target, n Node) bool {
		if n.ID == target.ID {
			return false
		}
		if target.ParentID == nil {
			return n.ParentID == nil
		}
		return n.ParentID != nil && *n.ParentID == *target.ParentID
	})
}

// SubtreeSize returns the number of descendants of nodeID.
func (e *Engine) SubtreeSize(ctx context.Context, nodeID string) (int, error) {
	n, err := e.Get(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return (n.Right - n.Left - 1) / 2, nil
}

// Thread returns the whole comment forest of an owning entity in
// depth-first pre-order. An entity without comments yields an empty
// slice, not an error.
func (e *Engine) Thread(ctx context.Context, att Attachment, ownerID string) ([]Node, error) {
	treeID, err := att.Lookup(ctx, e.store, ownerID)
	if errors.Is(err, ErrNotFound) {
		return []Node{}, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Node
	err = e.store.View(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		out, err = tx.ScanTree(ctx, treeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Node{}
	}
	return out, nil
}

// selectAround scans the target's tree and keeps nodes matching the
// predicate, preserving left-bound order from the scan.
func (e *Engine) selectAround(ctx context.Context, nodeID string, keep func(target, n Node) bool) ([]Node, error) {
	treeID, err := e.store.TreeOf(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	out := []Node{}
	err = e.store.View(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		target, err := tx.Get(ctx, nodeID)
		if err != nil {
			return err
		}
		nodes, err := tx.ScanTree(ctx, treeID)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if keep(target, n) {
				out = append(out, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
