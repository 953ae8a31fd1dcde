package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultMaxRetries = 3

// Engine is the single implementation of the comment tree algorithm.
// It maintains the nested-set bounds so that containment queries stay
// O(1) while mutations pay an O(n) renumbering cost scoped to one tree.
type Engine struct {
	store      NodeStore
	maxRetries int
}

// NewEngine wraps a NodeStore. maxRetries bounds how often a mutation is
// retried after a storage-level conflict before ErrContention surfaces;
// values < 1 fall back to the default.
func NewEngine(store NodeStore, maxRetries int) *Engine {
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	return &Engine{store: store, maxRetries: maxRetries}
}

// Store exposes the underlying NodeStore for collaborators that apply
// direct field updates (counters, content edits).
func (e *Engine) Store() NodeStore { return e.store }

// mutate runs fn under the per-tree serialization scope, retrying
// conflicted transactions a bounded number of times.
func (e *Engine) mutate(ctx context.Context, treeID string, fn func(ctx context.Context, tx TreeTx) error) error {
	var err error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		err = e.store.Mutate(ctx, treeID, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrContention, e.maxRetries, err)
}

// Create inserts a top-level comment for the owning entity. The first
// comment mints the tree (bounds 1,2); later top-level comments are
// appended as additional roots after the current maximum bound.
func (e *Engine) Create(ctx context.Context, att Attachment, ownerID string, nc NewComment) (Node, error) {
	treeID, err := att.Attach(ctx, e.store, ownerID)
	if err != nil {
		return Node{}, err
	}

	n := Node{
		ID:        uuid.NewString(),
		TreeID:    treeID,
		Depth:     0,
		Kind:      att.Kind(),
		AuthorID:  nc.AuthorID,
		Content:   nc.Content,
		PageRef:   nc.PageRef,
		CreatedAt: time.Now().UTC(),
	}

	err = e.mutate(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		maxRight, err := tx.MaxRight(ctx, treeID)
		if err != nil {
			return err
		}
		n.Left = maxRight + 1
		n.Right = maxRight + 2
		return tx.Put(ctx, n)
	})
	if err != nil {
		return Node{}, err
	}
	return n, nil
}

// Reply inserts a comment as the rightmost child of parentID.
func (e *Engine) Reply(ctx context.Context, parentID string, nc NewComment) (Node, error) {
	treeID, err := e.store.TreeOf(ctx, parentID)
	if err != nil {
		return Node{}, err
	}

	var n Node
	err = e.mutate(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		parent, err := tx.Get(ctx, parentID)
		if err != nil {
			return err
		}

		// Make room: two slots open up at the parent's right bound.
		if err := tx.ShiftLeft(ctx, treeID, parent.Right, 2); err != nil {
			return err
		}
		if err := tx.ShiftRight(ctx, treeID, parent.Right, 2); err != nil {
			return err
		}

		pid := parent.ID
		n = Node{
			ID:        uuid.NewString(),
			TreeID:    treeID,
			ParentID:  &pid,
			Left:      parent.Right,
			Right:     parent.Right + 1,
			Depth:     parent.Depth + 1,
			Kind:      parent.Kind,
			AuthorID:  nc.AuthorID,
			Content:   nc.Content,
			PageRef:   nc.PageRef,
			CreatedAt: time.Now().UTC(),
		}
		return tx.Put(ctx, n)
	})
	if err != nil {
		return Node{}, err
	}
	return n, nil
}

// Move relocates the subtree rooted at nodeID under newParentID as its
// rightmost child. Both nodes must belong to the same tree, and the new
// parent must not be the node itself or one of its descendants.
func (e *Engine) Move(ctx context.Context, nodeID, newParentID string) error {
	if nodeID == newParentID {
		return ErrCycle
	}
	treeID, err := e.store.TreeOf(ctx, nodeID)
	if err != nil {
		return err
	}
	parentTree, err := e.store.TreeOf(ctx, newParentID)
	if err != nil {
		return err
	}
	if parentTree != treeID {
		return ErrCrossTree
	}

	return e.mutate(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		nodes, err := tx.ScanTree(ctx, treeID)
		if err != nil {
			return err
		}

		var subject, parent *Node
		for i := range nodes {
			switch nodes[i].ID {
			case nodeID:
				subject = &nodes[i]
			case newParentID:
				parent = &nodes[i]
			}
		}
		if subject == nil || parent == nil {
			return ErrNotFound
		}
		if subject.Contains(*parent) {
			return ErrCycle
		}

		// Membership is decided before any renumbering: gap closure can
		// slide outside nodes into the old subtree window.
		before := make(map[string]Node, len(nodes))
		inSubtree := make(map[string]bool, len(nodes))
		subLeft, subRight := subject.Left, subject.Right
		for _, n := range nodes {
			before[n.ID] = n
			inSubtree[n.ID] = n.Left >= subLeft && n.Right <= subRight
		}
		width := subject.SubtreeWidth()

		// Detach: close the gap the subtree leaves behind.
		for i := range nodes {
			if inSubtree[nodes[i].ID] {
				continue
			}
			if nodes[i].Left > subRight {
				nodes[i].Left -= width
			}
			if nodes[i].Right > subRight {
				nodes[i].Right -= width
			}
		}

		// Re-open a gap of the same width at the new parent's right bound.
		newLeft := parent.Right
		for i := range nodes {
			if inSubtree[nodes[i].ID] {
				continue
			}
			if nodes[i].Left >= newLeft {
				nodes[i].Left += width
			}
			if nodes[i].Right >= newLeft {
				nodes[i].Right += width
			}
		}

		// Drop the subtree into the gap, preserving relative layout.
		offset := newLeft - subLeft
		depthDelta := parent.Depth + 1 - subject.Depth
		for i := range nodes {
			if !inSubtree[nodes[i].ID] {
				continue
			}
			nodes[i].Left += offset
			nodes[i].Right += offset
			nodes[i].Depth += depthDelta
		}
		subject.ParentID = &parent.ID

		for _, n := range nodes {
			if n != before[n.ID] {
				if err := tx.Put(ctx, n); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Delete removes a comment. With cascade the whole subtree goes; without
// it only the node itself is removed and its children are reparented to
// the node's parent, keeping their relative order. Detach-deleting a
// top-level comment promotes its children to top level.
func (e *Engine) Delete(ctx context.Context, nodeID string, cascade bool) error {
	treeID, err := e.store.TreeOf(ctx, nodeID)
	if err != nil {
		return err
	}
	if cascade {
		return e.mutate(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
			return e.deleteCascade(ctx, tx, treeID, nodeID)
		})
	}
	return e.mutate(ctx, treeID, func(ctx context.Context, tx TreeTx) error {
		return e.deleteDetach(ctx, tx, treeID, nodeID)
	})
}

func (e *Engine) deleteCascade(ctx context.Context, tx TreeTx, treeID, nodeID string) error {
	subject, err := tx.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	nodes, err := tx.ScanTree(ctx, treeID)
	if err != nil {
		return err
	}

	var victims []string
	for _, n := range nodes {
		if n.Left >= subject.Left && n.Right <= subject.Right {
			victims = append(victims, n.ID)
		}
	}
	if err := tx.Delete(ctx, victims...); err != nil {
		return err
	}

	width := subject.SubtreeWidth()
	if err := tx.ShiftLeft(ctx, treeID, subject.Right+1, -width); err != nil {
		return err
	}
	return tx.ShiftRight(ctx, treeID, subject.Right+1, -width)
}

func (e *Engine) deleteDetach(ctx context.Context, tx TreeTx, treeID, nodeID string) error {
	subject, err := tx.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	nodes, err := tx.ScanTree(ctx, treeID)
	if err != nil {
		return err
	}

	// Descendants slide one slot left and one level up; direct children
	// take over the deleted node's parent.
	for _, n := range nodes {
		if !subject.Contains(n) {
			continue
		}
		n.Left--
		n.Right--
		n.Depth--
		if n.ParentID != nil && *n.ParentID == subject.ID {
			n.ParentID = subject.ParentID
		}
		if err := tx.Put(ctx, n); err != nil {
			return err
		}
	}
	if err := tx.Delete(ctx, subject.ID); err != nil {
		return err
	}

	// The removed node contributed exactly two slots.
	if err := tx.ShiftLeft(ctx, treeID, subject.Right+1, -2); err != nil {
		return err
	}
	return tx.ShiftRight(ctx, treeID, subject.Right+1, -2)
}

// Edit replaces the content of a comment. Author-only; sibling order and
// bounds are untouched.
func (e *Engine) Edit(ctx context.Context, nodeID, authorID, content string) error {
	return e.store.UpdateContent(ctx, nodeID, authorID, content)
}

// Like and Flag increment engagement counters via direct field updates.
func (e *Engine) Like(ctx context.Context, nodeID string) error {
	return e.store.IncrementLike(ctx, nodeID, 1)
}

func (e *Engine) Flag(ctx context.Context, nodeID string) error {
	return e.store.IncrementFlag(ctx, nodeID, 1)
}
