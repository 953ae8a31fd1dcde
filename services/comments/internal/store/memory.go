package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
)

// Memory is a development and test implementation of tree.NodeStore.
// Mutation scopes on a tree are serialized by a per-tree lock, so
// mutations on different trees never block one another. Writes are
// staged in the scope and applied only when fn succeeds.
type Memory struct {
	mu     sync.RWMutex
	nodes  map[string]tree.Node
	attach map[string]string // kind "/" owner -> tree id

	lockMu sync.Mutex
	locks  map[string]*sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		nodes:  make(map[string]tree.Node),
		attach: make(map[string]string),
		locks:  make(map[string]*sync.RWMutex),
	}
}

func (s *Memory) treeLock(treeID string) *sync.RWMutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lk, ok := s.locks[treeID]
	if !ok {
		lk = &sync.RWMutex{}
		s.locks[treeID] = lk
	}
	return lk
}

func (s *Memory) Mutate(ctx context.Context, treeID string, fn func(ctx context.Context, tx tree.TreeTx) error) error {
	lk := s.treeLock(treeID)
	lk.Lock()
	defer lk.Unlock()

	tx := newMemTx(s, treeID)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Memory) View(ctx context.Context, treeID string, fn func(ctx context.Context, tx tree.TreeTx) error) error {
	lk := s.treeLock(treeID)
	lk.RLock()
	defer lk.RUnlock()
	return fn(ctx, newMemTx(s, treeID))
}

func (s *Memory) ResolveTree(_ context.Context, kind tree.Kind, ownerID string, mint bool) (string, error) {
	key := string(kind) + "/" + ownerID
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.attach[key]; ok {
		return id, nil
	}
	if !mint {
		return "", tree.ErrNotFound
	}
	id := uuid.NewString()
	s.attach[key] = id
	return id, nil
}

func (s *Memory) TreeOf(_ context.Context, nodeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return "", tree.ErrNotFound
	}
	return n.TreeID, nil
}

func (s *Memory) IncrementLike(_ context.Context, nodeID string, delta int) error {
	return s.bump(nodeID, func(n *tree.Node) { n.LikeCount += delta })
}

func (s *Memory) IncrementFlag(_ context.Context, nodeID string, delta int) error {
	return s.bump(nodeID, func(n *tree.Node) { n.FlagCount += delta })
}

// bump serializes with mutation scopes on the node's tree. A committing
// scope replays whole node copies, so an unserialized field write here
// would be overwritten by the stale staged copy.
func (s *Memory) bump(nodeID string, apply func(*tree.Node)) error {
	s.mu.RLock()
	n, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return tree.ErrNotFound
	}

	lk := s.treeLock(n.TreeID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok = s.nodes[nodeID]
	if !ok {
		return tree.ErrNotFound
	}
	apply(&n)
	s.nodes[nodeID] = n
	return nil
}

// UpdateContent takes the tree lock for the same reason bump does.
func (s *Memory) UpdateContent(_ context.Context, nodeID, authorID, content string) error {
	s.mu.RLock()
	n, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return tree.ErrNotFound
	}

	lk := s.treeLock(n.TreeID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok = s.nodes[nodeID]
	if !ok {
		return tree.ErrNotFound
	}
	if n.AuthorID != authorID {
		return tree.ErrForbidden
	}
	n.Content = content
	now := time.Now().UTC()
	n.UpdatedAt = &now
	s.nodes[nodeID] = n
	return nil
}

// memTx overlays staged writes on the shared maps. commit applies them
// under the store mutex; abandoning the tx discards them.
type memTx struct {
	s       *Memory
	treeID  string
	staged  map[string]tree.Node
	deleted map[string]bool
}

func newMemTx(s *Memory, treeID string) *memTx {
	return &memTx{
		s:       s,
		treeID:  treeID,
		staged:  make(map[string]tree.Node),
		deleted: make(map[string]bool),
	}
}

func (tx *memTx) commit() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for id := range tx.deleted {
		delete(tx.s.nodes, id)
	}
	for id, n := range tx.staged {
		tx.s.nodes[id] = n
	}
}

func (tx *memTx) Get(_ context.Context, id string) (tree.Node, error) {
	if tx.deleted[id] {
		return tree.Node{}, tree.ErrNotFound
	}
	if n, ok := tx.staged[id]; ok {
		return n, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	n, ok := tx.s.nodes[id]
	if !ok {
		return tree.Node{}, tree.ErrNotFound
	}
	return n, nil
}

func (tx *memTx) Put(_ context.Context, n tree.Node) error {
	delete(tx.deleted, n.ID)
	tx.staged[n.ID] = n
	return nil
}

func (tx *memTx) Delete(_ context.Context, ids ...string) error {
	for _, id := range ids {
		delete(tx.staged, id)
		tx.deleted[id] = true
	}
	return nil
}

func (tx *memTx) ScanTree(_ context.Context, treeID string) ([]tree.Node, error) {
	out := tx.snapshot(treeID)
	sort.Slice(out, func(i, j int) bool { return out[i].Left < out[j].Left })
	return out, nil
}

func (tx *memTx) MaxRight(_ context.Context, treeID string) (int, error) {
	max := 0
	for _, n := range tx.snapshot(treeID) {
		if n.Right > max {
			max = n.Right
		}
	}
	return max, nil
}

func (tx *memTx) ShiftLeft(ctx context.Context, treeID string, min, delta int) error {
	for _, n := range tx.snapshot(treeID) {
		if n.Left >= min {
			n.Left += delta
			if err := tx.Put(ctx, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tx *memTx) ShiftRight(ctx context.Context, treeID string, min, delta int) error {
	for _, n := range tx.snapshot(treeID) {
		if n.Right >= min {
			n.Right += delta
			if err := tx.Put(ctx, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// snapshot merges committed rows with the tx overlay for one tree.
func (tx *memTx) snapshot(treeID string) []tree.Node {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	var out []tree.Node
	for id, n := range tx.s.nodes {
		if n.TreeID != treeID || tx.deleted[id] {
			continue
		}
		if staged, ok := tx.staged[id]; ok {
			n = staged
		}
		out = append(out, n)
	}
	for id, n := range tx.staged {
		if n.TreeID != treeID {
			continue
		}
		if _, committed := tx.s.nodes[id]; !committed {
			out = append(out, n)
		}
	}
	return out
}
