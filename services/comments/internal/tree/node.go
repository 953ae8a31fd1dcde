package tree

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies which owning entity a comment tree is attached to.
// It is fixed when the tree is minted and never changes.
type Kind string

const (
	KindPost   Kind = "post"
	KindReview Kind = "review"
	KindShelf  Kind = "shelf"
)

// ParseKind maps a string to a Kind. Accepts both the singular kind
// name and the plural form used in URL paths.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "post", "posts":
		return KindPost, nil
	case "review", "reviews":
		return KindReview, nil
	case "shelf", "shelves":
		return KindShelf, nil
	}
	return "", fmt.Errorf("unknown attachment kind %q", s)
}

// Node is one comment row. Left/Right are the nested-set bounds and are
// owned by the engine; callers never set them.
type Node struct {
	ID        string     `json:"id"`
	TreeID    string     `json:"tree_id"`
	ParentID  *string    `json:"parent_id,omitempty"`
	Left      int        `json:"-"`
	Right     int        `json:"-"`
	Depth     int        `json:"depth"`
	Kind      Kind       `json:"attachment_kind"`
	AuthorID  string     `json:"author_id"`
	Content   string     `json:"content"`
	PageRef   *int       `json:"page_ref,omitempty"`
	LikeCount int        `json:"like_count"`
	FlagCount int        `json:"flag_count"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// IsRoot reports whether the node is a top-level comment.
func (n Node) IsRoot() bool { return n.ParentID == nil }

// Contains reports whether d lies strictly inside n's interval,
// i.e. d is a descendant of n when both share a tree.
func (n Node) Contains(d Node) bool {
	return n.TreeID == d.TreeID && n.Left < d.Left && d.Right < n.Right
}

// SubtreeWidth is the number of bound slots the subtree occupies.
func (n Node) SubtreeWidth() int { return n.Right - n.Left + 1 }

// NewComment is the caller-supplied payload for an insert.
type NewComment struct {
	AuthorID string
	Content  string
	PageRef  *int
}

// Sentinel errors surfaced by the engine.
var (
	// ErrNotFound means the referenced node or tree does not exist.
	ErrNotFound = errors.New("comment not found")
	// ErrCycle means a move would make a node a descendant of itself.
	ErrCycle = errors.New("move would create a cycle")
	// ErrCrossTree means a move target belongs to a different tree.
	ErrCrossTree = errors.New("move target belongs to a different tree")
	// ErrContention means the retry budget for a contended tree was spent.
	// Transient: the caller may retry the whole mutation.
	ErrContention = errors.New("tree mutation contention")
	// ErrForbidden means the caller is not the author of the comment.
	ErrForbidden = errors.New("not the comment author")
	// ErrConflict is returned by stores when a transaction lost a race
	// and should be retried. The engine retries it internally and never
	// lets it escape; callers see ErrContention instead.
	ErrConflict = errors.New("transaction conflict")
)
