package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/walletkun/Bookstagram/internal/platform/api"
	"github.com/walletkun/Bookstagram/internal/platform/auth"
	"github.com/walletkun/Bookstagram/internal/platform/events"
	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
)

type createCommentRequest struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id,omitempty"`
	PageRef  *int    `json:"page_ref,omitempty"`
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

type moveCommentRequest struct {
	NewParentID string `json:"new_parent_id"`
}

type threadResponse struct {
	Comments []tree.Node `json:"comments"`
}

// attachmentFromPath resolves the {kind} URL segment (posts, reviews,
// shelves) and the owning entity id.
func attachmentFromPath(r *http.Request) (tree.Attachment, string, bool) {
	kind, err := tree.ParseKind(strings.TrimSpace(chi.URLParam(r, "kind")))
	if err != nil {
		return nil, "", false
	}
	ownerID := strings.TrimSpace(chi.URLParam(r, "owner_id"))
	if ownerID == "" {
		return nil, "", false
	}
	return tree.AttachmentFor(kind), ownerID, true
}

// GetThread handles GET /v1/{kind}/{owner_id}/comments
func GetThread(e *tree.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, ownerID, ok := attachmentFromPath(r)
		if !ok {
			api.BadRequest(w, "INVALID_ATTACHMENT", "unknown attachment kind or missing owner id", "", nil)
			return
		}

		nodes, err := e.Thread(r.Context(), att, ownerID)
		if err != nil {
			api.Internal(w, "")
			return
		}
		api.WriteJSON(w, http.StatusOK, threadResponse{Comments: nodes})
	}
}

// CreateComment handles POST /v1/{kind}/{owner_id}/comments
func CreateComment(e *tree.Engine, pub *events.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		att, ownerID, ok := attachmentFromPath(r)
		if !ok {
			api.BadRequest(w, "INVALID_ATTACHMENT", "unknown attachment kind or missing owner id", "", nil)
			return
		}

		var req createCommentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			api.BadRequest(w, "EMPTY_CONTENT", "content must not be empty", "", nil)
			return
		}

		nc := tree.NewComment{AuthorID: userID, Content: req.Content, PageRef: req.PageRef}

		var created tree.Node
		var err error
		if req.ParentID == nil {
			created, err = e.Create(r.Context(), att, ownerID, nc)
		} else {
			parent, perr := e.Get(r.Context(), *req.ParentID)
			if perr != nil {
				writeTreeError(w, perr, "parent comment not found")
				return
			}
			treeID, terr := att.Lookup(r.Context(), e.Store(), ownerID)
			if terr != nil || parent.TreeID != treeID {
				api.BadRequest(w, "PARENT_MISMATCH", "parent belongs to a different thread", "", nil)
				return
			}
			created, err = e.Reply(r.Context(), *req.ParentID, nc)
		}
		if err != nil {
			writeTreeError(w, err, "comment not found")
			return
		}

		pub.Publish(events.SubjectCommentCreated, "comment_created", userID, map[string]any{
			"comment_id":      created.ID,
			"attachment_kind": string(created.Kind),
			"owner_id":        ownerID,
			"depth":           created.Depth,
		})
		api.WriteJSON(w, http.StatusCreated, created)
	}
}

// UpdateComment handles PUT /v1/comments/{comment_id}
func UpdateComment(e *tree.Engine, pub *events.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", "", nil)
			return
		}

		var req updateCommentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			api.BadRequest(w, "EMPTY_CONTENT", "content must not be empty", "", nil)
			return
		}

		if err := e.Edit(r.Context(), commentID, userID, req.Content); err != nil {
			writeTreeError(w, err, "comment not found")
			return
		}
		pub.Publish(events.SubjectCommentEdited, "comment_edited", userID, map[string]any{
			"comment_id": commentID,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// MoveComment handles POST /v1/comments/{comment_id}/move
func MoveComment(e *tree.Engine, pub *events.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", "", nil)
			return
		}

		var req moveCommentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
			return
		}
		if strings.TrimSpace(req.NewParentID) == "" {
			api.BadRequest(w, "MISSING_PARENT", "new_parent_id is required", "", nil)
			return
		}

		if err := e.Move(r.Context(), commentID, req.NewParentID); err != nil {
			writeTreeError(w, err, "comment not found")
			return
		}
		pub.Publish(events.SubjectCommentMoved, "comment_moved", userID, map[string]any{
			"comment_id":    commentID,
			"new_parent_id": req.NewParentID,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteComment handles DELETE /v1/comments/{comment_id}?cascade=true
func DeleteComment(e *tree.Engine, pub *events.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", "", nil)
			return
		}
		cascade := strings.EqualFold(r.URL.Query().Get("cascade"), "true")

		if err := e.Delete(r.Context(), commentID, cascade); err != nil {
			writeTreeError(w, err, "comment not found")
			return
		}
		pub.Publish(events.SubjectCommentDeleted, "comment_deleted", userID, map[string]any{
			"comment_id": commentID,
			"cascade":    cascade,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// LikeComment handles POST /v1/comments/{comment_id}/like
func LikeComment(e *tree.Engine) http.HandlerFunc {
	return counterHandler(e.Like)
}

// FlagComment handles POST /v1/comments/{comment_id}/flag
func FlagComment(e *tree.Engine) http.HandlerFunc {
	return counterHandler(e.Flag)
}

// counterHandler serves the engagement counter endpoints; increments
// are direct field updates and never touch tree bounds.
func counterHandler(bump func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", "", nil)
			return
		}

		if err := bump(r.Context(), commentID); err != nil {
			writeTreeError(w, err, "comment not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeTreeError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, tree.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", notFoundMsg, "")
	case errors.Is(err, tree.ErrCycle):
		api.Conflict(w, "CYCLE", "move would make the comment its own descendant", "", nil)
	case errors.Is(err, tree.ErrCrossTree):
		api.Conflict(w, "CROSS_TREE", "comments belong to different threads", "", nil)
	case errors.Is(err, tree.ErrContention):
		api.Unavailable(w, "CONTENTION", "thread is busy, retry", "")
	case errors.Is(err, tree.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", "not the comment author", "")
	default:
		api.Internal(w, "")
	}
}
