package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/walletkun/Bookstagram/internal/platform/auth"
	"github.com/walletkun/Bookstagram/services/comments/internal/store"
	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
)

func newTestEngine() *tree.Engine {
	return tree.NewEngine(store.NewMemory(), 3)
}

// setupReq builds a request with chi URL params and optional user_id in context.
func setupReq(method, url string, body string, params map[string]string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

func postParams(ownerID string) map[string]string {
	return map[string]string{"kind": "posts", "owner_id": ownerID}
}

func TestCreateComment_TopLevel(t *testing.T) {
	e := newTestEngine()
	handler := CreateComment(e, nil)

	req := setupReq(http.MethodPost, "/v1/posts/post-1/comments",
		`{"content":"loved this chapter","page_ref":42}`, postParams("post-1"), "user-a")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var n tree.Node
	if err := json.NewDecoder(rr.Body).Decode(&n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Content != "loved this chapter" {
		t.Fatalf("expected content echoed, got %q", n.Content)
	}
	if n.AuthorID != "user-a" {
		t.Fatalf("expected author 'user-a', got %q", n.AuthorID)
	}
	if n.Depth != 0 {
		t.Fatalf("expected depth 0, got %d", n.Depth)
	}
	if n.PageRef == nil || *n.PageRef != 42 {
		t.Fatalf("expected page_ref 42, got %v", n.PageRef)
	}
}

func TestCreateComment_Reply(t *testing.T) {
	e := newTestEngine()
	root, err := e.Create(context.Background(), tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "user-a", Content: "root"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := fmt.Sprintf(`{"content":"replying","parent_id":%q}`, root.ID)
	req := setupReq(http.MethodPost, "/v1/posts/post-1/comments", body, postParams("post-1"), "user-b")

	rr := httptest.NewRecorder()
	CreateComment(e, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var n tree.Node
	if err := json.NewDecoder(rr.Body).Decode(&n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.ParentID == nil || *n.ParentID != root.ID {
		t.Fatalf("expected parent %s, got %v", root.ID, n.ParentID)
	}
	if n.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", n.Depth)
	}
}

func TestCreateComment_ParentFromOtherThread(t *testing.T) {
	e := newTestEngine()
	other, _ := e.Create(context.Background(), tree.PostAttachment, "post-2", tree.NewComment{AuthorID: "user-a", Content: "other thread"})

	body := fmt.Sprintf(`{"content":"sneaky","parent_id":%q}`, other.ID)
	req := setupReq(http.MethodPost, "/v1/posts/post-1/comments", body, postParams("post-1"), "user-b")

	rr := httptest.NewRecorder()
	CreateComment(e, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateComment_Unauthorized(t *testing.T) {
	req := setupReq(http.MethodPost, "/v1/posts/post-1/comments", `{"content":"hi"}`, postParams("post-1"), "")
	rr := httptest.NewRecorder()
	CreateComment(newTestEngine(), nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateComment_EmptyContent(t *testing.T) {
	req := setupReq(http.MethodPost, "/v1/posts/post-1/comments", `{"content":"  "}`, postParams("post-1"), "user-a")
	rr := httptest.NewRecorder()
	CreateComment(newTestEngine(), nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetThread(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	root, _ := e.Create(ctx, tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "a", Content: "top"})
	reply, _ := e.Reply(ctx, root.ID, tree.NewComment{AuthorID: "b", Content: "nested"})

	req := setupReq(http.MethodGet, "/v1/posts/post-1/comments", "", postParams("post-1"), "")
	rr := httptest.NewRecorder()
	GetThread(e).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Comments []tree.Node `json:"comments"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(resp.Comments))
	}
	if resp.Comments[0].ID != root.ID || resp.Comments[1].ID != reply.ID {
		t.Fatal("expected pre-order: root then reply")
	}
	if resp.Comments[1].Depth != 1 {
		t.Fatalf("expected reply depth 1, got %d", resp.Comments[1].Depth)
	}
}

func TestGetThread_UnknownKind(t *testing.T) {
	req := setupReq(http.MethodGet, "/v1/magazines/m-1/comments", "",
		map[string]string{"kind": "magazines", "owner_id": "m-1"}, "")
	rr := httptest.NewRecorder()
	GetThread(newTestEngine()).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMoveComment_CycleConflict(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	root, _ := e.Create(ctx, tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "a", Content: "root"})
	child, _ := e.Reply(ctx, root.ID, tree.NewComment{AuthorID: "b", Content: "child"})

	body := fmt.Sprintf(`{"new_parent_id":%q}`, child.ID)
	req := setupReq(http.MethodPost, "/v1/comments/"+root.ID+"/move", body,
		map[string]string{"comment_id": root.ID}, "mod-1")

	rr := httptest.NewRecorder()
	MoveComment(e, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMoveComment_CrossTreeConflict(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	a, _ := e.Create(ctx, tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "a", Content: "a"})
	b, _ := e.Create(ctx, tree.PostAttachment, "post-2", tree.NewComment{AuthorID: "b", Content: "b"})

	body := fmt.Sprintf(`{"new_parent_id":%q}`, b.ID)
	req := setupReq(http.MethodPost, "/v1/comments/"+a.ID+"/move", body,
		map[string]string{"comment_id": a.ID}, "mod-1")

	rr := httptest.NewRecorder()
	MoveComment(e, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteComment_Cascade(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	root, _ := e.Create(ctx, tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "a", Content: "root"})
	child, _ := e.Reply(ctx, root.ID, tree.NewComment{AuthorID: "b", Content: "child"})
	_, _ = e.Reply(ctx, child.ID, tree.NewComment{AuthorID: "c", Content: "grandchild"})

	req := setupReq(http.MethodDelete, "/v1/comments/"+child.ID+"?cascade=true", "",
		map[string]string{"comment_id": child.ID}, "user-b")
	rr := httptest.NewRecorder()
	DeleteComment(e, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	thread, err := e.Thread(ctx, tree.PostAttachment, "post-1")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 1 {
		t.Fatalf("expected only the root to survive, got %d nodes", len(thread))
	}
}

func TestDeleteComment_NotFound(t *testing.T) {
	req := setupReq(http.MethodDelete, "/v1/comments/ghost", "",
		map[string]string{"comment_id": "ghost"}, "user-a")
	rr := httptest.NewRecorder()
	DeleteComment(newTestEngine(), nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLikeComment(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	root, _ := e.Create(ctx, tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "a", Content: "root"})

	req := setupReq(http.MethodPost, "/v1/comments/"+root.ID+"/like", "",
		map[string]string{"comment_id": root.ID}, "user-b")
	rr := httptest.NewRecorder()
	LikeComment(e).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	n, err := e.Get(ctx, root.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n.LikeCount != 1 {
		t.Fatalf("expected like_count 1, got %d", n.LikeCount)
	}
}

func TestUpdateComment_NonAuthorForbidden(t *testing.T) {
	e := newTestEngine()
	root, _ := e.Create(context.Background(), tree.PostAttachment, "post-1", tree.NewComment{AuthorID: "user-a", Content: "mine"})

	req := setupReq(http.MethodPut, "/v1/comments/"+root.ID, `{"content":"hijacked"}`,
		map[string]string{"comment_id": root.ID}, "user-b")
	rr := httptest.NewRecorder()
	UpdateComment(e, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
