package forum

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agora-forum/agora/internal/discipline"
	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
)

// Handler exposes thread and post endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	errs      *httpx.ErrorMapper
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	errs := httpx.NewErrorMapper().
		Map(ErrNotFound, http.StatusNotFound, "Not Found").
		Map(ErrThreadLocked, http.StatusConflict, "Thread Locked").
		Map(ErrThreadNotLocked, http.StatusConflict, "Thread Not Locked").
		Map(ErrPostDeleted, http.StatusConflict, "Post Deleted").
		Map(ErrPostNotDeleted, http.StatusConflict, "Post Not Deleted").
		Map(ErrBlankContent, http.StatusBadRequest, "Invalid Content").
		Map(ErrInsufficientAuthority, http.StatusForbidden, "Forbidden").
		Map(users.ErrNotFound, http.StatusNotFound, "Not Found")
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		errs:      errs,
	}
}

// MountPublicRoutes registers read-only routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/threads", h.listThreads)
	r.Get("/threads/{threadID}", h.showThread)
}

// MountAuthenticatedRoutes registers routes requiring a session.
func (h *Handler) MountAuthenticatedRoutes(r chi.Router) {
	r.Post("/threads", h.createThread)
	r.Post("/threads/{threadID}/posts", h.createPost)
}

// MountModerationRoutes registers routes the router guards with at least
// moderator rank.
func (h *Handler) MountModerationRoutes(r chi.Router) {
	r.Post("/threads/{threadID}/lock", h.lockThread)
	r.Post("/threads/{threadID}/unlock", h.unlockThread)
	r.Post("/posts/{postID}/delete", h.deletePost)
	r.Post("/posts/{postID}/restore", h.restorePost)
}

type createThreadRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"required"`
}

type createPostRequest struct {
	Content string `json:"content" validate:"required"`
}

type threadResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatorID int64     `json:"creator_id"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	CanLock   bool      `json:"can_lock"`
	CanUnlock bool      `json:"can_unlock"`
}

type postResponse struct {
	ID         int64     `json:"id"`
	ThreadID   int64     `json:"thread_id"`
	AuthorID   int64     `json:"author_id"`
	Content    string    `json:"content"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
	CanDelete  bool      `json:"can_delete"`
	CanRestore bool      `json:"can_restore"`
}

type pageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func (h *Handler) createThread(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "title and content are required")
		return
	}
	thread, err := h.service.CreateThread(r.Context(), actor, req.Title, req.Content)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, threadView(ThreadView{Thread: *thread}))
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	threadID, ok := h.pathID(w, r, "threadID")
	if !ok {
		return
	}
	var req createPostRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "content is required")
		return
	}
	post, err := h.service.CreatePost(r.Context(), actor, threadID, req.Content)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, postView(PostView{Post: *post}))
}

func (h *Handler) listThreads(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	views, pagination, err := h.service.ListThreads(r.Context(), users.FromContext(r.Context()), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	threads := make([]threadResponse, 0, len(views))
	for _, view := range views {
		threads = append(threads, threadView(view))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"threads": threads, "pagination": paginationView(pagination)})
}

func (h *Handler) showThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := h.pathID(w, r, "threadID")
	if !ok {
		return
	}
	viewer := users.FromContext(r.Context())
	thread, err := h.service.GetThread(r.Context(), viewer, threadID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	page, perPage := pageParams(r)
	posts, pagination, err := h.service.ListPosts(r.Context(), viewer, threadID, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	postViews := make([]postResponse, 0, len(posts))
	for _, view := range posts {
		postViews = append(postViews, postView(view))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"thread":     threadView(*thread),
		"posts":      postViews,
		"pagination": paginationView(pagination),
	})
}

func (h *Handler) lockThread(w http.ResponseWriter, r *http.Request) {
	h.threadLockAction(w, r, h.service.LockThread)
}

func (h *Handler) unlockThread(w http.ResponseWriter, r *http.Request) {
	h.threadLockAction(w, r, h.service.UnlockThread)
}

func (h *Handler) threadLockAction(w http.ResponseWriter, r *http.Request, action func(context.Context, *users.User, int64) (*Thread, error)) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	threadID, ok := h.pathID(w, r, "threadID")
	if !ok {
		return
	}
	thread, err := action(r.Context(), actor, threadID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, threadView(ThreadView{Thread: *thread}))
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	h.postModerationAction(w, r, h.service.DeletePost)
}

func (h *Handler) restorePost(w http.ResponseWriter, r *http.Request) {
	h.postModerationAction(w, r, h.service.RestorePost)
}

func (h *Handler) postModerationAction(w http.ResponseWriter, r *http.Request, action func(context.Context, *users.User, int64) error) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	postID, ok := h.pathID(w, r, "postID")
	if !ok {
		return
	}
	if err := action(r.Context(), actor, postID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	actor := users.FromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return nil, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", param+" must be numeric")
		return 0, false
	}
	return id, true
}

// respondError renders gate rejections with their notice and defers the
// rest to the sentinel mapper.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var disciplined *discipline.DisciplinedUserError
	if errors.As(err, &disciplined) {
		httpx.Problem(w, http.StatusUnauthorized, "Account Disciplined", disciplined.Notice.Message())
		return
	}
	h.errs.Respond(w, err)
}

func threadView(view ThreadView) threadResponse {
	return threadResponse{
		ID:        view.ID,
		Title:     view.Title,
		CreatorID: view.CreatorID,
		Locked:    view.Locked,
		CreatedAt: view.CreatedAt,
		CanLock:   view.CanLock,
		CanUnlock: view.CanUnlock,
	}
}

func postView(view PostView) postResponse {
	return postResponse{
		ID:         view.ID,
		ThreadID:   view.ThreadID,
		AuthorID:   view.AuthorID,
		Content:    view.Content,
		Deleted:    view.Deleted,
		CreatedAt:  view.CreatedAt,
		CanDelete:  view.CanDelete,
		CanRestore: view.CanRestore,
	}
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return page, perPage
}

func paginationView(p shared.Pagination) pageMeta {
	return pageMeta{Page: p.Page, PerPage: p.PerPage, Total: p.Total, TotalPages: p.TotalPages}
}
