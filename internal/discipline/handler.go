package discipline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/users"
)

// UserSource resolves route targets by username.
type UserSource interface {
	FindByUsername(ctx context.Context, username string) (*users.User, error)
}

// Handler exposes discipline management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	accounts  UserSource
	validator *validator.Validate
	errs      *httpx.ErrorMapper
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, accounts UserSource) *Handler {
	errs := httpx.NewErrorMapper().
		Map(ErrAlreadyBanned, http.StatusConflict, "Already Banned").
		Map(ErrInvalidKind, http.StatusBadRequest, "Invalid Kind").
		Map(ErrInvalidDuration, http.StatusBadRequest, "Invalid Duration").
		Map(ErrBlankReason, http.StatusBadRequest, "Invalid Reason").
		Map(ErrInsufficientAuthority, http.StatusForbidden, "Forbidden").
		Map(ErrNotFound, http.StatusNotFound, "Not Found").
		Map(users.ErrNotFound, http.StatusNotFound, "Not Found")
	return &Handler{
		logger:    logger,
		service:   service,
		accounts:  accounts,
		validator: validator.New(),
		errs:      errs,
	}
}

// MountRoutes registers discipline routes. The router is expected to have
// resolved the authenticated user already.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/users/{username}/disciplines", func(r chi.Router) {
		r.Get("/", h.listDisciplines)
		r.Post("/", h.issueDiscipline)
		r.Post("/{disciplineID}/rescind", h.rescindDiscipline)
	})
}

type issueRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=BAN SUSPENSION"`
	Reason        string `json:"reason" validate:"required"`
	DurationHours int    `json:"duration_hours" validate:"omitempty,min=1"`
}

type recordView struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	Reason        string     `json:"reason"`
	DurationHours int        `json:"duration_hours,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	Rescinded     bool       `json:"rescinded"`
	CanRescind    bool       `json:"can_rescind"`
}

type ledgerResponse struct {
	Username        string       `json:"username"`
	UnderDiscipline bool         `json:"under_discipline"`
	Active          []recordView `json:"active"`
	Inactive        []recordView `json:"inactive"`
}

func (h *Handler) issueDiscipline(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	if !actor.IsHigherAuthority(target) {
		h.errs.Respond(w, ErrInsufficientAuthority)
		return
	}

	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind and reason are required")
		return
	}

	issued, err := h.service.Issue(r.Context(), actor, target, Kind(req.Kind), req.Reason, req.DurationHours)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"issued": issued})
}

func (h *Handler) listDisciplines(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	active, err := h.service.ActiveDisciplines(r.Context(), target, actor)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	inactive, err := h.service.InactiveDisciplines(r.Context(), target)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	restricted, err := h.service.IsBannedOrSuspended(r.Context(), target)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledgerResponse{
		Username:        target.Username,
		UnderDiscipline: restricted,
		Active:          recordViews(active),
		Inactive:        recordViews(inactive),
	})
}

func (h *Handler) rescindDiscipline(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "disciplineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "discipline id must be numeric")
		return
	}
	record, err := h.service.GetByIDForUser(r.Context(), id, target)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	if err := h.service.Rescind(r.Context(), actor, record); err != nil {
		h.errs.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actorAndTarget resolves the acting user, runs them through the gate, and
// loads the user whose ledger the route addresses.
func (h *Handler) actorAndTarget(w http.ResponseWriter, r *http.Request) (*users.User, *users.User, bool) {
	actor := users.FromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return nil, nil, false
	}
	if err := h.service.HandleDisciplinedUser(r.Context(), actor); err != nil {
		var disciplined *DisciplinedUserError
		if errors.As(err, &disciplined) {
			httpx.Problem(w, http.StatusUnauthorized, "Account Disciplined", disciplined.Notice.Message())
			return nil, nil, false
		}
		h.logger.Error("discipline gate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, nil, false
	}

	target, err := h.accounts.FindByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.errs.Respond(w, err)
		return nil, nil, false
	}
	return actor, target, true
}

func recordViews(views []View) []recordView {
	out := make([]recordView, 0, len(views))
	for _, v := range views {
		view := recordView{
			ID:            v.ID,
			Kind:          string(v.Kind),
			Reason:        v.Reason,
			DurationHours: v.DurationHours,
			CreatedAt:     v.CreatedAt,
			Rescinded:     v.Rescinded,
			CanRescind:    v.CanRescind,
		}
		if end, ok := v.EndTime(); ok {
			view.EndsAt = &end
		}
		out = append(out, view)
	}
	return out
}
