package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/platform/httpx"
)

// Gate aborts actions by disciplined users. Satisfied by the discipline
// service.
type Gate interface {
	HandleDisciplinedUser(ctx context.Context, user *User) error
}

// Handler manages account and rank endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      Gate
	validator *validator.Validate
	errs      *httpx.ErrorMapper
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate Gate) *Handler {
	errs := httpx.NewErrorMapper().
		Map(ErrNotFound, http.StatusNotFound, "Not Found").
		Map(ErrDuplicateUsername, http.StatusConflict, "Username Taken").
		Map(ErrDuplicateEmail, http.StatusConflict, "Email Taken").
		Map(ErrTokenNotFound, http.StatusNotFound, "Not Found").
		Map(ErrTokenExpired, http.StatusGone, "Token Expired").
		Map(ErrPasswordChangeNotAllowed, http.StatusForbidden, "Forbidden").
		Map(authority.ErrInsufficientAuthority, http.StatusForbidden, "Forbidden")
	return &Handler{
		logger:    logger,
		service:   service,
		gate:      gate,
		validator: validator.New(),
		errs:      errs,
	}
}

// MountPublicRoutes registers routes reachable without a session.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/users", h.register)
	r.Post("/users/verify", h.verifyEmail)
	r.Post("/users/resend-verification", h.resendVerification)
	r.Post("/users/password-reset", h.requestPasswordReset)
	r.Get("/users/{username}", h.showUser)
}

// MountRankRoutes registers promotion and demotion. The router guards these
// with at least administrator rank.
func (h *Handler) MountRankRoutes(r chi.Router) {
	r.Post("/users/{username}/promote", h.promote)
	r.Post("/users/{username}/demote", h.demote)
}

// MountAccountRoutes registers routes for the authenticated user's account.
func (h *Handler) MountAccountRoutes(r chi.Router) {
	r.Post("/users/me/password", h.changePassword)
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func userView(u *User) userResponse {
	roles := make([]string, 0, u.Roles.Len())
	for _, role := range u.Roles.Roles() {
		roles = append(roles, role.String())
	}
	return userResponse{ID: u.ID, Username: u.Username, Roles: roles, Enabled: u.Enabled, CreatedAt: u.CreatedAt}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	// Anonymous visitors pass straight through; a logged-in but disciplined
	// user may not create accounts either.
	if actor := FromContext(r.Context()); actor != nil {
		if err := h.gate.HandleDisciplinedUser(r.Context(), actor); err != nil {
			var noticed interface{ Message() string }
			if errors.As(err, &noticed) {
				httpx.Problem(w, http.StatusUnauthorized, "Account Disciplined", noticed.Message())
				return
			}
			h.logger.Error("discipline gate", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "username, email and password are required")
		return
	}
	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userView(user))
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "token is required")
		return
	}
	user, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView(user))
}

type usernameRequest struct {
	Username string `json:"username" validate:"required"`
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "username is required")
		return
	}
	if err := h.service.ResendVerification(r.Context(), req.Username); err != nil && !errors.Is(err, ErrNotFound) {
		// Unknown usernames read as success so the endpoint cannot be used
		// to probe accounts.
		h.errs.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email is required")
		return
	}
	user, err := h.service.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		h.errs.Respond(w, err)
		return
	}
	if err := h.service.GrantPasswordChange(r.Context(), user); err != nil {
		h.errs.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.gatedActor(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "new_password must be at least 8 characters")
		return
	}
	if err := h.service.ChangePassword(r.Context(), actor, req.NewPassword); err != nil {
		h.errs.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView(user))
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.rankChangeParties(w, r)
	if !ok {
		return
	}
	highest, ok := target.HighestAuthority()
	if !ok {
		h.errs.Respond(w, authority.ErrInsufficientAuthority)
		return
	}
	toRole, ok := authority.Next(highest)
	if !ok {
		h.errs.Respond(w, authority.ErrInsufficientAuthority)
		return
	}
	updated, err := h.service.Promote(r.Context(), actor, target, toRole)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView(updated))
}

func (h *Handler) demote(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.rankChangeParties(w, r)
	if !ok {
		return
	}
	highest, ok := target.HighestAuthority()
	if !ok {
		h.errs.Respond(w, authority.ErrInsufficientAuthority)
		return
	}
	toRole, ok := authority.Previous(highest)
	if !ok {
		h.errs.Respond(w, authority.ErrInsufficientAuthority)
		return
	}
	updated, err := h.service.Demote(r.Context(), actor, target, toRole)
	if err != nil {
		h.errs.Respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView(updated))
}

func (h *Handler) rankChangeParties(w http.ResponseWriter, r *http.Request) (*User, *User, bool) {
	actor, ok := h.gatedActor(w, r)
	if !ok {
		return nil, nil, false
	}
	target, err := h.service.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.errs.Respond(w, err)
		return nil, nil, false
	}
	return actor, target, true
}

func (h *Handler) gatedActor(w http.ResponseWriter, r *http.Request) (*User, bool) {
	actor := FromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return nil, false
	}
	if err := h.gate.HandleDisciplinedUser(r.Context(), actor); err != nil {
		var noticed interface{ Message() string }
		if errors.As(err, &noticed) {
			httpx.Problem(w, http.StatusUnauthorized, "Account Disciplined", noticed.Message())
			return nil, false
		}
		h.logger.Error("discipline gate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	return actor, true
}
