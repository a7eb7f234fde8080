package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/authority"
)

type allowAllGate struct{}

func (allowAllGate) HandleDisciplinedUser(_ context.Context, _ *User) error { return nil }

func newRankRouter(svc *Service) chi.Router {
	handler := NewHandler(nil, svc, allowAllGate{})
	r := chi.NewRouter()
	handler.MountRankRoutes(r)
	return r
}

func postRankChange(router chi.Router, actor *User, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req = req.WithContext(ContextWithUser(req.Context(), actor))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

// Denials at the rank boundaries must be indistinguishable from any other
// insufficient-authority denial, so the caller cannot tell whether the
// target sits at the top of the ladder, the bottom, or merely outranks them.
func TestRankChangeDenialsNeverRevealTargetRank(t *testing.T) {
	svc, repo, _ := newTestService()
	admin := seedUser(t, repo, "admin", authority.RoleAdministrator)
	seedUser(t, repo, "root", authority.RoleSuperAdministrator)
	seedUser(t, repo, "member", authority.RoleUser)
	seedUser(t, repo, "mod", authority.RoleModerator)
	router := newRankRouter(svc)

	// Ordinary denial for reference: an administrator cannot grant a rank
	// equal to their own.
	baseline := postRankChange(router, admin, "/users/mod/promote")
	require.Equal(t, http.StatusForbidden, baseline.Code)

	// Target already at the top of the ladder.
	topPromo := postRankChange(router, admin, "/users/root/promote")
	assert.Equal(t, http.StatusForbidden, topPromo.Code)
	assert.Equal(t, baseline.Body.String(), topPromo.Body.String())
	assert.NotContains(t, topPromo.Body.String(), "top")

	// Target already at the bottom of the ladder.
	bottomDemo := postRankChange(router, admin, "/users/member/demote")
	assert.Equal(t, http.StatusForbidden, bottomDemo.Code)
	assert.Equal(t, baseline.Body.String(), bottomDemo.Body.String())
	assert.NotContains(t, bottomDemo.Body.String(), "bottom")
}

func TestPromoteEndpointGrantsNextRank(t *testing.T) {
	svc, repo, _ := newTestService()
	admin := seedUser(t, repo, "admin", authority.RoleAdministrator)
	seedUser(t, repo, "member", authority.RoleUser)
	router := newRankRouter(svc)

	res := postRankChange(router, admin, "/users/member/promote")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), authority.RoleModerator.String())
}
