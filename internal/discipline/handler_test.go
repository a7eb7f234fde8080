package discipline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/users"
)

// usernameDirectory adapts the ID-keyed mock directory to route lookups.
type usernameDirectory struct {
	dir *mockDirectory
}

func (d usernameDirectory) FindByUsername(_ context.Context, username string) (*users.User, error) {
	for _, u := range d.dir.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, users.ErrNotFound
}

func TestLedgerReportsDisciplineStatus(t *testing.T) {
	admin := forumUser(1, "admin", authority.RoleAdministrator)
	target := forumUser(2, "member", authority.RoleUser)
	fx := newServiceFixture(t, admin, target)
	handler := NewHandler(nil, fx.svc, usernameDirectory{fx.dir})
	router := chi.NewRouter()
	handler.MountRoutes(router)

	getLedger := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/users/member/disciplines", nil)
		req = req.WithContext(users.ContextWithUser(req.Context(), admin))
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		return res
	}

	res := getLedger()
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"under_discipline":false`)

	_, err := fx.svc.Issue(context.Background(), admin, target, KindSuspension, "spamming", 24)
	require.NoError(t, err)

	res = getLedger()
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"under_discipline":true`)
}
