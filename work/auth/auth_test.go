package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"iptv-gate/work/database"
	"iptv-gate/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := NewService(db, testSecret, time.Hour)
	require.NoError(t, err)
	return svc.WithCost(bcrypt.MinCost)
}

func register(t *testing.T, svc *Service, caller *types.Identity, name string, role types.Role) *types.User {
	t.Helper()
	u, err := svc.Register(context.Background(), caller, RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "correct horse",
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	u := register(t, svc, nil, "alice", "")
	assert.Equal(t, types.RoleViewer, u.Role)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	sess, err := svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "bearer", sess.TokenType)
	assert.NotNil(t, sess.User.LastLogin)

	id, err := svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.UserID)
	assert.Equal(t, types.RoleViewer, id.Role)

	me, err := svc.Me(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
}

func TestLoginFailures(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	register(t, svc, nil, "bob", "")

	_, err := svc.Login(ctx, "bob", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterRules(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, RegisterRequest{Username: "eve", Email: "eve@example.com", Password: "correct horse", Role: types.RoleAdmin})
	assert.ErrorIs(t, err, ErrForbidden)

	admin := &types.Identity{UserID: "root", Username: "root", Role: types.RoleAdmin}
	u := register(t, svc, admin, "carol", types.RoleUser)
	assert.Equal(t, types.RoleUser, u.Role)

	_, err = svc.Register(ctx, nil, RegisterRequest{Username: "carol", Email: "other@example.com", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrUserExists)

	bad := []RegisterRequest{
		{Username: "x", Email: "x@example.com", Password: "correct horse"},
		{Username: "dave", Email: "not-an-email", Password: "correct horse"},
		{Username: "dave", Email: "dave@example.com", Password: "short"},
	}
	for _, req := range bad {
		_, err := svc.Register(ctx, nil, req)
		assert.ErrorIs(t, err, ErrInvalidUser, req.Username)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	register(t, svc, nil, "frank", "")

	sess, err := svc.Login(ctx, "frank", "correct horse")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, sess.Token+"x")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other, err := NewService(nil, "ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)
	_, err = other.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	later := svc.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = later.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRoleManagement(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u := register(t, svc, nil, "gina", "")

	viewer := types.Identity{UserID: u.ID, Username: u.Username, Role: types.RoleViewer}
	admin := types.Identity{UserID: "root", Username: "root", Role: types.RoleAdmin}

	assert.ErrorIs(t, svc.UpdateRole(ctx, viewer, u.ID, types.RoleAdmin), ErrForbidden)
	assert.ErrorIs(t, svc.UpdateRole(ctx, admin, u.ID, "superuser"), ErrInvalidUser)
	assert.ErrorIs(t, svc.UpdateRole(ctx, admin, "missing", types.RoleUser), ErrUserNotFound)
	require.NoError(t, svc.UpdateRole(ctx, admin, u.ID, types.RoleUser))

	_, err := svc.ListUsers(ctx, viewer)
	assert.ErrorIs(t, err, ErrForbidden)
	users, err := svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, types.RoleUser, users[0].Role)
}

func TestBootstrap(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Bootstrap(ctx, "", "", ""))
	require.NoError(t, svc.Bootstrap(ctx, "admin", "admin@example.com", "bootstrap-pass"))
	require.NoError(t, svc.Bootstrap(ctx, "admin", "admin@example.com", "bootstrap-pass"))

	sess, err := svc.Login(ctx, "admin", "bootstrap-pass")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, sess.User.Role)
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	register(t, svc, nil, "henry", "")
	sess, err := svc.Login(ctx, "henry", "correct horse")
	require.NoError(t, err)

	h := svc.Middleware(RequireRole(types.RoleViewer, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(FromContext(r.Context()).Username))
	}))
	userOnly := svc.Middleware(RequireRole(types.RoleUser, func(w http.ResponseWriter, r *http.Request) {}))

	do := func(handler http.Handler, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do(h, "Bearer "+sess.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "henry", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "Bearer garbage").Code)
	assert.Equal(t, http.StatusForbidden, do(userOnly, "Bearer "+sess.Token).Code)
}
