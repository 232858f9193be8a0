package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"identra/internal/entity"
	"identra/internal/service"
	"identra/internal/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var middlewareTestSecret = []byte("middleware-test-secret")

type stubUserRepo struct {
	users map[uuid.UUID]*entity.User
}

func (r *stubUserRepo) Create(_ context.Context, user *entity.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *stubUserRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	return r.users[id], nil
}

func (r *stubUserRepo) FindByEmail(context.Context, string) (*entity.User, error) {
	return nil, nil
}

func (r *stubUserRepo) FindByUsername(context.Context, string) (*entity.User, error) {
	return nil, nil
}

func (r *stubUserRepo) Update(context.Context, *entity.User) error { return nil }

func (r *stubUserRepo) VerifyEmail(context.Context, uuid.UUID) error { return nil }

func (r *stubUserRepo) SetMFAEnabled(context.Context, uuid.UUID, bool) error { return nil }

func (r *stubUserRepo) List(context.Context, int, int) ([]entity.User, error) { return nil, nil }

func newGuard(users ...*entity.User) (AuthMiddleware, *utils.JWTManager) {
	repo := &stubUserRepo{users: map[uuid.UUID]*entity.User{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	manager := &utils.JWTManager{Secret: middlewareTestSecret, AccessTokenTTL: 30 * time.Minute}
	return AuthMiddleware{JWT: manager, Users: repo}, manager
}

func invoke(t *testing.T, guard AuthMiddleware, authorization string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := guard.RequireAuth(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return c, handler(c)
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T: %v", err, err)
	return he.Code
}

func TestRequireAuthHappyPath(t *testing.T) {
	user := &entity.User{ID: uuid.New(), Username: "alice", Role: entity.UserRoleUser}
	guard, manager := newGuard(user)

	sessionID := uuid.New()
	token, _, err := manager.IssueAccessToken(user.ID.String(), string(user.Role), sessionID.String(), false)
	require.NoError(t, err)

	c, err := invoke(t, guard, "Bearer "+token)
	require.NoError(t, err)

	got, ok := UserFromContext(c)
	require.True(t, ok)
	assert.Equal(t, user.ID, got.ID)

	gotSession, ok := SessionIDFromContext(c)
	require.True(t, ok)
	assert.Equal(t, sessionID, gotSession)
}

func TestRequireAuthBlocksHalfLoggedInToken(t *testing.T) {
	// The account turned MFA on; a token minted without a completed
	// challenge must be shut out even though its signature is fine.
	user := &entity.User{ID: uuid.New(), Username: "bob", Role: entity.UserRoleUser, MFAEnabled: true}
	guard, manager := newGuard(user)

	token, _, err := manager.IssueAccessToken(user.ID.String(), string(user.Role), uuid.NewString(), false)
	require.NoError(t, err)

	_, err = invoke(t, guard, "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, httpStatus(t, err))
}

func TestRequireAuthAcceptsMFAVerifiedToken(t *testing.T) {
	user := &entity.User{ID: uuid.New(), Username: "bob", Role: entity.UserRoleUser, MFAEnabled: true}
	guard, manager := newGuard(user)

	token, _, err := manager.IssueAccessToken(user.ID.String(), string(user.Role), uuid.NewString(), true)
	require.NoError(t, err)

	_, err = invoke(t, guard, "Bearer "+token)
	assert.NoError(t, err)
}

func TestRequireAuthRejectsMFATicketAsBearer(t *testing.T) {
	user := &entity.User{ID: uuid.New(), Username: "bob", Role: entity.UserRoleUser, MFAEnabled: true}
	guard, _ := newGuard(user)

	issuer := service.MFATicketIssuerJWT{Secret: middlewareTestSecret}
	ticket, _, err := issuer.IssueTicket(user.ID)
	require.NoError(t, err)

	_, err = invoke(t, guard, "Bearer "+ticket)
	assert.Equal(t, http.StatusUnauthorized, httpStatus(t, err))
}

func TestRequireAuthRejectsUnknownUser(t *testing.T) {
	guard, manager := newGuard()

	token, _, err := manager.IssueAccessToken(uuid.NewString(), "user", uuid.NewString(), true)
	require.NoError(t, err)

	_, err = invoke(t, guard, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, httpStatus(t, err))
}

func TestRequireAuthRejectsBadHeaders(t *testing.T) {
	user := &entity.User{ID: uuid.New(), Username: "alice", Role: entity.UserRoleUser}
	guard, _ := newGuard(user)

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic dXNlcjpwYXNz",
		"no token":     "Bearer",
		"garbage jwt":  "Bearer not-a-jwt",
		"wrong secret": "Bearer eyJhbGciOiJIUzI1NiJ9.e30.invalid",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := invoke(t, guard, header)
			assert.Equal(t, http.StatusUnauthorized, httpStatus(t, err))
		})
	}
}
