package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(m *Manager, roles ...Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/", Middleware(m))
	if len(roles) > 0 {
		grp.Use(RequireRole(roles...))
	}
	grp.GET("/whoami", func(c *gin.Context) {
		actor := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": actor.UserID, "role": actor.Role})
	})
	return r
}

func doGet(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	r := setupRouter(newTestManager())
	w := doGet(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareRejectsBadScheme(t *testing.T) {
	r := setupRouter(newTestManager())
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	m := newTestManager()
	r := setupRouter(m)
	tok, err := m.Issue("usr_a1b2c3d4e5f60718293a4b5c", RoleBuyer)
	require.NoError(t, err)

	w := doGet(r, tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "usr_a1b2c3d4e5f60718293a4b5c")
}

func TestRequireRoleForbidsOtherRoles(t *testing.T) {
	m := newTestManager()
	r := setupRouter(m, RoleSeller)

	tok, err := m.Issue("usr_a1b2c3d4e5f60718293a4b5c", RoleBuyer)
	require.NoError(t, err)
	w := doGet(r, tok)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleAllowsAdmin(t *testing.T) {
	m := newTestManager()
	r := setupRouter(m, RoleSeller)

	tok, err := m.Issue("usr_000000000000000000000000", RoleAdmin)
	require.NoError(t, err)
	w := doGet(r, tok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoleAllowsNamedRole(t *testing.T) {
	m := newTestManager()
	r := setupRouter(m, RoleSeller)

	tok, err := m.Issue("usr_111111111111111111111111", RoleSeller)
	require.NoError(t, err)
	w := doGet(r, tok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	m := newTestManager()
	m.ttl = -time.Minute
	tok, err := m.Issue("usr_a1b2c3d4e5f60718293a4b5c", RoleBuyer)
	require.NoError(t, err)

	r := setupRouter(m)
	w := doGet(r, tok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}
