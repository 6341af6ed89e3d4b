package relay

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vozconnect/pkg/jwt"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *jwt.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := jwt.NewJWTManager("test-secret-key", time.Minute)
	router := gin.New()
	router.GET("/ws", AuthMiddleware(manager), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return router, manager
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareTokenInQuery(t *testing.T) {
	router, manager := newAuthRouter(t)

	token, err := manager.GenerateAccessToken("alice", "alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestAuthMiddlewareTokenInHeader(t *testing.T) {
	router, manager := newAuthRouter(t)

	token, err := manager.GenerateAccessToken("alice", "alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareSubjectMismatch(t *testing.T) {
	router, manager := newAuthRouter(t)

	token, err := manager.GenerateAccessToken("alice", "alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token+"&userId=bob", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthMiddlewareWrongSigningKey(t *testing.T) {
	router, _ := newAuthRouter(t)

	other := jwt.NewJWTManager("another-secret", time.Minute)
	token, err := other.GenerateAccessToken("alice", "alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
