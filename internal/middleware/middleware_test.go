package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gold_tally/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuthMiddleware(secret))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": c.GetString(CtxActor), "role": c.GetString(CtxRole)})
	})
	r.GET("/admin", AdminOnlyMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func call(t *testing.T, r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthMiddleware(t *testing.T) {
	r := router()
	assert.Equal(t, http.StatusUnauthorized, call(t, r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, r, "/me", "garbage").Code)

	wrong, err := utils.GenerateJWT(1, "ops@example.com", utils.RoleOperator, "other-secret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, r, "/me", wrong).Code)

	defaulted, err := utils.GenerateJWT(1, "ops@example.com", utils.RoleOperator, secret, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call(t, r, "/me", defaulted).Code, "non-positive ttl falls back to a day")

	token, err := utils.GenerateJWT(1, "ops@example.com", utils.RoleOperator, secret, time.Hour)
	require.NoError(t, err)
	w := call(t, r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"actor":"ops@example.com","role":"operator"}`, w.Body.String())
}

func TestAdminOnlyMiddleware(t *testing.T) {
	r := router()
	operator, _ := utils.GenerateJWT(1, "ops", utils.RoleOperator, secret, time.Hour)
	admin, _ := utils.GenerateJWT(2, "", utils.RoleAdmin, secret, time.Hour)

	assert.Equal(t, http.StatusForbidden, call(t, r, "/admin", operator).Code)
	assert.Equal(t, http.StatusNoContent, call(t, r, "/admin", admin).Code)
}

func TestClaimsActor(t *testing.T) {
	token, _ := utils.GenerateJWT(42, "", utils.RoleAdmin, secret, time.Hour)
	claims, err := utils.ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user:42", claims.Actor())
}
