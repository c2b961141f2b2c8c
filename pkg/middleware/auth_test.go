package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangam-gaddi/becbilldeskbeta/pkg/jwt"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"header", func(r *http.Request) { r.Header.Set(AuthHeaderKey, "Bearer abc ") }, "abc"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=q1" }, "q1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "c1"}) }, "c1"},
		{"header wins", func(r *http.Request) {
			r.Header.Set(AuthHeaderKey, "Bearer h1")
			r.URL.RawQuery = "token=q1"
		}, "h1"},
		{"basic auth ignored", func(r *http.Request) { r.Header.Set(AuthHeaderKey, "Basic xyz") }, ""},
		{"none", func(*http.Request) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr, err := jwt.NewManager("secret", time.Hour, "")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(mgr).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetIdentity(c)+"|"+GetDisplayName(c))
	})

	token, _, err := mgr.Issue("1BEC042", "Ravi")
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1BEC042|Ravi", w.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=bogus", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})
}

func TestRequireScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr, err := jwt.NewManager("secret", time.Hour, "")
	require.NoError(t, err)

	r := gin.New()
	r.POST("/ingest", NewAuthMiddleware(mgr).RequireScope("archive:write"), func(c *gin.Context) {
		c.String(http.StatusOK, GetIdentity(c))
	})

	service, _, err := mgr.IssueScoped("chat-gateway", "archive:write")
	require.NoError(t, err)
	session, _, err := mgr.Issue("1BEC042", "Ravi")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"service token", service, http.StatusOK},
		{"student session", session, http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
			if tt.token != "" {
				req.Header.Set(AuthHeaderKey, BearerPrefix+tt.token)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	t.Run("service token rejected as session", func(t *testing.T) {
		r := gin.New()
		r.GET("/me", NewAuthMiddleware(mgr).RequireAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+service)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
