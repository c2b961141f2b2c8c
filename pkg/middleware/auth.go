package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sangam-gaddi/becbilldeskbeta/pkg/jwt"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/response"
)

const (
	IdentityKey    = log.FieldIdentity
	DisplayNameKey = log.FieldDisplayName
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
	SessionCookie  = "session"
	TokenQueryKey  = "token"
)

// TokenValidator verifies a session token.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// ScopeValidator verifies service tokens.
type ScopeValidator interface {
	ValidateScope(token, scope string) (*jwt.Claims, error)
}

// AuthMiddleware validates session tokens locally with the shared secret.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth rejects requests without a valid token and stores the identity
// in the gin context under IdentityKey.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			response.Unauthorized(c, "missing session token")
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			l := log.Ctx(c.Request.Context())
			l.Debug().Err(err).Msg("session token rejected")
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(IdentityKey, claims.Identity())
		c.Set(DisplayNameKey, claims.Name)
		c.Request = c.Request.WithContext(
			log.WithStr(c.Request.Context(), log.FieldIdentity, claims.Identity()),
		)
		c.Next()
	}
}

// RequireScope admits only service tokens issued for scope. The token
// subject is stored under IdentityKey.
func (m *AuthMiddleware) RequireScope(scope string) gin.HandlerFunc {
	sv, _ := m.validator.(ScopeValidator)
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" || sv == nil {
			response.Unauthorized(c, "missing service token")
			return
		}

		claims, err := sv.ValidateScope(token, scope)
		if err != nil {
			l := log.Ctx(c.Request.Context())
			l.Warn().Err(err).Str("scope", scope).Msg("service token rejected")
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(IdentityKey, claims.Identity())
		c.Next()
	}
}

// GetIdentity extracts the authenticated identity from the gin context.
func GetIdentity(c *gin.Context) string {
	return c.GetString(IdentityKey)
}

// GetDisplayName extracts the authenticated display name from the gin context.
func GetDisplayName(c *gin.Context) string {
	return c.GetString(DisplayNameKey)
}

// TokenFromRequest looks for a session token in the Authorization header, the
// token query parameter, then the session cookie. Browsers cannot set headers
// on WebSocket upgrades, hence the query and cookie fallbacks.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	if q := r.URL.Query().Get(TokenQueryKey); q != "" {
		return q
	}
	if ck, err := r.Cookie(SessionCookie); err == nil {
		return ck.Value
	}
	return ""
}
