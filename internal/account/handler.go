package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/middleware"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/response"
)

// Handler serves the auth routes.
type Handler struct {
	svc            *Service
	authMiddleware *middleware.AuthMiddleware
}

func NewHandler(svc *Service, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{svc: svc, authMiddleware: authMiddleware}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", h.authMiddleware.RequireAuth(), h.GetMe)
	}
}

func (h *Handler) Signup(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid signup request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.svc.Signup(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrStudentExists):
			response.Conflict(c, "an account with this USN already exists")
		case errors.Is(err, domain.ErrEmptyIdentity), errors.Is(err, domain.ErrEmptyDisplayName):
			response.Unprocessable(c, err.Error())
		default:
			response.InternalError(c, "failed to sign up")
		}
		return
	}

	setSessionCookie(c, result.Token, result.ExpiresAt)
	response.Created(c, result)
}

func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid login request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.svc.Login(ctx, &req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, "invalid USN or password")
			return
		}
		l.Error().Err(err).Msg("login failed")
		response.InternalError(c, "failed to login")
		return
	}

	setSessionCookie(c, result.Token, result.ExpiresAt)
	response.Success(c, result)
}

// Logout clears the session cookie. Bearer tokens held by clients stay valid
// until they expire.
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
	response.Success(c, gin.H{"loggedOut": true})
}

// setSessionCookie lets browsers reach the gateway, which reads the cookie
// on upgrade.
func setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, int(time.Until(expiresAt).Seconds()), "/", "", false, true)
}

func (h *Handler) GetMe(c *gin.Context) {
	student, err := h.svc.Me(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			response.NotFound(c, "student not found")
			return
		}
		response.InternalError(c, "failed to load student")
		return
	}
	response.Success(c, student)
}
