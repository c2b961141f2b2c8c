package history

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/middleware"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/response"
)

// Reader and Writer are the service operations the HTTP layer needs.
type Reader interface {
	Global(ctx context.Context, limit int) ([]domain.Message, error)
	Private(ctx context.Context, self, peer string, limit int) ([]domain.Message, error)
}

type Writer interface {
	PostGlobal(ctx context.Context, sender, displayName, body string) (domain.Message, error)
	PostPrivate(ctx context.Context, sender, displayName, recipient, body string) (domain.Message, error)
}

type Handler struct {
	reader Reader
	writer Writer
}

func NewHandler(reader Reader, writer Writer) *Handler {
	return &Handler{reader: reader, writer: writer}
}

// MessagesResponse wraps a history page.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

type postGlobalRequest struct {
	Message string `json:"message"`
}

type postPrivateRequest struct {
	RecipientIdentity string `json:"recipientIdentity"`
	Message           string `json:"message"`
}

// RegisterRoutes mounts the message routes behind auth.
func (h *Handler) RegisterRoutes(r *gin.Engine, auth *middleware.AuthMiddleware) {
	messages := r.Group("/api/v1/messages")
	messages.Use(auth.RequireAuth())
	{
		messages.GET("/global", h.GetGlobal)
		messages.GET("/private/:peer", h.GetPrivate)
		messages.POST("/global", h.PostGlobal)
		messages.POST("/private", h.PostPrivate)
	}
}

// GetGlobal handles GET /api/v1/messages/global
func (h *Handler) GetGlobal(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	msgs, err := h.reader.Global(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "failed to get global messages")
		return
	}
	response.Success(c, MessagesResponse{Messages: msgs})
}

// GetPrivate handles GET /api/v1/messages/private/:peer
func (h *Handler) GetPrivate(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	msgs, err := h.reader.Private(c.Request.Context(), middleware.GetIdentity(c), c.Param("peer"), limit)
	if err != nil {
		h.fail(c, err, "failed to get private messages")
		return
	}
	response.Success(c, MessagesResponse{Messages: msgs})
}

// PostGlobal handles POST /api/v1/messages/global
func (h *Handler) PostGlobal(c *gin.Context) {
	var req postGlobalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.writer.PostGlobal(c.Request.Context(), middleware.GetIdentity(c), middleware.GetDisplayName(c), req.Message)
	if err != nil {
		h.fail(c, err, "failed to store message")
		return
	}
	response.Created(c, msg)
}

// PostPrivate handles POST /api/v1/messages/private
func (h *Handler) PostPrivate(c *gin.Context) {
	var req postPrivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.writer.PostPrivate(c.Request.Context(), middleware.GetIdentity(c), middleware.GetDisplayName(c),
		req.RecipientIdentity, req.Message)
	if err != nil {
		h.fail(c, err, "failed to store message")
		return
	}
	response.Created(c, msg)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrEmptyRecipient),
		errors.Is(err, domain.ErrEmptyIdentity):
		response.Unprocessable(c, err.Error())
	case errors.Is(err, ErrRecipientNotFound):
		response.NotFound(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(msg)
		response.InternalError(c, msg)
	}
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
