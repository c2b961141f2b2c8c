package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/gateway"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/hub"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/middleware"
)

// WSHandler upgrades chat connections and wires them to the gateway.
type WSHandler struct {
	gw        *gateway.Gateway
	validator middleware.TokenValidator
	wsCfg     config.WebSocketConfig
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a WSHandler. validator may be nil, in which case
// presented tokens are ignored and every connection joins unverified.
func NewWSHandler(gw *gateway.Gateway, validator middleware.TokenValidator, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		gw:        gw,
		validator: validator,
		wsCfg:     wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsCfg.ReadBufferSize,
			WriteBufferSize: wsCfg.WriteBufferSize,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.Ctx(r.Context())

	verified := ""
	if token := middleware.TokenFromRequest(r); token != "" && h.validator != nil {
		claims, err := h.validator.Validate(token)
		if err != nil {
			l.Warn().Err(err).Msg("websocket upgrade with invalid session token")
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}
		verified = domain.NormalizeIdentity(claims.Identity())
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.New().String()
	ctx := log.WithLogger(context.Background(), l.With().Str(log.FieldConnID, id).Logger())
	client := hub.NewClient(id, conn, h.wsCfg)

	if err := h.gw.Connect(client, verified); err != nil {
		l.Warn().Err(err).Msg("gateway refused connection")
		_ = conn.Close()
		return
	}

	go client.WritePump(ctx)
	go client.ReadPump(ctx,
		func(frame []byte) {
			if err := h.gw.Receive(id, frame); err != nil {
				_ = client.Close()
			}
		},
		func() { _ = h.gw.Disconnect(id) },
	)
}

// originChecker allows every origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}
