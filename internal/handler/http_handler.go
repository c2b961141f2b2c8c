package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/gateway"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// HTTPHandler serves the gateway's plain HTTP endpoints.
type HTTPHandler struct {
	gw *gateway.Gateway
}

func NewHTTPHandler(gw *gateway.Gateway) *HTTPHandler {
	return &HTTPHandler{gw: gw}
}

// PresenceResponse is the body of GET /api/v1/presence.
type PresenceResponse struct {
	Users       []domain.OnlineUser `json:"users"`
	TotalOnline int                 `json:"totalOnline"`
}

// RegisterRoutes mounts every gateway route on r.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router, ws *WSHandler) {
	r.HandleFunc("/chat/ws", ws.HandleWebSocket)
	r.HandleFunc("/api/v1/presence", h.GetPresence).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// GetPresence handles GET /api/v1/presence
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	users, err := h.gw.OnlineUsers(r.Context())
	if err != nil {
		l := log.Ctx(r.Context())
		l.Error().Err(err).Msg("presence snapshot failed")
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, PresenceResponse{Users: users, TotalOnline: len(users)})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
