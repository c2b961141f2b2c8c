package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/gateway"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/jwt"
)

const testSecret = "handler-test-secret"

func newServer(t *testing.T, requireToken bool) (*httptest.Server, *jwt.Manager) {
	t.Helper()

	manager, err := jwt.NewManager(testSecret, time.Hour, "test")
	require.NoError(t, err)

	gw := gateway.New(gateway.Config{CloseSuperseded: true, RequireToken: requireToken})
	ctx, cancel := context.WithCancel(context.Background())
	go gw.Run(ctx)

	wsCfg := config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  8192,
		PingInterval:    time.Second,
		PongWait:        5 * time.Second,
		WriteWait:       time.Second,
		SendBuffer:      64,
	}

	r := mux.NewRouter()
	NewHTTPHandler(gw).RegisterRoutes(r, NewWSHandler(gw, manager, wsCfg))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, manager
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	f, err := domain.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, f))
}

// expect reads frames until one with the given event arrives.
func expect(t *testing.T, conn *websocket.Conn, event string) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, f, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		env, err := domain.Decode(f)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}

func TestWebSocket_JoinAndGlobalMessage(t *testing.T) {
	srv, _ := newServer(t, false)

	a := dial(t, srv, "")
	send(t, a, domain.EventJoin, domain.JoinPayload{Identity: "1bec001", DisplayName: "Asha"})
	list := expect(t, a, domain.EventOnlineUsersList)
	var users domain.OnlineUsersListPayload
	require.NoError(t, json.Unmarshal(list.Data, &users))
	assert.Empty(t, users.Users)

	b := dial(t, srv, "")
	send(t, b, domain.EventJoin, domain.JoinPayload{Identity: "1BEC002", DisplayName: "Ravi"})
	expect(t, b, domain.EventOnlineUsersList)

	online := expect(t, a, domain.EventUserOnline)
	var up domain.UserOnlinePayload
	require.NoError(t, json.Unmarshal(online.Data, &up))
	assert.Equal(t, "1BEC002", up.Identity)
	assert.Equal(t, 2, up.TotalOnline)

	send(t, b, domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: "  hello  "})
	for _, c := range []*websocket.Conn{a, b} {
		env := expect(t, c, domain.EventNewGlobalMessage)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, "1BEC002", msg.SenderIdentity)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestWebSocket_DisconnectBroadcastsOffline(t *testing.T) {
	srv, _ := newServer(t, false)

	a := dial(t, srv, "")
	send(t, a, domain.EventJoin, domain.JoinPayload{Identity: "1BEC001", DisplayName: "Asha"})
	expect(t, a, domain.EventOnlineUsersList)

	b := dial(t, srv, "")
	send(t, b, domain.EventJoin, domain.JoinPayload{Identity: "1BEC002", DisplayName: "Ravi"})
	expect(t, b, domain.EventOnlineUsersList)
	expect(t, a, domain.EventUserOnline)

	require.NoError(t, b.Close())

	env := expect(t, a, domain.EventUserOffline)
	var off domain.UserOfflinePayload
	require.NoError(t, json.Unmarshal(env.Data, &off))
	assert.Equal(t, "1BEC002", off.Identity)
	assert.Equal(t, 1, off.TotalOnline)
}

func TestWebSocket_OversizedEventsKeepConnectionOpen(t *testing.T) {
	srv, _ := newServer(t, false)

	a := dial(t, srv, "")
	send(t, a, domain.EventJoin, domain.JoinPayload{Identity: "1BEC001", DisplayName: "Asha"})
	expect(t, a, domain.EventOnlineUsersList)

	// over the 8192-byte frame limit: dropped by the transport
	send(t, a, domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: strings.Repeat("x", 9000)})
	// under the frame limit but over the body limit: rejected by the gateway
	send(t, a, domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: strings.Repeat("y", domain.MaxMessageLength+1)})
	send(t, a, domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: "still here"})

	env := expect(t, a, domain.EventNewGlobalMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "still here", msg.Body)
	assert.Equal(t, 1, getPresence(t, srv).TotalOnline)
}

func TestWebSocket_InvalidTokenRejectedBeforeUpgrade(t *testing.T) {
	srv, _ := newServer(t, true)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws?token=not-a-jwt"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_TokenBindsIdentity(t *testing.T) {
	srv, manager := newServer(t, true)

	token, _, err := manager.Issue("1bec001", "Asha")
	require.NoError(t, err)

	a := dial(t, srv, token)
	send(t, a, domain.EventJoin, domain.JoinPayload{Identity: "1BEC999", DisplayName: "Mallory"})
	send(t, a, domain.EventJoin, domain.JoinPayload{Identity: "1BEC001", DisplayName: "Asha"})
	expect(t, a, domain.EventOnlineUsersList)

	anon := dial(t, srv, "")
	send(t, anon, domain.EventJoin, domain.JoinPayload{Identity: "1BEC002", DisplayName: "Ravi"})

	require.Eventually(t, func() bool {
		body := getPresence(t, srv)
		return body.TotalOnline == 1 && body.Users[0].Identity == "1BEC001"
	}, 2*time.Second, 20*time.Millisecond)
	require.Never(t, func() bool {
		return getPresence(t, srv).TotalOnline != 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func getPresence(t *testing.T, srv *httptest.Server) PresenceResponse {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body PresenceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestPresenceEndpoint(t *testing.T) {
	srv, _ := newServer(t, false)

	a := dial(t, srv, "")
	send(t, a, domain.EventJoin, domain.JoinPayload{Identity: "1BEC001", DisplayName: "Asha"})
	expect(t, a, domain.EventOnlineUsersList)

	body := getPresence(t, srv)
	assert.Equal(t, 1, body.TotalOnline)
	require.Len(t, body.Users, 1)
	assert.Equal(t, "Asha", body.Users[0].DisplayName)
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, false)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://portal.example.edu/"})

	req := httptest.NewRequest(http.MethodGet, "/chat/ws", nil)
	req.Header.Set("Origin", "https://PORTAL.example.edu")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}
