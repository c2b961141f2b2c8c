package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	id     string
	frames [][]byte
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// drain returns and clears everything sent to c.
func (c *fakeConn) drain(t *testing.T) []domain.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := domain.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	c.frames = nil
	return out
}

type recordingArchiver struct {
	msgs []domain.Message
}

func (a *recordingArchiver) Archive(_ context.Context, m domain.Message) {
	a.msgs = append(a.msgs, m)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGateway(cfg Config, opts ...Option) *Gateway {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(cfg, opts...)
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	f, err := domain.Encode(event, payload)
	require.NoError(t, err)
	return f
}

func connect(g *Gateway, id string) *fakeConn {
	c := &fakeConn{id: id}
	g.handleConnect(c, "")
	return c
}

func join(t *testing.T, g *Gateway, c *fakeConn, identity, name string) {
	t.Helper()
	require.NoError(t, g.handleFrame(c.id, frame(t, domain.EventJoin, domain.JoinPayload{Identity: identity, DisplayName: name})))
}

func payload[T any](t *testing.T, env domain.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestJoinScenario(t *testing.T) {
	g := newTestGateway(Config{})
	c1 := connect(g, "c1")

	join(t, g, c1, "S1", "Alice")
	evs := c1.drain(t)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventUserOnline, evs[0].Event)
	assert.Equal(t, domain.UserOnlinePayload{Identity: "S1", DisplayName: "Alice", TotalOnline: 1},
		payload[domain.UserOnlinePayload](t, evs[0]))
	assert.Equal(t, domain.EventOnlineUsersList, evs[1].Event)
	assert.JSONEq(t, `{"users":[]}`, string(evs[1].Data))

	c2 := connect(g, "c2")
	join(t, g, c2, "S2", "Bob")

	evs = c1.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.UserOnlinePayload{Identity: "S2", DisplayName: "Bob", TotalOnline: 2},
		payload[domain.UserOnlinePayload](t, evs[0]))

	evs = c2.drain(t)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventUserOnline, evs[0].Event)
	assert.Equal(t, domain.EventOnlineUsersList, evs[1].Event)
	assert.Equal(t, []domain.OnlineUser{{Identity: "S1", DisplayName: "Alice"}},
		payload[domain.OnlineUsersListPayload](t, evs[1]).Users)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	g := newTestGateway(Config{})
	c1, c2 := connect(g, "c1"), connect(g, "c2")
	join(t, g, c1, "S1", "Alice")
	join(t, g, c2, "S2", "Bob")
	c1.drain(t)
	c2.drain(t)

	g.handleDisconnect("c1")

	evs := c2.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventUserOffline, evs[0].Event)
	assert.Equal(t, domain.UserOfflinePayload{Identity: "S1", TotalOnline: 1},
		payload[domain.UserOfflinePayload](t, evs[0]))
	assert.Empty(t, c1.drain(t))
	assert.Equal(t, 1, g.registry.Count())
}

func TestDisconnectBeforeJoinIsSilent(t *testing.T) {
	g := newTestGateway(Config{})
	c1, c2 := connect(g, "c1"), connect(g, "c2")
	join(t, g, c1, "S1", "Alice")
	c1.drain(t)

	g.handleDisconnect("c2")
	g.handleDisconnect("c2")

	assert.Empty(t, c1.drain(t))
	assert.Empty(t, c2.drain(t))
}

func TestIdentityIsNormalized(t *testing.T) {
	g := newTestGateway(Config{})
	c1 := connect(g, "c1")
	join(t, g, c1, "  2ba21cs001 ", " Alice ")

	evs := c1.drain(t)
	assert.Equal(t, domain.UserOnlinePayload{Identity: "2BA21CS001", DisplayName: "Alice", TotalOnline: 1},
		payload[domain.UserOnlinePayload](t, evs[0]))
}

func TestTypingGlobalNotEchoed(t *testing.T) {
	g := newTestGateway(Config{})
	c1, c2 := connect(g, "c1"), connect(g, "c2")
	join(t, g, c1, "S1", "Alice")
	join(t, g, c2, "S2", "Bob")
	c1.drain(t)
	c2.drain(t)

	require.NoError(t, g.handleFrame("c1", frame(t, domain.EventTypingGlobal, struct{}{})))

	assert.Empty(t, c1.drain(t))
	evs := c2.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventUserTypingGlobal, evs[0].Event)
	assert.Equal(t, domain.TypingPayload{Identity: "S1", DisplayName: "Alice"}, payload[domain.TypingPayload](t, evs[0]))
}

func TestTypingPrivateReachesOnlyRecipient(t *testing.T) {
	g := newTestGateway(Config{})
	c1, c2, c3 := connect(g, "c1"), connect(g, "c2"), connect(g, "c3")
	join(t, g, c1, "S1", "Alice")
	join(t, g, c2, "S2", "Bob")
	join(t, g, c3, "S3", "Carol")
	c1.drain(t)
	c2.drain(t)
	c3.drain(t)

	require.NoError(t, g.handleFrame("c1", frame(t, domain.EventTypingPrivate, domain.TypingPrivatePayload{RecipientIdentity: "s2"})))
	assert.Empty(t, c1.drain(t))
	assert.Len(t, c2.drain(t), 1)
	assert.Empty(t, c3.drain(t))

	require.NoError(t, g.handleFrame("c1", frame(t, domain.EventTypingPrivate, domain.TypingPrivatePayload{RecipientIdentity: "S9"})))
	assert.Empty(t, c1.drain(t))
}

func TestPrivateMessageDeliveredAndEchoed(t *testing.T) {
	arch := &recordingArchiver{}
	g := newTestGateway(Config{}, WithArchiver(arch))
	a, b := connect(g, "a"), connect(g, "b")
	join(t, g, a, "S1", "Alice")
	join(t, g, b, "S2", "Bob")
	a.drain(t)
	b.drain(t)

	require.NoError(t, g.handleFrame("a", frame(t, domain.EventSendPrivateMessage,
		domain.PrivateMessagePayload{RecipientIdentity: "S2", Message: "  hello bob "})))

	toB, toA := b.drain(t), a.drain(t)
	require.Len(t, toB, 1)
	require.Len(t, toA, 1)
	assert.Equal(t, domain.EventNewPrivateMessage, toB[0].Event)

	mb, ma := payload[domain.Message](t, toB[0]), payload[domain.Message](t, toA[0])
	assert.Equal(t, mb, ma)
	assert.Equal(t, "hello bob", mb.Body)
	assert.Equal(t, "S1", mb.SenderIdentity)
	assert.Equal(t, "Alice", mb.SenderDisplayName)
	assert.Equal(t, "S2", mb.RecipientIdentity)
	assert.Equal(t, domain.KindPrivate, mb.Kind)
	assert.True(t, fixedNow.Equal(mb.Timestamp))
	assert.NotEmpty(t, mb.ID)

	require.Len(t, arch.msgs, 1)
	assert.Equal(t, mb.ID, arch.msgs[0].ID)
}

func TestPrivateMessageToOfflineRecipientEchoesOnly(t *testing.T) {
	g := newTestGateway(Config{})
	a, idle := connect(g, "a"), connect(g, "idle")
	join(t, g, a, "S1", "Alice")
	a.drain(t)

	require.NoError(t, g.handleFrame("a", frame(t, domain.EventSendPrivateMessage,
		domain.PrivateMessagePayload{RecipientIdentity: "S2", Message: "are you there"})))

	evs := a.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventNewPrivateMessage, evs[0].Event)
	assert.Empty(t, idle.drain(t))
}

func TestGlobalMessageBroadcast(t *testing.T) {
	g := newTestGateway(Config{})
	a, b := connect(g, "a"), connect(g, "b")
	join(t, g, a, "S1", "Alice")
	join(t, g, b, "S2", "Bob")
	a.drain(t)
	b.drain(t)

	require.NoError(t, g.handleFrame("b", frame(t, domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: "hi all"})))

	for _, c := range []*fakeConn{a, b} {
		evs := c.drain(t)
		require.Len(t, evs, 1)
		assert.Equal(t, domain.EventNewGlobalMessage, evs[0].Event)
		m := payload[domain.Message](t, evs[0])
		assert.Equal(t, "S2", m.SenderIdentity)
		assert.Equal(t, domain.KindGlobal, m.Kind)
		assert.Empty(t, m.RecipientIdentity)
	}
}

func TestMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload any
		wantErr error
	}{
		{"global 1000 chars", domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: strings.Repeat("a", 1000)}, nil},
		{"global 1001 chars", domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: strings.Repeat("a", 1001)}, domain.ErrMessageTooLong},
		{"global blank", domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: "   "}, domain.ErrEmptyMessage},
		{"global missing", domain.EventSendGlobalMessage, struct{}{}, domain.ErrEmptyMessage},
		{"private blank", domain.EventSendPrivateMessage, domain.PrivateMessagePayload{RecipientIdentity: "S2", Message: "\t \n"}, domain.ErrEmptyMessage},
		{"private 1001 chars", domain.EventSendPrivateMessage, domain.PrivateMessagePayload{RecipientIdentity: "S2", Message: strings.Repeat("é", 1001)}, domain.ErrMessageTooLong},
		{"private no recipient", domain.EventSendPrivateMessage, domain.PrivateMessagePayload{Message: "hi"}, domain.ErrEmptyRecipient},
		{"typing private no recipient", domain.EventTypingPrivate, struct{}{}, domain.ErrEmptyRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(Config{})
			a, b := connect(g, "a"), connect(g, "b")
			join(t, g, a, "S1", "Alice")
			join(t, g, b, "S2", "Bob")
			a.drain(t)
			b.drain(t)

			err := g.handleFrame("a", frame(t, tt.event, tt.payload))
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Len(t, b.drain(t), 1)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, a.drain(t))
			assert.Empty(t, b.drain(t))
		})
	}
}

func TestEventsBeforeJoinAreRejected(t *testing.T) {
	g := newTestGateway(Config{})
	a, b := connect(g, "a"), connect(g, "b")
	join(t, g, b, "S2", "Bob")
	b.drain(t)

	for _, ev := range []string{
		domain.EventSendGlobalMessage,
		domain.EventSendPrivateMessage,
		domain.EventTypingGlobal,
		domain.EventTypingPrivate,
		domain.EventRequestOnlineUsers,
	} {
		err := g.handleFrame("a", frame(t, ev, domain.PrivateMessagePayload{RecipientIdentity: "S2", Message: "spoof"}))
		assert.ErrorIs(t, err, ErrNotJoined, ev)
	}
	assert.Empty(t, a.drain(t))
	assert.Empty(t, b.drain(t))

	// The connection stays usable.
	join(t, g, a, "S1", "Alice")
	assert.Len(t, a.drain(t), 2)
}

func TestProtocolViolations(t *testing.T) {
	g := newTestGateway(Config{})
	a := connect(g, "a")

	assert.ErrorIs(t, g.handleFrame("a", []byte(`{not json`)), ErrMalformedPayload)
	assert.ErrorIs(t, g.handleFrame("a", []byte(`{"data":{}}`)), ErrMalformedPayload)
	assert.ErrorIs(t, g.handleFrame("a", []byte(`{"event":"join","data":"S1"}`)), ErrMalformedPayload)
	assert.ErrorIs(t, g.handleFrame("a", frame(t, "dance", struct{}{})), ErrUnknownEvent)
	assert.ErrorIs(t, g.handleFrame("a", frame(t, domain.EventJoin, domain.JoinPayload{DisplayName: "x"})), domain.ErrEmptyIdentity)
	assert.ErrorIs(t, g.handleFrame("a", frame(t, domain.EventJoin, domain.JoinPayload{Identity: "S1"})), domain.ErrEmptyDisplayName)
	assert.ErrorIs(t, g.handleFrame("ghost", frame(t, domain.EventJoin, domain.JoinPayload{})), ErrUnknownConnection)

	join(t, g, a, "S1", "Alice")
	a.drain(t)
	assert.ErrorIs(t, g.handleFrame("a", frame(t, domain.EventJoin, domain.JoinPayload{Identity: "S9", DisplayName: "Eve"})), ErrAlreadyJoined)
	assert.Empty(t, a.drain(t))
	assert.Equal(t, 1, g.registry.Count())
}

func TestRequestOnlineUsers(t *testing.T) {
	g := newTestGateway(Config{})
	a, b := connect(g, "a"), connect(g, "b")
	join(t, g, a, "S1", "Alice")
	join(t, g, b, "S2", "Bob")
	a.drain(t)
	b.drain(t)

	require.NoError(t, g.handleFrame("a", frame(t, domain.EventRequestOnlineUsers, nil)))

	evs := a.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, []domain.OnlineUser{{Identity: "S2", DisplayName: "Bob"}},
		payload[domain.OnlineUsersListPayload](t, evs[0]).Users)
	assert.Empty(t, b.drain(t))
}

func TestVerifiedIdentityBinding(t *testing.T) {
	t.Run("matching token", func(t *testing.T) {
		g := newTestGateway(Config{RequireToken: true})
		c := &fakeConn{id: "c"}
		g.handleConnect(c, "S1")
		join(t, g, c, "s1", "Alice")
	})

	t.Run("spoofed identity", func(t *testing.T) {
		g := newTestGateway(Config{})
		c := &fakeConn{id: "c"}
		g.handleConnect(c, "S1")
		err := g.handleFrame("c", frame(t, domain.EventJoin, domain.JoinPayload{Identity: "S2", DisplayName: "Bob"}))
		assert.ErrorIs(t, err, ErrIdentityMismatch)
		assert.Equal(t, 0, g.registry.Count())
	})

	t.Run("token required", func(t *testing.T) {
		g := newTestGateway(Config{RequireToken: true})
		c := connect(g, "c")
		err := g.handleFrame("c", frame(t, domain.EventJoin, domain.JoinPayload{Identity: "S1", DisplayName: "Alice"}))
		assert.ErrorIs(t, err, ErrTokenRequired)
		assert.Empty(t, c.drain(t))
	})
}

func TestDuplicateJoinClosesSupersededConnection(t *testing.T) {
	g := newTestGateway(Config{CloseSuperseded: true})
	old, other := connect(g, "old"), connect(g, "other")
	join(t, g, old, "S1", "Alice")
	join(t, g, other, "S2", "Bob")
	old.drain(t)
	other.drain(t)

	fresh := connect(g, "fresh")
	join(t, g, fresh, "S1", "Alice")

	evs := old.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventSessionSuperseded, evs[0].Event)
	assert.True(t, old.closed)
	assert.Equal(t, 2, g.registry.Count())

	// The superseded session can no longer act.
	assert.ErrorIs(t, g.handleFrame("old", frame(t, domain.EventTypingGlobal, nil)), ErrSessionClosed)

	other.drain(t)
	g.handleDisconnect("old")
	assert.Empty(t, other.drain(t), "superseded disconnect must not announce the identity offline")
	assert.Equal(t, 2, g.registry.Count())

	e, ok := g.registry.Lookup("S1")
	require.True(t, ok)
	assert.Equal(t, "fresh", e.ConnID)
}

func TestDuplicateJoinLeavesSupersededOpenWhenConfigured(t *testing.T) {
	g := newTestGateway(Config{CloseSuperseded: false})
	old := connect(g, "old")
	join(t, g, old, "S1", "Alice")
	old.drain(t)

	fresh := connect(g, "fresh")
	join(t, g, fresh, "S1", "Alice")

	assert.False(t, old.closed)
	assert.Empty(t, old.drain(t), "stale connection is outside every room")
	assert.Equal(t, 1, g.registry.Count())
}

func TestRunLoop(t *testing.T) {
	g := New(Config{EventBuffer: 16})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(stopped)
	}()

	a := &fakeConn{id: "a"}
	require.NoError(t, g.Connect(a, ""))
	require.NoError(t, g.Receive("a", frame(t, domain.EventJoin, domain.JoinPayload{Identity: "S1", DisplayName: "Alice"})))

	users, err := g.OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.OnlineUser{{Identity: "S1", DisplayName: "Alice"}}, users)

	cancel()
	<-stopped

	a.mu.Lock()
	assert.True(t, a.closed)
	a.mu.Unlock()
	assert.ErrorIs(t, g.Disconnect("a"), ErrStopped)
	_, err = g.OnlineUsers(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
