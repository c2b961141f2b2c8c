package router

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/presence"
)

type recordingSink struct {
	id     string
	frames [][]byte
	full   bool
}

func (s *recordingSink) ID() string { return s.id }

func (s *recordingSink) Send(frame []byte) bool {
	if s.full {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *recordingSink) events(t *testing.T) []string {
	t.Helper()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		env, err := domain.Decode(f)
		require.NoError(t, err)
		out = append(out, env.Event)
	}
	return out
}

type fixture struct {
	reg   *presence.Registry
	r     *Router
	sinks map[string]*recordingSink
}

// newFixture attaches c1..cN; the identities listed are joined as S1..SN on them.
func newFixture(conns int, joined ...string) *fixture {
	f := &fixture{reg: presence.NewRegistry(), sinks: map[string]*recordingSink{}}
	f.r = New(f.reg)
	for i := 1; i <= conns; i++ {
		id := "c" + string(rune('0'+i))
		s := &recordingSink{id: id}
		f.sinks[id] = s
		f.r.Attach(s)
	}
	base := time.Now()
	for i, identity := range joined {
		f.reg.Register(identity, identity, "c"+identity[1:], base.Add(time.Duration(i)*time.Millisecond))
	}
	return f
}

func TestBroadcastToAllReachesOnlyJoined(t *testing.T) {
	f := newFixture(3, "S1", "S2")

	n := f.r.BroadcastToAll(domain.EventUserOnline, domain.UserOnlinePayload{Identity: "S2", TotalOnline: 2})
	assert.Equal(t, 2, n)
	assert.Len(t, f.sinks["c1"].frames, 1)
	assert.Len(t, f.sinks["c2"].frames, 1)
	assert.Empty(t, f.sinks["c3"].frames, "unidentified connection is not in the broadcast room")
}

func TestBroadcastToAllExcept(t *testing.T) {
	f := newFixture(3, "S1", "S2", "S3")

	n := f.r.BroadcastToAllExcept("c1", domain.EventUserTypingGlobal, domain.TypingPayload{Identity: "S1"})
	assert.Equal(t, 2, n)
	assert.Empty(t, f.sinks["c1"].frames)
	assert.Equal(t, []string{domain.EventUserTypingGlobal}, f.sinks["c2"].events(t))
	assert.Equal(t, []string{domain.EventUserTypingGlobal}, f.sinks["c3"].events(t))
}

func TestDeliverToIdentity(t *testing.T) {
	f := newFixture(2, "S1", "S2")

	assert.Equal(t, 1, f.r.DeliverToIdentity("S2", domain.EventUserTypingPrivate, domain.TypingPayload{Identity: "S1"}))
	assert.Len(t, f.sinks["c2"].frames, 1)
	assert.Empty(t, f.sinks["c1"].frames)

	assert.Equal(t, 0, f.r.DeliverToIdentity("S9", domain.EventUserTypingPrivate, domain.TypingPayload{}))
}

func TestDeliverToIdentityAndAlsoTo(t *testing.T) {
	msg := domain.NewPrivateMessage("S1", "Alice", "S2", "hi", time.Now())

	t.Run("recipient online", func(t *testing.T) {
		f := newFixture(2, "S1", "S2")
		assert.Equal(t, 2, f.r.DeliverToIdentityAndAlsoTo("S2", "c1", domain.EventNewPrivateMessage, msg))
		require.Len(t, f.sinks["c1"].frames, 1)
		require.Len(t, f.sinks["c2"].frames, 1)
		assert.JSONEq(t, string(f.sinks["c1"].frames[0]), string(f.sinks["c2"].frames[0]))
	})

	t.Run("recipient offline still echoes", func(t *testing.T) {
		f := newFixture(2, "S1")
		assert.Equal(t, 1, f.r.DeliverToIdentityAndAlsoTo("S2", "c1", domain.EventNewPrivateMessage, msg))
		assert.Len(t, f.sinks["c1"].frames, 1)
		assert.Empty(t, f.sinks["c2"].frames)
	})

	t.Run("self addressed delivers once", func(t *testing.T) {
		f := newFixture(1, "S1")
		assert.Equal(t, 1, f.r.DeliverToIdentityAndAlsoTo("S1", "c1", domain.EventNewPrivateMessage, msg))
		assert.Len(t, f.sinks["c1"].frames, 1)
	})
}

func TestSendToAndDetach(t *testing.T) {
	f := newFixture(1)

	require.True(t, f.r.SendTo("c1", domain.EventOnlineUsersList, domain.OnlineUsersListPayload{Users: []domain.OnlineUser{}}))
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(f.sinks["c1"].frames[0], &env))
	assert.JSONEq(t, `{"users":[]}`, string(env.Data))

	f.r.Detach("c1")
	assert.False(t, f.r.SendTo("c1", domain.EventOnlineUsersList, domain.OnlineUsersListPayload{}))
}

func TestFullSinkIsNotCounted(t *testing.T) {
	f := newFixture(2, "S1", "S2")
	f.sinks["c2"].full = true

	assert.Equal(t, 1, f.r.BroadcastToAll(domain.EventUserOffline, domain.UserOfflinePayload{Identity: "S3"}))
}
