// Package gateway runs the per-connection chat state machine. Every inbound
// event from every connection is applied by a single goroutine, so presence
// and routing state need no locking.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/audit"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/presence"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/router"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

var ErrStopped = errors.New("gateway stopped")

// Conn is a transport connection as seen by the gateway.
type Conn interface {
	router.Sink
	Close() error
}

// Archiver receives every accepted message after fan-out. It must not block.
type Archiver interface {
	Archive(ctx context.Context, msg domain.Message)
}

type noopArchiver struct{}

func (noopArchiver) Archive(context.Context, domain.Message) {}

type Config struct {
	EventBuffer int
	// CloseSuperseded closes a connection whose identity joined elsewhere.
	CloseSuperseded bool
	// RequireToken rejects joins from connections without a verified identity.
	RequireToken bool
}

type Option func(*Gateway)

func WithArchiver(a Archiver) Option {
	return func(g *Gateway) { g.archiver = a }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

type connState struct {
	conn    Conn
	session *domain.Session
	ctx     context.Context
}

type eventKind int

const (
	evConnect eventKind = iota
	evFrame
	evDisconnect
	evQuery
)

type event struct {
	kind     eventKind
	conn     Conn
	connID   string
	verified string
	frame    []byte
	query    func()
}

// Gateway owns the presence registry, the router and every session.
type Gateway struct {
	cfg      Config
	registry *presence.Registry
	router   *router.Router
	conns    map[string]*connState
	archiver Archiver
	now      func() time.Time

	events chan event
	done   chan struct{}
}

func New(cfg Config, opts ...Option) *Gateway {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	reg := presence.NewRegistry()
	g := &Gateway{
		cfg:      cfg,
		registry: reg,
		router:   router.New(reg),
		conns:    make(map[string]*connState),
		archiver: noopArchiver{},
		now:      time.Now,
		events:   make(chan event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run applies events until ctx is cancelled, then closes every connection.
func (g *Gateway) Run(ctx context.Context) {
	l := pkglog.L()
	l.Info().Int("event_buffer", cap(g.events)).Msg("gateway event loop started")
	defer close(g.done)

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			l.Info().Msg("gateway event loop stopped")
			return
		case ev := <-g.events:
			g.apply(ev)
		}
	}
}

// Done is closed once Run has returned and every connection is closed.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// Connect registers a new transport connection. verifiedIdentity is the
// normalized token subject, or empty when no token was presented.
func (g *Gateway) Connect(conn Conn, verifiedIdentity string) error {
	return g.enqueue(event{kind: evConnect, conn: conn, connID: conn.ID(), verified: verifiedIdentity})
}

// Receive queues one inbound frame. Frames from a connection are applied in
// the order they are queued.
func (g *Gateway) Receive(connID string, frame []byte) error {
	return g.enqueue(event{kind: evFrame, connID: connID, frame: frame})
}

// Disconnect queues the teardown of a connection, whatever the cause.
func (g *Gateway) Disconnect(connID string) error {
	return g.enqueue(event{kind: evDisconnect, connID: connID})
}

// OnlineUsers returns the presence snapshot as observed by the event loop.
func (g *Gateway) OnlineUsers(ctx context.Context) ([]domain.OnlineUser, error) {
	reply := make(chan []domain.OnlineUser, 1)
	err := g.enqueue(event{kind: evQuery, query: func() {
		reply <- g.registry.ListOthers("")
	}})
	if err != nil {
		return nil, err
	}
	select {
	case users := <-reply:
		return users, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.done:
		return nil, ErrStopped
	}
}

func (g *Gateway) enqueue(ev event) error {
	select {
	case <-g.done:
		return ErrStopped
	default:
	}
	select {
	case g.events <- ev:
		return nil
	case <-g.done:
		return ErrStopped
	}
}

func (g *Gateway) apply(ev event) {
	switch ev.kind {
	case evConnect:
		g.handleConnect(ev.conn, ev.verified)
	case evFrame:
		_ = g.handleFrame(ev.connID, ev.frame)
	case evDisconnect:
		g.handleDisconnect(ev.connID)
	case evQuery:
		ev.query()
	}
}

func (g *Gateway) handleConnect(conn Conn, verified string) {
	id := conn.ID()
	ctx := pkglog.WithStr(context.Background(), pkglog.FieldConnID, id)
	g.conns[id] = &connState{
		conn:    conn,
		session: domain.NewSession(id, verified, g.now()),
		ctx:     ctx,
	}
	g.router.Attach(conn)

	l := pkglog.Ctx(ctx)
	l.Debug().Str("verified_identity", verified).Msg("connection opened")
}

func (g *Gateway) handleDisconnect(connID string) {
	st, ok := g.conns[connID]
	if !ok {
		return
	}
	delete(g.conns, connID)
	g.router.Detach(connID)
	st.session.Close()

	entry, removed := g.registry.Unregister(connID)
	if !removed {
		l := pkglog.Ctx(st.ctx)
		l.Debug().Msg("connection closed without presence")
		return
	}

	total := g.registry.Count()
	g.router.BroadcastToAll(domain.EventUserOffline, domain.UserOfflinePayload{
		Identity:    entry.Identity,
		TotalOnline: total,
	})
	audit.Log(st.ctx, audit.ActionDisconnect, entry.Identity, "user went offline")
}

func (g *Gateway) shutdown() {
	for id, st := range g.conns {
		st.session.Close()
		_ = st.conn.Close()
		g.router.Detach(id)
		g.registry.Unregister(id)
		delete(g.conns, id)
	}
}
