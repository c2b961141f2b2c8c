// Package chatclient keeps a client-side view of the chat: connection state,
// per-conversation history, who is online and who is typing.
package chatclient

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrSuperseded   = errors.New("session superseded by another connection")
)

type Config struct {
	GatewayURL  string
	Token       string
	Identity    string
	DisplayName string

	TypingTTL  time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	HistoryCap int
	WriteWait  time.Duration

	Dialer *websocket.Dialer
}

func (c *Config) setDefaults() {
	c.Identity = domain.NormalizeIdentity(c.Identity)
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 10 * time.Second
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 500
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// ChangeKind names the part of the view that changed.
type ChangeKind string

const (
	ChangeConnection ChangeKind = "connection"
	ChangeGlobal     ChangeKind = "global"
	ChangePrivate    ChangeKind = "private"
	ChangePresence   ChangeKind = "presence"
	ChangeTyping     ChangeKind = "typing"
)

// Change is passed to the listener after state is updated. Peer is set for
// ChangePrivate.
type Change struct {
	Kind ChangeKind
	Peer string
}

// Controller owns one logical chat connection and reconnects it until its
// context ends.
type Controller struct {
	cfg     Config
	history HistoryFetcher
	now     func() time.Time

	mu        sync.Mutex
	connected bool
	global    []domain.Message
	private   map[string][]domain.Message
	online    []domain.OnlineUser
	typing    map[string]TypingUser
	listener  func(Change)

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New creates a Controller. history may be nil when no history API is
// available.
func New(cfg Config, history HistoryFetcher) *Controller {
	cfg.setDefaults()
	return &Controller{
		cfg:     cfg,
		history: history,
		now:     time.Now,
		private: make(map[string][]domain.Message),
		online:  []domain.OnlineUser{},
		typing:  make(map[string]TypingUser),
	}
}

// OnChange installs the listener. It is called without internal locks held.
func (c *Controller) OnChange(fn func(Change)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Run connects, joins and processes inbound events, reconnecting with
// exponential backoff. It returns when ctx ends or the session is superseded.
func (c *Controller) Run(ctx context.Context) error {
	l := log.Ctx(ctx)
	backoff := c.cfg.MinBackoff
	reconnect := false

	go c.expireTyping(ctx)

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			backoff = c.cfg.MinBackoff
			err = c.session(ctx, conn, reconnect)
			reconnect = true
			if errors.Is(err, ErrSuperseded) {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.Warn().Err(err).Dur("retry_in", backoff).Msg("chat connection lost")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Controller) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.GatewayURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return conn, nil
}

// session joins on conn and reads until it fails. Presence does not survive
// a reconnect, so a reconnect re-joins and then asks for the online list.
func (c *Controller) session(ctx context.Context, conn *websocket.Conn, reconnect bool) error {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()
		c.setConnected(false)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := c.emit(domain.EventJoin, domain.JoinPayload{
		Identity:    c.cfg.Identity,
		DisplayName: c.cfg.DisplayName,
	}); err != nil {
		return err
	}
	if reconnect {
		if err := c.emit(domain.EventRequestOnlineUsers, struct{}{}); err != nil {
			return err
		}
	}

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := c.handleFrame(frame); err != nil {
			if errors.Is(err, ErrSuperseded) {
				return err
			}
			l := log.Ctx(ctx)
			l.Debug().Err(err).Msg("ignoring inbound frame")
		}
	}
}

func (c *Controller) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	if !v {
		c.typing = make(map[string]TypingUser)
	}
	c.mu.Unlock()
	if changed {
		c.notify(Change{Kind: ChangeConnection})
	}
}

// emit writes one event on the current connection.
func (c *Controller) emit(event string, payload any) error {
	frame, err := domain.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Controller) SendGlobalMessage(text string) error {
	if _, err := domain.ValidateBody(text); err != nil {
		return err
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.emit(domain.EventSendGlobalMessage, domain.GlobalMessagePayload{Message: text})
}

func (c *Controller) SendPrivateMessage(recipient, text string) error {
	recipient = domain.NormalizeIdentity(recipient)
	if recipient == "" {
		return domain.ErrEmptyRecipient
	}
	if _, err := domain.ValidateBody(text); err != nil {
		return err
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.emit(domain.EventSendPrivateMessage, domain.PrivateMessagePayload{
		RecipientIdentity: recipient,
		Message:           text,
	})
}

// SendTyping signals typing to everyone, or to recipient alone when set.
func (c *Controller) SendTyping(recipient string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	recipient = domain.NormalizeIdentity(recipient)
	if recipient == "" {
		return c.emit(domain.EventTypingGlobal, struct{}{})
	}
	return c.emit(domain.EventTypingPrivate, domain.TypingPrivatePayload{RecipientIdentity: recipient})
}

func (c *Controller) RequestOnlineUsers() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.emit(domain.EventRequestOnlineUsers, struct{}{})
}

// FetchPrivateMessages merges stored history with peer into the local view.
// Realtime messages that arrive meanwhile are kept; duplicates collapse by id.
func (c *Controller) FetchPrivateMessages(ctx context.Context, peer string) error {
	if c.history == nil {
		return nil
	}
	peer = domain.NormalizeIdentity(peer)
	msgs, err := c.history.Private(ctx, peer, 0)
	if err != nil {
		return fmt.Errorf("fetch private history with %s: %w", peer, err)
	}

	c.mu.Lock()
	c.private[peer] = mergeMessages(c.private[peer], msgs, c.cfg.HistoryCap)
	c.mu.Unlock()
	c.notify(Change{Kind: ChangePrivate, Peer: peer})
	return nil
}

func (c *Controller) FetchGlobalMessages(ctx context.Context) error {
	if c.history == nil {
		return nil
	}
	msgs, err := c.history.Global(ctx, 0)
	if err != nil {
		return fmt.Errorf("fetch global history: %w", err)
	}

	c.mu.Lock()
	c.global = mergeMessages(c.global, msgs, c.cfg.HistoryCap)
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeGlobal})
	return nil
}

func (c *Controller) handleFrame(frame []byte) error {
	env, err := domain.Decode(frame)
	if err != nil {
		return err
	}

	var change Change
	switch env.Event {
	case domain.EventNewGlobalMessage:
		var m domain.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.global = mergeMessages(c.global, []domain.Message{m}, c.cfg.HistoryCap)
		delete(c.typing, m.SenderIdentity)
		c.mu.Unlock()
		change = Change{Kind: ChangeGlobal}

	case domain.EventNewPrivateMessage:
		var m domain.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return err
		}
		peer := m.Peer(c.cfg.Identity)
		c.mu.Lock()
		c.private[peer] = mergeMessages(c.private[peer], []domain.Message{m}, c.cfg.HistoryCap)
		delete(c.typing, m.SenderIdentity)
		c.mu.Unlock()
		change = Change{Kind: ChangePrivate, Peer: peer}

	case domain.EventUserOnline:
		var p domain.UserOnlinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.Identity == c.cfg.Identity {
			return nil
		}
		c.mu.Lock()
		c.online = upsertUser(c.online, domain.OnlineUser{Identity: p.Identity, DisplayName: p.DisplayName})
		c.mu.Unlock()
		change = Change{Kind: ChangePresence}

	case domain.EventUserOffline:
		var p domain.UserOfflinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.online = removeUser(c.online, p.Identity)
		delete(c.typing, p.Identity)
		c.mu.Unlock()
		change = Change{Kind: ChangePresence}

	case domain.EventOnlineUsersList:
		var p domain.OnlineUsersListPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		users := slices.DeleteFunc(slices.Clone(p.Users), func(u domain.OnlineUser) bool {
			return u.Identity == c.cfg.Identity
		})
		if users == nil {
			users = []domain.OnlineUser{}
		}
		c.mu.Lock()
		c.online = users
		c.mu.Unlock()
		// The gateway answers a successful join with this list; a rejected
		// join gets nothing, so this is where the session counts as joined.
		c.setConnected(true)
		change = Change{Kind: ChangePresence}

	case domain.EventUserTypingGlobal, domain.EventUserTypingPrivate:
		var p domain.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.Identity == c.cfg.Identity {
			return nil
		}
		c.mu.Lock()
		c.typing[p.Identity] = TypingUser{
			Identity:    p.Identity,
			DisplayName: p.DisplayName,
			Private:     env.Event == domain.EventUserTypingPrivate,
			until:       c.now().Add(c.cfg.TypingTTL),
		}
		c.mu.Unlock()
		change = Change{Kind: ChangeTyping}

	case domain.EventSessionSuperseded:
		return ErrSuperseded

	default:
		return fmt.Errorf("unhandled event %q", env.Event)
	}

	c.notify(change)
	return nil
}

// expireTyping drops stale typing flags so the listener can re-render.
func (c *Controller) expireTyping(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TypingTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.pruneTyping() {
				c.notify(Change{Kind: ChangeTyping})
			}
		}
	}
}

func (c *Controller) pruneTyping() bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	pruned := false
	for id, t := range c.typing {
		if !now.Before(t.until) {
			delete(c.typing, id)
			pruned = true
		}
	}
	return pruned
}

func (c *Controller) notify(ch Change) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func (c *Controller) Identity() string {
	return c.cfg.Identity
}

// Connected reports whether the gateway has accepted the current join.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GlobalMessages returns a copy of the global conversation, oldest first.
func (c *Controller) GlobalMessages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.global)
}

// PrivateMessages returns a copy of the conversation with peer, oldest first.
func (c *Controller) PrivateMessages(peer string) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.private[domain.NormalizeIdentity(peer)])
}

// Peers lists identities with a local private conversation, sorted.
func (c *Controller) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]string, 0, len(c.private))
	for p := range c.private {
		peers = append(peers, p)
	}
	slices.Sort(peers)
	return peers
}

// OnlineUsers never includes the local identity.
func (c *Controller) OnlineUsers() []domain.OnlineUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.online)
}

// TypingUsers returns unexpired typing flags sorted by identity.
func (c *Controller) TypingUsers() []TypingUser {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TypingUser, 0, len(c.typing))
	for _, t := range c.typing {
		if now.Before(t.until) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b TypingUser) int {
		return cmp.Compare(a.Identity, b.Identity)
	})
	return out
}
