package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/audit"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// Reject reasons. A handler returning nil accepted the event.
var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrNotJoined         = errors.New("event requires a joined session")
	ErrAlreadyJoined     = errors.New("session already joined")
	ErrSessionClosed     = errors.New("session closed")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrIdentityMismatch  = errors.New("claimed identity does not match session token")
	ErrTokenRequired     = errors.New("session token required to join")
)

type handlerFunc func(g *Gateway, st *connState, data json.RawMessage) error

// transitions lists the events each state accepts.
var transitions = map[domain.State]map[string]handlerFunc{
	domain.StateConnectedUnidentified: {
		domain.EventJoin: (*Gateway).onJoin,
	},
	domain.StateJoined: {
		domain.EventSendGlobalMessage:  (*Gateway).onGlobalMessage,
		domain.EventSendPrivateMessage: (*Gateway).onPrivateMessage,
		domain.EventTypingGlobal:       (*Gateway).onTypingGlobal,
		domain.EventTypingPrivate:      (*Gateway).onTypingPrivate,
		domain.EventRequestOnlineUsers: (*Gateway).onRequestOnlineUsers,
	},
}

// handleFrame decodes one frame and applies it. Rejections are logged and
// returned; they never close the connection.
func (g *Gateway) handleFrame(connID string, frame []byte) error {
	st, ok := g.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}

	env, err := domain.Decode(frame)
	if err != nil {
		return g.reject(st, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}

	h, err := lookup(st.session.State, env.Event)
	if err != nil {
		return g.reject(st, env.Event, err)
	}
	if err := h(g, st, env.Data); err != nil {
		return g.reject(st, env.Event, err)
	}
	return nil
}

func lookup(state domain.State, event string) (handlerFunc, error) {
	if h, ok := transitions[state][event]; ok {
		return h, nil
	}
	switch {
	case state == domain.StateClosed:
		return nil, ErrSessionClosed
	case state == domain.StateConnectedUnidentified && transitions[domain.StateJoined][event] != nil:
		return nil, ErrNotJoined
	case state == domain.StateJoined && event == domain.EventJoin:
		return nil, ErrAlreadyJoined
	default:
		return nil, ErrUnknownEvent
	}
}

func (g *Gateway) reject(st *connState, event string, err error) error {
	l := pkglog.Ctx(st.ctx)
	l.Warn().
		Str(pkglog.FieldEvent, event).
		Str("state", st.session.State.String()).
		Str(pkglog.FieldReason, err.Error()).
		Msg("event rejected")
	return err
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}

func (g *Gateway) onJoin(st *connState, data json.RawMessage) error {
	p, err := decode[domain.JoinPayload](data)
	if err != nil {
		return err
	}
	identity := domain.NormalizeIdentity(p.Identity)
	displayName := strings.TrimSpace(p.DisplayName)
	if identity == "" {
		return domain.ErrEmptyIdentity
	}
	if displayName == "" {
		return domain.ErrEmptyDisplayName
	}

	s := st.session
	switch {
	case s.VerifiedIdentity != "" && s.VerifiedIdentity != identity:
		audit.LogWithDetail(st.ctx, audit.ActionJoinRejected, identity, s.VerifiedIdentity, "claimed identity differs from token")
		return ErrIdentityMismatch
	case s.VerifiedIdentity == "" && g.cfg.RequireToken:
		return ErrTokenRequired
	}

	now := g.now()
	if err := s.Bind(identity, displayName, now); err != nil {
		return err
	}
	st.ctx = pkglog.WithStr(st.ctx, pkglog.FieldIdentity, identity)

	prev, replaced := g.registry.Register(identity, displayName, s.ConnID, now)
	if replaced {
		g.supersede(prev.ConnID, identity)
	}

	total := g.registry.Count()
	g.router.BroadcastToAll(domain.EventUserOnline, domain.UserOnlinePayload{
		Identity:    identity,
		DisplayName: displayName,
		TotalOnline: total,
	})
	g.router.SendTo(s.ConnID, domain.EventOnlineUsersList, domain.OnlineUsersListPayload{
		Users: g.registry.ListOthers(identity),
	})

	audit.Log(st.ctx, audit.ActionJoin, identity, "user joined chat")
	return nil
}

// supersede retires the connection that previously held identity.
func (g *Gateway) supersede(oldConnID, identity string) {
	old, ok := g.conns[oldConnID]
	if !ok {
		return
	}
	audit.LogTarget(old.ctx, audit.ActionSuperseded, identity, oldConnID, "identity joined from another connection")
	if !g.cfg.CloseSuperseded {
		return
	}
	old.session.Close()
	g.router.SendTo(oldConnID, domain.EventSessionSuperseded, domain.SupersededPayload{Identity: identity})
	_ = old.conn.Close()
}

func (g *Gateway) onGlobalMessage(st *connState, data json.RawMessage) error {
	p, err := decode[domain.GlobalMessagePayload](data)
	if err != nil {
		return err
	}
	body, err := domain.ValidateBody(p.Message)
	if err != nil {
		return err
	}

	s := st.session
	msg := domain.NewGlobalMessage(s.Identity, s.DisplayName, body, g.now())
	g.router.BroadcastToAll(domain.EventNewGlobalMessage, msg)
	g.archiver.Archive(st.ctx, msg)

	audit.LogTarget(st.ctx, audit.ActionSendGlobal, s.Identity, msg.ID, "global message sent")
	return nil
}

func (g *Gateway) onPrivateMessage(st *connState, data json.RawMessage) error {
	p, err := decode[domain.PrivateMessagePayload](data)
	if err != nil {
		return err
	}
	recipient := domain.NormalizeIdentity(p.RecipientIdentity)
	if recipient == "" {
		return domain.ErrEmptyRecipient
	}
	body, err := domain.ValidateBody(p.Message)
	if err != nil {
		return err
	}

	s := st.session
	msg := domain.NewPrivateMessage(s.Identity, s.DisplayName, recipient, body, g.now())
	g.router.DeliverToIdentityAndAlsoTo(recipient, s.ConnID, domain.EventNewPrivateMessage, msg)
	g.archiver.Archive(st.ctx, msg)

	audit.LogTarget(st.ctx, audit.ActionSendPrivate, s.Identity, recipient, "private message sent")
	return nil
}

func (g *Gateway) onTypingGlobal(st *connState, _ json.RawMessage) error {
	s := st.session
	g.router.BroadcastToAllExcept(s.ConnID, domain.EventUserTypingGlobal, domain.TypingPayload{
		Identity:    s.Identity,
		DisplayName: s.DisplayName,
	})
	return nil
}

func (g *Gateway) onTypingPrivate(st *connState, data json.RawMessage) error {
	p, err := decode[domain.TypingPrivatePayload](data)
	if err != nil {
		return err
	}
	recipient := domain.NormalizeIdentity(p.RecipientIdentity)
	if recipient == "" {
		return domain.ErrEmptyRecipient
	}

	s := st.session
	g.router.DeliverToIdentity(recipient, domain.EventUserTypingPrivate, domain.TypingPayload{
		Identity:    s.Identity,
		DisplayName: s.DisplayName,
	})
	return nil
}

func (g *Gateway) onRequestOnlineUsers(st *connState, _ json.RawMessage) error {
	s := st.session
	g.router.SendTo(s.ConnID, domain.EventOnlineUsersList, domain.OnlineUsersListPayload{
		Users: g.registry.ListOthers(s.Identity),
	})
	return nil
}
