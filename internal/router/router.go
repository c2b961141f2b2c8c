// Package router fans events out to connections. Rooms are not stored: the
// broadcast room and every per-identity room are derived from the presence
// registry at delivery time.
package router

import (
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/presence"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// Sink is the delivery end of one connection. Send must not block.
type Sink interface {
	ID() string
	Send(frame []byte) bool
}

// Directory answers room membership questions.
type Directory interface {
	ConnIDs() []string
	Lookup(identity string) (presence.Entry, bool)
}

// Router delivers encoded events to sinks. Not safe for concurrent use.
type Router struct {
	dir   Directory
	sinks map[string]Sink
}

func New(dir Directory) *Router {
	return &Router{
		dir:   dir,
		sinks: make(map[string]Sink),
	}
}

// Attach makes a connection addressable. Attached connections only receive
// room traffic once they appear in the directory.
func (r *Router) Attach(s Sink) {
	r.sinks[s.ID()] = s
}

// Detach forgets a connection.
func (r *Router) Detach(connID string) {
	delete(r.sinks, connID)
}

// SendTo unicasts to a single connection regardless of presence.
func (r *Router) SendTo(connID, event string, payload any) bool {
	frame, ok := encode(event, payload)
	if !ok {
		return false
	}
	return r.deliver(connID, frame)
}

// BroadcastToAll delivers to every connection in the broadcast room and
// returns how many accepted the frame.
func (r *Router) BroadcastToAll(event string, payload any) int {
	return r.BroadcastToAllExcept("", event, payload)
}

// BroadcastToAllExcept is BroadcastToAll minus one connection.
func (r *Router) BroadcastToAllExcept(connID, event string, payload any) int {
	frame, ok := encode(event, payload)
	if !ok {
		return 0
	}
	n := 0
	for _, id := range r.dir.ConnIDs() {
		if id == connID {
			continue
		}
		if r.deliver(id, frame) {
			n++
		}
	}
	return n
}

// DeliverToIdentity delivers to the room of identity. An offline identity is
// not an error; nothing is delivered.
func (r *Router) DeliverToIdentity(identity, event string, payload any) int {
	entry, ok := r.dir.Lookup(identity)
	if !ok {
		return 0
	}
	frame, ok := encode(event, payload)
	if !ok {
		return 0
	}
	if r.deliver(entry.ConnID, frame) {
		return 1
	}
	return 0
}

// DeliverToIdentityAndAlsoTo delivers to the room of identity and echoes to
// the sender's connection. A sender addressing itself receives one copy.
func (r *Router) DeliverToIdentityAndAlsoTo(identity, senderConnID, event string, payload any) int {
	frame, ok := encode(event, payload)
	if !ok {
		return 0
	}
	n := 0
	if entry, online := r.dir.Lookup(identity); online && entry.ConnID != senderConnID {
		if r.deliver(entry.ConnID, frame) {
			n++
		}
	}
	if r.deliver(senderConnID, frame) {
		n++
	}
	return n
}

func (r *Router) deliver(connID string, frame []byte) bool {
	s, ok := r.sinks[connID]
	if !ok {
		return false
	}
	return s.Send(frame)
}

func encode(event string, payload any) ([]byte, bool) {
	frame, err := domain.Encode(event, payload)
	if err != nil {
		l := pkglog.L()
		l.Error().Err(err).Str(pkglog.FieldEvent, event).Msg("failed to encode outbound event")
		return nil, false
	}
	return frame, true
}
