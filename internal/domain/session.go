package domain

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// State is the lifecycle position of a connection.
type State int

const (
	StateConnectedUnidentified State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnectedUnidentified:
		return "CONNECTED_UNIDENTIFIED"
	case StateJoined:
		return "JOINED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is the gateway's record of one live connection. It is owned by the
// gateway event loop and is not safe for concurrent use.
type Session struct {
	ConnID      string
	State       State
	Identity    string
	DisplayName string
	ConnectedAt time.Time
	JoinedAt    time.Time

	// VerifiedIdentity is the token subject presented at upgrade, if any.
	VerifiedIdentity string
}

func NewSession(connID, verifiedIdentity string, now time.Time) *Session {
	return &Session{
		ConnID:           connID,
		State:            StateConnectedUnidentified,
		ConnectedAt:      now,
		VerifiedIdentity: verifiedIdentity,
	}
}

// Bind attaches an identity and moves the session to JOINED. The identity is
// immutable afterwards.
func (s *Session) Bind(identity, displayName string, now time.Time) error {
	if s.State != StateConnectedUnidentified {
		return ErrInvalidTransition
	}
	s.Identity = identity
	s.DisplayName = displayName
	s.JoinedAt = now
	s.State = StateJoined
	return nil
}

// Close moves the session to its terminal state.
func (s *Session) Close() {
	s.State = StateClosed
}

func (s *Session) Joined() bool {
	return s.State == StateJoined
}
