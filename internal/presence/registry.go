// Package presence tracks which identities are online and through which
// connection. It is the single source of truth for room membership.
package presence

import (
	"sort"
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

// Entry is the live record that an identity is connected.
type Entry struct {
	Identity    string
	DisplayName string
	ConnID      string
	JoinedAt    time.Time
}

// Public strips the connection id and timestamp for client consumption.
func (e Entry) Public() domain.OnlineUser {
	return domain.OnlineUser{Identity: e.Identity, DisplayName: e.DisplayName}
}

// Registry maps identities to their current connection. It holds at most one
// entry per identity. Not safe for concurrent use; the gateway event loop
// owns it.
type Registry struct {
	byIdentity map[string]Entry
	byConn     map[string]string // conn id -> identity
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Entry),
		byConn:     make(map[string]string),
	}
}

// Register inserts or overwrites the entry for identity. When a different
// connection held the identity, its entry is returned with replaced=true.
func (r *Registry) Register(identity, displayName, connID string, now time.Time) (prev Entry, replaced bool) {
	if old, ok := r.byIdentity[identity]; ok {
		delete(r.byConn, old.ConnID)
		prev, replaced = old, old.ConnID != connID
	}
	if otherIdentity, ok := r.byConn[connID]; ok && otherIdentity != identity {
		delete(r.byIdentity, otherIdentity)
	}

	r.byIdentity[identity] = Entry{
		Identity:    identity,
		DisplayName: displayName,
		ConnID:      connID,
		JoinedAt:    now,
	}
	r.byConn[connID] = identity
	return prev, replaced
}

// Unregister removes the entry owned by connID. It is a no-op when the
// identity has since been claimed by another connection.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	identity, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.byConn, connID)

	entry := r.byIdentity[identity]
	delete(r.byIdentity, identity)
	return entry, true
}

// ListOthers returns every online user except excluding, oldest join first.
// The result is never nil.
func (r *Registry) ListOthers(excluding string) []domain.OnlineUser {
	entries := make([]Entry, 0, len(r.byIdentity))
	for identity, e := range r.byIdentity {
		if identity == excluding {
			continue
		}
		entries = append(entries, e)
	}
	sortEntries(entries)

	users := make([]domain.OnlineUser, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.Public())
	}
	return users
}

// Count returns the number of online identities.
func (r *Registry) Count() int {
	return len(r.byIdentity)
}

// Lookup returns the entry for identity.
func (r *Registry) Lookup(identity string) (Entry, bool) {
	e, ok := r.byIdentity[identity]
	return e, ok
}

// ConnIDs returns the connection of every entry, oldest join first.
func (r *Registry) ConnIDs() []string {
	entries := make([]Entry, 0, len(r.byIdentity))
	for _, e := range r.byIdentity {
		entries = append(entries, e)
	}
	sortEntries(entries)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ConnID
	}
	return ids
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].Identity < entries[j].Identity
	})
}
