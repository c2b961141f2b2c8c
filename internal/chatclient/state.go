package chatclient

import (
	"slices"
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

// TypingUser is an identity currently flagged as typing.
type TypingUser struct {
	Identity    string
	DisplayName string
	// Private is set when the signal was addressed to us alone.
	Private bool
	until   time.Time
}

// mergeMessages returns the union of existing and incoming by message id,
// ordered oldest first and trimmed to the newest limit entries.
func mergeMessages(existing, incoming []domain.Message, limit int) []domain.Message {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]domain.Message, 0, len(existing)+len(incoming))
	for _, batch := range [][]domain.Message{existing, incoming} {
		for _, m := range batch {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}

	slices.SortStableFunc(out, func(a, b domain.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})

	if limit > 0 && len(out) > limit {
		out = slices.Clone(out[len(out)-limit:])
	}
	return out
}

func upsertUser(users []domain.OnlineUser, u domain.OnlineUser) []domain.OnlineUser {
	for i := range users {
		if users[i].Identity == u.Identity {
			users[i] = u
			return users
		}
	}
	return append(users, u)
}

func removeUser(users []domain.OnlineUser, identity string) []domain.OnlineUser {
	return slices.DeleteFunc(users, func(u domain.OnlineUser) bool {
		return u.Identity == identity
	})
}
