package history

import (
	"context"
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

// Repository persists messages grouped by conversation key.
type Repository interface {
	// Append stores msg until expiresAt. Appending an id that already exists
	// is a no-op.
	Append(ctx context.Context, msg domain.Message, expiresAt time.Time) error

	// List returns up to limit of the newest unexpired messages of a
	// conversation, oldest first.
	List(ctx context.Context, conversation string, limit int, now time.Time) ([]domain.Message, error)

	// DeleteExpired removes messages whose retention ended at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Close() error
}
