package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

const cassandraSchema = `
	CREATE TABLE IF NOT EXISTS messages_by_conversation (
		conversation        text,
		message_id          text,
		kind                text,
		sender_identity     text,
		sender_display_name text,
		recipient_identity  text,
		body                text,
		created_at          timestamp,
		PRIMARY KEY ((conversation), message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`

// CassandraRepository implements Repository on Cassandra. Retention is
// enforced by the server through per-row TTLs.
type CassandraRepository struct {
	session *gocql.Session
}

func NewCassandraRepository(cfg config.CassandraConfig) (*CassandraRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	if err := session.Query(cassandraSchema).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &CassandraRepository{session: session}, nil
}

func (r *CassandraRepository) Append(ctx context.Context, msg domain.Message, expiresAt time.Time) error {
	ttl := int(time.Until(expiresAt).Seconds())
	if ttl <= 0 {
		return nil
	}

	query := `
		INSERT INTO messages_by_conversation (
			conversation, message_id, kind, sender_identity, sender_display_name,
			recipient_identity, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		USING TTL ?`

	err := r.session.Query(query,
		msg.Conversation(),
		msg.ID,
		string(msg.Kind),
		msg.SenderIdentity,
		msg.SenderDisplayName,
		msg.RecipientIdentity,
		msg.Body,
		msg.Timestamp,
		ttl,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// List ignores now: expired rows are already gone.
func (r *CassandraRepository) List(ctx context.Context, conversation string, limit int, _ time.Time) ([]domain.Message, error) {
	query := `SELECT message_id, kind, sender_identity, sender_display_name,
			recipient_identity, body, created_at
		FROM messages_by_conversation
		WHERE conversation = ?
		ORDER BY message_id DESC
		LIMIT ?`

	iter := r.session.Query(query, conversation, limit).WithContext(ctx).Iter()

	var (
		msgs      []domain.Message
		msg       domain.Message
		kind      string
		createdAt time.Time
	)
	for iter.Scan(
		&msg.ID,
		&kind,
		&msg.SenderIdentity,
		&msg.SenderDisplayName,
		&msg.RecipientIdentity,
		&msg.Body,
		&createdAt,
	) {
		msg.Kind = domain.Kind(kind)
		msg.Timestamp = createdAt.UTC()
		msgs = append(msgs, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	if msgs == nil {
		msgs = []domain.Message{}
	}
	reverse(msgs)
	return msgs, nil
}

// DeleteExpired is a no-op; rows carry their own TTL.
func (r *CassandraRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *CassandraRepository) Close() error {
	r.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
