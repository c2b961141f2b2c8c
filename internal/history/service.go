package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/audit"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

var ErrRecipientNotFound = errors.New("recipient not found")

// RecipientDirectory reports whether an identity has an account.
type RecipientDirectory interface {
	Exists(ctx context.Context, identity string) (bool, error)
}

type ServiceConfig struct {
	Retention    time.Duration
	GlobalLimit  int
	PrivateLimit int
}

type Service struct {
	repo       Repository
	cache      Cache
	recipients RecipientDirectory
	cfg        ServiceConfig
	now        func() time.Time
	sf         singleflight.Group
}

// NewService wires a history service. cache and recipients may be nil.
func NewService(repo Repository, cache Cache, recipients RecipientDirectory, cfg ServiceConfig) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = 50
	}
	if cfg.PrivateLimit <= 0 {
		cfg.PrivateLimit = 100
	}
	return &Service{
		repo:       repo,
		cache:      cache,
		recipients: recipients,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Global returns the newest global messages, oldest first. limit is clamped
// to the configured maximum; zero or less selects the maximum.
func (s *Service) Global(ctx context.Context, limit int) ([]domain.Message, error) {
	return s.list(ctx, domain.GlobalConversation, clamp(limit, s.cfg.GlobalLimit))
}

// Private returns the newest messages exchanged by self and peer, oldest first.
func (s *Service) Private(ctx context.Context, self, peer string, limit int) ([]domain.Message, error) {
	self, peer = domain.NormalizeIdentity(self), domain.NormalizeIdentity(peer)
	if self == "" {
		return nil, domain.ErrEmptyIdentity
	}
	if peer == "" {
		return nil, domain.ErrEmptyRecipient
	}
	return s.list(ctx, domain.ConversationKey(self, peer), clamp(limit, s.cfg.PrivateLimit))
}

// PostGlobal validates and stores a global message sent by sender.
func (s *Service) PostGlobal(ctx context.Context, sender, displayName, body string) (domain.Message, error) {
	sender = domain.NormalizeIdentity(sender)
	if sender == "" {
		return domain.Message{}, domain.ErrEmptyIdentity
	}
	text, err := domain.ValidateBody(body)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.NewGlobalMessage(sender, displayName, text, s.now())
	if err := s.Append(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// PostPrivate validates and stores a private message. The recipient must
// have an account when a RecipientDirectory is configured.
func (s *Service) PostPrivate(ctx context.Context, sender, displayName, recipient, body string) (domain.Message, error) {
	sender, recipient = domain.NormalizeIdentity(sender), domain.NormalizeIdentity(recipient)
	if sender == "" {
		return domain.Message{}, domain.ErrEmptyIdentity
	}
	if recipient == "" {
		return domain.Message{}, domain.ErrEmptyRecipient
	}
	text, err := domain.ValidateBody(body)
	if err != nil {
		return domain.Message{}, err
	}

	if s.recipients != nil {
		ok, err := s.recipients.Exists(ctx, recipient)
		if err != nil {
			return domain.Message{}, fmt.Errorf("failed to look up recipient: %w", err)
		}
		if !ok {
			return domain.Message{}, ErrRecipientNotFound
		}
	}

	msg := domain.NewPrivateMessage(sender, displayName, recipient, text, s.now())
	if err := s.Append(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// Append stores an already accepted message. Messages past retention are
// dropped; re-appending a stored id is a no-op.
func (s *Service) Append(ctx context.Context, msg domain.Message) error {
	expiresAt := msg.Timestamp.Add(s.cfg.Retention)
	if !expiresAt.After(s.now()) {
		l := log.Ctx(ctx)
		l.Debug().Str("message_id", msg.ID).Msg("dropping message past retention")
		return nil
	}

	if err := s.repo.Append(ctx, msg, expiresAt); err != nil {
		return err
	}
	audit.LogTarget(ctx, audit.ActionHistoryAppend, msg.SenderIdentity, msg.Conversation(), "message stored")

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, msg.Conversation()); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("conversation", msg.Conversation()).Msg("cache invalidate error")
		}
	}
	return nil
}

// Sweep deletes expired messages.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

func (s *Service) list(ctx context.Context, conversation string, limit int) ([]domain.Message, error) {
	if s.cache == nil {
		return s.repo.List(ctx, conversation, limit, s.now())
	}

	key := conversation + ":" + strconv.Itoa(limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetchWithCache(ctx, conversation, limit)
	})
	if err != nil {
		return nil, err
	}

	msgs, ok := result.([]domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return msgs, nil
}

func (s *Service) fetchWithCache(ctx context.Context, conversation string, limit int) ([]domain.Message, error) {
	cached, err := s.cache.Get(ctx, conversation, limit)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	msgs, err := s.repo.List(ctx, conversation, limit, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, conversation, limit, msgs); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache set error")
	}
	return msgs, nil
}

func clamp(limit, ceiling int) int {
	if limit <= 0 || limit > ceiling {
		return ceiling
	}
	return limit
}
