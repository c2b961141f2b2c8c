package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/middleware"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/response"
)

const (
	// ScopeArchive is the token scope the ingest route accepts.
	ScopeArchive = "archive:write"
	IngestPath   = "/internal/v1/archive"

	sinkSubject  = "chat-gateway"
	sinkAttempts = 3
)

// errPermanent marks a rejection that retrying cannot fix.
var errPermanent = errors.New("archive record rejected")

// TokenIssuer mints service tokens for the sink.
type TokenIssuer interface {
	IssueScoped(subject, scope string) (string, time.Time, error)
}

// HTTPSink posts accepted messages to chat-api's ingest route from a
// background worker. Records keep the gateway's message id.
type HTTPSink struct {
	url     string
	client  *http.Client
	tokens  TokenIssuer
	queue   chan domain.Message
	backoff time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	token    string
	tokenExp time.Time
}

func NewHTTPSink(cfg config.ArchiveConfig, tokens TokenIssuer) *HTTPSink {
	size := cfg.Queue
	if size <= 0 {
		size = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &HTTPSink{
		url:     strings.TrimRight(cfg.APIURL, "/") + IngestPath,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		queue:   make(chan domain.Message, size),
		backoff: 200 * time.Millisecond,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Archive queues msg without blocking; a full queue drops it.
func (s *HTTPSink) Archive(ctx context.Context, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- msg:
	default:
		l := log.Ctx(ctx)
		l.Warn().Str("message_id", msg.ID).Msg("archive queue full, dropping message")
	}
}

// Close stops accepting messages and waits for the queue to drain.
func (s *HTTPSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
	return nil
}

func (s *HTTPSink) run() {
	defer close(s.done)
	l := log.L()

	for msg := range s.queue {
		if err := s.deliver(msg); err != nil {
			l.Error().Err(err).Str("message_id", msg.ID).Msg("failed to archive message")
		}
	}
}

func (s *HTTPSink) deliver(msg domain.Message) error {
	body, err := encodeRecord(msg)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = s.post(body)
		if err == nil || errors.Is(err, errPermanent) || attempt == sinkAttempts {
			return err
		}
		time.Sleep(time.Duration(attempt) * s.backoff)
	}
}

func (s *HTTPSink) post(body []byte) error {
	token, err := s.serviceToken()
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("archive api returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

// serviceToken reuses the current token until it is a minute from expiry.
func (s *HTTPSink) serviceToken() (string, error) {
	if s.token != "" && time.Until(s.tokenExp) > time.Minute {
		return s.token, nil
	}
	token, exp, err := s.tokens.IssueScoped(sinkSubject, ScopeArchive)
	if err != nil {
		return "", err
	}
	s.token, s.tokenExp = token, exp
	return token, nil
}

// IngestHandler is chat-api's side of the HTTP sink.
type IngestHandler struct {
	appender Appender
}

func NewIngestHandler(appender Appender) *IngestHandler {
	return &IngestHandler{appender: appender}
}

func (h *IngestHandler) RegisterRoutes(r *gin.Engine, auth *middleware.AuthMiddleware) {
	r.POST(IngestPath, auth.RequireScope(ScopeArchive), h.Ingest)
}

func (h *IngestHandler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}

	msg, err := decodeRecord(body)
	if err != nil {
		response.Unprocessable(c, err.Error())
		return
	}

	if err := h.appender.Append(c.Request.Context(), msg); err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str("message_id", msg.ID).Msg("failed to append archived message")
		response.InternalError(c, "failed to store message")
		return
	}
	c.Status(http.StatusNoContent)
}
