package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/response"
)

var ErrUnauthorized = errors.New("unauthorized")

// HistoryFetcher loads durable history for merging into the live view.
type HistoryFetcher interface {
	Global(ctx context.Context, limit int) ([]domain.Message, error)
	Private(ctx context.Context, peer string, limit int) ([]domain.Message, error)
}

// HistoryClient talks to the chat-api message routes.
type HistoryClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHistoryClient(baseURL, token string, timeout time.Duration) *HistoryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

type messagesData struct {
	Messages []domain.Message `json:"messages"`
}

func (h *HistoryClient) Global(ctx context.Context, limit int) ([]domain.Message, error) {
	return h.messages(ctx, "/api/v1/messages/global", limit)
}

func (h *HistoryClient) Private(ctx context.Context, peer string, limit int) ([]domain.Message, error) {
	peer = domain.NormalizeIdentity(peer)
	if peer == "" {
		return nil, domain.ErrEmptyRecipient
	}
	return h.messages(ctx, "/api/v1/messages/private/"+url.PathEscape(peer), limit)
}

func (h *HistoryClient) messages(ctx context.Context, path string, limit int) ([]domain.Message, error) {
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var data messagesData
	if err := h.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

// LoginResult is the part of the login response the client needs.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Student   struct {
		USN  string `json:"usn"`
		Name string `json:"name"`
	} `json:"student"`
}

// Login exchanges credentials for a session token and stores it on h.
func (h *HistoryClient) Login(ctx context.Context, usn, password string) (*LoginResult, error) {
	body := map[string]string{"usn": usn, "password": password}
	var res LoginResult
	if err := h.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &res); err != nil {
		return nil, err
	}
	h.token = res.Token
	return &res, nil
}

func (h *HistoryClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if !env.Success {
		msg := http.StatusText(resp.StatusCode)
		if env.Error != nil {
			msg = env.Error.Message
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
