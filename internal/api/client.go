// Package api talks to the ticket backend. FetchTicket and PostReply are
// the only two operations the synchronization engine needs; Login exists so
// the watcher binary can obtain a bearer token from the stub backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util"
)

// Client is the backend surface the engine depends on.
type Client interface {
	FetchTicket(ctx context.Context, trackingCode string) (*domain.Ticket, error)
	PostReply(ctx context.Context, trackingCode, body string) error
}

// HTTPClient implements Client over the backend's REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewHTTPClient builds a client from configuration. An API token, when
// configured, is used as-is; otherwise call Login first.
func NewHTTPClient(cfg config.APIConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout()},
		logger:  logger.Named("api_client"),
		token:   cfg.Token,
	}
}

// SetToken replaces the bearer token used on subsequent requests.
func (c *HTTPClient) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Login exchanges credentials for a bearer token and stores it.
func (c *HTTPClient) Login(ctx context.Context, email, password string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/login", dto.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewUnavailable("ticket backend unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}

	var envelope struct {
		Data struct {
			Auth dto.AuthResponse `json:"auth"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperrors.NewUnavailable("malformed login response", err)
	}
	c.SetToken(envelope.Data.Auth.Token)
	c.logger.Debug("authenticated", zap.Time("token_expires_at", envelope.Data.Auth.ExpiresAt))
	return nil
}

// FetchTicket retrieves the canonical snapshot for a tracking code.
func (c *HTTPClient) FetchTicket(ctx context.Context, trackingCode string) (*domain.Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tickets/"+url.PathEscape(trackingCode), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewUnavailable("ticket backend unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var envelope struct {
		Data dto.TicketPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, apperrors.NewUnavailable("malformed ticket payload", err)
	}
	return envelope.Data.ToDomain(), nil
}

// PostReply submits a requester communication. The created entry is not
// returned; callers refetch the snapshot to observe it.
func (c *HTTPClient) PostReply(ctx context.Context, trackingCode, body string) error {
	path := "/tickets/" + url.PathEscape(trackingCode) + "/replies"
	req, err := c.newJSONRequest(ctx, http.MethodPost, path, dto.ReplyRequest{Body: body})
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewUnavailable("ticket backend unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}
	return nil
}

func (c *HTTPClient) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return req, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// decodeError maps the backend's error envelope onto a DomainError so the
// engine can distinguish refusals from transport failures.
func (c *HTTPClient) decodeError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
		return apperrors.NewDomainError(
			"UPSTREAM_ERROR",
			fmt.Sprintf("unexpected backend response: %s", resp.Status),
			resp.StatusCode, nil)
	}
	return &apperrors.DomainError{
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		HTTPStatus: resp.StatusCode,
		Details:    envelope.Error.Details,
	}
}
