// Package api is the REST client for the marketplace backend. It adapts
// the remote endpoints to the domain types and recovers expired
// credentials once per call through the auth coordinator.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bidfront.app/internal/auction"
	"bidfront.app/internal/auth"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultFallbackTTL = 15 * time.Minute
)

// Refresher renews the access credential; satisfied by *auth.Coordinator.
type Refresher interface {
	Refresh(ctx context.Context) (auth.Credential, error)
}

// APIError is a structured rejection from the backend. Message is
// human-readable and surfaced verbatim for business-rule rejections.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL   string
	http      *http.Client
	state     *auth.State
	refresher Refresher
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLimiter overrides the client-side request pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a Client against the given base URL, reading the shared
// credential state for authorization headers.
func New(baseURL string, state *auth.State, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		state:   state,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UseRefresher installs the coordinator used to recover a 401 once per
// call. Set after construction because the coordinator's network leg is
// this client's RefreshCredential.
func (c *Client) UseRefresher(r Refresher) { c.refresher = r }

// GetAuction fetches the authoritative auction snapshot.
func (c *Client) GetAuction(ctx context.Context, id string) (auction.Snapshot, error) {
	var snap auction.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/auctions/"+id, nil, &snap, nil)
	return snap, err
}

// GetBidLog fetches the ordered bid history, newest first.
func (c *Client) GetBidLog(ctx context.Context, id string) ([]auction.LogEntry, error) {
	var out struct {
		Bids []auction.LogEntry `json:"bids"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/auctions/"+id+"/bids", nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Bids, nil
}

// PlaceBid submits a bid. The call moves money, so it carries an
// idempotency key: a retried or replayed request cannot double-apply on
// the remote ledger.
func (c *Client) PlaceBid(ctx context.Context, id string, amount int64) error {
	body := map[string]any{"amount": amount}
	hdr := http.Header{"Idempotency-Key": []string{uuid.NewString()}}
	return c.do(ctx, http.MethodPost, "/v1/auctions/"+id+"/bids", body, nil, hdr)
}

// Profile is the slice of the user profile the client consults.
type Profile struct {
	Verified bool `json:"identity_verified"`
}

// GetProfile fetches the current user's profile capabilities.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "/v1/me", nil, &p, nil)
	return p, err
}

// AddBookmark adds the auction to the user's bookmark set.
func (c *Client) AddBookmark(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/bookmarks/"+id, nil, nil, nil)
}

// RemoveBookmark removes the auction from the user's bookmark set.
func (c *Client) RemoveBookmark(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/bookmarks/"+id, nil, nil, nil)
}

// RefreshCredential asks for a new access credential using the
// cookie-scoped session. It bypasses the 401-recovery path on purpose:
// this call IS the recovery.
func (c *Client) RefreshCredential(ctx context.Context) (auth.Credential, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return auth.Credential{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/refresh", nil)
	if err != nil {
		return auth.Credential{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return auth.Credential{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Credential{}, decodeError(resp)
	}
	var out struct {
		AccessToken string    `json:"access_token"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return auth.Credential{}, fmt.Errorf("api: decode refresh response: %w", err)
	}
	exp := out.ExpiresAt
	if exp.IsZero() {
		exp = auth.ExpiryFromToken(out.AccessToken, defaultFallbackTTL, time.Now())
	}
	return auth.Credential{AccessToken: out.AccessToken, ExpiresAt: exp}, nil
}

// do runs one request with pacing, auth header injection and a single
// 401 recovery through the refresher.
func (c *Client) do(ctx context.Context, method, path string, body any, out any, hdr http.Header) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	cred, _ := c.state.Current()
	err := c.once(ctx, method, path, body, out, hdr, cred.AccessToken)

	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusUnauthorized || c.refresher == nil {
		return err
	}

	// Expired credential: recover once, then retry the call. If the
	// refresh itself fails the session is already cleared locally.
	fresh, rerr := c.refresher.Refresh(ctx)
	if rerr != nil {
		return rerr
	}
	c.logger.Debug("retrying after credential refresh",
		zap.String("method", method), zap.String("path", path))
	return c.once(ctx, method, path, body, out, hdr, fresh.AccessToken)
}

func (c *Client) once(ctx context.Context, method, path string, body, out any, hdr http.Header, token string) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var wire struct {
		Error APIError `json:"error"`
	}
	if b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
		if json.Unmarshal(b, &wire) == nil {
			apiErr.Code = wire.Error.Code
			apiErr.Message = wire.Error.Message
		}
	}
	return apiErr
}
