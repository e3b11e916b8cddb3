package directory

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

// DefaultTimeout bounds each provider request.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps provider responses.
const maxBodyBytes = 1 << 20

// HTTPClient is the provider API client. It implements engine.Directory,
// probe.Minter and probe.UserInfo.
//
// Authorization failures (401, 403) wrap engine.ErrUnauthorized. Transport
// errors, other non-2xx statuses and malformed bodies wrap
// engine.ErrUnavailable.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

type clientConfig struct {
	timeout time.Duration
	http2   bool
	limit   rate.Limit
	burst   int
	client  *http.Client
}

// ClientOption configures an HTTPClient.
type ClientOption func(*clientConfig)

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTP2 selects the HTTP/2 transport. For http:// endpoints this is
// cleartext HTTP/2 with prior knowledge. Default: enabled.
func WithHTTP2(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.http2 = enabled
	}
}

// WithRateLimit caps outgoing requests per second. Zero means unlimited.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *clientConfig) {
		if perSecond <= 0 {
			c.limit = rate.Inf
			return
		}
		c.limit = rate.Limit(perSecond)
		c.burst = max(burst, 1)
	}
}

// WithHTTPClient uses client as is. Timeout and HTTP/2 options are ignored.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.client = client
	}
}

// NewHTTPClient creates a client for the provider at endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) (*HTTPClient, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse directory endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("directory endpoint %q: scheme must be http or https", endpoint)
	}

	cfg := clientConfig{
		timeout: DefaultTimeout,
		http2:   true,
		limit:   rate.Inf,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.timeout,
			Transport: newTransport(base.Scheme, cfg.http2),
		}
	}

	return &HTTPClient{
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(cfg.limit, cfg.burst),
	}, nil
}

func newTransport(scheme string, useHTTP2 bool) http.RoundTripper {
	if !useHTTP2 {
		return http.DefaultTransport.(*http.Transport).Clone()
	}
	if scheme == "https" {
		return &http2.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

// ListSessions implements engine.Directory.
func (c *HTTPClient) ListSessions(ctx context.Context) (account.RemoteSessionList, error) {
	var resp sessionsResponse
	if err := c.do(ctx, http.MethodGet, "v1/sessions", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for i, s := range resp.Sessions {
		if s.ID == "" {
			return nil, fmt.Errorf("list sessions: %w: entry %d has no id", engine.ErrUnavailable, i)
		}
	}
	return account.RemoteSessionList(resp.Sessions), nil
}

// CreateSession implements engine.Directory.
func (c *HTTPClient) CreateSession(ctx context.Context, id account.ID) error {
	if err := c.do(ctx, http.MethodPost, "v1/sessions", "", createRequest{ID: id}, nil); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// DestroyAllSessions implements engine.Directory.
func (c *HTTPClient) DestroyAllSessions(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "v1/sessions", "", nil, nil); err != nil {
		return fmt.Errorf("destroy sessions: %w", err)
	}
	return nil
}

// FetchAuthToken implements engine.Directory.
func (c *HTTPClient) FetchAuthToken(ctx context.Context, index int) (string, error) {
	var resp authTokenResponse
	path := "v1/sessions/" + strconv.Itoa(index) + "/token"
	if err := c.do(ctx, http.MethodPost, path, "", nil, &resp); err != nil {
		return "", fmt.Errorf("fetch auth token: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("fetch auth token: %w: empty token", engine.ErrUnavailable)
	}
	return resp.Token, nil
}

// RemoveSession implements engine.Directory.
func (c *HTTPClient) RemoveSession(ctx context.Context, id account.ID, remaining []account.ID) error {
	req := removeRequest{ID: id, Remaining: remaining}
	if req.Remaining == nil {
		req.Remaining = []account.ID{}
	}
	if err := c.do(ctx, http.MethodPost, "v1/sessions/remove", "", req, nil); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// MintAccessToken implements probe.Minter.
func (c *HTTPClient) MintAccessToken(ctx context.Context, refreshToken, scope string) (string, error) {
	var resp mintResponse
	req := mintRequest{RefreshToken: refreshToken, Scope: scope}
	if err := c.do(ctx, http.MethodPost, "v1/token", "", req, &resp); err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("mint access token: %w: empty token", engine.ErrUnavailable)
	}
	return resp.AccessToken, nil
}

// UserID implements probe.UserInfo.
func (c *HTTPClient) UserID(ctx context.Context, accessToken string) (string, error) {
	var resp userInfoResponse
	if err := c.do(ctx, http.MethodGet, "v1/userinfo", accessToken, nil, &resp); err != nil {
		return "", fmt.Errorf("user info: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("user info: %w: empty id", engine.ErrUnavailable)
	}
	return resp.ID, nil
}

// do sends one request. in is JSON-encoded when non-nil; out is decoded from
// a 2xx response when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", engine.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", engine.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", engine.ErrUnavailable, err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	msg := http.StatusText(status)
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	sentinel := engine.ErrUnavailable
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		sentinel = engine.ErrUnauthorized
	}
	return &StatusError{Status: status, Message: msg, kind: sentinel}
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Status  int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
}

// Unwrap returns engine.ErrUnauthorized or engine.ErrUnavailable.
func (e *StatusError) Unwrap() error {
	return e.kind
}
