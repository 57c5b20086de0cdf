// Package platform is the client side of the identity provider contract:
// login, registration, logout and the authenticated transport every other
// admin API call goes through.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
)

// APIPrefix is prepended to every provider path.
const APIPrefix = "/api/v1"

// Client is the identity provider API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	transport  *Transport
	store      *auth.Store
	contract   *Contract
	strict     bool
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithBaseTransport replaces the round tripper underneath Transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport.Base = rt
	}
}

// WithContract validates provider responses against contract. In strict
// mode a violation fails the call; otherwise it is only logged.
func WithContract(contract *Contract, strict bool) Option {
	return func(c *Client) {
		c.contract = contract
		c.strict = strict
	}
}

// WithExpireOnForbidden controls whether a 403 ends the session like a 401.
func WithExpireOnForbidden(v bool) Option {
	return func(c *Client) {
		c.transport.ExpireOnForbidden = v
	}
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a provider client bound to store. Rejections observed on
// authenticated calls are reported to expiry.
func NewClient(baseURL string, store *auth.Store, expiry *auth.ExpirationBroadcaster, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		transport:  NewTransport(http.DefaultTransport, store, expiry),
		store:      store,
		logger:     log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.Component("platform")
	c.transport.Logger = c.logger
	c.httpClient.Transport = c.transport
	return c
}

// BaseURL returns the provider base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store returns the session store the client renews and expires.
func (c *Client) Store() *auth.Store {
	return c.store
}

// reply is a fully read provider response.
type reply struct {
	status int
	header http.Header
	body   []byte
	// violation is set when the body broke the contract in strict mode.
	violation error
}

func (r reply) ok() bool {
	return r.status >= 200 && r.status < 300
}

// doRequest performs a provider request. Transport failures come back as
// NET-001 errors; every HTTP status is a reply.
func (c *Client) doRequest(ctx context.Context, mode requestMode, method, path string, body any) (reply, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return reply{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(withMode(ctx, mode), method, c.baseURL+APIPrefix+path, reqBody)
	if err != nil {
		return reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, errors.NewProviderUnreachableError(c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, errors.NewProviderUnreachableError(c.baseURL, err)
	}

	rep := reply{status: resp.StatusCode, header: resp.Header, body: data}
	if c.contract != nil {
		if verr := c.contract.ValidateResponse(ctx, req, resp.StatusCode, resp.Header, data); verr != nil {
			c.logger.WithError(verr).Warn("provider response violates contract", "method", method, "path", path, "status", resp.StatusCode)
			if c.strict {
				rep.violation = verr
			}
		}
	}
	return rep, nil
}

// errorBody covers the provider's {"detail": ...} as well as the generic
// {"error"} / {"message"} shapes.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// detail extracts a human readable message from an error response.
func detail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		var s string
		if len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &s) == nil && s != "" {
			return s
		}
		if len(eb.Detail) > 0 && string(eb.Detail) != "null" {
			return string(eb.Detail)
		}
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// rejection converts a non-2xx reply of an authenticated call into an error.
func (c *Client) rejection(rep reply) error {
	if rep.violation != nil {
		return rep.violation
	}
	switch {
	case rep.ok():
		return nil
	case rep.status == http.StatusUnauthorized,
		rep.status == http.StatusForbidden && c.transport.ExpireOnForbidden:
		return errors.NewSessionExpiredError()
	case rep.status == http.StatusForbidden:
		return errors.New(errors.ErrCodeProviderRejected, detail(rep.body))
	default:
		return errors.New(errors.ErrCodeProviderResponse,
			fmt.Sprintf("provider returned status %d: %s", rep.status, detail(rep.body)))
	}
}

func decodeJSON(rep reply, target any) error {
	if err := json.Unmarshal(rep.body, target); err != nil {
		return errors.Wrap(errors.ErrCodeProviderResponse, "failed to decode response", err)
	}
	return nil
}
