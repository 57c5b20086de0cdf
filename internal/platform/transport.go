package platform

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/log"
	"github.com/felixgeelhaar/kbadmin/internal/version"
)

const (
	// RenewalHeader carries a freshly issued token on any authenticated response.
	RenewalHeader = "X-New-Token"
	// RequestIDHeader correlates client and provider logs.
	RequestIDHeader = "X-Request-ID"
)

type requestMode int

const (
	// modeSession attaches the bearer token and reacts to renewal and rejection.
	modeSession requestMode = iota
	// modeAnonymous sends no token; rejections belong to the caller.
	modeAnonymous
	// modeBestEffort sends the token but ignores what comes back.
	modeBestEffort
)

type modeKey struct{}

func withMode(ctx context.Context, m requestMode) context.Context {
	return context.WithValue(ctx, modeKey{}, m)
}

func modeOf(ctx context.Context) requestMode {
	if m, ok := ctx.Value(modeKey{}).(requestMode); ok {
		return m
	}
	return modeSession
}

// Transport is an http.RoundTripper for authenticated provider calls. It
// attaches the current bearer token, applies renewal headers before the
// caller sees the response, and reports 401 (and optionally 403) responses
// to the expiration broadcaster.
//
// The session epoch is captured when the request starts, so a response that
// arrives after the session was destroyed or replaced cannot renew or expire
// the new one.
type Transport struct {
	Base              http.RoundTripper
	Store             *auth.Store
	Expiry            *auth.ExpirationBroadcaster
	ExpireOnForbidden bool
	Logger            *log.Logger
}

var userAgent = version.GetInfo().UserAgent()

// NewTransport creates a Transport that treats 403 as expiration.
func NewTransport(base http.RoundTripper, store *auth.Store, expiry *auth.ExpirationBroadcaster) *Transport {
	return &Transport{
		Base:              base,
		Store:             store,
		Expiry:            expiry,
		ExpireOnForbidden: true,
		Logger:            log.Nop(),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	mode := modeOf(req.Context())

	req = req.Clone(req.Context())
	reqID := req.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = uuid.New().String()
		req.Header.Set(RequestIDHeader, reqID)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	var token string
	var epoch uint64
	if mode != modeAnonymous && t.Store != nil {
		token, epoch = t.Store.Token()
		if token != "" && req.Header.Get("Authorization") == "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if mode != modeSession || token == "" {
		return resp, nil
	}

	if t.rejected(resp.StatusCode) {
		t.logger().Debug("request rejected", "request_id", reqID, "status", resp.StatusCode, "epoch", epoch)
		if t.Expiry != nil {
			t.Expiry.Emit(epoch)
		}
		return resp, nil
	}

	if renewed := resp.Header.Get(RenewalHeader); renewed != "" {
		ok, werr := t.Store.RenewAt(epoch, renewed)
		if werr != nil {
			t.logger().WithError(werr).Warn("persisting renewed token", "request_id", reqID)
		}
		if ok {
			t.logger().Debug("token renewed from response", "request_id", reqID, "token", auth.Redact(renewed))
		}
	}
	return resp, nil
}

func (t *Transport) rejected(status int) bool {
	return status == http.StatusUnauthorized ||
		(status == http.StatusForbidden && t.ExpireOnForbidden)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *log.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return log.Nop()
}
