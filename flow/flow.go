// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

const (
	discoveryKey = "discovery"
	refreshKey   = "refresh"

	// sharedRequestTimeout bounds discovery and refresh requests, which
	// don't stop when the caller that started them gives up.
	sharedRequestTimeout = time.Minute
)

// Flow coordinates the authorization code flow for a single user session.
// It's safe for concurrent use.
type Flow struct {
	config   *oidc.Config
	listener RedirectListener
	handler  *oidc.TokenHandler
	logger   hclog.Logger
	nowFunc  func() time.Time
	skew     time.Duration
	metrics  *metrics

	group  singleflight.Group
	events emitter

	mu          sync.Mutex
	pc          *oidc.ProviderConfiguration
	configuring bool
	refreshing  bool
	closed      bool
	pending     *pendingAuthorization

	// the session; the refresh token is kept apart from the access token
	// response since a refresh response may omit it.
	accessTokenResponse *oidc.TokenResponse
	refreshToken        oidc.RefreshToken

	// generation changes whenever the session is replaced or cleared, so
	// in flight refreshes can tell their result is stale.
	generation uint64
}

type pendingAuthorization struct {
	request    *oidc.Request
	cancel     context.CancelFunc
	exchanging bool
}

// New creates a new Flow for the config's client which dispatches
// authorization requests through the listener.  Supported options:
// WithLogger, WithNow, WithHTTPClient, WithExpirySkew, WithMetrics
func New(c *oidc.Config, l RedirectListener, opt ...Option) (*Flow, error) {
	const op = "flow.New"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	if l == nil {
		return nil, fmt.Errorf("%s: redirect listener is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getFlowOpts(opt...)
	nowFunc := opts.withNowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}
	handler, err := oidc.NewTokenHandler(c, oidc.WithHTTPClient(opts.withHTTPClient), oidc.WithNow(nowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Flow{
		config:   c,
		listener: l,
		handler:  handler,
		logger:   opts.withLogger,
		nowFunc:  nowFunc,
		skew:     opts.withExpirySkew,
		metrics:  newMetrics(opts.withRegisterer),
	}, nil
}

// FetchServiceConfiguration discovers the provider's configuration.  It's a
// no-op once the configuration has been fetched, and concurrent calls share
// one discovery request.  Failures aren't retried.
func (f *Flow) FetchServiceConfiguration(ctx context.Context) error {
	const op = "Flow.FetchServiceConfiguration"
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	case f.pc != nil:
		f.mu.Unlock()
		return nil
	}
	f.configuring = true
	f.mu.Unlock()

	_, err := f.shared(ctx, discoveryKey, func(ctx context.Context) (interface{}, error) {
		pc, err := oidc.Discover(ctx, f.config.Issuer, oidc.WithHTTPClient(f.handler.HTTPClient()))
		f.metrics.observeDiscovery(err)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.configuring = false
		if err != nil {
			return nil, err
		}
		if f.pc == nil {
			f.pc = pc
		}
		return nil, nil
	})
	if err != nil {
		f.logger.Error("unable to fetch service configuration", "issuer", f.config.Issuer, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Info("fetched service configuration", "issuer", f.config.Issuer)
	return nil
}

// ProviderConfiguration returns the discovered configuration, or nil before
// FetchServiceConfiguration has succeeded.
func (f *Flow) ProviderConfiguration() *oidc.ProviderConfiguration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pc
}

// MakeAuthorizationRequest builds a new authorization request and dispatches
// it through the Flow's RedirectListener.  It returns once the request is
// dispatched: the outcome is reported with EventTokenResponse or
// EventAuthorizationFailed.  ctx bounds the whole authorization, including
// the time the user takes to sign in, which is also limited by the Config's
// AuthorizationTimeout.
//
// Only one authorization may be outstanding at a time;
// oidc.ErrAuthorizationInProgress is returned for another request.
func (f *Flow) MakeAuthorizationRequest(ctx context.Context, loginHint string) (*oidc.Request, error) {
	const op = "Flow.MakeAuthorizationRequest"
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	case f.pc == nil:
		f.mu.Unlock()
		f.logger.Error("authorization request not made", "error", oidc.ErrConfigurationMissing)
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrConfigurationMissing)
	case f.pending != nil:
		f.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrAuthorizationInProgress)
	}
	pc := f.pc

	reqOpts := []oidc.Option{oidc.WithNow(f.nowFunc)}
	if loginHint != "" {
		reqOpts = append(reqOpts, oidc.WithLoginHint(loginHint))
	}
	r, err := f.config.NewRequest(reqOpts...)
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	timeout := f.config.AuthorizationTimeout
	if timeout <= 0 {
		timeout = oidc.DefaultAuthorizationTimeout
	}
	awaitCtx, cancel := context.WithTimeout(ctx, timeout)
	p := &pendingAuthorization{request: r, cancel: cancel}
	f.pending = p
	f.mu.Unlock()

	ch, err := f.listener.PerformAuthorizationRequest(awaitCtx, pc, r)
	if err != nil {
		cancel()
		f.clearPending(p)
		f.logger.Error("unable to dispatch authorization request", "state", r.State(), "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Debug("authorization request dispatched", "state", r.State())
	go f.awaitAuthorization(awaitCtx, pc, p, ch)
	return r, nil
}

// SignIn starts an authorization unless the user is already signed in,
// fetching the provider's configuration first when needed.  It returns a nil
// request when the user is already signed in.
func (f *Flow) SignIn(ctx context.Context, username string) (*oidc.Request, error) {
	const op = "Flow.SignIn"
	if f.LoggedIn() {
		return nil, nil
	}
	if err := f.FetchServiceConfiguration(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r, err := f.MakeAuthorizationRequest(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// awaitAuthorization is the single completion path for a dispatched
// request: it runs once per request and always clears the pending slot.
func (f *Flow) awaitAuthorization(ctx context.Context, pc *oidc.ProviderConfiguration, p *pendingAuthorization, ch <-chan *oidc.AuthorizationResult) {
	const op = "Flow.awaitAuthorization"
	defer p.cancel()
	state := p.request.State()

	err := func() error {
		var res *oidc.AuthorizationResult
		select {
		case r, ok := <-ch:
			if !ok || r == nil {
				if err := ctxErr(ctx, op); err != nil {
					return err
				}
				return fmt.Errorf("%s: no authorization response: %w", op, ErrAuthorizationCanceled)
			}
			res = r
		case <-ctx.Done():
			return ctxErr(ctx, op)
		}
		if res.Err != nil {
			return fmt.Errorf("%s: %w", op, res.Err)
		}
		if res.Response == nil || res.Response.State != state {
			return fmt.Errorf("%s: state doesn't match the pending request: %w", op, oidc.ErrResponseStateInvalid)
		}

		f.mu.Lock()
		if f.pending != p {
			f.mu.Unlock()
			return fmt.Errorf("%s: %w", op, ErrAuthorizationCanceled)
		}
		p.exchanging = true
		f.mu.Unlock()

		tr, err := oidc.NewAuthorizationCodeRequest(p.request, res.Response.Code)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		resp, err := f.performTokenRequest(ctx, pc, tr)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		f.mu.Lock()
		if f.pending != p {
			f.mu.Unlock()
			return fmt.Errorf("%s: %w", op, ErrAuthorizationCanceled)
		}
		f.pending = nil
		f.accessTokenResponse = resp
		f.refreshToken = resp.RefreshToken
		f.generation++
		f.mu.Unlock()
		return nil
	}()
	f.metrics.observeAuthorization(err)
	if err != nil {
		f.clearPending(p)
		f.logger.Error("authorization failed", "state", state, "error", err)
		f.events.emit(Event{Kind: EventAuthorizationFailed, State: state, Err: err})
		return
	}
	f.logger.Info("authorization complete", "state", state)

	if _, err := f.PerformWithFreshTokens(ctx); err != nil {
		if !errors.Is(err, oidc.ErrMissingRefreshToken) {
			f.logger.Warn("unable to refresh tokens after authorization", "state", state, "error", err)
		} else {
			f.logger.Debug("no refresh_token received", "state", state)
		}
	}
	f.events.emit(Event{Kind: EventTokenResponse, State: state})
}

// CancelAuthorization abandons the outstanding authorization request, if
// any.  Its outcome is reported as EventAuthorizationFailed with
// ErrAuthorizationCanceled.
func (f *Flow) CancelAuthorization() {
	f.mu.Lock()
	p := f.pending
	f.pending = nil
	f.mu.Unlock()
	if p != nil {
		f.logger.Debug("canceling authorization request", "state", p.request.State())
		p.cancel()
	}
}

// Close cancels the outstanding authorization request.  Afterwards, new
// authorization requests are rejected with ErrClosed.
func (f *Flow) Close() error {
	f.mu.Lock()
	f.closed = true
	p := f.pending
	f.pending = nil
	f.mu.Unlock()
	if p != nil {
		p.cancel()
	}
	return nil
}

// LoggedIn reports whether the session holds an unexpired access token.
func (f *Flow) LoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessTokenResponse.IsValid(f.nowFunc(), oidc.WithExpirySkew(f.skew))
}

// Status returns the session's current status.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.pending != nil && f.pending.exchanging:
		return ExchangingCode
	case f.pending != nil:
		return AwaitingAuthorization
	case f.refreshing:
		return Refreshing
	case f.configuring:
		return ConfiguringProvider
	case f.accessTokenResponse.IsValid(f.nowFunc(), oidc.WithExpirySkew(f.skew)):
		return SignedIn
	case f.accessTokenResponse != nil || f.refreshToken != "":
		return Expired
	default:
		return SignedOut
	}
}

// TokenResponse returns a copy of the session's access token response, or
// nil when signed out.
func (f *Flow) TokenResponse() *oidc.TokenResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accessTokenResponse == nil {
		return nil
	}
	cp := *f.accessTokenResponse
	return &cp
}

// PerformWithFreshTokens returns an unexpired access token, refreshing it
// with the session's refresh token when needed.  Concurrent refreshes are
// coalesced into one token request.  A failed refresh leaves the session
// unchanged and returns the token endpoint's *oidc.TokenError when the
// provider rejected the grant.
func (f *Flow) PerformWithFreshTokens(ctx context.Context) (oidc.AccessToken, error) {
	const op = "Flow.PerformWithFreshTokens"
	f.mu.Lock()
	pc := f.pc
	rt := f.refreshToken
	resp := f.accessTokenResponse
	gen := f.generation
	f.mu.Unlock()

	switch {
	case pc == nil:
		return "", fmt.Errorf("%s: %w", op, oidc.ErrConfigurationMissing)
	case rt == "":
		return "", fmt.Errorf("%s: %w", op, oidc.ErrMissingRefreshToken)
	case resp.IsValid(f.nowFunc(), oidc.WithExpirySkew(f.skew)):
		return resp.AccessToken, nil
	}

	v, err := f.shared(ctx, refreshKey, func(ctx context.Context) (interface{}, error) {
		return f.refresh(ctx, pc, rt, gen)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v.(oidc.AccessToken), nil
}

func (f *Flow) refresh(ctx context.Context, pc *oidc.ProviderConfiguration, rt oidc.RefreshToken, gen uint64) (oidc.AccessToken, error) {
	const op = "Flow.refresh"
	// a refresh which completed since the caller looked may have already
	// replaced the expired token
	f.mu.Lock()
	if f.generation == gen && f.accessTokenResponse.IsValid(f.nowFunc(), oidc.WithExpirySkew(f.skew)) {
		token := f.accessTokenResponse.AccessToken
		f.mu.Unlock()
		return token, nil
	}
	f.mu.Unlock()

	tr, err := oidc.NewRefreshTokenRequest(rt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	f.setRefreshing(true)
	resp, err := f.performTokenRequest(ctx, pc, tr)
	f.setRefreshing(false)
	if err != nil {
		f.logger.Error("unable to refresh access token", "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	f.mu.Lock()
	if f.generation != gen {
		f.mu.Unlock()
		return "", fmt.Errorf("%s: %w", op, ErrSessionChanged)
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = rt
	}
	f.accessTokenResponse = resp
	f.refreshToken = resp.RefreshToken
	f.mu.Unlock()

	f.logger.Debug("access token refreshed", "expiry", resp.Expiry)
	f.events.emit(Event{Kind: EventTokenRefreshed})
	return resp.AccessToken, nil
}

// SignOut clears the session's tokens and cancels the outstanding
// authorization request.  EventSignedOut is emitted when there was something
// to clear, so repeated calls are harmless.
func (f *Flow) SignOut() {
	f.mu.Lock()
	p := f.pending
	cleared := p != nil || f.accessTokenResponse != nil || f.refreshToken != ""
	f.pending = nil
	f.accessTokenResponse = nil
	f.refreshToken = ""
	f.generation++
	f.mu.Unlock()

	if p != nil {
		p.cancel()
	}
	if !cleared {
		return
	}
	f.metrics.observeSignOut()
	f.logger.Info("signed out")
	f.events.emit(Event{Kind: EventSignedOut})
}

// UserInfo fetches the signed in user's claims from the provider's userinfo
// endpoint, using a fresh access token.
func (f *Flow) UserInfo(ctx context.Context, claims interface{}) error {
	const op = "Flow.UserInfo"
	token, err := f.PerformWithFreshTokens(ctx)
	switch {
	case errors.Is(err, oidc.ErrMissingRefreshToken):
		// without a refresh_token the current access token is all there is
		resp := f.TokenResponse()
		if !resp.IsValid(f.nowFunc(), oidc.WithExpirySkew(f.skew)) {
			return fmt.Errorf("%s: %w", op, err)
		}
		token = resp.AccessToken
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	pc := f.ProviderConfiguration()
	if err := pc.UserInfo(oidc.HTTPClientContext(ctx, f.handler.HTTPClient()), token, claims); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Subscribe registers h for events of the kind.  The returned func removes
// the subscription.
func (f *Flow) Subscribe(kind EventKind, h Handler) func() {
	return f.events.subscribe(kind, h)
}

func (f *Flow) performTokenRequest(ctx context.Context, pc *oidc.ProviderConfiguration, tr *oidc.TokenRequest) (*oidc.TokenResponse, error) {
	start := time.Now()
	resp, err := f.handler.PerformTokenRequest(ctx, pc, tr)
	f.metrics.observeTokenRequest(string(tr.GrantType), start, err)
	return resp, err
}

func (f *Flow) setRefreshing(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshing = b
}

func (f *Flow) clearPending(p *pendingAuthorization) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == p {
		f.pending = nil
	}
}

// ctxErr maps a done context to the reason the authorization ended.
// shared runs fn once for all concurrent callers with the same key.  fn's
// context keeps the values of the first caller's ctx but not its
// cancellation, and is bounded by sharedRequestTimeout.  Each caller stops
// waiting when its own ctx is done.
func (f *Flow) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := f.group.DoChan(key, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRequestTimeout)
		defer cancel()
		return fn(sharedCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func ctxErr(ctx context.Context, op string) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, oidc.ErrExpiredRequest, err)
	case err != nil:
		return fmt.Errorf("%s: %w: %w", op, ErrAuthorizationCanceled, err)
	}
	return nil
}
