// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Prompt is a value for the authorization request's prompt parameter.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// reservedRequestParams are authorization request parameters owned by the
// Request and Config; they can't be supplied as extras.
var reservedRequestParams = map[string]bool{
	"client_id":             true,
	"redirect_uri":          true,
	"response_type":         true,
	"scope":                 true,
	"state":                 true,
	"nonce":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// Request represents one authorization code flow attempt for a user.  It
// contains the data needed to uniquely represent that one-time attempt across
// the interactions needed to complete it: the authorization request, the
// redirect back to the client and the code exchange.
//
// State() is the request's identity: it's sent with the authorization
// request and must come back unchanged with the authorization response.
type Request struct {
	// state is a unique identifier and an opaque value used to maintain
	// request between the authorization request and the callback.
	state string

	// nonce is a unique nonce and suitable for use as an oidc nonce.
	nonce string

	// expiration is the expiration time for the Request.
	expiration time.Time

	// redirectURL is where the provider will redirect the user-agent.
	redirectURL string

	// scopes is the list of scopes requested.
	scopes []string

	// withVerifier is the PKCE code verifier; nil when the client
	// authenticates with a secret instead.
	withVerifier *CodeVerifier

	// loginHint is an optional hint about the login identifier the user
	// might use.
	loginHint string

	// extras are additional authorization request parameters.
	extras map[string]string

	// uiLocales are the user's preferred languages for the provider's UI.
	uiLocales []language.Tag

	// prompts override the extras' prompt parameter when set.
	prompts []Prompt

	// nowFunc is an optional function that returns the current time
	nowFunc func() time.Time
}

// NewRequest creates a new Request.
//
// Supported options:
//   - WithNow
//   - WithScopes
//   - WithPKCE
//   - WithLoginHint
//   - WithExtras
//   - WithUILocales
//   - WithPrompts
//   - WithState
//   - WithNonce
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Request, error) {
	const op = "NewRequest"
	opts := getReqOpts(opt...)
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	for k := range opts.withExtras {
		if reservedRequestParams[k] {
			return nil, fmt.Errorf("%s: extra %q is a reserved parameter: %w", op, k, ErrInvalidParameter)
		}
	}
	nonce := opts.withNonce
	if nonce == "" {
		var err error
		if nonce, err = NewID(WithPrefix("n")); err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
		}
	}
	state := opts.withState
	if state == "" {
		var err error
		if state, err = NewID(WithPrefix("st")); err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
		}
	}
	if state == nonce {
		return nil, fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	r := &Request{
		state:        state,
		nonce:        nonce,
		redirectURL:  redirectURL,
		scopes:       opts.withScopes,
		withVerifier: opts.withVerifier,
		loginHint:    opts.withLoginHint,
		uiLocales:    opts.withUILocales,
		prompts:      opts.withPrompts,
		nowFunc:      opts.withNowFunc,
	}
	if len(opts.withExtras) > 0 {
		r.extras = make(map[string]string, len(opts.withExtras))
		for k, v := range opts.withExtras {
			r.extras[k] = v
		}
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

// State is a unique identifier and an opaque value used to maintain request
// between the authorization request and the callback.
func (r *Request) State() string { return r.state }

// Nonce is a unique nonce used to associate the client session with an
// id_token, and to mitigate replay attacks.  It never equals the State.
func (r *Request) Nonce() string { return r.nonce }

// Expiration returns the Request's expiration.
func (r *Request) Expiration() time.Time { return r.expiration }

// RedirectURL returns the URL the provider redirects the user-agent to.
func (r *Request) RedirectURL() string { return r.redirectURL }

// Scopes returns the scopes requested.
func (r *Request) Scopes() []string { return r.scopes }

// ResponseType is always "code" since only the authorization code flow is
// supported.
func (r *Request) ResponseType() string { return "code" }

// PKCEVerifier returns the request's PKCE code verifier, or nil when the
// request doesn't use PKCE.  The verifier is never part of the
// authorization URL.  A copy is returned.
func (r *Request) PKCEVerifier() *CodeVerifier { return r.withVerifier.Copy() }

// LoginHint returns the request's optional login_hint.
func (r *Request) LoginHint() string { return r.loginHint }

// Extras returns a copy of the request's additional parameters.
func (r *Request) Extras() map[string]string {
	if r.extras == nil {
		return nil
	}
	extras := make(map[string]string, len(r.extras))
	for k, v := range r.extras {
		extras[k] = v
	}
	return extras
}

// UILocales returns the request's preferred UI languages.
func (r *Request) UILocales() []language.Tag { return r.uiLocales }

// Prompts returns the request's prompt values, if any.
func (r *Request) Prompts() []Prompt { return r.prompts }

// IsExpired returns true if the request has expired.
func (r *Request) IsExpired() bool {
	return !r.now().Before(r.expiration)
}

// now returns the current time using the optional nowFunc.
func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to this default
}

// reqOptions is the set of available options for Request functions
type reqOptions struct {
	withNowFunc   func() time.Time
	withScopes    []string
	withVerifier  *CodeVerifier
	withLoginHint string
	withExtras    map[string]string
	withUILocales []language.Tag
	withPrompts   []Prompt
	withState     string
	withNonce     string
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides an option to use a CodeVerifier with the authorization
// code flow.  See NewCodeVerifier(...)
//
// Valid for: Request
//
// See: https://tools.ietf.org/html/rfc7636
func WithPKCE(v *CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithLoginHint provides an optional login_hint for the authorization
// request, typically the username or email the user will sign in with.
//
// Valid for: Request
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withLoginHint = hint
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's
// user interface, sent as the ui_locales parameter.
//
// Valid for: Request
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withUILocales = locales
		}
	}
}

// WithPrompts provides optional prompt values for the authorization request.
// They replace any prompt given in the extras.
//
// Valid for: Request
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withPrompts = prompts
		}
	}
}

// WithState provides an optional state for the Request, instead of a
// generated one.  It must be unique per request.
//
// Valid for: Request
func WithState(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withState = s
		}
	}
}

// WithNonce provides an optional nonce for the Request, instead of a
// generated one.
//
// Valid for: Request
func WithNonce(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withNonce = n
		}
	}
}
