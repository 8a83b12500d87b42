// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// ClientAuthMethod is how the client authenticates itself at the token
// endpoint.  PKCE (ClientAuthNone) and a shared client secret are mutually
// exclusive.
type ClientAuthMethod string

const (
	// ClientAuthNone is a public client which proves possession of the
	// authorization code with a PKCE code_verifier.
	ClientAuthNone ClientAuthMethod = "none"

	// ClientAuthSecretPost sends the client secret as a client_secret form
	// parameter.
	ClientAuthSecretPost ClientAuthMethod = "client_secret_post"

	// ClientAuthSecretBasic sends the client secret using HTTP Basic auth.
	ClientAuthSecretBasic ClientAuthMethod = "client_secret_basic"
)

// DefaultAuthorizationTimeout is how long an authorization attempt may wait
// for the user to complete the provider's login.
const DefaultAuthorizationTimeout = 5 * time.Minute

// DefaultExtras returns the authorization request extras used when none are
// configured.  They ask the provider for consent and for a refresh_token.
func DefaultExtras() map[string]string {
	return map[string]string{
		"prompt":      "consent",
		"access_type": "offline",
	}
}

// Config represents the configuration for the authorization code flow.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret.  It must be empty when
	// ClientAuth is ClientAuthNone.
	ClientSecret ClientSecret

	// ClientAuth is the client authentication method used at the token
	// endpoint.
	ClientAuth ClientAuthMethod

	// Scopes is a list of additional scopes to request of the provider.  The
	// required "openid" scope is always requested.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported id_token signing
	// algorithms.
	SupportedSigningAlgs []Alg

	// RedirectURL is where the provider sends the authorization response.
	RedirectURL string

	// Audiences is an optional list of case-sensitive strings used when
	// verifying an id_token's "aud" claim.
	Audiences []string

	// Extras are additional authorization request parameters.
	Extras map[string]string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// AuthorizationTimeout bounds how long an authorization attempt waits
	// for its response.
	AuthorizationTimeout time.Duration
}

// NewConfig composes a new config for a provider.  When a clientSecret is
// provided the client authenticates with it using client_secret_post,
// otherwise it's a public client which uses PKCE.
//
// Supported options:
//   - WithClientAuthMethod
//   - WithSupportedSigningAlgs
//   - WithScopes
//   - WithAudiences
//   - WithExtras
//   - WithProviderCA
//   - WithAuthorizationTimeout
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		ClientAuth:           opts.withClientAuth,
		RedirectURL:          redirectURL,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		Extras:               opts.withExtras,
		ProviderCA:           opts.withProviderCA,
		AuthorizationTimeout: opts.withAuthorizationTimeout,
	}
	if c.ClientAuth == "" {
		c.ClientAuth = ClientAuthNone
		if clientSecret != "" {
			c.ClientAuth = ClientAuthSecretPost
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable via
// an http request.  Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client ID is empty: %w", ErrInvalidParameter))
	}
	switch c.ClientAuth {
	case ClientAuthNone:
		if c.ClientSecret != "" {
			result = multierror.Append(result, fmt.Errorf("client secret must be empty when using PKCE: %w", ErrInvalidParameter))
		}
	case ClientAuthSecretPost, ClientAuthSecretBasic:
		if c.ClientSecret == "" {
			result = multierror.Append(result, fmt.Errorf("client secret is empty for %s: %w", c.ClientAuth, ErrInvalidParameter))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unsupported client auth method %q: %w", c.ClientAuth, ErrInvalidParameter))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	} else if _, err := url.Parse(c.RedirectURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("redirect URL %s is invalid: %w", c.RedirectURL, ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("discovery URL is empty: %w", ErrInvalidParameter))
	} else {
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("issuer %s is invalid (%s): %w", c.Issuer, err, ErrInvalidIssuer))
		case u.Scheme != "https" && u.Scheme != "http":
			result = multierror.Append(result, fmt.Errorf("issuer %s scheme is not http or https: %w", c.Issuer, ErrInvalidIssuer))
		}
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %s: %w", a, ErrInvalidParameter))
		}
	}
	for k := range c.Extras {
		if reservedRequestParams[k] {
			result = multierror.Append(result, fmt.Errorf("extra %q is a reserved parameter: %w", k, ErrInvalidParameter))
		}
	}
	if c.AuthorizationTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("authorization timeout is negative: %w", ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := NewHTTPClient(c.ProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// AuthURL will generate the URL the caller can use to kick off the
// authorization code flow for the Request with the provider.  The URL
// carries the request's state, nonce, PKCE challenge and extras.  A request
// with a PKCE verifier fails with ErrUnsupportedChallengeMethod when the
// provider doesn't advertise S256.
func (c *Config) AuthURL(pc *ProviderConfiguration, r *Request) (string, error) {
	const op = "Config.AuthURL"
	switch {
	case pc == nil:
		return "", fmt.Errorf("%s: %w", op, ErrConfigurationMissing)
	case r == nil:
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	case r.State() == r.Nonce():
		return "", fmt.Errorf("%s: request state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	case c.ClientAuth == ClientAuthNone && r.PKCEVerifier() == nil:
		return "", fmt.Errorf("%s: public clients require a PKCE verifier: %w", op, ErrInvalidParameter)
	case r.PKCEVerifier() != nil && !pc.SupportsPKCE():
		return "", fmt.Errorf("%s: provider supports %q: %w", op, pc.CodeChallengeMethodsSupported, ErrUnsupportedChallengeMethod)
	}

	oauth2Config := c.oauth2Config(pc, r.RedirectURL(), r.Scopes())
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(r.Nonce()),
	}
	if v := r.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
		)
	}
	for k, v := range r.Extras() {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, v))
	}
	if len(r.Prompts()) > 0 {
		prompts := make([]string, 0, len(r.Prompts()))
		for _, p := range r.Prompts() {
			prompts = append(prompts, string(p))
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(prompts, " ")))
	}
	if r.LoginHint() != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("login_hint", r.LoginHint()))
	}
	if len(r.UILocales()) > 0 {
		locales := make([]string, 0, len(r.UILocales()))
		for _, l := range r.UILocales() {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return oauth2Config.AuthCodeURL(r.State(), authCodeOpts...), nil
}

// oauth2Config builds the x/oauth2 client configuration for the provider's
// endpoints.
func (c *Config) oauth2Config(pc *ProviderConfiguration, redirectURL string, scopes []string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = c.RedirectURL
	}
	if len(scopes) == 0 {
		scopes = c.scopes()
	}
	endpoint := oauth2.Endpoint{
		AuthURL:  pc.AuthorizationEndpoint,
		TokenURL: pc.TokenEndpoint,
	}
	var secret string
	switch c.ClientAuth {
	case ClientAuthSecretBasic:
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
		secret = string(c.ClientSecret)
	case ClientAuthSecretPost:
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		secret = string(c.ClientSecret)
	default:
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: secret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

// scopes returns the configured scopes with "openid" first.
func (c *Config) scopes() []string {
	scopes := []string{oidc.ScopeOpenID}
	for _, s := range c.Scopes {
		if s != oidc.ScopeOpenID {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// extras returns the configured extras or the DefaultExtras when none are
// configured.
func (c *Config) extras() map[string]string {
	if c.Extras == nil {
		return DefaultExtras()
	}
	extras := make(map[string]string, len(c.Extras))
	for k, v := range c.Extras {
		extras[k] = v
	}
	return extras
}

// NewRequest creates a Request for one authorization attempt using the
// Config's redirect URL, scopes, extras and authorization timeout.  Public
// clients get a fresh PKCE verifier for every request.
func (c *Config) NewRequest(opt ...Option) (*Request, error) {
	const op = "Config.NewRequest"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	expireIn := c.AuthorizationTimeout
	if expireIn == 0 {
		expireIn = DefaultAuthorizationTimeout
	}
	reqOpts := []Option{
		WithScopes(c.scopes()...),
		WithExtras(c.extras()),
	}
	if c.ClientAuth == ClientAuthNone {
		v, err := NewCodeVerifier()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		reqOpts = append(reqOpts, WithPKCE(v))
	}
	// caller options are applied last, so they override the config
	reqOpts = append(reqOpts, opt...)
	r, err := NewRequest(expireIn, c.RedirectURL, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// configOptions is the set of available options
type configOptions struct {
	withClientAuth           ClientAuthMethod
	withSupportedSigningAlgs []Alg
	withScopes               []string
	withAudiences            []string
	withExtras               map[string]string
	withProviderCA           string
	withAuthorizationTimeout time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withSupportedSigningAlgs: []Alg{RS256},
		withAuthorizationTimeout: DefaultAuthorizationTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientAuthMethod provides an optional client authentication method for
// the Config.  It overrides the method NewConfig derives from the client
// secret.
func WithClientAuthMethod(m ClientAuthMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientAuth = m
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of id_token signing
// algorithms for the Config.  The default is RS256.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithAuthorizationTimeout provides an optional timeout for authorization
// attempts.
func WithAuthorizationTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAuthorizationTimeout = d
		}
	}
}
