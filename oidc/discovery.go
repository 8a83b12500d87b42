// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
)

// ProviderConfiguration is the provider's metadata, as published in its
// discovery document.  It's immutable once discovered.
//
// See: https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderConfiguration struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	UserInfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                       string   `json:"jwks_uri,omitempty"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// provider is used to verify id_tokens and make userinfo requests.
	provider *oidc.Provider
}

// Discover fetches the provider's discovery document for the issuer
// (/.well-known/openid-configuration) and returns its ProviderConfiguration.
// Errors wrap ErrDiscovery, and network failures also wrap ErrTransport.  No
// retries are attempted.
//
// Supported options:
//   - WithHTTPClient
//   - WithProviderCA
func Discover(ctx context.Context, issuer string, opt ...Option) (*ProviderConfiguration, error) {
	const op = "Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	opts := getDiscoverOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = NewHTTPClient(opts.withProviderCA); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	p, err := oidc.NewProvider(HTTPClientContext(ctx, client), issuer) // makes http req to issuer for discovery
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%s: unable to reach issuer %s: %w: %w: %w", op, issuer, ErrDiscovery, ErrTransport, err)
		}
		return nil, fmt.Errorf("%s: unable to discover issuer %s: %w: %w", op, issuer, ErrDiscovery, err)
	}

	pc := &ProviderConfiguration{}
	if err := p.Claims(pc); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w: %w", op, ErrDiscovery, err)
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, err)
	}
	pc.provider = p
	return pc, nil
}

// Validate the configuration has the endpoints the authorization code flow
// needs.  Every problem found is reported.
func (pc *ProviderConfiguration) Validate() error {
	const op = "ProviderConfiguration.Validate"
	if pc == nil {
		return fmt.Errorf("%s: %w", op, ErrConfigurationMissing)
	}
	var result *multierror.Error
	if pc.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is missing: %w", ErrInvalidParameter))
	}
	for name, endpoint := range map[string]string{
		"authorization_endpoint": pc.AuthorizationEndpoint,
		"token_endpoint":         pc.TokenEndpoint,
	} {
		if endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("%s is missing: %w", name, ErrInvalidParameter))
			continue
		}
		if u, err := url.Parse(endpoint); err != nil || !u.IsAbs() {
			result = multierror.Append(result, fmt.Errorf("%s %q is not an absolute URL: %w", name, endpoint, ErrInvalidParameter))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SupportsPKCE returns false only when the provider advertises its code
// challenge methods and S256 isn't one of them.
func (pc *ProviderConfiguration) SupportsPKCE() bool {
	if len(pc.CodeChallengeMethodsSupported) == 0 {
		return true
	}
	for _, m := range pc.CodeChallengeMethodsSupported {
		if m == string(S256) {
			return true
		}
	}
	return false
}

// UserInfo gets the UserInfo claims from the provider using the access token.
// The ctx should carry the http client (see HTTPClientContext).
func (pc *ProviderConfiguration) UserInfo(ctx context.Context, token AccessToken, claims interface{}) error {
	const op = "ProviderConfiguration.UserInfo"
	switch {
	case pc == nil || pc.provider == nil:
		return fmt.Errorf("%s: %w", op, ErrConfigurationMissing)
	case token == "":
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	case claims == nil:
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	case pc.UserInfoEndpoint == "":
		return fmt.Errorf("%s: provider has no userinfo endpoint: %w", op, ErrUserInfoFailed)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(token), TokenType: "Bearer"})
	userinfo, err := pc.provider.UserInfo(ctx, ts)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed: %w: %w", op, ErrUserInfoFailed, err)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w: %w", op, ErrUserInfoFailed, err)
	}
	return nil
}

// discoverOptions is the set of available options for Discover
type discoverOptions struct {
	withHTTPClient *http.Client
	withProviderCA string
}

// discoverDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func discoverDefaults() discoverOptions {
	return discoverOptions{}
}

// getDiscoverOpts gets the discover defaults and applies the opt overrides
// passed in
func getDiscoverOpts(opt ...Option) discoverOptions {
	opts := discoverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
