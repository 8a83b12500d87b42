// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"
)

// GrantType is the grant used for a token request.
type GrantType string

const (
	// GrantTypeAuthorizationCode exchanges an authorization code (and its PKCE
	// verifier) for tokens.
	GrantTypeAuthorizationCode GrantType = "authorization_code"

	// GrantTypeRefreshToken exchanges a refresh token for a new access token.
	GrantTypeRefreshToken GrantType = "refresh_token"
)

// TokenRequest is a request to the provider's token endpoint.
type TokenRequest struct {
	GrantType GrantType

	// Code and CodeVerifier are used by the authorization code grant.
	Code         string
	CodeVerifier *CodeVerifier

	// RefreshToken is used by the refresh token grant.
	RefreshToken RefreshToken

	// RedirectURL must match the redirect_uri of the authorization request.
	RedirectURL string

	// Nonce, when set, must match the nonce claim of a returned id_token.
	Nonce string

	// Extras are additional token request parameters.
	Extras map[string]string
}

// NewAuthorizationCodeRequest creates a TokenRequest which exchanges the
// authorization response's code for tokens.  The Request's verifier (if any),
// redirect URL and nonce are carried over so the exchange matches the
// authorization request that produced the code.
func NewAuthorizationCodeRequest(r *Request, code string) (*TokenRequest, error) {
	const op = "NewAuthorizationCodeRequest"
	switch {
	case r == nil:
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	case code == "":
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	return &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		CodeVerifier: r.PKCEVerifier(),
		RedirectURL:  r.RedirectURL(),
		Nonce:        r.Nonce(),
	}, nil
}

// NewRefreshTokenRequest creates a TokenRequest for the refresh token grant.
func NewRefreshTokenRequest(t RefreshToken) (*TokenRequest, error) {
	const op = "NewRefreshTokenRequest"
	if t == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	return &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: t,
	}, nil
}

// validate the request has what its grant needs.
func (r *TokenRequest) validate() error {
	const op = "TokenRequest.validate"
	if r == nil {
		return fmt.Errorf("%s: token request is nil: %w", op, ErrNilParameter)
	}
	switch r.GrantType {
	case GrantTypeAuthorizationCode:
		if r.Code == "" {
			return fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
		}
	case GrantTypeRefreshToken:
		if r.RefreshToken == "" {
			return fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
		}
	default:
		return fmt.Errorf("%s: unsupported grant type %q: %w", op, r.GrantType, ErrInvalidParameter)
	}
	for k := range r.Extras {
		switch k {
		case "grant_type", "code", "code_verifier", "refresh_token", "redirect_uri", "client_id", "client_secret":
			return fmt.Errorf("%s: extra %q is a reserved parameter: %w", op, k, ErrInvalidParameter)
		}
	}
	return nil
}

// TokenResponse is the provider's token endpoint response.  It's replaced
// wholesale on every successful token request.
type TokenResponse struct {
	AccessToken AccessToken `json:"access_token"`
	TokenType   string      `json:"token_type,omitempty"`

	// IssuedAt is when the response was received, per the handler's clock.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresIn is the access token's lifetime as reported by the provider.
	// Zero when the provider didn't report one.
	ExpiresIn time.Duration `json:"expires_in,omitempty"`

	// Expiry is IssuedAt plus ExpiresIn.  A zero Expiry means the access
	// token doesn't expire.
	Expiry time.Time `json:"expiry,omitempty"`

	// RefreshToken is empty when the provider didn't issue one.
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`

	// Scope is the scope actually granted, when the provider reports it.
	Scope string `json:"scope,omitempty"`

	// IDToken is only set when the provider returned a verified id_token.
	IDToken IDToken `json:"id_token,omitempty"`
}

// IsValid returns true when the response has an access token which hasn't
// expired at now.  Expiry is compared without skew unless WithExpirySkew is
// given, in which case the token is treated as expired that much earlier.
//
// Supported options:
//   - WithExpirySkew
func (t *TokenResponse) IsValid(now time.Time, opt ...Option) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	opts := getTokenOpts(opt...)
	return now.Before(t.Expiry.Add(-opts.withExpirySkew))
}

// tokenOptions is the set of available options for TokenResponse functions
type tokenOptions struct {
	withExpirySkew time.Duration
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithExpirySkew provides an optional skew subtracted from a token's expiry
// when checking if it's valid.
//
// Valid for: TokenResponse.IsValid
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*tokenOptions); ok {
			o.withExpirySkew = d
		}
	}
}
