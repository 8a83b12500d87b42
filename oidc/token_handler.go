// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// TokenHandler performs token requests at the provider's token endpoint for
// a Config.  It's safe for concurrent use.
type TokenHandler struct {
	config  *Config
	client  *http.Client
	nowFunc func() time.Time
}

// NewTokenHandler creates a TokenHandler for the Config.  When no http client
// is provided, one is created using the Config's ProviderCA.
//
// Supported options:
//   - WithHTTPClient
//   - WithNow
func NewTokenHandler(c *Config, opt ...Option) (*TokenHandler, error) {
	const op = "NewTokenHandler"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	opts := getTokenHandlerOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &TokenHandler{
		config:  c,
		client:  client,
		nowFunc: opts.withNowFunc,
	}, nil
}

// HTTPClient returns the handler's http client.
func (h *TokenHandler) HTTPClient() *http.Client { return h.client }

// PerformTokenRequest sends the token request to the provider's token
// endpoint and returns its response.
//
// The authorization code grant sends the code and redirect_uri, plus either
// the code_verifier or the client secret depending on the Config's
// ClientAuth.  The refresh token grant sends only the refresh_token, and the
// prior refresh token is returned in the response when the provider didn't
// issue a new one.  Extras are only sent with the authorization code grant.
//
// A provider error response is returned as a *TokenError; any other failure
// wraps ErrTransport.  An id_token in the response is verified (signature,
// issuer, audience, expiry and the request's nonce) before it's returned.
// When the Config has Audiences, the authorization code grant must return
// an id_token or ErrMissingIDToken is returned.
func (h *TokenHandler) PerformTokenRequest(ctx context.Context, pc *ProviderConfiguration, r *TokenRequest) (*TokenResponse, error) {
	const op = "TokenHandler.PerformTokenRequest"
	if pc == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrConfigurationMissing)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oidcCtx := HTTPClientContext(ctx, h.client)
	oauth2Config := h.config.oauth2Config(pc, r.RedirectURL, nil)

	var (
		token *oauth2.Token
		err   error
	)
	switch r.GrantType {
	case GrantTypeAuthorizationCode:
		var exchangeOpts []oauth2.AuthCodeOption
		if r.CodeVerifier != nil {
			exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(r.CodeVerifier.Verifier()))
		}
		for k, v := range r.Extras {
			exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam(k, v))
		}
		token, err = oauth2Config.Exchange(oidcCtx, r.Code, exchangeOpts...)
	case GrantTypeRefreshToken:
		// an empty access token forces the token source to refresh
		token, err = oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(r.RefreshToken)}).Token()
	}
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			tokenErr := &TokenError{
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				URI:         retrieveErr.ErrorURI,
			}
			if tokenErr.Code == "" && retrieveErr.Response != nil {
				// a non-2xx response without an oauth error body
				tokenErr.Code = http.StatusText(retrieveErr.Response.StatusCode)
				tokenErr.Description = string(retrieveErr.Body)
			}
			return nil, fmt.Errorf("%s: %w", op, tokenErr)
		}
		return nil, fmt.Errorf("%s: unable to reach token endpoint: %w: %w", op, ErrTransport, err)
	}

	resp := &TokenResponse{
		AccessToken:  AccessToken(token.AccessToken),
		TokenType:    token.TokenType,
		IssuedAt:     h.now(),
		RefreshToken: RefreshToken(token.RefreshToken),
	}
	if token.ExpiresIn > 0 {
		resp.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
		resp.Expiry = resp.IssuedAt.Add(resp.ExpiresIn)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		if err := h.verifyIDToken(oidcCtx, pc, rawIDToken, r.Nonce); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		resp.IDToken = IDToken(rawIDToken)
	}
	if resp.IDToken == "" && r.GrantType == GrantTypeAuthorizationCode && len(h.config.Audiences) > 0 {
		// audiences can't be checked without an id_token
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	return resp, nil
}

// verifyIDToken verifies the id_token's signature using the provider's
// keys, then its issuer, audiences, expiry and nonce.
func (h *TokenHandler) verifyIDToken(ctx context.Context, pc *ProviderConfiguration, raw string, nonce string) error {
	const op = "TokenHandler.verifyIDToken"
	if pc.provider == nil {
		return fmt.Errorf("%s: provider keys are unavailable: %w", op, ErrIDTokenVerificationFailed)
	}
	algs := make([]string, 0, len(h.config.SupportedSigningAlgs))
	for _, a := range h.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := pc.provider.Verifier(&oidc.Config{
		ClientID:             h.config.ClientID,
		SupportedSigningAlgs: algs,
		Now:                  h.now,
	})
	idToken, err := verifier.Verify(ctx, raw)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerificationFailed, err)
	}
	if len(h.config.Audiences) > 0 && !audiencesMatch(h.config.Audiences, idToken.Audience) {
		return fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerificationFailed, ErrInvalidAudience)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerificationFailed, ErrInvalidNonce)
	}
	return nil
}

// audiencesMatch returns true when one of the token's audiences is allowed.
func audiencesMatch(allowed []string, aud []string) bool {
	for _, a := range aud {
		for _, b := range allowed {
			if a == b {
				return true
			}
		}
	}
	return false
}

// now returns the current time using the optional nowFunc.
func (h *TokenHandler) now() time.Time {
	if h.nowFunc != nil {
		return h.nowFunc()
	}
	return time.Now() // fallback to this default
}

// tokenHandlerOptions is the set of available options for the TokenHandler
type tokenHandlerOptions struct {
	withHTTPClient *http.Client
	withNowFunc    func() time.Time
}

// tokenHandlerDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func tokenHandlerDefaults() tokenHandlerOptions {
	return tokenHandlerOptions{}
}

// getTokenHandlerOpts gets the handler defaults and applies the opt overrides
// passed in
func getTokenHandlerOpts(opt ...Option) tokenHandlerOptions {
	opts := tokenHandlerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
