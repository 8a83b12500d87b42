// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSignIn completes an authorization code flow against the TestProvider
// and returns the token response.
func testSignIn(t *testing.T, tp *TestProvider, c *Config, pc *ProviderConfiguration, opt ...Option) *TokenResponse {
	t.Helper()
	require := require.New(t)
	h, err := NewTokenHandler(c, append([]Option{WithHTTPClient(tp.HTTPClient())}, opt...)...)
	require.NoError(err)
	r, err := c.NewRequest()
	require.NoError(err)
	authURL, err := c.AuthURL(pc, r)
	require.NoError(err)
	result, err := tp.Authorize(authURL)
	require.NoError(err)
	require.NoError(result.Err)
	require.Equal(r.State(), result.Response.State)
	tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
	require.NoError(err)
	resp, err := h.PerformTokenRequest(context.Background(), pc, tr)
	require.NoError(err)
	return resp
}

func TestNewTokenHandler(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		_, err := NewTokenHandler(nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		_, err := NewTokenHandler(&Config{})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("invalid-ca", func(t *testing.T) {
		c, err := NewConfig("https://example.com", "client", "", "http://127.0.0.1/callback", WithProviderCA("not a pem"))
		require.NoError(t, err)
		_, err = NewTokenHandler(c)
		assert.ErrorIs(t, err, ErrInvalidCACert)
	})
	t.Run("default-client", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://example.com", "client", "", "http://127.0.0.1/callback")
		require.NoError(err)
		h, err := NewTokenHandler(c)
		require.NoError(err)
		assert.NotNil(h.HTTPClient())
	})
}

func TestTokenHandler_PerformTokenRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const (
		clientID = "test-client"
		redirect = "http://127.0.0.1:8080/callback"
	)

	setup := func(t *testing.T, secret ClientSecret, opt ...Option) (*TestProvider, *Config, *ProviderConfiguration) {
		t.Helper()
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetClientCreds(clientID, string(secret))
		tp.SetAllowedRedirectURIs([]string{redirect})
		c, err := NewConfig(tp.Addr(), clientID, secret, redirect,
			append([]Option{WithSupportedSigningAlgs(tp.SigningAlg()), WithProviderCA(tp.CACert())}, opt...)...)
		require.NoError(err)
		pc, err := Discover(ctx, tp.Addr(), WithProviderCA(tp.CACert()))
		require.NoError(err)
		return tp, c, pc
	}

	t.Run("pkce-round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		tp.SetAccessTokens("A")
		tp.SetRefreshToken("R")
		now := time.Now()
		h, err := NewTokenHandler(c, WithNow(func() time.Time { return now }))
		require.NoError(err)

		r, err := c.NewRequest()
		require.NoError(err)
		verifier := r.PKCEVerifier()
		require.NotNil(verifier)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)

		result, err := tp.Authorize(authURL)
		require.NoError(err)
		require.NoError(result.Err)
		// the challenge sent is the S256 transform of the verifier
		challenge, err := CreateCodeChallenge(S256, verifier)
		require.NoError(err)
		assert.Equal(challenge, tp.LastAuthorizationRequest().Get("code_challenge"))

		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		resp, err := h.PerformTokenRequest(ctx, pc, tr)
		require.NoError(err)
		// the exact verifier reached the token endpoint
		assert.Equal(verifier.Verifier(), tp.LastCodeVerifier())

		assert.Equal(AccessToken("A"), resp.AccessToken)
		assert.Equal("Bearer", resp.TokenType)
		assert.Equal(RefreshToken("R"), resp.RefreshToken)
		assert.Equal(now, resp.IssuedAt)
		assert.Equal(time.Hour, resp.ExpiresIn)
		assert.Equal(now.Add(time.Hour), resp.Expiry)
		assert.Equal("openid", resp.Scope)
		require.NotEmpty(resp.IDToken)

		var claims map[string]interface{}
		require.NoError(resp.IDToken.Claims(&claims))
		assert.Equal(r.Nonce(), claims["nonce"])
		assert.Equal("alice@example.com", claims["sub"])
		assert.True(resp.IsValid(now))
		assert.False(resp.IsValid(now.Add(time.Hour)))
	})
	t.Run("wrong-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		require.NoError(result.Err)

		other, err := NewCodeVerifier()
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		tr.CodeVerifier = other
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		require.Error(err)
		var tokenErr *TokenError
		require.True(errors.As(err, &tokenErr))
		assert.Equal("invalid_grant", tokenErr.Code)
		assert.ErrorIs(err, ErrTokenRequest)
	})
	t.Run("client-secret-post", func(t *testing.T) {
		assert := assert.New(t)
		tp, c, pc := setup(t, "test-secret")
		resp := testSignIn(t, tp, c, pc)
		assert.NotEmpty(resp.AccessToken)
		assert.Empty(tp.LastCodeVerifier())
	})
	t.Run("client-secret-basic", func(t *testing.T) {
		assert := assert.New(t)
		tp, c, pc := setup(t, "test secret/with+chars", WithClientAuthMethod(ClientAuthSecretBasic))
		resp := testSignIn(t, tp, c, pc)
		assert.NotEmpty(resp.AccessToken)
	})
	t.Run("invalid-client", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "test-secret")
		tp.SetClientCreds(clientID, "other-secret")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		var tokenErr *TokenError
		require.ErrorAs(err, &tokenErr)
		assert.Equal("invalid_client", tokenErr.Code)
	})
	t.Run("refresh-keeps-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		tp.SetAccessTokens("A", "A2")
		tp.SetRefreshToken("R")
		resp := testSignIn(t, tp, c, pc)
		require.Equal(AccessToken("A"), resp.AccessToken)

		h, err := NewTokenHandler(c)
		require.NoError(err)
		tr, err := NewRefreshTokenRequest(resp.RefreshToken)
		require.NoError(err)
		refreshed, err := h.PerformTokenRequest(ctx, pc, tr)
		require.NoError(err)
		assert.Equal(AccessToken("A2"), refreshed.AccessToken)
		assert.Equal(RefreshToken("R"), refreshed.RefreshToken)
		assert.Empty(refreshed.IDToken)
	})
	t.Run("refresh-rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		tp.SetRefreshToken("R")
		tp.SetRotateRefreshTokens(true)
		resp := testSignIn(t, tp, c, pc)

		h, err := NewTokenHandler(c)
		require.NoError(err)
		tr, err := NewRefreshTokenRequest(resp.RefreshToken)
		require.NoError(err)
		refreshed, err := h.PerformTokenRequest(ctx, pc, tr)
		require.NoError(err)
		assert.NotEqual(RefreshToken("R"), refreshed.RefreshToken)
		assert.NotEmpty(refreshed.RefreshToken)
	})
	t.Run("refresh-invalid-grant", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, c, pc := setup(t, "")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		tr, err := NewRefreshTokenRequest("unknown")
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		require.Error(err)
		var tokenErr *TokenError
		require.ErrorAs(err, &tokenErr)
		assert.Equal("invalid_grant", tokenErr.Code)
		assert.NotErrorIs(err, ErrTransport)
	})
	t.Run("provider-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		tp.SetTokenError("temporarily_unavailable", "try later")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		tr, err := NewRefreshTokenRequest("R")
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		var tokenErr *TokenError
		require.ErrorAs(err, &tokenErr)
		assert.Equal("temporarily_unavailable", tokenErr.Code)
		assert.Equal("try later", tokenErr.Description)
	})
	t.Run("no-expires-in", func(t *testing.T) {
		assert := assert.New(t)
		tp, c, pc := setup(t, "")
		tp.SetExpiresIn(0)
		resp := testSignIn(t, tp, c, pc)
		assert.Zero(resp.ExpiresIn)
		assert.True(resp.Expiry.IsZero())
		assert.True(resp.IsValid(time.Now().Add(24 * time.Hour)))
	})
	t.Run("no-id-token", func(t *testing.T) {
		assert := assert.New(t)
		tp, c, pc := setup(t, "")
		tp.SetOmitIDToken(true)
		resp := testSignIn(t, tp, c, pc)
		assert.Empty(resp.IDToken)
	})
	t.Run("no-id-token-with-audiences", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "", WithAudiences(clientID))
		tp.SetOmitIDToken(true)
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		resp, err := h.PerformTokenRequest(ctx, pc, tr)
		require.Error(err)
		assert.Nil(resp)
		assert.ErrorIs(err, ErrMissingIDToken)
	})
	t.Run("audience-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "", WithAudiences("other-audience"))
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		require.Error(err)
		assert.ErrorIs(err, ErrIDTokenVerificationFailed)
		assert.ErrorIs(err, ErrInvalidAudience)
	})
	t.Run("nonce-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		tr.Nonce = "some-other-nonce"
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		require.Error(err)
		assert.ErrorIs(err, ErrIDTokenVerificationFailed)
		assert.ErrorIs(err, ErrInvalidNonce)
	})
	t.Run("unsupported-signing-alg", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, _, pc := setup(t, "")
		c, err := NewConfig(tp.Addr(), clientID, "", redirect, WithProviderCA(tp.CACert()))
		require.NoError(err)
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		assert.ErrorIs(err, ErrIDTokenVerificationFailed)
	})
	t.Run("configuration-missing", func(t *testing.T) {
		require := require.New(t)
		_, c, _ := setup(t, "")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		tr, err := NewRefreshTokenRequest("R")
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, nil, tr)
		require.ErrorIs(err, ErrConfigurationMissing)
	})
	t.Run("transport-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		tp.Stop()
		tr, err := NewRefreshTokenRequest("R")
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		require.Error(err)
		assert.ErrorIs(err, ErrTransport)
		var tokenErr *TokenError
		assert.False(errors.As(err, &tokenErr))
	})
	t.Run("code-used-twice", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, c, pc := setup(t, "")
		h, err := NewTokenHandler(c)
		require.NoError(err)
		r, err := c.NewRequest()
		require.NoError(err)
		authURL, err := c.AuthURL(pc, r)
		require.NoError(err)
		result, err := tp.Authorize(authURL)
		require.NoError(err)
		tr, err := NewAuthorizationCodeRequest(r, result.Response.Code)
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		require.NoError(err)
		_, err = h.PerformTokenRequest(ctx, pc, tr)
		assert.ErrorIs(err, ErrTokenRequest)
	})
}
