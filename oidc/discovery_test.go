// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := Discover(ctx, tp.Addr(), WithProviderCA(tp.CACert()))
		require.NoError(err)
		assert.Equal(tp.Addr(), got.Issuer)
		assert.Equal(tp.Addr()+"/authorize", got.AuthorizationEndpoint)
		assert.Equal(tp.Addr()+"/token", got.TokenEndpoint)
		assert.Equal(tp.Addr()+"/userinfo", got.UserInfoEndpoint)
		assert.Equal(tp.Addr()+"/certs", got.JWKSURI)
		assert.Equal([]string{"S256"}, got.CodeChallengeMethodsSupported)
		assert.True(got.SupportsPKCE())
		assert.NotNil(got.provider)
	})
	t.Run("with-http-client", func(t *testing.T) {
		require := require.New(t)
		_, err := Discover(ctx, tp.Addr(), WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
	})
	t.Run("empty-issuer", func(t *testing.T) {
		_, err := Discover(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("invalid-ca", func(t *testing.T) {
		_, err := Discover(ctx, tp.Addr(), WithProviderCA("not a pem"))
		assert.ErrorIs(t, err, ErrInvalidCACert)
	})
	t.Run("untrusted-cert", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := Discover(ctx, tp.Addr())
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
		assert.ErrorIs(err, ErrTransport)
	})
	t.Run("unreachable", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		stopped := StartTestProvider(t)
		addr := stopped.Addr()
		stopped.Stop()
		_, err := Discover(ctx, addr, WithHTTPClient(tp.HTTPClient()))
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
		assert.ErrorIs(err, ErrTransport)
	})
	t.Run("unknown-issuer-path", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := Discover(ctx, tp.Addr()+"/other", WithHTTPClient(tp.HTTPClient()))
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
		assert.NotErrorIs(err, ErrTransport)
	})
	t.Run("missing-token-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		malformed := StartTestProvider(t)
		malformed.SetMalformedDiscovery(true)
		_, err := Discover(ctx, malformed.Addr(), WithProviderCA(malformed.CACert()))
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
		assert.ErrorIs(err, ErrInvalidParameter)
		assert.NotErrorIs(err, ErrTransport)
	})
}

func TestDiscover_Endpoints(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 srv.URL,
			"authorization_endpoint": "https://idp.example/auth",
			"token_endpoint":         "https://idp.example/token",
		})
	}))
	t.Cleanup(srv.Close)

	pc, err := Discover(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(err)
	assert.Equal("https://idp.example/auth", pc.AuthorizationEndpoint)
	assert.Equal("https://idp.example/token", pc.TokenEndpoint)
	assert.Empty(pc.UserInfoEndpoint)
	assert.True(pc.SupportsPKCE())

	c, err := NewConfig(srv.URL, "test-client", "", "http://127.0.0.1:8080/callback")
	require.NoError(err)
	r, err := c.NewRequest(WithLoginHint("alice@example.com"))
	require.NoError(err)
	authURL, err := c.AuthURL(pc, r)
	require.NoError(err)
	assert.Contains(authURL, "https://idp.example/auth?")
	assert.Contains(authURL, "login_hint=alice%40example.com")
	assert.Contains(authURL, "code_challenge="+r.PKCEVerifier().Challenge())
}

func TestProviderConfiguration_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		pc        *ProviderConfiguration
		wantCount int
		wantIsErr error
	}{
		{
			name: "valid",
			pc: &ProviderConfiguration{
				Issuer:                "https://idp.example",
				AuthorizationEndpoint: "https://idp.example/auth",
				TokenEndpoint:         "https://idp.example/token",
			},
		},
		{
			name:      "nil",
			wantIsErr: ErrConfigurationMissing,
		},
		{
			name:      "empty",
			pc:        &ProviderConfiguration{},
			wantCount: 3,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "relative-endpoint",
			pc: &ProviderConfiguration{
				Issuer:                "https://idp.example",
				AuthorizationEndpoint: "/auth",
				TokenEndpoint:         "https://idp.example/token",
			},
			wantCount: 1,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			err := tt.pc.Validate()
			if tt.wantIsErr == nil {
				require.NoError(err)
				return
			}
			require.Error(err)
			assert.ErrorIs(err, tt.wantIsErr)
			if tt.wantCount > 0 {
				var merr *multierror.Error
				require.ErrorAs(err, &merr)
				assert.Len(merr.Errors, tt.wantCount)
			}
		})
	}
}

func TestProviderConfiguration_SupportsPKCE(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.True((&ProviderConfiguration{}).SupportsPKCE())
	assert.True((&ProviderConfiguration{CodeChallengeMethodsSupported: []string{"plain", "S256"}}).SupportsPKCE())
	assert.False((&ProviderConfiguration{CodeChallengeMethodsSupported: []string{"plain"}}).SupportsPKCE())
}

func TestProviderConfiguration_UserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.SetClientCreds("test-client", "")
	tp.SetAccessTokens("test-access-token")

	pc, err := Discover(ctx, tp.Addr(), WithHTTPClient(tp.HTTPClient()))
	require.NoError(t, err)
	clientCtx := HTTPClientContext(ctx, tp.HTTPClient())

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// issue the access token
		c, err := NewConfig(tp.Addr(), "test-client", "", "http://127.0.0.1/callback", WithSupportedSigningAlgs(tp.SigningAlg()))
		require.NoError(err)
		resp := testSignIn(t, tp, c, pc)
		require.Equal(AccessToken("test-access-token"), resp.AccessToken)

		var claims map[string]interface{}
		require.NoError(pc.UserInfo(clientCtx, resp.AccessToken, &claims))
		assert.Equal("alice@example.com", claims["sub"])
		assert.Equal("Alice Doe", claims["name"])
	})
	t.Run("unknown-token", func(t *testing.T) {
		var claims map[string]interface{}
		err := pc.UserInfo(clientCtx, "unknown", &claims)
		assert.ErrorIs(t, err, ErrUserInfoFailed)
	})
	t.Run("empty-token", func(t *testing.T) {
		var claims map[string]interface{}
		err := pc.UserInfo(clientCtx, "", &claims)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("nil-claims", func(t *testing.T) {
		err := pc.UserInfo(clientCtx, "test-access-token", nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("not-discovered", func(t *testing.T) {
		var claims map[string]interface{}
		err := (&ProviderConfiguration{}).UserInfo(clientCtx, "test-access-token", &claims)
		assert.ErrorIs(t, err, ErrConfigurationMissing)
	})
}
