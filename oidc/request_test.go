// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}
	testVerifier, err := NewCodeVerifier()
	require.NoError(t, err)

	tests := []struct {
		name          string
		expireIn      time.Duration
		redirectURL   string
		opts          []Option
		wantScopes    []string
		wantVerifier  *CodeVerifier
		wantLoginHint string
		wantExtras    map[string]string
		wantLocales   []language.Tag
		wantPrompts   []Prompt
		wantState     string
		wantNonce     string
		wantIsErr     error
	}{
		{
			name:        "valid-with-all-options",
			expireIn:    time.Minute,
			redirectURL: "http://127.0.0.1:8080/callback",
			opts: []Option{
				WithNow(testNow),
				WithScopes("openid", "email"),
				WithPKCE(testVerifier),
				WithLoginHint("alice@example.com"),
				WithExtras(map[string]string{"access_type": "offline"}),
				WithUILocales(language.English, language.German),
				WithPrompts(Login, Consent),
				WithState("test-state"),
				WithNonce("test-nonce"),
			},
			wantScopes:    []string{"openid", "email"},
			wantVerifier:  testVerifier,
			wantLoginHint: "alice@example.com",
			wantExtras:    map[string]string{"access_type": "offline"},
			wantLocales:   []language.Tag{language.English, language.German},
			wantPrompts:   []Prompt{Login, Consent},
			wantState:     "test-state",
			wantNonce:     "test-nonce",
		},
		{
			name:        "valid-no-opt",
			expireIn:    time.Minute,
			redirectURL: "http://127.0.0.1:8080/callback",
		},
		{
			name:        "zero-expireIn",
			redirectURL: "http://127.0.0.1:8080/callback",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:      "missing-redirect",
			expireIn:  time.Minute,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "reserved-extra",
			expireIn:    time.Minute,
			redirectURL: "http://127.0.0.1:8080/callback",
			opts:        []Option{WithExtras(map[string]string{"code_challenge": "nope"})},
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "state-equals-nonce",
			expireIn:    time.Minute,
			redirectURL: "http://127.0.0.1:8080/callback",
			opts:        []Option{WithState("same"), WithNonce("same")},
			wantIsErr:   ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewRequest(tt.expireIn, tt.redirectURL, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.redirectURL, got.RedirectURL())
			assert.Equal("code", got.ResponseType())
			assert.Equal(tt.wantScopes, got.Scopes())
			assert.Equal(tt.wantVerifier, got.PKCEVerifier())
			assert.Equal(tt.wantLoginHint, got.LoginHint())
			assert.Equal(tt.wantExtras, got.Extras())
			assert.Equal(tt.wantLocales, got.UILocales())
			assert.Equal(tt.wantPrompts, got.Prompts())
			assert.NotEqual(got.State(), got.Nonce())
			if tt.wantState != "" {
				assert.Equal(tt.wantState, got.State())
			} else {
				assert.True(strings.HasPrefix(got.State(), "st_"))
			}
			if tt.wantNonce != "" {
				assert.Equal(tt.wantNonce, got.Nonce())
			} else {
				assert.True(strings.HasPrefix(got.Nonce(), "n_"))
			}
			assert.False(got.IsExpired())
		})
	}
}

func TestRequest_IsExpired(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	clock := func() time.Time { return now }
	r, err := NewRequest(time.Minute, "http://127.0.0.1/callback", WithNow(clock))
	require.NoError(err)
	assert.Equal(now.Add(time.Minute), r.Expiration())
	assert.False(r.IsExpired())

	now = now.Add(time.Minute)
	assert.True(r.IsExpired())
}

func TestRequest_Extras(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	extras := map[string]string{"prompt": "consent"}
	r, err := NewRequest(time.Minute, "http://127.0.0.1/callback", WithExtras(extras))
	require.NoError(err)

	// changes to the caller's map, or the returned copy, don't leak in
	extras["prompt"] = "none"
	got := r.Extras()
	got["access_type"] = "offline"
	assert.Equal(map[string]string{"prompt": "consent"}, r.Extras())
}

func TestRequest_PKCEVerifier(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	v, err := NewCodeVerifier()
	require.NoError(err)
	r, err := NewRequest(time.Minute, "http://127.0.0.1/callback", WithPKCE(v))
	require.NoError(err)

	got := r.PKCEVerifier()
	assert.Equal(v, got)
	assert.NotSame(v, got)

	// changes to the returned copy don't leak in
	got.verifier = "tampered"
	got.challenge = "tampered"
	assert.Equal(v.Verifier(), r.PKCEVerifier().Verifier())
	assert.Equal(v.Challenge(), r.PKCEVerifier().Challenge())

	r, err = NewRequest(time.Minute, "http://127.0.0.1/callback")
	require.NoError(err)
	assert.Nil(r.PKCEVerifier())
}
