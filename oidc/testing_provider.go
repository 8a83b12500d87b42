// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestProvider is a local https server which implements just enough of an
// OIDC provider to drive the authorization code flow with PKCE in tests:
// discovery, authorization, token (code and refresh grants), userinfo and
// JWKS endpoints.  ID tokens are signed with an ES256 key.
//
// The provider checks every PKCE code_verifier against the code_challenge of
// the authorization request which issued the code, so a flow that loses or
// swaps its verifier fails with invalid_grant.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	signingKey *ecdsa.PrivateKey
	keyID      string
	jwks       *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	subject             string
	userInfo            map[string]interface{}
	accessTokens        []string
	issuedAccessTokens  map[string]bool
	refreshToken        string
	rotateRefreshTokens bool
	expiresIn           time.Duration
	omitIDToken         bool
	tokenErr            *TokenError
	authErr             *AuthorizationError
	disableUserInfo     bool
	malformedDiscovery  bool

	authorizations  map[string]testAuthorization
	tokenRequests   int
	lastVerifier    string
	lastAuthRequest url.Values
}

// testAuthorization is what the provider remembers about the authorization
// request which issued a code.
type testAuthorization struct {
	challenge       string
	challengeMethod string
	nonce           string
	redirectURI     string
	scope           string
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	keyID, err := NewID(WithPrefix("key"))
	require.NoError(err)

	p := &TestProvider{
		signingKey: key,
		keyID:      keyID,
		subject:    "alice@example.com",
		userInfo: map[string]interface{}{
			"email":  "alice@example.com",
			"name":   "Alice Doe",
			"locale": "en-US",
		},
		expiresIn:          time.Hour,
		issuedAccessTokens: map[string]bool{},
		authorizations:     map[string]testAuthorization{},
	}
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &key.PublicKey,
				KeyID:     keyID,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	require.NoError(pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw}))
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client which trusts the provider's certificate.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// SigningAlg is the algorithm the provider signs id_tokens with.
func (p *TestProvider) SigningAlg() Alg { return ES256 }

// SetClientCreds configures the client the provider accepts at its token
// endpoint.  An empty secret configures a public client.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetAllowedRedirectURIs configures the allowed redirect URIs.  When none
// are configured every redirect URI is allowed.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetAccessTokens queues the access tokens returned by the token endpoint,
// one per successful response.  Once the queue is empty, random access tokens
// are returned.
func (p *TestProvider) SetAccessTokens(tokens ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokens = tokens
}

// SetRefreshToken configures the refresh token issued with the authorization
// code grant and accepted by the refresh token grant.
func (p *TestProvider) SetRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = token
}

// SetRotateRefreshTokens makes refresh token grant responses include a new
// refresh token.  By default they omit it.
func (p *TestProvider) SetRotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// SetExpiresIn configures the expires_in of token responses.  Zero omits it.
func (p *TestProvider) SetExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = d
}

// SetOmitIDToken forces the token endpoint to not return an id_token.
func (p *TestProvider) SetOmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetTokenError makes the token endpoint reject every request with the
// error.  An empty code clears it.
func (p *TestProvider) SetTokenError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErr = nil
	if code != "" {
		p.tokenErr = &TokenError{Code: code, Description: description}
	}
}

// SetAuthError makes the authorization endpoint redirect back with the
// error instead of a code.  An empty code clears it.
func (p *TestProvider) SetAuthError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authErr = nil
	if code != "" {
		p.authErr = &AuthorizationError{Code: code, Description: description}
	}
}

// SetUserInfo configures the userinfo claims.  The "sub" claim is always
// the provider's subject.
func (p *TestProvider) SetUserInfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = claims
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetMalformedDiscovery makes the discovery document omit its
// token_endpoint.
func (p *TestProvider) SetMalformedDiscovery(malformed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.malformedDiscovery = malformed
}

// TokenRequests returns how many requests the token endpoint has received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LastCodeVerifier returns the code_verifier of the last authorization code
// grant.
func (p *TestProvider) LastCodeVerifier() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVerifier
}

// LastAuthorizationRequest returns the query parameters of the last request
// to the authorization endpoint.
func (p *TestProvider) LastAuthorizationRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuthRequest
}

// Authorize plays the part of the user-agent: it sends the authorization
// request and returns the provider's response from its redirect, without
// following the redirect.
func (p *TestProvider) Authorize(authURL string) (*AuthorizationResult, error) {
	const op = "TestProvider.Authorize"
	client := *p.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, body)
	}
	location, err := resp.Location()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ParseAuthorizationResponse(location.Query()), nil
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.handleDiscovery(w, req)
	case "/authorize":
		p.handleAuthorize(w, req)
	case "/token":
		p.handleToken(w, req)
	case "/userinfo":
		p.handleUserInfo(w, req)
	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reply := ProviderConfiguration{
		Issuer:                        p.Addr(),
		AuthorizationEndpoint:         p.Addr() + "/authorize",
		TokenEndpoint:                 p.Addr() + "/token",
		JWKSURI:                       p.Addr() + "/certs",
		UserInfoEndpoint:              p.Addr() + "/userinfo",
		ScopesSupported:               []string{"openid", "email", "profile", "offline_access"},
		CodeChallengeMethodsSupported: []string{string(S256)},
	}
	if p.disableUserInfo {
		reply.UserInfoEndpoint = ""
	}
	if p.malformedDiscovery {
		reply.TokenEndpoint = ""
	}
	p.writeJSON(w, &reply)
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	p.lastAuthRequest = qv

	redirectURI := qv.Get("redirect_uri")
	if redirectURI == "" || !p.redirectAllowed(redirectURI) {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	state := qv.Get("state")
	switch {
	case p.authErr != nil:
		p.writeAuthErrorResponse(w, req, p.authErr.Code, p.authErr.Description)
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client_id")
		return
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "openid scope is required")
		return
	case state == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case p.clientSecret == "" && qv.Get("code_challenge") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "public clients must use PKCE")
		return
	case qv.Get("code_challenge") != "" && qv.Get("code_challenge_method") != string(S256):
		p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
		return
	}

	code, err := NewID(WithPrefix("code"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p.authorizations[code] = testAuthorization{
		challenge:       qv.Get("code_challenge"),
		challengeMethod: qv.Get("code_challenge_method"),
		nonce:           qv.Get("nonce"),
		redirectURI:     redirectURI,
		scope:           qv.Get("scope"),
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.tokenRequests++
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if p.tokenErr != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, p.tokenErr.Code, p.tokenErr.Description)
		return
	}

	clientID, clientSecret, basic := req.BasicAuth()
	if !basic {
		clientID, clientSecret = req.PostForm.Get("client_id"), req.PostForm.Get("client_secret")
	} else {
		// oauth2 url encodes basic auth credentials
		clientID, _ = url.QueryUnescape(clientID)
		clientSecret, _ = url.QueryUnescape(clientSecret)
	}
	if clientID != p.clientID || clientSecret != p.clientSecret {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	var (
		scope        string
		nonce        string
		withIDToken  bool
		refreshToken string
	)
	switch req.PostForm.Get("grant_type") {
	case string(GrantTypeAuthorizationCode):
		code := req.PostForm.Get("code")
		authz, ok := p.authorizations[code]
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown or used authorization code")
			return
		}
		// codes are single use
		delete(p.authorizations, code)
		if req.PostForm.Get("redirect_uri") != authz.redirectURI {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		}
		verifier := req.PostForm.Get("code_verifier")
		p.lastVerifier = verifier
		if authz.challenge != "" && oauth2.S256ChallengeFromVerifier(verifier) != authz.challenge {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
		if p.refreshToken == "" {
			rt, err := NewID(WithPrefix("rt"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			p.refreshToken = rt
		}
		scope, nonce, withIDToken, refreshToken = authz.scope, authz.nonce, !p.omitIDToken, p.refreshToken

	case string(GrantTypeRefreshToken):
		if p.refreshToken == "" || req.PostForm.Get("refresh_token") != p.refreshToken {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "invalid refresh_token")
			return
		}
		if p.rotateRefreshTokens {
			rt, err := NewID(WithPrefix("rt"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			p.refreshToken, refreshToken = rt, rt
		}

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	accessToken, err := p.nextAccessToken()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
	}{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.expiresIn / time.Second),
		RefreshToken: refreshToken,
		Scope:        scope,
	}
	if withIDToken {
		if reply.IDToken, err = p.signIDToken(nonce); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	p.writeJSON(w, &reply)
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, req *http.Request) {
	if p.disableUserInfo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !p.issuedAccessTokens[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	reply := map[string]interface{}{}
	for k, v := range p.userInfo {
		reply[k] = v
	}
	reply["sub"] = p.subject
	p.writeJSON(w, reply)
}

// nextAccessToken pops the next queued access token, or generates one.
func (p *TestProvider) nextAccessToken() (string, error) {
	var token string
	if len(p.accessTokens) > 0 {
		token, p.accessTokens = p.accessTokens[0], p.accessTokens[1:]
	} else {
		var err error
		if token, err = NewID(WithPrefix("at")); err != nil {
			return "", err
		}
	}
	p.issuedAccessTokens[token] = true
	return token, nil
}

// signIDToken issues an id_token for the provider's subject and client.
func (p *TestProvider) signIDToken(nonce string) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.ES256,
			Key:       jose.JSONWebKey{Key: p.signingKey, KeyID: p.keyID},
		},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    p.Addr(),
		Subject:   p.subject,
		Audience:  jwt.Audience{p.clientID},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	privateClaims := map[string]interface{}{}
	if nonce != "" {
		privateClaims["nonce"] = nonce
	}
	return jwt.Signed(sig).Claims(claims).Claims(privateClaims).Serialize()
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	if len(p.allowedRedirectURIs) == 0 {
		return true
	}
	for _, allowed := range p.allowedRedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	u, err := url.Parse(qv.Get("redirect_uri"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("state", qv.Get("state"))
	q.Set("error", errorCode)
	if errorMessage != "" {
		q.Set("error_description", errorMessage)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(&body)
}
