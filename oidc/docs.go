// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for the client side of the OAuth 2.0 / OIDC authorization
code flow with PKCE, as used by desktop and command line applications.

Primary types provided by the package

* Config: provides the configuration for the flow (for example: client ID,
client authentication method, redirect URL, supported signing algorithms,
additional scopes and authorization request extras)

* ProviderConfiguration: the provider's discovered endpoints. See Discover(...)
which fetches the provider's /.well-known/openid-configuration document.

* Request: represents one authorization attempt.  It contains the state,
nonce, PKCE code verifier and extras needed to build the authorization URL and
to complete the code exchange.  All Requests contain an expiration.

* CodeVerifier: a PKCE code verifier and its S256 challenge.

* TokenHandler: performs authorization_code and refresh_token grants against
the provider's token endpoint, verifying any returned id_token.

* TokenResponse: the result of a successful grant, including the computed
access_token expiry.

* AccessToken, RefreshToken, IDToken and ClientSecret: string types which
redact themselves when printed or marshaled to JSON.

Testing

TestProvider is an in-process provider which implements discovery,
authorization, token, userinfo and JWKS endpoints for unit tests.  It
validates PKCE code verifiers against the challenges it received.
*/
package oidc
