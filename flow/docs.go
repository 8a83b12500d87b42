// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
flow is a package that coordinates an OAuth 2.0 / OIDC authorization code
flow with PKCE for desktop and command line applications.

A Flow discovers the provider's configuration, dispatches authorization
requests through a RedirectListener, exchanges the authorization code for
tokens and keeps the resulting session in memory.  Callers ask for a fresh
access token with PerformWithFreshTokens, which refreshes the access token
with the session's refresh token when it has expired.

Basically, the sequence of calls is:

	fetch configuration --> make authorization request --> (user signs in)
	   --> EventTokenResponse --> PerformWithFreshTokens ... --> SignOut

Example:

	c, _ := oidc.NewConfig(issuer, clientID, "", "http://127.0.0.1:8000/callback")
	l, _ := callback.NewListener(c)
	f, _ := flow.New(c, l, flow.WithLogger(logger))
	defer f.Close()

	signedIn := make(chan flow.Event, 1)
	unsubscribe := f.Subscribe(flow.EventTokenResponse, func(e flow.Event) { signedIn <- e })
	defer unsubscribe()

	if err := f.FetchServiceConfiguration(ctx); err != nil {
		// handle error
	}
	if _, err := f.MakeAuthorizationRequest(ctx, "alice@example.com"); err != nil {
		// handle error
	}
	<-signedIn
	token, err := f.PerformWithFreshTokens(ctx)

Session state is never persisted; it's lost when the process exits.
*/
package flow
