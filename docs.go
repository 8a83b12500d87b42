// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// appauth provides a collection of related packages which sign a user in at
// an OAuth 2.0 / OIDC provider from a desktop or command line application,
// using the authorization code flow with PKCE.
//
//   - oidc: provider discovery, authorization requests, token requests and
//     a TestProvider for tests.
//   - flow: a Flow which coordinates the sign-in and keeps the session's
//     tokens fresh.
//   - callback: a loopback redirect listener for a Flow.
//
// See examples/cli for a complete command line application.
package appauth
