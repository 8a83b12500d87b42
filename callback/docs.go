// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides a loopback redirect listener for the
authorization code flow of desktop and command line applications.

A Listener serves the authorization request's redirect URL on the local host
(for example: http://127.0.0.1:8000/callback), opens the authorization URL in
the user's browser and relays the provider's authorization response (or
error) back to the caller over a one-shot channel.  The Listener's server only
lives for one authorization request.
*/
package callback
