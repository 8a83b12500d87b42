// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import "errors"

var (
	// ErrClosed is returned by a Flow after Close has been called.
	ErrClosed = errors.New("flow is closed")

	// ErrAuthorizationCanceled is reported when an outstanding authorization
	// is abandoned by CancelAuthorization, SignOut, Close or its context.
	ErrAuthorizationCanceled = errors.New("authorization canceled")

	// ErrSessionChanged is returned when the session was signed out while
	// a token request was in flight, so its result was discarded.
	ErrSessionChanged = errors.New("session changed during token request")
)
