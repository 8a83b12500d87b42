// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// AuthorizationResponse is a successful authorization response delivered to
// the client's redirect URL.
type AuthorizationResponse struct {
	// Code is the authorization code to exchange at the token endpoint.
	Code string

	// State must equal the State() of the Request that started the flow.
	State string
}

// AuthorizationResult is the outcome of exactly one dispatched authorization
// Request.  Either Response or Err is set.  Err is an *AuthorizationError
// when the provider answered with an error.
type AuthorizationResult struct {
	Response *AuthorizationResponse
	Err      error
}

// ParseAuthorizationResponse reads the authorization response from the query
// parameters of the redirect to the client.  A provider error is returned as
// an *AuthorizationError in the result's Err.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthResponse
func ParseAuthorizationResponse(q url.Values) *AuthorizationResult {
	const op = "ParseAuthorizationResponse"
	if code := q.Get("error"); code != "" {
		return &AuthorizationResult{
			Err: &AuthorizationError{
				Code:        code,
				Description: q.Get("error_description"),
				URI:         q.Get("error_uri"),
			},
		}
	}
	resp := &AuthorizationResponse{
		Code:  q.Get("code"),
		State: q.Get("state"),
	}
	switch {
	case resp.State == "":
		return &AuthorizationResult{Err: fmt.Errorf("%s: missing state: %w", op, ErrResponseStateInvalid)}
	case resp.Code == "":
		return &AuthorizationResult{Err: fmt.Errorf("%s: missing code: %w", op, ErrInvalidParameter)}
	}
	return &AuthorizationResult{Response: resp}
}
