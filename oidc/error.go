// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrExpiredRequest             = errors.New("request is expired")
	ErrResponseStateInvalid       = errors.New("authentication response state is invalid")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrIDTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrUserInfoFailed             = errors.New("user info failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")

	// ErrDiscovery is returned when the provider's discovery document is
	// unreachable or malformed.
	ErrDiscovery = errors.New("provider discovery failed")

	// ErrConfigurationMissing is returned when an operation needs the
	// provider's configuration before it has been discovered.
	ErrConfigurationMissing = errors.New("provider configuration missing")

	// ErrAuthorization is returned when the provider answered an
	// authorization request with an error instead of a code.
	ErrAuthorization = errors.New("authorization failed")

	// ErrTokenRequest is returned when the token endpoint rejected a grant.
	ErrTokenRequest = errors.New("token request rejected")

	// ErrTransport is returned for network failures, as opposed to errors
	// reported by the provider.
	ErrTransport = errors.New("transport failure")

	// ErrMissingRefreshToken is returned when fresh tokens are requested but
	// no refresh_token has been received yet.
	ErrMissingRefreshToken = errors.New("missing refresh_token")

	// ErrAuthorizationInProgress is returned when an authorization request is
	// made while another one is still outstanding.
	ErrAuthorizationInProgress = errors.New("authorization already in progress")
)

// TokenError is an OAuth 2.0 error response from the token endpoint.  See:
// https://www.rfc-editor.org/rfc/rfc6749#section-5.2
type TokenError struct {
	Code        string
	Description string
	URI         string
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrTokenRequest, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrTokenRequest, e.Code, e.Description)
}

// Is reports whether target is ErrTokenRequest.
func (e *TokenError) Is(target error) bool { return target == ErrTokenRequest }

// AuthorizationError is an OAuth 2.0 error response from the authorization
// endpoint.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthorizationError struct {
	Code        string
	Description string
	URI         string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrAuthorization, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrAuthorization, e.Code, e.Description)
}

// Is reports whether target is ErrAuthorization.
func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorization }
