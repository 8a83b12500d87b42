// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// PKCE code challenge methods as defined by RFC 7636.
	//
	// See: https://tools.ietf.org/html/rfc7636#page-9
	S256 ChallengeMethod = "S256" // SHA-256
)

// verifierLen is the length of a generated verifier: 32 random octets,
// base64url encoded without padding.
const verifierLen = 43

// RedactedCodeVerifier is the redacted string for a PKCE code verifier
const RedactedCodeVerifier = "[REDACTED: code_verifier]"

// CodeVerifier is a PKCE code verifier and its challenge.  The verifier is
// kept by the client and only sent to the token endpoint; the challenge is
// sent with the authorization request.
//
// See: https://www.rfc-editor.org/rfc/rfc7636
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a new CodeVerifier (S256).
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "NewCodeVerifier"
	v := &CodeVerifier{
		verifier: oauth2.GenerateVerifier(),
		method:   S256,
	}
	c, err := CreateCodeChallenge(v.method, v)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	v.challenge = c
	return v, nil
}

// Verifier returns the code verifier.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the code challenge sent in the authorization request.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the code challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// String will redact the verifier.
func (v *CodeVerifier) String() string { return RedactedCodeVerifier }

// Copy returns a copy of the verifier, or nil for a nil verifier.
func (v *CodeVerifier) Copy() *CodeVerifier {
	if v == nil {
		return nil
	}
	return &CodeVerifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier using the
// given method.  Only S256 is supported.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		return oauth2.S256ChallengeFromVerifier(v.verifier), nil
	default:
		return "", fmt.Errorf("%s: %s is invalid: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}
