// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

// Status of a Flow's session.
type Status int

const (
	SignedOut Status = iota
	ConfiguringProvider
	AwaitingAuthorization
	ExchangingCode
	SignedIn
	Expired
	Refreshing
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case SignedOut:
		return "signed out"
	case ConfiguringProvider:
		return "configuring provider"
	case AwaitingAuthorization:
		return "awaiting authorization"
	case ExchangingCode:
		return "exchanging code"
	case SignedIn:
		return "signed in"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}
