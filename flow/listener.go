// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

//go:generate mockgen -source=listener.go -destination=mocks/mock_listener.go -package=mocks RedirectListener

import (
	"context"

	"github.com/hashicorp/appauth/oidc"
)

// RedirectListener presents an authorization request to the user and
// relays the provider's response delivered to the request's redirect URL.
//
// PerformAuthorizationRequest must not block on the user.  The returned
// channel receives at most one result for the request, and it's closed
// without a result if the request is abandoned (for example when ctx is
// done).
type RedirectListener interface {
	PerformAuthorizationRequest(ctx context.Context, pc *oidc.ProviderConfiguration, r *oidc.Request) (<-chan *oidc.AuthorizationResult, error)
}
