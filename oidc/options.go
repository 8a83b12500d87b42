// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is: Request, TokenHandler
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *reqOptions:
			v.withNowFunc = now
		case *tokenHandlerOptions:
			v.withNowFunc = now
		}
	}
}

// WithScopes provides an optional list of scopes: Config, Request
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *reqOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences used when verifying
// an id_token's "aud" claim: Config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withAudiences = auds
		}
	}
}

// WithExtras provides optional authorization request parameters, for
// example: prompt, access_type: Config, Request
func WithExtras(extras map[string]string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withExtras = extras
		case *reqOptions:
			v.withExtras = extras
		}
	}
}

// WithProviderCA provides an optional CA cert PEM used when sending requests
// to the provider: Config, Discover
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withProviderCA = cert
		case *discoverOptions:
			v.withProviderCA = cert
		}
	}
}

// WithHTTPClient provides an optional http client used to reach the
// provider: Discover, TokenHandler
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *discoverOptions:
			v.withHTTPClient = c
		case *tokenHandlerOptions:
			v.withHTTPClient = c
		}
	}
}
