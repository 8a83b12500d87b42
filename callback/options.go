// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// applyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func applyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// listenerOptions is the set of available options for a Listener
type listenerOptions struct {
	withLogger      hclog.Logger
	withOpenURL     func(string) error
	withNetListener net.Listener
}

// listenerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func listenerDefaults() listenerOptions {
	return listenerOptions{
		withLogger:  hclog.NewNullLogger(),
		withOpenURL: openURL,
	}
}

// getListenerOpts gets the listener defaults and applies the opt overrides
// passed in
func getListenerOpts(opt ...Option) listenerOptions {
	opts := listenerDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the Listener.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithOpenURL provides an optional func which presents the authorization URL
// to the user.  The default opens it with the system's browser.
func WithOpenURL(fn func(authURL string) error) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok && fn != nil {
			o.withOpenURL = fn
		}
	}
}

// WithNetListener provides an optional, already listening, net.Listener for
// the redirect server.  It's used for the first authorization request only,
// since it's closed once that request completes.
func WithNetListener(l net.Listener) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok {
			o.withNetListener = l
		}
	}
}
