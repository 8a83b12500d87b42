// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
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

// flowOptions is the set of available options for a Flow
type flowOptions struct {
	withLogger     hclog.Logger
	withNowFunc    func() time.Time
	withHTTPClient *http.Client
	withExpirySkew time.Duration
	withRegisterer prometheus.Registerer
}

// flowDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func flowDefaults() flowOptions {
	return flowOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getFlowOpts gets the flow defaults and applies the opt overrides passed in
func getFlowOpts(opt ...Option) flowOptions {
	opts := flowDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the Flow.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time
// it is.  It's used for token expiry and request expiration.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithHTTPClient provides an optional http client used to reach the
// provider.  The default is built from the Config's ProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithExpirySkew provides an optional duration which access tokens are
// considered expired before their actual expiry.  The default is 0.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withExpirySkew = d
		}
	}
}

// WithMetrics provides an optional prometheus registerer for the Flow's
// metrics.  Without it, no metrics are collected.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withRegisterer = reg
		}
	}
}
