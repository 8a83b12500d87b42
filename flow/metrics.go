// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// metrics are only collected when a registerer is provided with
// WithMetrics; a nil *metrics is a no-op.
type metrics struct {
	discoveries          *prometheus.CounterVec
	authorizations       *prometheus.CounterVec
	tokenRequests        *prometheus.CounterVec
	tokenRequestDuration *prometheus.HistogramVec
	signOuts             prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &metrics{
		discoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_discoveries_total",
			Help: "Total number of provider configuration discoveries by result",
		}, []string{"result"}),
		authorizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_authorizations_total",
			Help: "Total number of completed authorization requests by result",
		}, []string{"result"}),
		tokenRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_token_requests_total",
			Help: "Total number of token endpoint requests by grant type and result",
		}, []string{"grant_type", "result"}),
		tokenRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "appauth_token_request_duration_seconds",
			Help:    "Duration of token endpoint requests by grant type",
			Buckets: prometheus.DefBuckets,
		}, []string{"grant_type"}),
		signOuts: f.NewCounter(prometheus.CounterOpts{
			Name: "appauth_sign_outs_total",
			Help: "Total number of sessions cleared by sign out",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

func (m *metrics) observeDiscovery(err error) {
	if m == nil {
		return
	}
	m.discoveries.WithLabelValues(result(err)).Inc()
}

func (m *metrics) observeAuthorization(err error) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(result(err)).Inc()
}

func (m *metrics) observeTokenRequest(grantType string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.tokenRequests.WithLabelValues(grantType, result(err)).Inc()
	m.tokenRequestDuration.WithLabelValues(grantType).Observe(time.Since(start).Seconds())
}

func (m *metrics) observeSignOut() {
	if m == nil {
		return
	}
	m.signOuts.Inc()
}
