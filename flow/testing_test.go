// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/appauth/oidc"
	"github.com/stretchr/testify/require"
)

const (
	testClientID    = "test-client"
	testRedirectURL = "http://127.0.0.1:8000/callback"
	testWait        = 5 * time.Second
)

// testClock is a settable clock for token expiry.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testListener completes authorization requests against a TestProvider, the
// way a user's browser would.
type testListener struct {
	tp *oidc.TestProvider
	c  *oidc.Config

	mu       sync.Mutex
	requests []*oidc.Request
}

func (l *testListener) PerformAuthorizationRequest(ctx context.Context, pc *oidc.ProviderConfiguration, r *oidc.Request) (<-chan *oidc.AuthorizationResult, error) {
	authURL, err := l.c.AuthURL(pc, r)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.requests = append(l.requests, r)
	l.mu.Unlock()

	ch := make(chan *oidc.AuthorizationResult, 1)
	go func() {
		defer close(ch)
		res, err := l.tp.Authorize(authURL)
		if err != nil {
			res = &oidc.AuthorizationResult{Err: err}
		}
		select {
		case ch <- res:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (l *testListener) Requests() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func testConfig(t *testing.T, tp *oidc.TestProvider, opt ...oidc.Option) *oidc.Config {
	t.Helper()
	tp.SetClientCreds(testClientID, "")
	c, err := oidc.NewConfig(tp.Addr(), testClientID, "", testRedirectURL,
		append([]oidc.Option{oidc.WithSupportedSigningAlgs(tp.SigningAlg())}, opt...)...)
	require.NoError(t, err)
	return c
}

// testFlow returns a Flow, with a test clock, whose listener signs in at
// the TestProvider.
func testFlow(t *testing.T, tp *oidc.TestProvider, opt ...Option) (*Flow, *testClock, *testListener) {
	t.Helper()
	c := testConfig(t, tp)
	clock := &testClock{now: time.Now()}
	l := &testListener{tp: tp, c: c}
	f, err := New(c, l, append([]Option{WithHTTPClient(tp.HTTPClient()), WithNow(clock.Now)}, opt...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, clock, l
}

// testEvents subscribes to the kinds and returns the channel they're
// delivered to.
func testEvents(t *testing.T, f *Flow, kinds ...EventKind) <-chan Event {
	t.Helper()
	ch := make(chan Event, 16)
	for _, k := range kinds {
		unsubscribe := f.Subscribe(k, func(e Event) { ch <- e })
		t.Cleanup(unsubscribe)
	}
	return ch
}

func testWaitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(testWait):
		require.FailNow(t, "timed out waiting for event")
		return Event{}
	}
}

// testSignIn completes a sign-in and returns the authorization request.
func testSignIn(t *testing.T, f *Flow) *oidc.Request {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()
	events := testEvents(t, f, EventTokenResponse, EventAuthorizationFailed)
	require.NoError(f.FetchServiceConfiguration(ctx))
	r, err := f.MakeAuthorizationRequest(ctx, "alice@example.com")
	require.NoError(err)
	e := testWaitEvent(t, events)
	require.NoError(e.Err)
	require.Equal(EventTokenResponse, e.Kind)
	require.Equal(r.State(), e.State)
	return r
}
