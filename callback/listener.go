// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/go-hclog"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Listener relays authorization responses delivered to a loopback redirect
// URL.  It satisfies the redirect listener interface of the flow package.
type Listener struct {
	config  *oidc.Config
	logger  hclog.Logger
	openURL func(string) error

	mu          sync.Mutex
	netListener net.Listener
}

// NewListener creates a new Listener for the config's client.  Supported
// options: WithLogger, WithOpenURL, WithNetListener
func NewListener(c *oidc.Config, opt ...Option) (*Listener, error) {
	const op = "NewListener"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	opts := getListenerOpts(opt...)
	return &Listener{
		config:      c,
		logger:      opts.withLogger,
		openURL:     opts.withOpenURL,
		netListener: opts.withNetListener,
	}, nil
}

// PerformAuthorizationRequest starts serving the request's redirect URL,
// presents the authorization URL to the user and returns a channel which
// receives at most one result.  The channel is closed once the result has
// been delivered, or without a result when ctx is done first.
func (l *Listener) PerformAuthorizationRequest(ctx context.Context, pc *oidc.ProviderConfiguration, r *oidc.Request) (<-chan *oidc.AuthorizationResult, error) {
	const op = "Listener.PerformAuthorizationRequest"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, oidc.ErrNilParameter)
	}
	authURL, err := l.config.AuthURL(pc, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	redirect, err := url.Parse(r.RedirectURL())
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse redirect url: %w", op, oidc.ErrInvalidParameter)
	}
	if !isLoopback(redirect.Hostname()) {
		return nil, fmt.Errorf("%s: redirect url %q is not a loopback address: %w", op, r.RedirectURL(), oidc.ErrInvalidParameter)
	}
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	ln, err := l.listen(redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to listen on %s: %w: %w", op, redirect.Host, oidc.ErrTransport, err)
	}

	resultCh := make(chan *oidc.AuthorizationResult, 1)
	done := make(chan struct{})
	var once sync.Once
	deliver := func(res *oidc.AuthorizationResult) bool {
		delivered := false
		once.Do(func() {
			resultCh <- res
			close(done)
			delivered = true
		})
		return delivered
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != path {
			http.NotFound(w, req)
			return
		}
		res := oidc.ParseAuthorizationResponse(req.URL.Query())
		if !deliver(res) {
			http.Error(w, "authorization response already received", http.StatusGone)
			return
		}
		writeResult(w, res)
	})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          l.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("redirect listener stopped", "error", err)
			deliver(&oidc.AuthorizationResult{Err: fmt.Errorf("%s: %w: %w", op, oidc.ErrTransport, err)})
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			l.logger.Debug("authorization request abandoned", "state", r.State())
		case <-done:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.logger.Warn("unable to shutdown redirect listener", "error", err)
			_ = srv.Close()
		}
		// no more deliveries once the channel is closed
		once.Do(func() {})
		close(resultCh)
	}()

	l.logger.Info("waiting for authorization", "redirect_url", r.RedirectURL(), "state", r.State())
	if err := l.openURL(authURL); err != nil {
		l.logger.Warn("unable to open browser, visit the authorization url to continue", "url", authURL, "error", err)
	}
	return resultCh, nil
}

// listen returns the WithNetListener listener the first time it's called,
// afterwards it listens on addr.
func (l *Listener) listen(addr string) (net.Listener, error) {
	l.mu.Lock()
	ln := l.netListener
	l.netListener = nil
	l.mu.Unlock()
	if ln != nil {
		return ln, nil
	}
	return net.Listen("tcp", addr)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
