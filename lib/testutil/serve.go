// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// serveTimeout bounds both the wait for the listener and the wait for
// Serve to return after cancellation.
const serveTimeout = 5 * time.Second

// Server is the part of a socket server the helpers drive.
type Server interface {
	Serve(ctx context.Context) error
	Ready() <-chan struct{}
}

// StartServer runs Serve in the background and waits until the
// listener is bound. The returned function cancels the server and
// returns Serve's error; it is also registered as a cleanup, so tests
// that do not care about the error can ignore it.
//
//	stop := testutil.StartServer(t, server)
//	...
//	if err := stop(); err != nil {
//		t.Errorf("Serve: %v", err)
//	}
func StartServer(t *testing.T, server Server) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	RequireClosed(t, server.Ready(), serveTimeout, "server did not start listening")

	var once sync.Once
	var serveErr error
	stop = func() error {
		once.Do(func() {
			cancel()
			serveErr = RequireReceive(t, serveDone, serveTimeout, "Serve did not return after cancellation")
		})
		return serveErr
	}
	t.Cleanup(func() {
		if err := stop(); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return stop
}
