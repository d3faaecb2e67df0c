// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes. [StartServer]
// runs a socket server for the length of a test and checks that it
// shuts down cleanly.
//
// [RequireReceive] and [RequireClosed] wait on a channel with a
// wall-clock safety valve. They are the only place in the test suite
// where real timeouts are used; everything else runs on clock.Fake.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
