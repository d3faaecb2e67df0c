// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the controller's socket API plumbing: a
// CBOR request-response server with action dispatch, and the matching
// client used by the agent and the CLI.
//
// Every request is one CBOR map with an "action" field and
// action-specific fields alongside it. Every response is the [Response]
// envelope {ok, error, data}. One request is served per connection;
// CBOR is self-delimiting so no framing is needed.
//
// The server listens on a Unix socket for local tooling or on TCP for
// agents on other hosts. There is no caller authentication: access to
// the socket is access to the controller, so deployments restrict it
// at the network or filesystem level.
package service
