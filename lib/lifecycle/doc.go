// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle tracks the registration and liveness state of
// managed entities.
//
// One [Lifecycle] type serves every managed entity kind; the [Kind]
// tag only labels snapshots and errors. The state graph is:
//
//	INIT -> WAITING_FOR_VERIFICATION -> VERIFIED -> HEALTHY <-> UNHEALTHY
//	HEALTHY | UNHEALTHY -> HEARTBEAT_LOST -> HEALTHY | UNHEALTHY
//
// Every event is checked against the transition table. An event the
// current state does not accept returns a [*TransitionError] and
// leaves the entity untouched: a scheduler that ignored such a failure
// would act on a wrong belief about host readiness.
//
// Heartbeats carry an agent-supplied counter. A counter lower than the
// last accepted one is rejected with [ErrStaleHeartbeat].
//
// Each Lifecycle serializes its own transitions. [Registry] maps names
// to lifecycles under a separate lock, so transitions on different
// hosts never contend.
package lifecycle
