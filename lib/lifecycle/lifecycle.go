// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Kind labels the entity a lifecycle manages.
type Kind string

const (
	KindHost Kind = "host"
	KindNode Kind = "node"
)

// Event names a lifecycle input.
type Event string

const (
	EventRegister           Event = "register"
	EventVerify             Event = "verify"
	EventHealthyHeartbeat   Event = "healthy-heartbeat"
	EventUnhealthyHeartbeat Event = "unhealthy-heartbeat"
	EventHeartbeatTimeout   Event = "heartbeat-timeout"
)

type transition struct {
	from []schema.HostState
	to   schema.HostState
}

var heartbeatSources = []schema.HostState{
	schema.HostVerified,
	schema.HostHealthy,
	schema.HostUnhealthy,
	schema.HostHeartbeatLost,
}

var transitions = map[Event]transition{
	EventRegister: {
		from: []schema.HostState{schema.HostInit},
		to:   schema.HostWaitingForVerification,
	},
	EventVerify: {
		from: []schema.HostState{schema.HostWaitingForVerification},
		to:   schema.HostVerified,
	},
	EventHealthyHeartbeat:   {from: heartbeatSources, to: schema.HostHealthy},
	EventUnhealthyHeartbeat: {from: heartbeatSources, to: schema.HostUnhealthy},
	EventHeartbeatTimeout: {
		from: []schema.HostState{schema.HostHealthy, schema.HostUnhealthy},
		to:   schema.HostHeartbeatLost,
	},
}

// Accepts reports whether state has a transition for event.
func Accepts(state schema.HostState, event Event) bool {
	entry, ok := transitions[event]
	return ok && slices.Contains(entry.from, state)
}

var (
	// ErrInvalidTransition: the event is not accepted in the current
	// state. Returned wrapped in a *TransitionError.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrStaleHeartbeat: the heartbeat counter is lower than the last
	// accepted one.
	ErrStaleHeartbeat = errors.New("stale heartbeat")
)

// TransitionError describes a rejected event.
type TransitionError struct {
	Kind  Kind
	Name  string
	Event Event
	State schema.HostState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %q: %s not allowed in state %s", e.Kind, e.Name, e.Event, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Lifecycle is the state of one managed entity.
type Lifecycle struct {
	mu sync.Mutex

	kind Kind
	name string
	now  func() time.Time

	state            schema.HostState
	health           schema.HostHealth
	info             schema.HostInfo
	lastHeartbeat    int64
	lastRegistration int64

	// lastSeen is the local receipt time of the last registration or
	// accepted heartbeat. It drives timeout detection and is
	// independent of the agent-supplied counters.
	lastSeen time.Time
}

// New returns a lifecycle in INIT. A nil now uses time.Now.
func New(kind Kind, name string, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{
		kind:   kind,
		name:   name,
		now:    now,
		state:  schema.HostInit,
		health: schema.HostHealth{Status: schema.HealthUnknown},
	}
}

// Name returns the entity name.
func (l *Lifecycle) Name() string { return l.name }

// State returns the current state.
func (l *Lifecycle) State() schema.HostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Register imports the entity's static inventory and records counter
// as its registration time. Valid only from INIT.
func (l *Lifecycle) Register(info schema.HostInfo, counter int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(EventRegister); err != nil {
		return err
	}
	l.info = info
	l.lastRegistration = counter
	l.lastSeen = l.now()
	l.state = transitions[EventRegister].to
	return nil
}

// Verify marks a registered entity as verified. Valid only from
// WAITING_FOR_VERIFICATION.
func (l *Lifecycle) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(EventVerify); err != nil {
		return err
	}
	l.state = transitions[EventVerify].to
	return nil
}

// HealthyHeartbeat records a heartbeat reporting good health.
func (l *Lifecycle) HealthyHeartbeat(counter int64) error {
	return l.heartbeat(EventHealthyHeartbeat, counter, schema.HostHealth{Status: schema.HealthHealthy})
}

// UnhealthyHeartbeat records a heartbeat reporting a problem. detail
// is kept until the next heartbeat.
func (l *Lifecycle) UnhealthyHeartbeat(counter int64, detail string) error {
	return l.heartbeat(EventUnhealthyHeartbeat, counter, schema.HostHealth{
		Status: schema.HealthUnhealthy,
		Detail: detail,
	})
}

func (l *Lifecycle) heartbeat(event Event, counter int64, health schema.HostHealth) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(event); err != nil {
		return err
	}
	if counter < l.lastHeartbeat {
		return fmt.Errorf("%s %q: counter %d is older than %d: %w",
			l.kind, l.name, counter, l.lastHeartbeat, ErrStaleHeartbeat)
	}
	l.lastHeartbeat = counter
	l.lastSeen = l.now()
	l.health = health
	l.state = transitions[event].to
	return nil
}

// HeartbeatTimeout marks a HEALTHY or UNHEALTHY entity as lost. The
// last heartbeat counter keeps the value of the last accepted beat.
func (l *Lifecycle) HeartbeatTimeout() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(EventHeartbeatTimeout); err != nil {
		return err
	}
	l.health = schema.HostHealth{Status: schema.HealthUnknown}
	l.state = transitions[EventHeartbeatTimeout].to
	return nil
}

// TimeoutIfSilent marks the entity lost only if it has not been heard
// from since cutoff, checking and transitioning under one lock. It
// reports false when a heartbeat arrived after cutoff.
func (l *Lifecycle) TimeoutIfSilent(cutoff time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(EventHeartbeatTimeout); err != nil {
		return false, err
	}
	if !l.lastSeen.Before(cutoff) {
		return false, nil
	}
	l.health = schema.HostHealth{Status: schema.HealthUnknown}
	l.state = transitions[EventHeartbeatTimeout].to
	return true, nil
}

// Snapshot returns a copy of the current state.
func (l *Lifecycle) Snapshot() schema.HostSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	info := l.info
	info.Disks = slices.Clone(l.info.Disks)
	return schema.HostSnapshot{
		Kind:             string(l.kind),
		Hostname:         l.name,
		State:            l.state,
		Health:           l.health,
		Info:             info,
		LastHeartbeat:    l.lastHeartbeat,
		LastRegistration: l.lastRegistration,
	}
}

// silentSince reports whether the entity is in a state that expects
// heartbeats and has not been heard from since cutoff.
func (l *Lifecycle) silentSince(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Accepts(l.state, EventHeartbeatTimeout) && l.lastSeen.Before(cutoff)
}

func (l *Lifecycle) checkLocked(event Event) error {
	if !Accepts(l.state, event) {
		return &TransitionError{Kind: l.kind, Name: l.name, Event: event, State: l.state}
	}
	return nil
}
