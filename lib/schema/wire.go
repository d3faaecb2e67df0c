// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Socket API payloads. Requests are CBOR maps with an "action" field;
// typed payloads travel under a single key next to it ("registration",
// "heartbeat", "request") and simple ones as flat fields.

// Registration is the payload of a "register" request.
type Registration struct {
	Hostname string   `json:"hostname"`
	Info     HostInfo `json:"info"`
	// Counter is the agent's monotonic clock reading. Heartbeats that
	// follow must carry counters no lower than the last accepted one.
	Counter int64 `json:"counter"`
}

// RegistrationResponse reports the state the host reached.
type RegistrationResponse struct {
	State HostState `json:"state"`
}

// Heartbeat is the payload of a "heartbeat" request.
type Heartbeat struct {
	Hostname string `json:"hostname"`
	Counter  int64  `json:"counter"`

	// Healthy and Detail carry the agent's own health check.
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`

	// Reports are the commands that finished since the last accepted
	// heartbeat.
	Reports []TaskReport `json:"reports,omitempty"`
}

// HeartbeatResponse carries the commands the host should run next.
type HeartbeatResponse struct {
	State HostState `json:"state"`

	// RegistrationRequired is set when the controller does not know
	// the host, for example after a controller restart. The agent
	// registers again and resends its unacknowledged reports.
	RegistrationRequired bool `json:"registration_required,omitempty"`

	Commands []AgentCommand `json:"commands,omitempty"`
}

// SubmitResponse describes a request accepted by "submit".
type SubmitResponse struct {
	RequestID  string `json:"request_id"`
	PlanDigest string `json:"plan_digest"`
	Stages     int    `json:"stages"`
	Tasks      int    `json:"tasks"`
}

// AbortResponse counts what an "abort" changed.
type AbortResponse struct {
	RequestID string     `json:"request_id"`
	Aborted   int        `json:"aborted"`
	Status    TaskStatus `json:"status"`
}

// ControllerStatus is the response to "status".
type ControllerStatus struct {
	UptimeSeconds  int    `json:"uptime_seconds"`
	Version        string `json:"version"`
	Hosts          int    `json:"hosts"`
	EligibleHosts  int    `json:"eligible_hosts"`
	ActiveRequests int    `json:"active_requests"`
	ActiveTasks    int    `json:"active_tasks"`
	QueuedCommands int    `json:"queued_commands"`
}
