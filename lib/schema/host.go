// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// HostInfo is the static inventory a host reports once, at
// registration. Sizes are in kilobytes.
type HostInfo struct {
	Hostname       string     `json:"hostname"`
	MemoryTotalKB  int64      `json:"memory_total_kb"`
	MemoryFreeKB   int64      `json:"memory_free_kb"`
	ProcessorCount int        `json:"processor_count"`
	Disks          []DiskInfo `json:"disks,omitempty"`
	Architecture   string     `json:"architecture"`
	OSType         string     `json:"os_type"`
}

// DiskInfo describes one mounted filesystem.
type DiskInfo struct {
	Device      string `json:"device"`
	MountPoint  string `json:"mount_point"`
	SizeKB      int64  `json:"size_kb"`
	UsedKB      int64  `json:"used_kb"`
	PercentUsed int    `json:"percent_used"`
}

// HostState is a lifecycle state of a managed host.
type HostState string

const (
	HostInit                   HostState = "INIT"
	HostWaitingForVerification HostState = "WAITING_FOR_VERIFICATION"
	HostVerified               HostState = "VERIFIED"
	HostHealthy                HostState = "HEALTHY"
	HostUnhealthy              HostState = "UNHEALTHY"
	HostHeartbeatLost          HostState = "HEARTBEAT_LOST"
)

// HealthStatus classifies a host's last reported health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// HostHealth is the health classification plus the detail an agent
// sent with its last unhealthy heartbeat.
type HostHealth struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// HostSnapshot is a point-in-time copy of one host's lifecycle.
type HostSnapshot struct {
	// Kind is the managed entity kind ("host" or "node").
	Kind string `json:"kind"`

	Hostname string     `json:"hostname"`
	State    HostState  `json:"state"`
	Health   HostHealth `json:"health"`
	Info     HostInfo   `json:"info"`

	// LastHeartbeat and LastRegistration are the agent-supplied
	// counters of the last accepted heartbeat and the registration.
	LastHeartbeat    int64 `json:"last_heartbeat"`
	LastRegistration int64 `json:"last_registration"`
}
