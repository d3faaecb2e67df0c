// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inventory probes a host for the static inventory an agent
// reports at registration, and checks the host's current health for
// heartbeats.
//
// # Static inventory
//
// [Probe] reads memory and processor counts from /proc, mounted block
// devices from /proc/mounts with per-mount usage from statfs(2), the
// machine architecture from uname(2), and the distribution from
// /etc/os-release. Missing or unreadable sources produce zero values,
// never errors: a minimal container is still a host that can report
// its memory.
//
// # Health
//
// [Check] compares fresh readings against [Thresholds]. Disk usage
// above the limit or available memory below the floor makes the host
// unhealthy, with a detail string naming every violation.
package inventory
