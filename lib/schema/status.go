// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// TaskStatus is the progress state of a task. Stages and requests
// reuse the same vocabulary for both their status and display status.
type TaskStatus string

const (
	// StatusPending: created but not yet released for dispatch.
	StatusPending TaskStatus = "PENDING"

	// StatusQueued: released and waiting for its host to pick it up
	// on the next heartbeat.
	StatusQueued TaskStatus = "QUEUED"

	// StatusInProgress: delivered to the host's agent.
	StatusInProgress TaskStatus = "IN_PROGRESS"

	// StatusCompleted: the command exited zero.
	StatusCompleted TaskStatus = "COMPLETED"

	// StatusFailed: the command exited non-zero or could not run.
	StatusFailed TaskStatus = "FAILED"

	// StatusTimedOut: no result arrived within the task timeout.
	StatusTimedOut TaskStatus = "TIMEDOUT"

	// StatusAborted: the owning request was aborted before the task
	// finished, or an earlier stage failed.
	StatusAborted TaskStatus = "ABORTED"

	// StatusSkippedFailed: the task failed but its stage tolerates
	// the failure. On stages and requests this value appears only as a
	// display status: the canonical status is COMPLETED.
	StatusSkippedFailed TaskStatus = "SKIPPED_FAILED"
)

// allStatuses lists every status in lifecycle order.
var allStatuses = []TaskStatus{
	StatusPending,
	StatusQueued,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusTimedOut,
	StatusAborted,
	StatusSkippedFailed,
}

// ParseTaskStatus converts a wire or database string to a TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", value)
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusAborted, StatusSkippedFailed:
		return true
	default:
		return false
	}
}

// IsFailure reports whether s is a hard failure outcome. SKIPPED_FAILED
// is not: it records a failure that was already tolerated.
func (s TaskStatus) IsFailure() bool {
	switch s {
	case StatusFailed, StatusTimedOut, StatusAborted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the defined statuses.
func (s TaskStatus) Valid() bool {
	_, err := ParseTaskStatus(string(s))
	return err == nil
}
