// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "testing"

func TestTerminalAndFailureClassification(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
		failure  bool
	}{
		{StatusPending, false, false},
		{StatusQueued, false, false},
		{StatusInProgress, false, false},
		{StatusCompleted, true, false},
		{StatusFailed, true, true},
		{StatusTimedOut, true, true},
		{StatusAborted, true, true},
		{StatusSkippedFailed, true, false},
	}
	for _, test := range tests {
		if got := test.status.IsTerminal(); got != test.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", test.status, got, test.terminal)
		}
		if got := test.status.IsFailure(); got != test.failure {
			t.Errorf("%s.IsFailure() = %v, want %v", test.status, got, test.failure)
		}
	}
}

func TestParseTaskStatus(t *testing.T) {
	for _, status := range allStatuses {
		parsed, err := ParseTaskStatus(string(status))
		if err != nil || parsed != status {
			t.Errorf("ParseTaskStatus(%q) = %q, %v", status, parsed, err)
		}
	}
	if _, err := ParseTaskStatus("pending"); err == nil {
		t.Error("lower-case status accepted")
	}
	if TaskStatus("DONE").Valid() {
		t.Error("DONE reported valid")
	}
}

func TestParseRoleCommand(t *testing.T) {
	command, err := ParseRoleCommand(" start ")
	if err != nil || command != CommandStart {
		t.Errorf("ParseRoleCommand(start) = %q, %v", command, err)
	}
	if _, err := ParseRoleCommand("RESTART"); err == nil {
		t.Error("RESTART accepted")
	}
}
