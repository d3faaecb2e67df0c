// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import "github.com/bureau-foundation/orchestra/lib/schema"

// Outcome is a status pair for a stage or request.
type Outcome struct {
	Status  schema.TaskStatus `json:"status"`
	Display schema.TaskStatus `json:"display_status"`
}

// Terminal reports whether both axes are terminal.
func (o Outcome) Terminal() bool {
	return o.Status.IsTerminal() && o.Display.IsTerminal()
}

func same(status schema.TaskStatus) Outcome {
	return Outcome{Status: status, Display: status}
}

// hardFailurePriority orders untolerated failures. The first present
// wins.
var hardFailurePriority = []schema.TaskStatus{
	schema.StatusFailed,
	schema.StatusAborted,
	schema.StatusTimedOut,
}

// tally counts member statuses.
type tally map[schema.TaskStatus]int

// progress resolves the cases that do not depend on failure tolerance.
// It returns false once every member is terminal.
func (t tally) progress(members int) (Outcome, bool) {
	pending := t[schema.StatusPending]
	queued := t[schema.StatusQueued]
	switch {
	case members == 0:
		return same(schema.StatusCompleted), true
	case pending == members:
		return same(schema.StatusPending), true
	case pending+queued == members:
		return same(schema.StatusQueued), true
	case pending+queued+t[schema.StatusInProgress] > 0:
		// Siblings of a failed member keep running; the failure
		// surfaces once they finish.
		return same(schema.StatusInProgress), true
	}
	return Outcome{}, false
}

// RollupStage computes a stage's outcome from its tasks. roles maps
// each task to its role, parallel to statuses. successFactors gives,
// per role, the fraction of that role's tasks that must succeed;
// missing roles require every task to succeed.
func RollupStage(statuses []schema.TaskStatus, roles []string, skippable bool, successFactors map[string]float64) Outcome {
	counts := make(tally)
	for _, status := range statuses {
		counts[status]++
	}
	if outcome, ok := counts.progress(len(statuses)); ok {
		return outcome
	}

	total := make(map[string]int)
	succeeded := make(map[string]int)
	for i, status := range statuses {
		total[roles[i]]++
		if status == schema.StatusCompleted {
			succeeded[roles[i]]++
		}
	}

	tolerated := false
	hard := make(tally)
	for i, status := range statuses {
		switch status {
		case schema.StatusCompleted:
		case schema.StatusSkippedFailed:
			tolerated = true
		case schema.StatusFailed, schema.StatusTimedOut:
			if skippable || meetsFactor(succeeded[roles[i]], total[roles[i]], successFactors, roles[i]) {
				tolerated = true
			} else {
				hard[status]++
			}
		default:
			hard[status]++
		}
	}
	return conclude(hard, tolerated)
}

func meetsFactor(succeeded, total int, successFactors map[string]float64, role string) bool {
	factor, ok := successFactors[role]
	if !ok {
		factor = 1.0
	}
	return float64(succeeded) >= factor*float64(total)
}

// RollupRequest computes a request's outcome from its stages. Stage
// failures are never re-tolerated at request level: tolerance was
// already applied when the stage rolled up.
func RollupRequest(stages []Outcome) Outcome {
	counts := make(tally)
	for _, stage := range stages {
		counts[stage.Status]++
	}
	if outcome, ok := counts.progress(len(stages)); ok {
		return outcome
	}

	tolerated := false
	hard := make(tally)
	for _, stage := range stages {
		switch stage.Status {
		case schema.StatusCompleted:
			if stage.Display == schema.StatusSkippedFailed {
				tolerated = true
			}
		case schema.StatusSkippedFailed:
			tolerated = true
		default:
			hard[stage.Status]++
		}
	}
	return conclude(hard, tolerated)
}

func conclude(hard tally, tolerated bool) Outcome {
	for _, status := range hardFailurePriority {
		if hard[status] > 0 {
			return same(status)
		}
	}
	if tolerated {
		return Outcome{Status: schema.StatusCompleted, Display: schema.StatusSkippedFailed}
	}
	return same(schema.StatusCompleted)
}
