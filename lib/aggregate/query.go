// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"sort"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// StageSnapshot is a copy of one in-flight stage.
type StageSnapshot struct {
	ID        schema.StageID      `json:"id"`
	Skippable bool                `json:"skippable"`
	Outcome   Outcome             `json:"outcome"`
	Tasks     []schema.TaskRecord `json:"tasks"`
}

// RequestSnapshot is a copy of one in-flight request.
type RequestSnapshot struct {
	Record  schema.RequestRecord `json:"record"`
	Outcome Outcome              `json:"outcome"`
	Stages  []StageSnapshot      `json:"stages"`
}

// Request returns a snapshot of an in-flight request.
func (t *Tracker) Request(id string) (RequestSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	owner, ok := t.requests[id]
	if !ok {
		return RequestSnapshot{}, false
	}
	return owner.snapshot(), true
}

// ActiveRequests returns snapshots of every in-flight request, sorted
// by creation time then ID.
func (t *Tracker) ActiveRequests() []RequestSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshots := make([]RequestSnapshot, 0, len(t.requests))
	for _, owner := range t.requests {
		snapshots = append(snapshots, owner.snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		a, b := snapshots[i].Record, snapshots[j].Record
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return snapshots
}

// Stage returns a snapshot of an in-flight stage.
func (t *Tracker) Stage(id schema.StageID) (StageSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	parent, ok := t.stages[id]
	if !ok {
		return StageSnapshot{}, false
	}
	return parent.snapshot(), true
}

// Task returns the in-flight task with the given ID.
func (t *Tracker) Task(id int64) (schema.TaskRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	member, ok := t.tasks[id]
	if !ok {
		return schema.TaskRecord{}, false
	}
	return member.snapshot(), true
}

// Counts returns the sizes of the three active maps.
func (t *Tracker) Counts() (requests, stages, tasks int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests), len(t.stages), len(t.tasks)
}

// ReadyStage returns the index of the stage to release next: the
// lowest-indexed stage still PENDING, provided every stage before it
// finished with status COMPLETED. It returns false when nothing may be
// released, either because an earlier stage is unfinished or failed or
// because no stage is pending.
func (t *Tracker) ReadyStage(requestID string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	owner, ok := t.requests[requestID]
	if !ok {
		return 0, false
	}
	for _, index := range sortedStageIndexes(owner) {
		switch owner.stages[index].outcome.Status {
		case schema.StatusCompleted:
			continue
		case schema.StatusPending:
			return index, true
		default:
			return 0, false
		}
	}
	return 0, false
}

func (r *request) snapshot() RequestSnapshot {
	snapshot := RequestSnapshot{Record: r.record, Outcome: r.outcome}
	snapshot.Record.Status = r.outcome.Status
	snapshot.Record.DisplayStatus = r.outcome.Display
	for _, index := range sortedStageIndexes(r) {
		snapshot.Stages = append(snapshot.Stages, r.stages[index].snapshot())
	}
	return snapshot
}

func (s *stage) snapshot() StageSnapshot {
	snapshot := StageSnapshot{
		ID:        s.record.ID,
		Skippable: s.record.Skippable,
		Outcome:   s.outcome,
		Tasks:     make([]schema.TaskRecord, len(s.tasks)),
	}
	for i, member := range s.tasks {
		snapshot.Tasks[i] = member.snapshot()
	}
	return snapshot
}

func (t *task) snapshot() schema.TaskRecord {
	record := t.record
	if t.record.Result != nil {
		result := *t.record.Result
		record.Result = &result
	}
	return record
}
