// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Store is the persistence collaborator. The tracker reads the
// initial status of a request and its stages once, when their first
// task is indexed, and writes one call per changed entity.
type Store interface {
	LoadRequest(ctx context.Context, id string) (schema.RequestRecord, error)
	LoadStage(ctx context.Context, id schema.StageID) (schema.StageRecord, error)
	UpdateTaskStatus(ctx context.Context, id int64, status schema.TaskStatus, result *schema.CommandResult) error
	UpdateStageStatus(ctx context.Context, id schema.StageID, status, display schema.TaskStatus) error
	UpdateRequestStatus(ctx context.Context, id string, status, display schema.TaskStatus) error
}

// ErrUnknownRequest is returned for a request that is not in flight.
var ErrUnknownRequest = errors.New("request not active")

// TaskUpdate is a new status for one task.
type TaskUpdate struct {
	ID     int64
	Status schema.TaskStatus

	// Result is the command output, when the update comes from an
	// agent report.
	Result *schema.CommandResult
}

// StageChange records a stage whose outcome changed.
type StageChange struct {
	ID schema.StageID
	Outcome
}

// RequestChange records a request whose outcome changed. Retired is
// set when the change made the request terminal and it left the maps.
type RequestChange struct {
	ID string
	Outcome
	Retired bool
}

// Changes lists everything an update batch changed, stages sorted by
// ID and requests by ID.
type Changes struct {
	Tasks    []int64
	Stages   []StageChange
	Requests []RequestChange
}

type task struct {
	record schema.TaskRecord
}

type stage struct {
	record  schema.StageRecord
	outcome Outcome
	tasks   []*task
}

type request struct {
	record  schema.RequestRecord
	outcome Outcome
	stages  map[int]*stage
}

// Tracker holds in-flight requests, stages, and tasks.
//
// Stage and request outcomes are recomputed from their members. A
// stage or request whose recomputed outcome could not be persisted
// stays dirty and is retried on the next apply or Reconcile.
type Tracker struct {
	store  Store
	logger *slog.Logger

	mu       sync.RWMutex
	requests map[string]*request
	stages   map[schema.StageID]*stage
	tasks    map[int64]*task

	dirtyStages   map[schema.StageID]struct{}
	dirtyRequests map[string]struct{}
}

// NewTracker returns an empty tracker persisting through store. A nil
// logger discards.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		store:         store,
		logger:        logger,
		requests:      make(map[string]*request),
		stages:        make(map[schema.StageID]*stage),
		tasks:         make(map[int64]*task),
		dirtyStages:   make(map[schema.StageID]struct{}),
		dirtyRequests: make(map[string]struct{}),
	}
}

// OnTaskCreate indexes tasks under their stages and requests. The
// first task seen for a stage or request loads its persisted status.
// Tasks already indexed are skipped. Nothing is indexed unless every
// load succeeds.
func (t *Tracker) OnTaskCreate(ctx context.Context, records []schema.TaskRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	type placement struct {
		parent *stage
		member *task
	}
	newRequests := make(map[string]*request)
	newStages := make(map[schema.StageID]*stage)
	var placed []placement
	seen := make(map[int64]bool)

	for _, record := range records {
		if _, exists := t.tasks[record.ID]; exists || seen[record.ID] {
			continue
		}
		seen[record.ID] = true

		requestID := record.Stage.RequestID
		owner, ok := t.requests[requestID]
		if !ok {
			owner, ok = newRequests[requestID]
		}
		if !ok {
			persisted, err := t.store.LoadRequest(ctx, requestID)
			if err != nil {
				return fmt.Errorf("loading request %s for task %d: %w", requestID, record.ID, err)
			}
			owner = &request{
				record:  persisted,
				outcome: Outcome{Status: persisted.Status, Display: persisted.DisplayStatus},
				stages:  make(map[int]*stage),
			}
			newRequests[requestID] = owner
		}

		parent, ok := t.stages[record.Stage]
		if !ok {
			parent, ok = newStages[record.Stage]
		}
		if !ok {
			persisted, err := t.store.LoadStage(ctx, record.Stage)
			if err != nil {
				return fmt.Errorf("loading stage %s for task %d: %w", record.Stage, record.ID, err)
			}
			parent = &stage{
				record:  persisted,
				outcome: Outcome{Status: persisted.Status, Display: persisted.DisplayStatus},
			}
			newStages[record.Stage] = parent
		}

		placed = append(placed, placement{parent: parent, member: &task{record: record}})
	}

	for id, owner := range newRequests {
		t.requests[id] = owner
	}
	for id, parent := range newStages {
		t.stages[id] = parent
		t.requests[id.RequestID].stages[id.Index] = parent
	}
	for _, entry := range placed {
		entry.parent.tasks = append(entry.parent.tasks, entry.member)
		t.tasks[entry.member.record.ID] = entry.member
	}
	return nil
}

// OnTaskUpdate applies updates and rolls the affected stages and
// requests up. Updates for unknown tasks, for tasks that are already
// terminal, or that do not change the status are ignored with a
// warning.
func (t *Tracker) OnTaskUpdate(ctx context.Context, updates []TaskUpdate) (Changes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyLocked(ctx, updates)
}

// Reconcile recomputes every in-flight stage and request from its
// tasks and persists the outcomes that differ. Call it after indexing
// recovered tasks, whose stage rows may lag their task rows.
func (t *Tracker) Reconcile(ctx context.Context) (Changes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.stages {
		t.dirtyStages[id] = struct{}{}
	}
	for id := range t.requests {
		t.dirtyRequests[id] = struct{}{}
	}
	return t.applyLocked(ctx, nil)
}

// Abort marks every unfinished task of the request ABORTED.
func (t *Tracker) Abort(ctx context.Context, requestID string) (Changes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	owner, ok := t.requests[requestID]
	if !ok {
		return Changes{}, fmt.Errorf("aborting %s: %w", requestID, ErrUnknownRequest)
	}
	var updates []TaskUpdate
	for _, index := range sortedStageIndexes(owner) {
		for _, member := range owner.stages[index].tasks {
			if !member.record.Status.IsTerminal() {
				updates = append(updates, TaskUpdate{ID: member.record.ID, Status: schema.StatusAborted})
			}
		}
	}
	return t.applyLocked(ctx, updates)
}

func (t *Tracker) applyLocked(ctx context.Context, updates []TaskUpdate) (Changes, error) {
	var changes Changes

	for _, update := range updates {
		member, ok := t.tasks[update.ID]
		if !ok {
			t.logger.Warn("update for task not in flight", "task", update.ID, "status", update.Status)
			continue
		}
		current := member.record.Status
		if current.IsTerminal() {
			t.logger.Warn("ignoring update to terminal task",
				"task", update.ID,
				"status", current,
				"update", update.Status,
			)
			continue
		}
		if !update.Status.Valid() {
			t.logger.Warn("ignoring update with unknown status", "task", update.ID, "update", update.Status)
			continue
		}
		if update.Status == current && update.Result == nil {
			continue
		}

		if err := t.store.UpdateTaskStatus(ctx, update.ID, update.Status, update.Result); err != nil {
			return changes, fmt.Errorf("persisting task %d: %w", update.ID, err)
		}
		member.record.Status = update.Status
		if update.Result != nil {
			result := *update.Result
			member.record.Result = &result
		}
		changes.Tasks = append(changes.Tasks, update.ID)
		t.dirtyStages[member.record.Stage] = struct{}{}
	}

	stageIDs := make([]schema.StageID, 0, len(t.dirtyStages))
	for id := range t.dirtyStages {
		stageIDs = append(stageIDs, id)
	}
	sort.Slice(stageIDs, func(i, j int) bool { return stageLess(stageIDs[i], stageIDs[j]) })

	for _, id := range stageIDs {
		parent, ok := t.stages[id]
		if !ok {
			delete(t.dirtyStages, id)
			continue
		}
		outcome := parent.rollup()
		t.dirtyRequests[id.RequestID] = struct{}{}
		if outcome == parent.outcome {
			delete(t.dirtyStages, id)
			continue
		}
		if err := t.store.UpdateStageStatus(ctx, id, outcome.Status, outcome.Display); err != nil {
			return changes, fmt.Errorf("persisting stage %s: %w", id, err)
		}
		t.logger.Debug("stage status changed",
			"stage", id.String(),
			"status", outcome.Status,
			"display_status", outcome.Display,
		)
		parent.outcome = outcome
		delete(t.dirtyStages, id)
		changes.Stages = append(changes.Stages, StageChange{ID: id, Outcome: outcome})
	}

	requestIDs := make([]string, 0, len(t.dirtyRequests))
	for id := range t.dirtyRequests {
		requestIDs = append(requestIDs, id)
	}
	sort.Strings(requestIDs)

	for _, id := range requestIDs {
		owner, ok := t.requests[id]
		if !ok {
			delete(t.dirtyRequests, id)
			continue
		}
		outcome := owner.rollup()
		if outcome == owner.outcome {
			delete(t.dirtyRequests, id)
			continue
		}
		if err := t.store.UpdateRequestStatus(ctx, id, outcome.Status, outcome.Display); err != nil {
			return changes, fmt.Errorf("persisting request %s: %w", id, err)
		}
		owner.outcome = outcome
		delete(t.dirtyRequests, id)
		change := RequestChange{ID: id, Outcome: outcome}
		if outcome.Terminal() {
			t.retireLocked(owner)
			change.Retired = true
		}
		t.logger.Info("request status changed",
			"request", id,
			"status", outcome.Status,
			"display_status", outcome.Display,
			"retired", change.Retired,
		)
		changes.Requests = append(changes.Requests, change)
	}
	return changes, nil
}

func (t *Tracker) retireLocked(owner *request) {
	for _, parent := range owner.stages {
		for _, member := range parent.tasks {
			delete(t.tasks, member.record.ID)
		}
		delete(t.stages, parent.record.ID)
	}
	delete(t.requests, owner.record.ID)
}

func (s *stage) rollup() Outcome {
	statuses := make([]schema.TaskStatus, len(s.tasks))
	roles := make([]string, len(s.tasks))
	for i, member := range s.tasks {
		statuses[i] = member.record.Status
		roles[i] = member.record.Role
	}
	return RollupStage(statuses, roles, s.record.Skippable, s.record.SuccessFactors)
}

func (r *request) rollup() Outcome {
	indexes := sortedStageIndexes(r)
	outcomes := make([]Outcome, len(indexes))
	for i, index := range indexes {
		outcomes[i] = r.stages[index].outcome
	}
	return RollupRequest(outcomes)
}

func sortedStageIndexes(r *request) []int {
	indexes := make([]int, 0, len(r.stages))
	for index := range r.stages {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	return indexes
}

func stageLess(a, b schema.StageID) bool {
	if a.RequestID != b.RequestID {
		return a.RequestID < b.RequestID
	}
	return a.Index < b.Index
}
