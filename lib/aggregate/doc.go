// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregate rolls task outcomes up into stage and request
// status.
//
// A [Tracker] indexes in-flight work in three maps (requests, stages,
// tasks). Every task update recomputes the owning stage from all its
// tasks, then the owning request from all its stages, and writes back
// only the values that changed. A request whose status and display
// status are both terminal is retired: it and everything under it
// leave the maps, so memory follows in-flight work only. Retired
// requests remain queryable through the persistence collaborator.
//
// Stages and requests carry two status axes. Status answers whether
// execution finished; display status answers whether the result is
// clean. A stage whose failures are all tolerated (the stage is
// skippable, or each failing role still meets its success factor)
// finishes COMPLETED with display status SKIPPED_FAILED. ABORTED is
// never tolerated. See [RollupStage] and [RollupRequest].
//
// Aborting a request marks its unfinished tasks ABORTED and feeds
// them through the same update path as any other outcome.
package aggregate
