// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"
)

// StageID identifies a stage by its request and its position in the
// request's ordered plan.
type StageID struct {
	RequestID string `json:"request_id"`
	Index     int    `json:"index"`
}

func (id StageID) String() string {
	return fmt.Sprintf("%s/%d", id.RequestID, id.Index)
}

// RequestRecord is the persisted form of a request.
type RequestRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PlanDigest    string     `json:"plan_digest"`
	Status        TaskStatus `json:"status"`
	DisplayStatus TaskStatus `json:"display_status"`
	StageCount    int        `json:"stage_count"`
	DryRun        bool       `json:"dry_run,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StageRecord is the persisted form of a stage.
type StageRecord struct {
	ID             StageID            `json:"id"`
	Skippable      bool               `json:"skippable"`
	SuccessFactors map[string]float64 `json:"success_factors,omitempty"`
	Status         TaskStatus         `json:"status"`
	DisplayStatus  TaskStatus         `json:"display_status"`
}

// TaskRecord is the persisted form of a task. ID is assigned by the
// store when the request is created.
type TaskRecord struct {
	ID      int64          `json:"id"`
	Stage   StageID        `json:"stage"`
	Host    string         `json:"host"`
	Role    string         `json:"role"`
	Command RoleCommand    `json:"command"`
	Status  TaskStatus     `json:"status"`
	Result  *CommandResult `json:"result,omitempty"`
}

// RequestDetail is the response to a "request-status" socket request.
type RequestDetail struct {
	Request RequestRecord `json:"request"`
	Stages  []StageRecord `json:"stages"`
	Tasks   []TaskRecord  `json:"tasks"`
}
