// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/orchestra/lib/codec"
	"github.com/bureau-foundation/orchestra/lib/lifecycle"
	"github.com/bureau-foundation/orchestra/lib/rolegraph"
	"github.com/bureau-foundation/orchestra/lib/schema"
	"github.com/bureau-foundation/orchestra/lib/service"
	"github.com/bureau-foundation/orchestra/lib/store"
)

// defaultListLimit bounds "list-requests" when the caller sends no
// limit.
const defaultListLimit = 50

// registerActions registers all socket API actions on the server.
func (c *Controller) registerActions(server *service.SocketServer) {
	server.Handle("status", c.handleStatus)
	server.Handle("register", c.handleRegister)
	server.Handle("verify", c.handleVerify)
	server.Handle("heartbeat", c.handleHeartbeat)
	server.Handle("submit", c.handleSubmit)
	server.Handle("request-status", c.handleRequestStatus)
	server.Handle("list-requests", c.handleListRequests)
	server.Handle("abort", c.handleAbort)
	server.Handle("list-hosts", c.handleListHosts)
}

func (c *Controller) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return c.status(), nil
}

// --- Host lifecycle ---

type registerRequest struct {
	Registration schema.Registration `json:"registration"`
}

// handleRegister starts a host's lifecycle over. A host that registers
// while already known (an agent restart, or a controller restart that
// the agent noticed first) is forgotten and registered afresh. Hosts
// that were verified before are verified again without operator
// action.
func (c *Controller) handleRegister(ctx context.Context, raw []byte) (any, error) {
	var request registerRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid register request: %w", err)
	}
	registration := request.Registration
	if registration.Hostname == "" {
		return nil, errors.New("missing required field: registration.hostname")
	}

	if existing := c.hosts.Get(registration.Hostname); existing != nil && existing.State() != schema.HostInit {
		c.logger.Info("host re-registering",
			"host", registration.Hostname,
			"previous_state", existing.State(),
		)
		c.hosts.Remove(registration.Hostname)
	}
	entity := c.hosts.GetOrCreate(registration.Hostname)
	if err := entity.Register(registration.Info, registration.Counter); err != nil {
		return nil, err
	}

	verify := c.autoVerify
	if !verify {
		verify = c.previouslyVerified(ctx, registration.Hostname)
	}
	if verify {
		if err := entity.Verify(); err != nil {
			return nil, err
		}
	}

	c.saveHost(ctx, entity)
	c.logger.Info("host registered",
		"host", registration.Hostname,
		"state", entity.State(),
		"os", registration.Info.OSType,
		"processors", registration.Info.ProcessorCount,
	)
	return schema.RegistrationResponse{State: entity.State()}, nil
}

// previouslyVerified reports whether the store remembers the host past
// verification.
func (c *Controller) previouslyVerified(ctx context.Context, hostname string) bool {
	snapshot, err := c.store.LoadHost(ctx, string(lifecycle.KindHost), hostname)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("loading saved host failed", "host", hostname, "error", err)
		}
		return false
	}
	switch snapshot.State {
	case schema.HostInit, schema.HostWaitingForVerification:
		return false
	default:
		return true
	}
}

type hostnameRequest struct {
	Hostname string `json:"hostname"`
}

// handleVerify accepts a host waiting for verification.
func (c *Controller) handleVerify(ctx context.Context, raw []byte) (any, error) {
	var request hostnameRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid verify request: %w", err)
	}
	if request.Hostname == "" {
		return nil, errors.New("missing required field: hostname")
	}
	entity := c.hosts.Get(request.Hostname)
	if entity == nil {
		return nil, fmt.Errorf("host %q is not registered", request.Hostname)
	}
	if err := entity.Verify(); err != nil {
		return nil, err
	}
	c.saveHost(ctx, entity)
	c.logger.Info("host verified", "host", request.Hostname)
	return schema.RegistrationResponse{State: entity.State()}, nil
}

type heartbeatRequest struct {
	Heartbeat schema.Heartbeat `json:"heartbeat"`
}

// handleHeartbeat advances the host's lifecycle, applies its task
// reports, and hands it the commands queued for it.
//
// Reports are applied only when the heartbeat was accepted. A host
// still waiting for verification gets its state back and keeps its
// reports for a later beat.
func (c *Controller) handleHeartbeat(ctx context.Context, raw []byte) (any, error) {
	var request heartbeatRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid heartbeat request: %w", err)
	}
	heartbeat := request.Heartbeat
	if heartbeat.Hostname == "" {
		return nil, errors.New("missing required field: heartbeat.hostname")
	}

	entity := c.hosts.Get(heartbeat.Hostname)
	if entity == nil || entity.State() == schema.HostInit {
		return schema.HeartbeatResponse{State: schema.HostInit, RegistrationRequired: true}, nil
	}

	before := entity.Snapshot()
	var err error
	if heartbeat.Healthy {
		err = entity.HealthyHeartbeat(heartbeat.Counter)
	} else {
		err = entity.UnhealthyHeartbeat(heartbeat.Counter, heartbeat.Detail)
	}
	var transitionErr *lifecycle.TransitionError
	if errors.As(err, &transitionErr) {
		return schema.HeartbeatResponse{State: transitionErr.State}, nil
	}
	if err != nil {
		return nil, err
	}

	after := entity.Snapshot()
	if after.State != before.State || after.Health != before.Health {
		if after.State != before.State {
			c.logger.Info("host state changed",
				"host", heartbeat.Hostname,
				"from", before.State,
				"to", after.State,
			)
		}
		c.saveHost(ctx, entity)
	}

	if err := c.dispatch.report(ctx, heartbeat.Hostname, heartbeat.Reports); err != nil {
		return nil, fmt.Errorf("applying reports: %w", err)
	}
	commands, err := c.dispatch.take(ctx, heartbeat.Hostname)
	if err != nil {
		return nil, fmt.Errorf("collecting commands: %w", err)
	}
	return schema.HeartbeatResponse{State: after.State, Commands: commands}, nil
}

type listHostsResponse struct {
	Hosts []schema.HostSnapshot `json:"hosts"`
}

// handleListHosts lists live lifecycles plus hosts the store remembers
// that have not registered since the controller started. Those are
// reported as INIT with their last known inventory.
func (c *Controller) handleListHosts(ctx context.Context, raw []byte) (any, error) {
	hosts := c.hosts.Snapshots()
	saved, err := c.store.Hosts(ctx, string(lifecycle.KindHost))
	if err != nil {
		return nil, fmt.Errorf("loading saved hosts: %w", err)
	}
	live := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		live[host.Hostname] = struct{}{}
	}
	for _, host := range saved {
		if _, ok := live[host.Hostname]; ok {
			continue
		}
		host.State = schema.HostInit
		host.Health = schema.HostHealth{Status: schema.HealthUnknown}
		hosts = append(hosts, host)
	}
	slices.SortFunc(hosts, func(a, b schema.HostSnapshot) int {
		return strings.Compare(a.Hostname, b.Hostname)
	})
	return listHostsResponse{Hosts: hosts}, nil
}

// --- Requests ---

type submitRequest struct {
	Request schema.SubmitRequest `json:"request"`
}

// handleSubmit plans a work set into stages, persists it, and releases
// its first stage.
func (c *Controller) handleSubmit(ctx context.Context, raw []byte) (any, error) {
	var request submitRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid submit request: %w", err)
	}
	submission := request.Request
	if len(submission.Commands) == 0 {
		return nil, errors.New("request has no commands")
	}
	for role, factor := range submission.SuccessFactors {
		if factor < 0 || factor > 1 {
			return nil, fmt.Errorf("success factor for %s is %v, want 0.0-1.0", role, factor)
		}
	}

	plan, err := rolegraph.NewPlan(c.oracle, submission.Commands)
	if err != nil {
		return nil, err
	}

	record, tasks, err := c.store.CreateRequest(ctx, store.NewRequest{
		ID:             uuid.NewString(),
		Name:           submission.Name,
		Plan:           plan,
		Skippable:      submission.Skippable,
		SuccessFactors: submission.SuccessFactors,
		DryRun:         submission.DryRun,
	})
	if err != nil {
		return nil, err
	}

	c.dispatch.track(record.ID, record.DryRun)
	if err := c.tracker.OnTaskCreate(ctx, tasks); err != nil {
		// The request stays persisted PENDING; resume picks it up.
		c.dispatch.untrack(record.ID)
		return nil, fmt.Errorf("indexing request %s: %w", record.ID, err)
	}
	if err := c.dispatch.release(ctx, record.ID); err != nil {
		return nil, fmt.Errorf("releasing request %s: %w", record.ID, err)
	}

	c.logger.Info("request submitted",
		"request", record.ID,
		"name", record.Name,
		"stages", len(plan.Stages),
		"tasks", len(tasks),
		"plan_digest", plan.Digest.String(),
	)
	return schema.SubmitResponse{
		RequestID:  record.ID,
		PlanDigest: plan.Digest.String(),
		Stages:     len(plan.Stages),
		Tasks:      len(tasks),
	}, nil
}

type requestIDRequest struct {
	RequestID string `json:"request_id"`
}

func (c *Controller) handleRequestStatus(ctx context.Context, raw []byte) (any, error) {
	var request requestIDRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request-status request: %w", err)
	}
	if request.RequestID == "" {
		return nil, errors.New("missing required field: request_id")
	}
	return c.store.RequestDetail(ctx, request.RequestID)
}

type listRequestsRequest struct {
	Limit int `json:"limit"`
}

type listRequestsResponse struct {
	Requests []schema.RequestRecord `json:"requests"`
}

func (c *Controller) handleListRequests(ctx context.Context, raw []byte) (any, error) {
	var request listRequestsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid list-requests request: %w", err)
	}
	limit := request.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	requests, err := c.store.ListRequests(ctx, limit)
	if err != nil {
		return nil, err
	}
	return listRequestsResponse{Requests: requests}, nil
}

func (c *Controller) handleAbort(ctx context.Context, raw []byte) (any, error) {
	var request requestIDRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid abort request: %w", err)
	}
	if request.RequestID == "" {
		return nil, errors.New("missing required field: request_id")
	}
	return c.dispatch.abort(ctx, request.RequestID)
}
