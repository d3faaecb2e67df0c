// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/codec"
	"github.com/bureau-foundation/orchestra/lib/schema"
	"github.com/bureau-foundation/orchestra/lib/service"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeController records calls and answers them from scripted
// functions. Fields round-trip through CBOR the way the socket sends
// them.
type fakeController struct {
	mu         sync.Mutex
	registers  []schema.Registration
	heartbeats []schema.Heartbeat

	onRegister  func(schema.Registration) (schema.RegistrationResponse, error)
	onHeartbeat func(schema.Heartbeat) (schema.HeartbeatResponse, error)
}

func (f *fakeController) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	raw, err := codec.Marshal(fields)
	if err != nil {
		return err
	}

	var response any
	switch action {
	case "register":
		var request struct {
			Registration schema.Registration `json:"registration"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return err
		}
		f.mu.Lock()
		f.registers = append(f.registers, request.Registration)
		f.mu.Unlock()
		response, err = f.onRegister(request.Registration)
	case "heartbeat":
		var request struct {
			Heartbeat schema.Heartbeat `json:"heartbeat"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return err
		}
		f.mu.Lock()
		f.heartbeats = append(f.heartbeats, request.Heartbeat)
		f.mu.Unlock()
		response, err = f.onHeartbeat(request.Heartbeat)
	default:
		return &service.ServiceError{Action: action, Message: "unknown action"}
	}
	if err != nil {
		return err
	}

	data, err := codec.Marshal(response)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, result)
}

func (f *fakeController) lastHeartbeat(t *testing.T) schema.Heartbeat {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heartbeats) == 0 {
		t.Fatal("no heartbeat sent")
	}
	return f.heartbeats[len(f.heartbeats)-1]
}

// healthyController accepts everything and hands out queued commands
// once.
func healthyController() (*fakeController, func([]schema.AgentCommand)) {
	var mu sync.Mutex
	var queue []schema.AgentCommand
	controller := &fakeController{
		onRegister: func(schema.Registration) (schema.RegistrationResponse, error) {
			return schema.RegistrationResponse{State: schema.HostVerified}, nil
		},
		onHeartbeat: func(schema.Heartbeat) (schema.HeartbeatResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			commands := queue
			queue = nil
			return schema.HeartbeatResponse{State: schema.HostHealthy, Commands: commands}, nil
		},
	}
	enqueue := func(commands []schema.AgentCommand) {
		mu.Lock()
		defer mu.Unlock()
		queue = append(queue, commands...)
	}
	return controller, enqueue
}

// fakeExecutor completes every command, optionally blocking until
// released.
type fakeExecutor struct {
	mu      sync.Mutex
	batches [][]schema.AgentCommand
	gate    chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, commands []schema.AgentCommand) ([]schema.TaskReport, error) {
	e.mu.Lock()
	e.batches = append(e.batches, commands)
	e.mu.Unlock()
	if e.gate != nil {
		<-e.gate
	}
	reports := make([]schema.TaskReport, len(commands))
	for i, command := range commands {
		reports[i] = schema.TaskReport{
			TaskID:    command.TaskID,
			RequestID: command.RequestID,
			Status:    schema.StatusCompleted,
			Result:    schema.CommandResult{Stdout: "done"},
		}
	}
	return reports, nil
}

func (e *fakeExecutor) executed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, batch := range e.batches {
		count += len(batch)
	}
	return count
}

func newTestAgent(controller caller, exec executor, fake *clock.FakeClock) *Agent {
	return newAgent(agentConfig{
		Controller: controller,
		Executor:   exec,
		Clock:      fake,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Hostname:   "h1",
		Interval:   10 * time.Second,
		Probe: func() schema.HostInfo {
			return schema.HostInfo{Hostname: "probed", ProcessorCount: 8, OSType: "centos7"}
		},
		Check: func() (bool, string) { return true, "" },
	})
}

func startCommand(id int64) schema.AgentCommand {
	return schema.AgentCommand{
		TaskID:    id,
		RequestID: "r1",
		Target:    schema.TargetDaemon,
		Name:      "hadoop-namenode",
		Verb:      schema.DaemonStart,
	}
}

func TestAgentRegistersThenHeartbeats(t *testing.T) {
	controller, _ := healthyController()
	fake := clock.Fake(testEpoch)
	a := newTestAgent(controller, &fakeExecutor{}, fake)

	a.step(context.Background())

	if len(controller.registers) != 1 {
		t.Fatalf("%d registrations, want 1", len(controller.registers))
	}
	registration := controller.registers[0]
	if registration.Hostname != "h1" || registration.Info.Hostname != "h1" || registration.Info.ProcessorCount != 8 {
		t.Errorf("registration = %+v, want h1 with the probed inventory", registration)
	}
	if registration.Counter != testEpoch.UnixMilli() {
		t.Errorf("registration counter = %d, want %d", registration.Counter, testEpoch.UnixMilli())
	}

	beat := controller.lastHeartbeat(t)
	if beat.Counter <= registration.Counter {
		t.Errorf("heartbeat counter %d not above registration counter %d", beat.Counter, registration.Counter)
	}
	if !beat.Healthy {
		t.Error("heartbeat should report healthy")
	}

	// Registered agents only heartbeat.
	a.step(context.Background())
	if len(controller.registers) != 1 || len(controller.heartbeats) != 2 {
		t.Errorf("after second step: %d registrations, %d heartbeats; want 1 and 2",
			len(controller.registers), len(controller.heartbeats))
	}
}

func TestAgentReportsUnhealthy(t *testing.T) {
	controller, _ := healthyController()
	a := newTestAgent(controller, &fakeExecutor{}, clock.Fake(testEpoch))
	a.check = func() (bool, string) { return false, "/ (/dev/sda1) 97% used, limit 95%" }

	a.step(context.Background())
	beat := controller.lastHeartbeat(t)
	if beat.Healthy || beat.Detail == "" {
		t.Errorf("heartbeat = %+v, want unhealthy with detail", beat)
	}
}

func TestAgentRunsCommandsAndReportsOnNextHeartbeat(t *testing.T) {
	controller, enqueue := healthyController()
	exec := &fakeExecutor{}
	a := newTestAgent(controller, exec, clock.Fake(testEpoch))
	ctx := context.Background()

	a.step(ctx)
	enqueue([]schema.AgentCommand{startCommand(1), startCommand(2)})
	a.step(ctx)
	a.wait()
	if got := exec.executed(); got != 2 {
		t.Fatalf("executed %d commands, want 2", got)
	}

	a.step(ctx)
	beat := controller.lastHeartbeat(t)
	if len(beat.Reports) != 2 || beat.Reports[0].Status != schema.StatusCompleted {
		t.Fatalf("reports = %+v, want two COMPLETED", beat.Reports)
	}

	// Accepted reports are not sent again.
	a.step(ctx)
	if beat := controller.lastHeartbeat(t); len(beat.Reports) != 0 {
		t.Errorf("reports resent after acknowledgement: %+v", beat.Reports)
	}
}

func TestAgentKeepsReportsUntilAccepted(t *testing.T) {
	controller, enqueue := healthyController()
	a := newTestAgent(controller, &fakeExecutor{}, clock.Fake(testEpoch))
	ctx := context.Background()

	a.step(ctx)
	enqueue([]schema.AgentCommand{startCommand(1)})
	a.step(ctx)
	a.wait()

	// The controller restarted and no longer knows the host.
	accepting := controller.onHeartbeat
	controller.onHeartbeat = func(schema.Heartbeat) (schema.HeartbeatResponse, error) {
		return schema.HeartbeatResponse{State: schema.HostInit, RegistrationRequired: true}, nil
	}
	a.step(ctx)
	if beat := controller.lastHeartbeat(t); len(beat.Reports) != 1 {
		t.Fatalf("reports = %+v, want the pending report", beat.Reports)
	}

	// A transport failure also keeps them.
	controller.onHeartbeat = func(schema.Heartbeat) (schema.HeartbeatResponse, error) {
		return schema.HeartbeatResponse{}, errors.New("connection refused")
	}
	a.step(ctx)

	controller.onHeartbeat = accepting
	a.step(ctx)
	if len(controller.registers) != 2 {
		t.Errorf("%d registrations, want a second after RegistrationRequired", len(controller.registers))
	}
	if beat := controller.lastHeartbeat(t); len(beat.Reports) != 1 || beat.Reports[0].TaskID != 1 {
		t.Errorf("reports after re-registration = %+v, want task 1", beat.Reports)
	}
}

func TestAgentHoldsReportsWhileUnverified(t *testing.T) {
	controller, enqueue := healthyController()
	a := newTestAgent(controller, &fakeExecutor{}, clock.Fake(testEpoch))
	ctx := context.Background()

	a.step(ctx)
	enqueue([]schema.AgentCommand{startCommand(1)})
	a.step(ctx)
	a.wait()

	accepting := controller.onHeartbeat
	controller.onHeartbeat = func(schema.Heartbeat) (schema.HeartbeatResponse, error) {
		return schema.HeartbeatResponse{State: schema.HostWaitingForVerification}, nil
	}
	a.step(ctx)
	controller.onHeartbeat = accepting
	a.step(ctx)
	if beat := controller.lastHeartbeat(t); len(beat.Reports) != 1 {
		t.Errorf("reports = %+v, want the report held through the unverified beat", beat.Reports)
	}
}

func TestAgentIgnoresDuplicateCommands(t *testing.T) {
	controller, enqueue := healthyController()
	exec := &fakeExecutor{gate: make(chan struct{})}
	a := newTestAgent(controller, exec, clock.Fake(testEpoch))
	ctx := context.Background()

	a.step(ctx)
	enqueue([]schema.AgentCommand{startCommand(1)})
	a.step(ctx)
	enqueue([]schema.AgentCommand{startCommand(1)})
	a.step(ctx)
	close(exec.gate)
	a.wait()

	if got := exec.executed(); got != 1 {
		t.Errorf("executed %d commands, want 1", got)
	}
}

func TestAgentReRegistersAfterRejectedHeartbeat(t *testing.T) {
	controller, _ := healthyController()
	a := newTestAgent(controller, &fakeExecutor{}, clock.Fake(testEpoch))
	ctx := context.Background()

	a.step(ctx)
	accepting := controller.onHeartbeat
	controller.onHeartbeat = func(schema.Heartbeat) (schema.HeartbeatResponse, error) {
		return schema.HeartbeatResponse{}, &service.ServiceError{Action: "heartbeat", Message: "stale heartbeat"}
	}
	a.step(ctx)
	controller.onHeartbeat = accepting
	a.step(ctx)
	if len(controller.registers) != 2 {
		t.Errorf("%d registrations, want 2", len(controller.registers))
	}
}

func TestCounterIsStrictlyIncreasing(t *testing.T) {
	fake := clock.Fake(testEpoch)
	a := newTestAgent(&fakeController{}, &fakeExecutor{}, fake)
	first := a.counter()
	second := a.counter()
	if second <= first {
		t.Errorf("counter %d not above %d with a frozen clock", second, first)
	}
	fake.Advance(time.Second)
	if third := a.counter(); third != testEpoch.Add(time.Second).UnixMilli() {
		t.Errorf("counter = %d, want the clock reading %d", third, testEpoch.Add(time.Second).UnixMilli())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	controller, _ := healthyController()
	fake := clock.Fake(testEpoch)
	a := newTestAgent(controller, &fakeExecutor{}, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)
	fake.WaitForTimers(1)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	controller.mu.Lock()
	defer controller.mu.Unlock()
	if len(controller.heartbeats) < 1 {
		t.Errorf("%d heartbeats, want at least 1", len(controller.heartbeats))
	}
}
