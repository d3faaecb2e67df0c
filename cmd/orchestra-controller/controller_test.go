// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/codec"
	"github.com/bureau-foundation/orchestra/lib/lifecycle"
	"github.com/bureau-foundation/orchestra/lib/roleorder"
	"github.com/bureau-foundation/orchestra/lib/schema"
	"github.com/bureau-foundation/orchestra/lib/service"
	"github.com/bureau-foundation/orchestra/lib/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testHeartbeatTimeout = 90 * time.Second
	testTaskTimeout      = 10 * time.Minute
)

// --- Test infrastructure ---

func openTestStore(t *testing.T, clk clock.Clock) *store.Store {
	t.Helper()
	database, err := store.OpenStore(store.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "orchestra.db"),
		PoolSize:    2,
		Compression: store.CompressionZstd,
		Clock:       clk,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// hdfsOracle orders NAMENODE-START before DATANODE-START.
func hdfsOracle(t *testing.T) roleorder.Oracle {
	t.Helper()
	var definitions roleorder.Definitions
	definitions.Add(
		roleorder.RoleCommand{Role: "DATANODE", Command: schema.CommandStart},
		roleorder.RoleCommand{Role: "NAMENODE", Command: schema.CommandStart},
	)
	oracle, err := roleorder.NewDependencyOracle(definitions)
	if err != nil {
		t.Fatalf("NewDependencyOracle: %v", err)
	}
	return oracle
}

func newTestControllerWithStore(t *testing.T, fake *clock.FakeClock, database *store.Store, autoVerify bool) *Controller {
	t.Helper()
	return newController(controllerConfig{
		Clock:            fake,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:            database,
		Oracle:           hdfsOracle(t),
		Roles:            testRoles,
		AutoVerify:       autoVerify,
		HeartbeatTimeout: testHeartbeatTimeout,
		TaskTimeout:      testTaskTimeout,
	})
}

func newTestController(t *testing.T, autoVerify bool) (*Controller, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(testEpoch)
	return newTestControllerWithStore(t, fake, openTestStore(t, fake), autoVerify), fake
}

// call invokes a socket action handler directly with the given fields
// encoded the way the client sends them.
func call(t *testing.T, handler service.ActionFunc, fields map[string]any) (any, error) {
	t.Helper()
	raw, err := codec.Marshal(fields)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	return handler(context.Background(), raw)
}

func register(t *testing.T, c *Controller, hostname string, counter int64) schema.HostState {
	t.Helper()
	result, err := call(t, c.handleRegister, map[string]any{
		"action": "register",
		"registration": schema.Registration{
			Hostname: hostname,
			Info:     schema.HostInfo{Hostname: hostname, ProcessorCount: 4, OSType: "centos7"},
			Counter:  counter,
		},
	})
	if err != nil {
		t.Fatalf("register %s: %v", hostname, err)
	}
	return result.(schema.RegistrationResponse).State
}

func heartbeat(t *testing.T, c *Controller, beat schema.Heartbeat) schema.HeartbeatResponse {
	t.Helper()
	result, err := call(t, c.handleHeartbeat, map[string]any{
		"action":    "heartbeat",
		"heartbeat": beat,
	})
	if err != nil {
		t.Fatalf("heartbeat from %s: %v", beat.Hostname, err)
	}
	return result.(schema.HeartbeatResponse)
}

// healthyHost registers hostname and brings it to HEALTHY.
func healthyHost(t *testing.T, c *Controller, hostname string) {
	t.Helper()
	register(t, c, hostname, 1)
	response := heartbeat(t, c, schema.Heartbeat{Hostname: hostname, Counter: 2, Healthy: true})
	if response.State != schema.HostHealthy {
		t.Fatalf("%s state = %s, want HEALTHY", hostname, response.State)
	}
}

func submit(t *testing.T, c *Controller, request schema.SubmitRequest) schema.SubmitResponse {
	t.Helper()
	result, err := call(t, c.handleSubmit, map[string]any{
		"action":  "submit",
		"request": request,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return result.(schema.SubmitResponse)
}

// hdfsStart is a three-task request in two stages: NAMENODE on h1,
// then DATANODE on h1 and h2.
var hdfsStart = schema.SubmitRequest{
	Name: "start HDFS",
	Commands: []schema.HostRoleCommand{
		{Host: "h1", Role: "NAMENODE", Command: schema.CommandStart},
		{Host: "h1", Role: "DATANODE", Command: schema.CommandStart},
		{Host: "h2", Role: "DATANODE", Command: schema.CommandStart},
	},
}

func completed(command schema.AgentCommand) schema.TaskReport {
	return schema.TaskReport{
		TaskID:    command.TaskID,
		RequestID: command.RequestID,
		Status:    schema.StatusCompleted,
		Result:    schema.CommandResult{ExitCode: 0, Stdout: "ok"},
	}
}

func failed(command schema.AgentCommand) schema.TaskReport {
	return schema.TaskReport{
		TaskID:    command.TaskID,
		RequestID: command.RequestID,
		Status:    schema.StatusFailed,
		Result:    schema.CommandResult{ExitCode: 1, Stderr: "boom"},
	}
}

func requestStatus(t *testing.T, c *Controller, id string) schema.RequestDetail {
	t.Helper()
	detail, err := c.store.RequestDetail(context.Background(), id)
	if err != nil {
		t.Fatalf("RequestDetail(%s): %v", id, err)
	}
	return detail
}

func taskStatuses(detail schema.RequestDetail) map[string]schema.TaskStatus {
	statuses := make(map[string]schema.TaskStatus)
	for _, task := range detail.Tasks {
		statuses[task.Host+"/"+task.Role] = task.Status
	}
	return statuses
}

// --- Host lifecycle ---

func TestRegisterWithAutoVerify(t *testing.T) {
	c, _ := newTestController(t, true)

	if state := register(t, c, "h1", 1); state != schema.HostVerified {
		t.Fatalf("state after register = %s, want VERIFIED", state)
	}
	response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 2, Healthy: true})
	if response.State != schema.HostHealthy {
		t.Errorf("state after heartbeat = %s, want HEALTHY", response.State)
	}

	saved, err := c.store.LoadHost(context.Background(), string(lifecycle.KindHost), "h1")
	if err != nil {
		t.Fatalf("LoadHost: %v", err)
	}
	if saved.State != schema.HostHealthy || saved.Info.OSType != "centos7" {
		t.Errorf("saved host = %+v, want HEALTHY with inventory", saved)
	}
}

func TestRegisterWaitsForOperatorVerification(t *testing.T) {
	c, _ := newTestController(t, false)

	if state := register(t, c, "h1", 1); state != schema.HostWaitingForVerification {
		t.Fatalf("state after register = %s, want WAITING_FOR_VERIFICATION", state)
	}
	response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 2, Healthy: true})
	if response.State != schema.HostWaitingForVerification || response.RegistrationRequired {
		t.Errorf("heartbeat before verify = %+v, want WAITING_FOR_VERIFICATION", response)
	}

	result, err := call(t, c.handleVerify, map[string]any{"action": "verify", "hostname": "h1"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if state := result.(schema.RegistrationResponse).State; state != schema.HostVerified {
		t.Errorf("state after verify = %s, want VERIFIED", state)
	}
	if _, err := call(t, c.handleVerify, map[string]any{"action": "verify", "hostname": "h1"}); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("second verify: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := call(t, c.handleVerify, map[string]any{"action": "verify", "hostname": "ghost"}); err == nil {
		t.Error("verify of an unregistered host should fail")
	}
}

func TestReRegistrationKeepsVerification(t *testing.T) {
	c, _ := newTestController(t, false)
	register(t, c, "h1", 1)
	if _, err := call(t, c.handleVerify, map[string]any{"action": "verify", "hostname": "h1"}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 2, Healthy: true})

	// The agent restarts and registers with a fresh counter.
	if state := register(t, c, "h1", 100); state != schema.HostVerified {
		t.Errorf("state after re-registration = %s, want VERIFIED", state)
	}
}

func TestHeartbeatFromUnknownHostRequiresRegistration(t *testing.T) {
	c, _ := newTestController(t, true)
	response := heartbeat(t, c, schema.Heartbeat{Hostname: "stranger", Counter: 5, Healthy: true})
	if !response.RegistrationRequired || response.State != schema.HostInit {
		t.Errorf("response = %+v, want INIT with RegistrationRequired", response)
	}
}

func TestStaleHeartbeatIsRejected(t *testing.T) {
	c, _ := newTestController(t, true)
	register(t, c, "h1", 1)
	heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 10, Healthy: true})

	_, err := call(t, c.handleHeartbeat, map[string]any{
		"action":    "heartbeat",
		"heartbeat": schema.Heartbeat{Hostname: "h1", Counter: 9, Healthy: false, Detail: "disk full"},
	})
	if !errors.Is(err, lifecycle.ErrStaleHeartbeat) {
		t.Fatalf("err = %v, want ErrStaleHeartbeat", err)
	}
	if state := c.hosts.Get("h1").State(); state != schema.HostHealthy {
		t.Errorf("state after stale heartbeat = %s, want HEALTHY", state)
	}
}

func TestUnhealthyHeartbeatStillReceivesCommands(t *testing.T) {
	c, _ := newTestController(t, true)
	register(t, c, "h1", 1)
	response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 2, Healthy: false, Detail: "disk 97% full"})
	if response.State != schema.HostUnhealthy {
		t.Fatalf("state = %s, want UNHEALTHY", response.State)
	}

	submit(t, c, hdfsStart)
	response = heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: false, Detail: "disk 97% full"})
	if len(response.Commands) != 1 {
		t.Errorf("UNHEALTHY host got %d commands, want 1", len(response.Commands))
	}
}

func TestHeartbeatLossHoldsCommands(t *testing.T) {
	c, fake := newTestController(t, true)
	healthyHost(t, c, "h1")

	fake.Advance(testHeartbeatTimeout + time.Second)
	c.sweep(context.Background())
	if state := c.hosts.Get("h1").State(); state != schema.HostHeartbeatLost {
		t.Fatalf("state after silence = %s, want HEARTBEAT_LOST", state)
	}

	submit(t, c, hdfsStart)
	commands, err := c.dispatch.take(context.Background(), "h1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if len(commands) != 0 {
		t.Fatalf("lost host was handed %d commands", len(commands))
	}

	// The host comes back and collects what was held for it.
	response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true})
	if response.State != schema.HostHealthy || len(response.Commands) != 1 {
		t.Errorf("response = %+v, want HEALTHY with the held command", response)
	}
}

// --- Requests ---

func TestStagesReleaseInOrder(t *testing.T) {
	c, _ := newTestController(t, true)
	healthyHost(t, c, "h1")
	healthyHost(t, c, "h2")

	submitted := submit(t, c, hdfsStart)
	if submitted.Stages != 2 || submitted.Tasks != 3 || submitted.PlanDigest == "" {
		t.Fatalf("submit = %+v, want 2 stages and 3 tasks", submitted)
	}

	// Stage 1 holds DATANODE on h2, so h2 gets nothing yet.
	if response := heartbeat(t, c, schema.Heartbeat{Hostname: "h2", Counter: 3, Healthy: true}); len(response.Commands) != 0 {
		t.Fatalf("h2 got %d commands before stage 0 finished", len(response.Commands))
	}

	response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true})
	if len(response.Commands) != 1 {
		t.Fatalf("h1 got %d commands, want 1", len(response.Commands))
	}
	namenode := response.Commands[0]
	if namenode.Name != "hadoop-namenode" || namenode.Verb != schema.DaemonStart {
		t.Fatalf("first command = %+v, want start hadoop-namenode", namenode)
	}
	if status := taskStatuses(requestStatus(t, c, submitted.RequestID))["h1/NAMENODE"]; status != schema.StatusInProgress {
		t.Errorf("NAMENODE task = %s, want IN_PROGRESS", status)
	}

	// Reporting stage 0 releases stage 1 in the same heartbeat.
	response = heartbeat(t, c, schema.Heartbeat{
		Hostname: "h1", Counter: 4, Healthy: true,
		Reports: []schema.TaskReport{completed(namenode)},
	})
	if len(response.Commands) != 1 || response.Commands[0].Name != "hadoop-datanode" {
		t.Fatalf("h1 commands after stage 0 = %+v, want the DATANODE start", response.Commands)
	}
	h1Datanode := response.Commands[0]

	response = heartbeat(t, c, schema.Heartbeat{Hostname: "h2", Counter: 4, Healthy: true})
	if len(response.Commands) != 1 {
		t.Fatalf("h2 got %d commands after stage 0, want 1", len(response.Commands))
	}
	h2Datanode := response.Commands[0]

	heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 5, Healthy: true, Reports: []schema.TaskReport{completed(h1Datanode)}})
	if detail := requestStatus(t, c, submitted.RequestID); detail.Request.Status != schema.StatusInProgress {
		t.Errorf("request with one task left = %s, want IN_PROGRESS", detail.Request.Status)
	}
	heartbeat(t, c, schema.Heartbeat{Hostname: "h2", Counter: 5, Healthy: true, Reports: []schema.TaskReport{completed(h2Datanode)}})

	detail := requestStatus(t, c, submitted.RequestID)
	if detail.Request.Status != schema.StatusCompleted {
		t.Errorf("request = %s, want COMPLETED", detail.Request.Status)
	}
	for _, task := range detail.Tasks {
		if task.Result == nil || task.Result.Stdout != "ok" {
			t.Errorf("task %d result = %+v, want the reported stdout", task.ID, task.Result)
		}
	}
	if requests, _, _ := c.tracker.Counts(); requests != 0 {
		t.Errorf("%d requests still tracked after completion", requests)
	}
}

func TestHardFailureAbortsRemainingStages(t *testing.T) {
	c, _ := newTestController(t, true)
	healthyHost(t, c, "h1")
	healthyHost(t, c, "h2")
	submitted := submit(t, c, hdfsStart)

	response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true})
	response = heartbeat(t, c, schema.Heartbeat{
		Hostname: "h1", Counter: 4, Healthy: true,
		Reports: []schema.TaskReport{failed(response.Commands[0])},
	})
	if len(response.Commands) != 0 {
		t.Errorf("h1 got %d commands after a failed stage", len(response.Commands))
	}
	if response := heartbeat(t, c, schema.Heartbeat{Hostname: "h2", Counter: 4, Healthy: true}); len(response.Commands) != 0 {
		t.Errorf("h2 got %d commands after a failed stage", len(response.Commands))
	}

	detail := requestStatus(t, c, submitted.RequestID)
	if detail.Request.Status != schema.StatusFailed {
		t.Errorf("request = %s, want FAILED", detail.Request.Status)
	}
	statuses := taskStatuses(detail)
	if statuses["h1/NAMENODE"] != schema.StatusFailed {
		t.Errorf("NAMENODE = %s, want FAILED", statuses["h1/NAMENODE"])
	}
	if statuses["h1/DATANODE"] != schema.StatusAborted || statuses["h2/DATANODE"] != schema.StatusAborted {
		t.Errorf("DATANODE tasks = %v, want ABORTED", statuses)
	}
}

func TestSuccessFactorToleratesFailure(t *testing.T) {
	c, _ := newTestController(t, true)
	healthyHost(t, c, "h1")
	healthyHost(t, c, "h2")

	request := schema.SubmitRequest{
		Name: "start datanodes",
		Commands: []schema.HostRoleCommand{
			{Host: "h1", Role: "DATANODE", Command: schema.CommandStart},
			{Host: "h2", Role: "DATANODE", Command: schema.CommandStart},
		},
		SuccessFactors: map[string]float64{"DATANODE": 0.5},
	}
	submitted := submit(t, c, request)

	h1 := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true}).Commands
	h2 := heartbeat(t, c, schema.Heartbeat{Hostname: "h2", Counter: 3, Healthy: true}).Commands
	heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 4, Healthy: true, Reports: []schema.TaskReport{failed(h1[0])}})
	heartbeat(t, c, schema.Heartbeat{Hostname: "h2", Counter: 4, Healthy: true, Reports: []schema.TaskReport{completed(h2[0])}})

	detail := requestStatus(t, c, submitted.RequestID)
	if detail.Request.Status != schema.StatusCompleted || detail.Request.DisplayStatus != schema.StatusSkippedFailed {
		t.Errorf("request = %s/%s, want COMPLETED/SKIPPED_FAILED", detail.Request.Status, detail.Request.DisplayStatus)
	}
}

func TestAbortRequest(t *testing.T) {
	c, _ := newTestController(t, true)
	healthyHost(t, c, "h1")
	submitted := submit(t, c, hdfsStart)

	result, err := call(t, c.handleAbort, map[string]any{"action": "abort", "request_id": submitted.RequestID})
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	aborted := result.(schema.AbortResponse)
	if aborted.Aborted != 3 || aborted.Status != schema.StatusAborted {
		t.Errorf("abort = %+v, want 3 tasks ABORTED", aborted)
	}

	if response := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true}); len(response.Commands) != 0 {
		t.Errorf("h1 got %d commands from an aborted request", len(response.Commands))
	}
	if queued, delivered := c.dispatch.counts(); queued != 0 || delivered != 0 {
		t.Errorf("counts after abort = (%d, %d), want none outstanding", queued, delivered)
	}

	_, err = call(t, c.handleAbort, map[string]any{"action": "abort", "request_id": submitted.RequestID})
	if err == nil || !strings.Contains(err.Error(), "not active") {
		t.Errorf("second abort: err = %v, want a not-active error", err)
	}
}

func TestTaskTimeout(t *testing.T) {
	c, fake := newTestController(t, true)
	healthyHost(t, c, "h1")
	submitted := submit(t, c, hdfsStart)
	commands := heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true}).Commands
	if len(commands) != 1 {
		t.Fatalf("got %d commands, want 1", len(commands))
	}

	fake.Advance(testTaskTimeout - time.Second)
	c.sweep(context.Background())
	if status := taskStatuses(requestStatus(t, c, submitted.RequestID))["h1/NAMENODE"]; status != schema.StatusInProgress {
		t.Fatalf("NAMENODE before the timeout = %s, want IN_PROGRESS", status)
	}

	fake.Advance(2 * time.Second)
	c.sweep(context.Background())
	detail := requestStatus(t, c, submitted.RequestID)
	statuses := taskStatuses(detail)
	if statuses["h1/NAMENODE"] != schema.StatusTimedOut {
		t.Errorf("NAMENODE = %s, want TIMEDOUT", statuses["h1/NAMENODE"])
	}
	if !detail.Request.Status.IsTerminal() {
		t.Errorf("request = %s, want terminal after its first stage timed out", detail.Request.Status)
	}

	// A late report for the timed-out task changes nothing.
	heartbeat(t, c, schema.Heartbeat{Hostname: "h1", Counter: 4, Healthy: true, Reports: []schema.TaskReport{completed(commands[0])}})
	if status := taskStatuses(requestStatus(t, c, submitted.RequestID))["h1/NAMENODE"]; status != schema.StatusTimedOut {
		t.Errorf("NAMENODE after a late report = %s, want TIMEDOUT", status)
	}
}

func TestUnconfiguredRoleFailsTheStage(t *testing.T) {
	c, _ := newTestController(t, true)
	healthyHost(t, c, "h1")
	submitted := submit(t, c, schema.SubmitRequest{
		Name:     "start zookeeper",
		Commands: []schema.HostRoleCommand{{Host: "h1", Role: "ZOOKEEPER", Command: schema.CommandStart}},
	})

	detail := requestStatus(t, c, submitted.RequestID)
	if detail.Request.Status != schema.StatusFailed {
		t.Errorf("request = %s, want FAILED", detail.Request.Status)
	}
	if len(detail.Tasks) != 1 || detail.Tasks[0].Result == nil || !strings.Contains(detail.Tasks[0].Result.Stderr, "no target") {
		t.Errorf("tasks = %+v, want the translation error recorded", detail.Tasks)
	}
}

func TestSubmitValidation(t *testing.T) {
	c, _ := newTestController(t, true)

	tests := []struct {
		name    string
		request schema.SubmitRequest
		want    string
	}{
		{"no commands", schema.SubmitRequest{Name: "empty"}, "no commands"},
		{"factor above one", schema.SubmitRequest{
			Commands:       hdfsStart.Commands,
			SuccessFactors: map[string]float64{"DATANODE": 1.5},
		}, "success factor"},
		{"missing host", schema.SubmitRequest{
			Commands: []schema.HostRoleCommand{{Role: "NAMENODE", Command: schema.CommandStart}},
		}, "malformed"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := call(t, c.handleSubmit, map[string]any{"action": "submit", "request": test.request})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("err = %v, want it to mention %q", err, test.want)
			}
		})
	}
}

func TestResumeAfterRestart(t *testing.T) {
	fake := clock.Fake(testEpoch)
	database := openTestStore(t, fake)

	first := newTestControllerWithStore(t, fake, database, true)
	healthyHost(t, first, "h1")
	healthyHost(t, first, "h2")
	submitted := submit(t, first, hdfsStart)
	namenode := heartbeat(t, first, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true}).Commands[0]

	second := newTestControllerWithStore(t, fake, database, false)
	if err := second.resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if requests, _, tasks := second.tracker.Counts(); requests != 1 || tasks != 3 {
		t.Fatalf("resumed (requests, tasks) = (%d, %d), want (1, 3)", requests, tasks)
	}
	if _, delivered := second.dispatch.counts(); delivered != 1 {
		t.Errorf("resumed %d delivered commands, want 1", delivered)
	}

	response := heartbeat(t, second, schema.Heartbeat{
		Hostname: "h1", Counter: 4, Healthy: true,
		Reports: []schema.TaskReport{completed(namenode)},
	})
	if !response.RegistrationRequired {
		t.Fatalf("response = %+v, want RegistrationRequired after restart", response)
	}

	result, err := call(t, second.handleListHosts, map[string]any{"action": "list-hosts"})
	if err != nil {
		t.Fatalf("list-hosts: %v", err)
	}
	listed := result.(listHostsResponse).Hosts
	if len(listed) != 2 || listed[0].Hostname != "h1" || listed[1].Hostname != "h2" {
		t.Fatalf("list-hosts after restart = %+v, want the saved h1 and h2", listed)
	}
	for _, host := range listed {
		if host.State != schema.HostInit || host.Info.ProcessorCount != 4 {
			t.Errorf("saved host %s = %s with %d processors, want INIT with its inventory",
				host.Hostname, host.State, host.Info.ProcessorCount)
		}
	}

	// h1 was verified before the restart, so it is verified again
	// without auto_verify.
	if state := register(t, second, "h1", 5); state != schema.HostVerified {
		t.Fatalf("state after re-registration = %s, want VERIFIED", state)
	}
	response = heartbeat(t, second, schema.Heartbeat{
		Hostname: "h1", Counter: 6, Healthy: true,
		Reports: []schema.TaskReport{completed(namenode)},
	})
	if len(response.Commands) != 1 || response.Commands[0].Name != "hadoop-datanode" {
		t.Errorf("commands after resumed report = %+v, want the DATANODE start", response.Commands)
	}
	if status := taskStatuses(requestStatus(t, second, submitted.RequestID))["h1/NAMENODE"]; status != schema.StatusCompleted {
		t.Errorf("NAMENODE = %s, want COMPLETED", status)
	}
}

func TestResumeFinishesRollupsLostInACrash(t *testing.T) {
	fake := clock.Fake(testEpoch)
	database := openTestStore(t, fake)
	ctx := context.Background()

	first := newTestControllerWithStore(t, fake, database, true)
	healthyHost(t, first, "h1")
	healthyHost(t, first, "h2")
	staged := submit(t, first, hdfsStart)
	single := submit(t, first, schema.SubmitRequest{
		Name:     "start one datanode",
		Commands: []schema.HostRoleCommand{{Host: "h2", Role: "DATANODE", Command: schema.CommandStart}},
	})
	namenode := heartbeat(t, first, schema.Heartbeat{Hostname: "h1", Counter: 3, Healthy: true}).Commands[0]

	// The controller died after writing these task rows and before
	// writing their stage and request rows.
	result := &schema.CommandResult{Stdout: "ok"}
	if err := database.UpdateTaskStatus(ctx, namenode.TaskID, schema.StatusCompleted, result); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	singleTask := requestStatus(t, first, single.RequestID).Tasks[0]
	if err := database.UpdateTaskStatus(ctx, singleTask.ID, schema.StatusCompleted, result); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if detail := requestStatus(t, first, staged.RequestID); detail.Stages[0].Status == schema.StatusCompleted {
		t.Fatalf("stage 0 = %s before the restart, want it lagging its task", detail.Stages[0].Status)
	}

	second := newTestControllerWithStore(t, fake, database, true)
	if err := second.resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}

	detail := requestStatus(t, second, staged.RequestID)
	if detail.Stages[0].Status != schema.StatusCompleted {
		t.Errorf("stage 0 after resume = %s, want COMPLETED", detail.Stages[0].Status)
	}
	if detail.Request.Status != schema.StatusInProgress {
		t.Errorf("request after resume = %s, want IN_PROGRESS", detail.Request.Status)
	}
	statuses := taskStatuses(detail)
	if statuses["h1/DATANODE"] != schema.StatusQueued || statuses["h2/DATANODE"] != schema.StatusQueued {
		t.Errorf("stage 1 tasks = %v, want QUEUED after resume released them", statuses)
	}
	if queued, _ := second.dispatch.counts(); queued != 2 {
		t.Errorf("queued after resume = %d, want the two DATANODE starts", queued)
	}

	if status := requestStatus(t, second, single.RequestID).Request.Status; status != schema.StatusCompleted {
		t.Errorf("single-task request after resume = %s, want COMPLETED", status)
	}
	if requests, _, _ := second.tracker.Counts(); requests != 1 {
		t.Errorf("%d requests tracked after resume, want only the unfinished one", requests)
	}
}

func TestStatusAndListings(t *testing.T) {
	c, fake := newTestController(t, true)
	healthyHost(t, c, "h1")
	register(t, c, "h2", 1)
	first := submit(t, c, hdfsStart)
	fake.Advance(time.Minute)
	second := submit(t, c, schema.SubmitRequest{
		Name:     "status checks",
		Commands: []schema.HostRoleCommand{{Host: "h2", Role: "NAMENODE", Command: schema.CommandStatus}},
	})

	result, err := call(t, c.handleStatus, map[string]any{"action": "status"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	status := result.(schema.ControllerStatus)
	if status.Hosts != 2 || status.EligibleHosts != 1 {
		t.Errorf("hosts = %d/%d eligible, want 2/1", status.Hosts, status.EligibleHosts)
	}
	if status.ActiveRequests != 2 || status.ActiveTasks != 4 || status.QueuedCommands != 2 {
		t.Errorf("status = %+v, want 2 requests, 4 tasks, 2 queued", status)
	}
	if status.UptimeSeconds != 60 {
		t.Errorf("uptime = %d, want 60", status.UptimeSeconds)
	}

	result, err = call(t, c.handleListRequests, map[string]any{"action": "list-requests", "limit": 10})
	if err != nil {
		t.Fatalf("list-requests: %v", err)
	}
	requests := result.(listRequestsResponse).Requests
	if len(requests) != 2 || requests[0].ID != second.RequestID || requests[1].ID != first.RequestID {
		t.Errorf("list-requests = %+v, want newest first", requests)
	}

	result, err = call(t, c.handleRequestStatus, map[string]any{"action": "request-status", "request_id": first.RequestID})
	if err != nil {
		t.Fatalf("request-status: %v", err)
	}
	if detail := result.(schema.RequestDetail); len(detail.Stages) != 2 || len(detail.Tasks) != 3 {
		t.Errorf("request-status = %d stages, %d tasks, want 2 and 3", len(detail.Stages), len(detail.Tasks))
	}
	if _, err := call(t, c.handleRequestStatus, map[string]any{"action": "request-status", "request_id": "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("request-status of a missing request: err = %v, want ErrNotFound", err)
	}

	result, err = call(t, c.handleListHosts, map[string]any{"action": "list-hosts"})
	if err != nil {
		t.Fatalf("list-hosts: %v", err)
	}
	if hosts := result.(listHostsResponse).Hosts; len(hosts) != 2 {
		t.Errorf("list-hosts returned %d hosts, want 2", len(hosts))
	}
}
