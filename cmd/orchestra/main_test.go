// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/orchestra/cmd/orchestra/cli"
	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/codec"
	"github.com/bureau-foundation/orchestra/lib/schema"
	"github.com/bureau-foundation/orchestra/lib/service"
)

// scriptedController answers controller actions from handlers keyed by
// action name. Fields and results round-trip through CBOR.
type scriptedController struct {
	handlers map[string]func(raw []byte) (any, error)
	calls    []string
}

func (s *scriptedController) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	s.calls = append(s.calls, action)
	handler, ok := s.handlers[action]
	if !ok {
		return &service.ServiceError{Action: action, Message: "unknown action"}
	}
	raw, err := codec.Marshal(fields)
	if err != nil {
		return err
	}
	response, err := handler(raw)
	if err != nil {
		return &service.ServiceError{Action: action, Message: err.Error()}
	}
	data, err := codec.Marshal(response)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, result)
}

type testEnvironment struct {
	*environment
	stdout     *bytes.Buffer
	clock      *clock.FakeClock
	controller *scriptedController
}

func newTestEnvironment() *testEnvironment {
	var stdout bytes.Buffer
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	controller := &scriptedController{handlers: map[string]func([]byte) (any, error){}}
	return &testEnvironment{
		environment: &environment{
			stdin:      strings.NewReader(""),
			stdout:     &stdout,
			clock:      fake,
			connection: &cli.ControllerConnection{},
			controller: controller,
		},
		stdout:     &stdout,
		clock:      fake,
		controller: controller,
	}
}

func (e *testEnvironment) run(args ...string) error {
	root := rootCommand(e.environment)
	root.Output = &bytes.Buffer{}
	return root.Execute(context.Background(), args)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const hdfsRequest = `name: start hdfs
commands:
  - {host: h1, role: NAMENODE, command: start}
  - {host: h1, role: DATANODE, command: START}
  - {host: h2, role: DATANODE, command: START}
`

const hdfsTable = "general_deps:\n  DATANODE-START: [NAMENODE-START]\n"

func TestPlanOrdersStagesLocally(t *testing.T) {
	env := newTestEnvironment()
	table := writeFile(t, "order.yaml", hdfsTable)
	request := writeFile(t, "start.yaml", hdfsRequest)

	if err := env.run("plan", "--table", table, "--json", request); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(env.controller.calls) != 0 {
		t.Errorf("plan called the controller: %v", env.controller.calls)
	}

	var output planOutput
	if err := json.Unmarshal(env.stdout.Bytes(), &output); err != nil {
		t.Fatalf("decoding plan output: %v\n%s", err, env.stdout.String())
	}
	if len(output.Stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(output.Stages))
	}
	if first := output.Stages[0].Tasks; len(first) != 1 || first[0].Role != "NAMENODE" {
		t.Errorf("stage 0 = %+v, want only NAMENODE", first)
	}
	if second := output.Stages[1].Tasks; len(second) != 2 {
		t.Errorf("stage 1 = %+v, want both DATANODEs", second)
	}
	if len(output.Digest) != 64 {
		t.Errorf("digest %q is not a hex BLAKE3 sum", output.Digest)
	}
}

func TestPlanWithoutOrderingIsOneStage(t *testing.T) {
	env := newTestEnvironment()
	request := writeFile(t, "start.yaml", hdfsRequest)

	if err := env.run("plan", "--oracle", "none", request); err != nil {
		t.Fatalf("plan: %v", err)
	}
	text := env.stdout.String()
	if !strings.Contains(text, "1 stages, 3 tasks") || strings.Contains(text, "stage 1") {
		t.Errorf("unexpected plan:\n%s", text)
	}
}

func TestPlanReadsCommentedJSON(t *testing.T) {
	env := newTestEnvironment()
	request := writeFile(t, "start.json", `{
  // restart the namenode only
  "name": "nn",
  "commands": [{"host": "h1", "role": "NAMENODE", "command": "stop"}]
}`)

	if err := env.run("plan", "--oracle", "none", request); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(env.stdout.String(), "NAMENODE") {
		t.Errorf("plan output lacks the task:\n%s", env.stdout.String())
	}
}

func TestPlanRejectsBadRequestFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no commands", "name: empty\n", "no commands"},
		{"unknown command", "commands:\n  - {host: h1, role: NAMENODE, command: reboot}\n", "unknown role command"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnvironment()
			err := env.run("plan", "--oracle", "none", writeFile(t, "bad.yaml", test.content))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("err = %v, want %q", err, test.want)
			}
			var commandErr *cli.CommandError
			if !errors.As(err, &commandErr) || commandErr.Category != cli.CategoryValidation {
				t.Errorf("err %v is not a validation error", err)
			}
		})
	}
}

func TestSubmitSendsTheRequest(t *testing.T) {
	env := newTestEnvironment()
	var received schema.SubmitRequest
	env.controller.handlers["submit"] = func(raw []byte) (any, error) {
		var request struct {
			Request schema.SubmitRequest `json:"request"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		received = request.Request
		return schema.SubmitResponse{RequestID: "r1", Stages: 2, Tasks: 3}, nil
	}

	request := writeFile(t, "start.yaml", hdfsRequest)
	if err := env.run("request", "submit", "--dry-run", "--name", "override", request); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if received.Name != "override" || !received.DryRun || len(received.Commands) != 3 {
		t.Errorf("controller received %+v", received)
	}
	if received.Commands[0].Command != schema.CommandStart {
		t.Errorf("command not normalized: %q", received.Commands[0].Command)
	}
	if got := env.stdout.String(); !strings.Contains(got, "submitted r1: 3 tasks in 2 stages") {
		t.Errorf("output = %q", got)
	}
}

func TestSubmitWaitFollowsTheRequest(t *testing.T) {
	env := newTestEnvironment()
	env.controller.handlers["submit"] = func([]byte) (any, error) {
		return schema.SubmitResponse{RequestID: "r1", Stages: 1, Tasks: 1}, nil
	}
	polls := 0
	env.controller.handlers["request-status"] = func([]byte) (any, error) {
		polls++
		status := schema.StatusInProgress
		if polls > 1 {
			status = schema.StatusFailed
		}
		return schema.RequestDetail{
			Request: schema.RequestRecord{ID: "r1", Status: status, DisplayStatus: status, StageCount: 1},
			Stages:  []schema.StageRecord{{ID: schema.StageID{RequestID: "r1"}, Status: status, DisplayStatus: status}},
			Tasks: []schema.TaskRecord{{
				ID: 1, Stage: schema.StageID{RequestID: "r1"}, Host: "h1", Role: "NAMENODE",
				Command: schema.CommandStart, Status: status,
				Result: &schema.CommandResult{ExitCode: 1, Stderr: "starting\nport in use\n"},
			}},
		}, nil
	}

	done := make(chan error, 1)
	request := writeFile(t, "start.yaml", hdfsRequest)
	go func() {
		done <- env.run("request", "submit", "--wait", "--interval", "5s", request)
	}()

	env.clock.WaitForTimers(1)
	env.clock.Advance(5 * time.Second)

	err := <-done
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("err = %v, want exit code 1 for a failed request", err)
	}
	if polls != 2 {
		t.Errorf("polled %d times, want 2", polls)
	}
	text := env.stdout.String()
	for _, want := range []string{"FAILED", "NAMENODE", "port in use"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestAbortAndList(t *testing.T) {
	env := newTestEnvironment()
	var abortedID string
	env.controller.handlers["abort"] = func(raw []byte) (any, error) {
		var request struct {
			RequestID string `json:"request_id"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		abortedID = request.RequestID
		return schema.AbortResponse{RequestID: request.RequestID, Aborted: 2, Status: schema.StatusAborted}, nil
	}
	var limit int
	env.controller.handlers["list-requests"] = func(raw []byte) (any, error) {
		var request struct {
			Limit int `json:"limit"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		limit = request.Limit
		return requestList{Requests: []schema.RequestRecord{
			{ID: "r2", Name: "stop hdfs", DisplayStatus: schema.StatusAborted, StageCount: 2},
		}}, nil
	}

	if err := env.run("req", "abort", "r2"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if abortedID != "r2" || !strings.Contains(env.stdout.String(), "aborted 2 tasks of r2") {
		t.Errorf("abort id %q, output %q", abortedID, env.stdout.String())
	}

	env.stdout.Reset()
	if err := env.run("request", "list", "-n", "5"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if limit != 5 {
		t.Errorf("limit = %d, want 5", limit)
	}
	if text := env.stdout.String(); !strings.Contains(text, "r2") || !strings.Contains(text, "stop hdfs") {
		t.Errorf("list output:\n%s", text)
	}
}

func TestHostsVerifyStopsAtFirstFailure(t *testing.T) {
	env := newTestEnvironment()
	var verified []string
	env.controller.handlers["verify"] = func(raw []byte) (any, error) {
		var request struct {
			Hostname string `json:"hostname"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.Hostname == "ghost" {
			return nil, errors.New(`host "ghost" is not registered`)
		}
		verified = append(verified, request.Hostname)
		return schema.RegistrationResponse{State: schema.HostVerified}, nil
	}

	err := env.run("hosts", "verify", "h1", "ghost", "h2")
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("err = %v, want the controller's rejection", err)
	}
	if len(verified) != 1 || verified[0] != "h1" {
		t.Errorf("verified %v, want [h1]", verified)
	}
	if !strings.Contains(env.stdout.String(), "h1: VERIFIED") {
		t.Errorf("output = %q", env.stdout.String())
	}
}

func TestHostsListJSON(t *testing.T) {
	env := newTestEnvironment()
	env.controller.handlers["list-hosts"] = func([]byte) (any, error) {
		return hostList{}, nil
	}
	if err := env.run("hosts", "list", "--json"); err != nil {
		t.Fatalf("hosts list: %v", err)
	}
	if got := strings.TrimSpace(env.stdout.String()); got != "[]" {
		t.Errorf("empty host list rendered as %q", got)
	}
}

func TestRenderHostsAndStatus(t *testing.T) {
	var buffer bytes.Buffer
	renderHosts(&buffer, []schema.HostSnapshot{
		{Hostname: "h1", State: schema.HostHealthy, Info: schema.HostInfo{ProcessorCount: 8, MemoryTotalKB: 16 << 20}},
		{Hostname: "host-two", State: schema.HostUnhealthy, Health: schema.HostHealth{Status: schema.HealthUnhealthy, Detail: "disk / at 97%"}},
	})
	renderStatus(&buffer, schema.ControllerStatus{Version: "0.1.0", Hosts: 2, EligibleHosts: 2, QueuedCommands: 4})

	text := buffer.String()
	for _, want := range []string{"h1        HEALTHY", "8 cpu  16384 MB", "disk / at 97%", "2 (2 eligible)", "4 queued"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\x1b[") {
		t.Error("output to a buffer carries escape sequences")
	}
}
