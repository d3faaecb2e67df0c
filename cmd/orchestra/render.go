// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/orchestra/lib/rolegraph"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

var (
	colorAccent  = lipgloss.Color("6")
	colorMuted   = lipgloss.Color("241")
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("214")
	colorFailure = lipgloss.Color("196")
	colorActive  = lipgloss.Color("39")
)

// styles holds the styles for one output stream. The renderer detects
// the stream's color support, so piped output carries no escapes.
type styles struct {
	title  lipgloss.Style
	muted  lipgloss.Style
	status map[string]lipgloss.Style
}

func newStyles(w io.Writer) styles {
	renderer := lipgloss.NewRenderer(w)
	color := func(c lipgloss.Color) lipgloss.Style {
		return renderer.NewStyle().Foreground(c)
	}
	return styles{
		title: renderer.NewStyle().Bold(true).Foreground(colorAccent),
		muted: color(colorMuted),
		status: map[string]lipgloss.Style{
			string(schema.StatusPending):       color(colorMuted),
			string(schema.StatusQueued):        color(colorActive),
			string(schema.StatusInProgress):    color(colorActive).Bold(true),
			string(schema.StatusCompleted):     color(colorSuccess),
			string(schema.StatusSkippedFailed): color(colorWarning),
			string(schema.StatusFailed):        color(colorFailure).Bold(true),
			string(schema.StatusTimedOut):      color(colorFailure),
			string(schema.StatusAborted):       color(colorWarning),

			string(schema.HostHealthy):                color(colorSuccess),
			string(schema.HostUnhealthy):              color(colorWarning),
			string(schema.HostHeartbeatLost):          color(colorFailure),
			string(schema.HostWaitingForVerification): color(colorActive),
			string(schema.HostInit):                   color(colorMuted),
			string(schema.HostVerified):               color(colorMuted),
		},
	}
}

// state pads value to width before styling so escapes do not disturb
// column alignment.
func (s styles) state(value string, width int) string {
	padded := fmt.Sprintf("%-*s", width, value)
	if style, ok := s.status[value]; ok {
		return style.Render(padded)
	}
	return padded
}

func renderPlan(w io.Writer, plan *rolegraph.Plan) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s\n", st.title.Render("plan"), st.muted.Render(plan.Digest.String()))
	fmt.Fprintf(w, "%d stages, %d tasks\n", len(plan.Stages), plan.TaskCount())

	hostWidth, roleWidth := 0, 0
	for _, stage := range plan.Stages {
		for _, task := range stage.Tasks {
			hostWidth = max(hostWidth, len(task.Host))
			roleWidth = max(roleWidth, len(task.Role))
		}
	}
	for _, stage := range plan.Stages {
		fmt.Fprintf(w, "\n%s\n", st.title.Render(fmt.Sprintf("stage %d", stage.Index)))
		for _, task := range stage.Tasks {
			fmt.Fprintf(w, "  %-*s  %-*s  %s\n", hostWidth, task.Host, roleWidth, task.Role, task.Command)
		}
	}
}

func renderRequest(w io.Writer, detail schema.RequestDetail) {
	st := newStyles(w)
	request := detail.Request
	label := request.ID
	if request.Name != "" {
		label = fmt.Sprintf("%s (%s)", request.ID, request.Name)
	}
	fmt.Fprintf(w, "%s %s  %s\n", st.title.Render("request"), label, st.state(string(request.DisplayStatus), 0))
	if request.DryRun {
		fmt.Fprintln(w, st.muted.Render("dry run"))
	}
	fmt.Fprintf(w, "%s\n", st.muted.Render(fmt.Sprintf("plan %s, created %s",
		request.PlanDigest, request.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))))

	tasksByStage := make(map[int][]schema.TaskRecord)
	hostWidth, roleWidth := 0, 0
	for _, task := range detail.Tasks {
		tasksByStage[task.Stage.Index] = append(tasksByStage[task.Stage.Index], task)
		hostWidth = max(hostWidth, len(task.Host))
		roleWidth = max(roleWidth, len(task.Role))
	}

	for _, stage := range detail.Stages {
		header := fmt.Sprintf("stage %d", stage.ID.Index)
		if stage.Skippable {
			header += " (skippable)"
		}
		fmt.Fprintf(w, "\n%s  %s\n", st.title.Render(header), st.state(string(stage.DisplayStatus), 0))
		for _, task := range tasksByStage[stage.ID.Index] {
			fmt.Fprintf(w, "  %-*s  %-*s  %-9s  %s\n",
				hostWidth, task.Host, roleWidth, task.Role, task.Command,
				st.state(string(task.Status), 14))
			if task.Result != nil && task.Status.IsFailure() {
				if output := lastLine(task.Result.Stderr); output != "" {
					fmt.Fprintf(w, "    %s\n", st.muted.Render(output))
				}
			}
		}
	}
}

func renderRequests(w io.Writer, requests []schema.RequestRecord) {
	st := newStyles(w)
	if len(requests) == 0 {
		fmt.Fprintln(w, st.muted.Render("no requests"))
		return
	}
	idWidth := 0
	for _, request := range requests {
		idWidth = max(idWidth, len(request.ID))
	}
	for _, request := range requests {
		fmt.Fprintf(w, "%-*s  %s  %2d stages  %s\n",
			idWidth, request.ID,
			st.state(string(request.DisplayStatus), 14),
			request.StageCount, request.Name)
	}
}

func renderHosts(w io.Writer, hosts []schema.HostSnapshot) {
	st := newStyles(w)
	if len(hosts) == 0 {
		fmt.Fprintln(w, st.muted.Render("no hosts"))
		return
	}
	nameWidth := 0
	for _, host := range hosts {
		nameWidth = max(nameWidth, len(host.Hostname))
	}
	for _, host := range hosts {
		line := fmt.Sprintf("%-*s  %s", nameWidth, host.Hostname, st.state(string(host.State), 24))
		if host.Info.ProcessorCount > 0 {
			line += fmt.Sprintf("  %d cpu  %d MB", host.Info.ProcessorCount, host.Info.MemoryTotalKB/1024)
		}
		if host.Health.Detail != "" {
			line += "  " + st.muted.Render(host.Health.Detail)
		}
		fmt.Fprintln(w, line)
	}
}

func renderStatus(w io.Writer, status schema.ControllerStatus) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s, up %ds\n", st.title.Render("controller"), status.Version, status.UptimeSeconds)
	fmt.Fprintf(w, "hosts:    %d (%d eligible)\n", status.Hosts, status.EligibleHosts)
	fmt.Fprintf(w, "requests: %d active\n", status.ActiveRequests)
	fmt.Fprintf(w, "tasks:    %d active, %d queued\n", status.ActiveTasks, status.QueuedCommands)
}

func lastLine(text string) string {
	text = strings.TrimRight(text, "\n")
	if index := strings.LastIndexByte(text, '\n'); index >= 0 {
		return text[index+1:]
	}
	return text
}
