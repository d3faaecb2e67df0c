// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rolegraph

import (
	"sort"

	"github.com/bureau-foundation/orchestra/lib/roleorder"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// node is one distinct role command in a planning pass.
type node struct {
	roleCommand roleorder.RoleCommand
	hosts       []string
}

// Graph is the dependency graph of one planning pass.
type Graph struct {
	nodes    []node
	outgoing [][]int
	indegree []int

	consumed bool
}

// Build creates the graph for commands. A nil oracle yields a graph
// with no edges. Duplicate assignments collapse.
func Build(oracle roleorder.Oracle, commands []schema.HostRoleCommand) (*Graph, error) {
	if len(commands) == 0 {
		return nil, malformedf("no commands to plan")
	}

	hostSets := make(map[roleorder.RoleCommand]map[string]struct{})
	for i, command := range commands {
		if command.Host == "" || command.Role == "" || command.Command == "" {
			return nil, malformedf("command %d (%s) needs host, role, and command", i, command)
		}
		key := roleorder.RoleCommand{Role: command.Role, Command: command.Command}
		if hostSets[key] == nil {
			hostSets[key] = make(map[string]struct{})
		}
		hostSets[key][command.Host] = struct{}{}
	}

	// Sort nodes so the same assignment set always yields the same
	// arena order, and therefore the same stage contents and digest.
	keys := make([]roleorder.RoleCommand, 0, len(hostSets))
	for key := range hostSets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Role != keys[j].Role {
			return keys[i].Role < keys[j].Role
		}
		return keys[i].Command < keys[j].Command
	})

	graph := &Graph{
		nodes:    make([]node, len(keys)),
		outgoing: make([][]int, len(keys)),
		indegree: make([]int, len(keys)),
	}
	for i, key := range keys {
		hosts := make([]string, 0, len(hostSets[key]))
		for host := range hostSets[key] {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		graph.nodes[i] = node{roleCommand: key, hosts: hosts}
	}

	if oracle == nil {
		return graph, nil
	}
	for i := 0; i < len(graph.nodes); i++ {
		for j := i + 1; j < len(graph.nodes); j++ {
			switch oracle.Order(graph.nodes[i].roleCommand, graph.nodes[j].roleCommand) {
			case -1:
				graph.addEdge(i, j)
			case 1:
				graph.addEdge(j, i)
			}
		}
	}
	return graph, nil
}

func (g *Graph) addEdge(from, to int) {
	g.outgoing[from] = append(g.outgoing[from], to)
	g.indegree[to]++
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Edges returns the edge count.
func (g *Graph) Edges() int {
	count := 0
	for _, targets := range g.outgoing {
		count += len(targets)
	}
	return count
}

// PlannedTask is one task of a planned stage.
type PlannedTask struct {
	Host    string             `json:"host"`
	Role    string             `json:"role"`
	Command schema.RoleCommand `json:"command"`
}

// PlannedStage is one parallel batch of a plan.
type PlannedStage struct {
	Index int           `json:"index"`
	Tasks []PlannedTask `json:"tasks"`
}

// Stages consumes the graph and returns its stages in execution order.
func (g *Graph) Stages() ([]PlannedStage, error) {
	if g.consumed {
		return nil, &PlanningError{Kind: ErrConsumed}
	}
	g.consumed = true

	removed := make([]bool, len(g.nodes))
	remaining := len(g.nodes)
	var stages []PlannedStage

	for remaining > 0 {
		var ready []int
		for i := range g.nodes {
			if !removed[i] && g.indegree[i] == 0 {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			stuck := make([]string, 0, remaining)
			for i := range g.nodes {
				if !removed[i] {
					stuck = append(stuck, g.nodes[i].roleCommand.String())
				}
			}
			return nil, &PlanningError{
				Kind:  ErrCycle,
				Msg:   "no role command is ready but the graph is not empty",
				Nodes: stuck,
			}
		}

		stage := PlannedStage{Index: len(stages)}
		for _, index := range ready {
			current := g.nodes[index]
			for _, host := range current.hosts {
				stage.Tasks = append(stage.Tasks, PlannedTask{
					Host:    host,
					Role:    current.roleCommand.Role,
					Command: current.roleCommand.Command,
				})
			}
		}
		stages = append(stages, stage)

		// Mark the whole round removed before decrementing, so a node
		// made ready by this round waits for the next one.
		for _, index := range ready {
			removed[index] = true
			remaining--
		}
		for _, index := range ready {
			for _, successor := range g.outgoing[index] {
				g.indegree[successor]--
			}
		}
	}
	return stages, nil
}
