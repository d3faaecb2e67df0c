// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roleorder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// commandRank orders different commands applied to the same role when
// the dependency table says nothing about the pair: a role is stopped
// before it is removed or reinstalled, installed before it is started,
// and started before its status is checked.
var commandRank = map[schema.RoleCommand]int{
	schema.CommandStop:      0,
	schema.CommandUninstall: 1,
	schema.CommandInstall:   2,
	schema.CommandStart:     3,
	schema.CommandStatus:    4,
}

// DependencyOracle orders role commands by a transitively closed
// dependency table.
type DependencyOracle struct {
	// blockers[x] holds every role command that must finish before x.
	blockers map[RoleCommand]map[RoleCommand]struct{}
}

// NewDependencyOracle closes definitions transitively and rejects
// cycles.
func NewDependencyOracle(definitions Definitions) (*DependencyOracle, error) {
	direct := make(map[RoleCommand]map[RoleCommand]struct{}, len(definitions.Dependencies))
	for blocked, blockers := range definitions.Dependencies {
		set := direct[blocked]
		if set == nil {
			set = make(map[RoleCommand]struct{}, len(blockers))
			direct[blocked] = set
		}
		for _, blocker := range blockers {
			set[blocker] = struct{}{}
		}
	}

	closed := make(map[RoleCommand]map[RoleCommand]struct{}, len(direct))
	for blocked := range direct {
		reachable := make(map[RoleCommand]struct{})
		stack := make([]RoleCommand, 0, len(direct[blocked]))
		for blocker := range direct[blocked] {
			stack = append(stack, blocker)
		}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, seen := reachable[current]; seen {
				continue
			}
			reachable[current] = struct{}{}
			for next := range direct[current] {
				stack = append(stack, next)
			}
		}
		if _, cyclic := reachable[blocked]; cyclic {
			return nil, fmt.Errorf("%w: %s depends on itself (via %s)",
				ErrCyclicDependencies, blocked, describe(reachable))
		}
		closed[blocked] = reachable
	}

	return &DependencyOracle{blockers: closed}, nil
}

// Order implements Oracle.
func (o *DependencyOracle) Order(a, b RoleCommand) int {
	if _, ok := o.blockers[a][b]; ok {
		return 1
	}
	if _, ok := o.blockers[b][a]; ok {
		return -1
	}
	if a.Role == b.Role && a.Command != b.Command {
		rankA, okA := commandRank[a.Command]
		rankB, okB := commandRank[b.Command]
		if okA && okB {
			if rankA < rankB {
				return -1
			}
			return 1
		}
	}
	return 0
}

func describe(set map[RoleCommand]struct{}) string {
	names := make([]string, 0, len(set))
	for rc := range set {
		names = append(names, rc.String())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
