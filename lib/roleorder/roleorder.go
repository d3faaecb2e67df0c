// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roleorder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// RoleCommand is the key the oracle orders: a role plus the command
// applied to it.
type RoleCommand struct {
	Role    string
	Command schema.RoleCommand
}

// String renders the "ROLE-COMMAND" form used in dependency tables.
func (rc RoleCommand) String() string {
	return rc.Role + "-" + string(rc.Command)
}

// ParseRoleCommand parses "ROLE-COMMAND". Role names may contain
// hyphens, so the command is taken after the last one.
func ParseRoleCommand(value string) (RoleCommand, error) {
	separator := strings.LastIndex(value, "-")
	if separator <= 0 || separator == len(value)-1 {
		return RoleCommand{}, fmt.Errorf("role command %q: want ROLE-COMMAND", value)
	}
	command, err := schema.ParseRoleCommand(value[separator+1:])
	if err != nil {
		return RoleCommand{}, fmt.Errorf("role command %q: %w", value, err)
	}
	return RoleCommand{Role: value[:separator], Command: command}, nil
}

// Oracle decides the order of two role commands. Implementations must
// be safe for concurrent use: independent planning passes share one
// oracle.
type Oracle interface {
	// Order returns -1 if a must run before b, 1 if b must run before
	// a, and 0 if they may run in parallel.
	Order(a, b RoleCommand) int
}

// ErrCyclicDependencies is returned when a dependency table orders a
// role command after itself, directly or transitively.
var ErrCyclicDependencies = errors.New("cyclic role dependencies")

// ErrUnknownOracle is returned by New for an unregistered name.
var ErrUnknownOracle = errors.New("unknown ordering oracle")

// Definitions is a dependency table: each blocked role command maps to
// the role commands that must complete before it.
type Definitions struct {
	Dependencies map[RoleCommand][]RoleCommand
}

// Add records that blocked must wait for each of blockers.
func (d *Definitions) Add(blocked RoleCommand, blockers ...RoleCommand) {
	if d.Dependencies == nil {
		d.Dependencies = make(map[RoleCommand][]RoleCommand)
	}
	d.Dependencies[blocked] = append(d.Dependencies[blocked], blockers...)
}

// Merge adds every dependency of other to d.
func (d *Definitions) Merge(other Definitions) {
	for blocked, blockers := range other.Dependencies {
		d.Add(blocked, blockers...)
	}
}

// Len returns the number of blocked role commands in the table.
func (d Definitions) Len() int { return len(d.Dependencies) }

// Constructor builds an oracle from a dependency table. Constructors
// that ignore the table accept an empty one.
type Constructor func(Definitions) (Oracle, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes an oracle implementation available to New. Panics on
// a duplicate name; registration happens from init functions.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("roleorder: duplicate oracle %q", name))
	}
	registry[name] = constructor
}

// New constructs the oracle registered under name.
func New(name string, definitions Definitions) (Oracle, error) {
	registryMu.RLock()
	constructor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownOracle, name, strings.Join(Names(), ", "))
	}
	return constructor(definitions)
}

// Names lists the registered oracle names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("none", func(Definitions) (Oracle, error) { return Unordered{}, nil })
	Register("dependencies", func(definitions Definitions) (Oracle, error) {
		return NewDependencyOracle(definitions)
	})
}

// Unordered is the oracle that never orders anything.
type Unordered struct{}

func (Unordered) Order(RoleCommand, RoleCommand) int { return 0 }
