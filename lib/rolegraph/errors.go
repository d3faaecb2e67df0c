// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rolegraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedInput: the assignment set is empty or an assignment
	// is missing its host, role, or command.
	ErrMalformedInput = errors.New("malformed stage input")

	// ErrCycle: the oracle's decisions leave nodes that can never
	// become ready.
	ErrCycle = errors.New("ordering cycle")

	// ErrConsumed: Stages was called twice on the same graph.
	ErrConsumed = errors.New("graph already consumed")
)

// PlanningError is a fatal failure of one planning pass.
type PlanningError struct {
	Kind error
	Msg  string

	// Nodes names the role commands involved, for cycle errors the
	// ones left unextracted.
	Nodes []string
}

func (e *PlanningError) Error() string {
	message := e.Kind.Error()
	if e.Msg != "" {
		message += ": " + e.Msg
	}
	if len(e.Nodes) > 0 {
		message += " [" + strings.Join(e.Nodes, ", ") + "]"
	}
	return message
}

func (e *PlanningError) Unwrap() error { return e.Kind }

func malformedf(format string, args ...any) error {
	return &PlanningError{Kind: ErrMalformedInput, Msg: fmt.Sprintf(format, args...)}
}
