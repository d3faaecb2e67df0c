// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorCategory classifies command errors for the exit status.
type ErrorCategory string

const (
	// CategoryValidation: the invocation itself is wrong. Exit 2.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a named request or host does not exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryTransient: the controller could not be reached.
	CategoryTransient ErrorCategory = "transient"
)

// CommandError is a categorized error returned by command handlers.
type CommandError struct {
	Category ErrorCategory
	Err      error
}

func (e *CommandError) Error() string { return e.Err.Error() }

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode maps the category to a process exit status.
func (e *CommandError) ExitCode() int {
	if e.Category == CategoryValidation {
		return 2
	}
	return 1
}

// Validation reports bad input from the caller.
func Validation(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound reports a reference to something that does not exist.
func NotFound(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Transient reports a failure that may succeed on retry.
func Transient(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// ExitError ends the process with Code without printing anything
// further. The command has already written its output; a request that
// finished FAILED is one such case.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}
