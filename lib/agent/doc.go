// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent executes commands on a managed host.
//
// Two command shapes exist. Daemon commands run the host's init
// script with a single verb argument:
//
//	/etc/init.d/<name> start|stop|status
//
// Package commands run the package manager with auto-confirmation:
//
//	yum install -y <packages...>
//	yum erase -y <packages...>
//	yum info <packages...>
//
// A dry-run install downloads the packages into a scratch directory
// without installing them, then asks rpm for a test install of the
// downloaded files. The scratch directory is removed whether or not
// either step succeeded.
//
// [Dispatcher.Dispatch] never returns an error and never panics. A
// process that could not be started, an invalid command, or a panic
// in a runner all come back as a [schema.CommandResult] with exit code
// 1 and a diagnostic on stderr, so callers handle one result shape.
//
// [Executor] runs a batch of commands with bounded parallelism and
// turns results into task reports. Commands lacking the identifiers
// needed to report them are rejected with [ErrMissingCorrelation]
// before any process starts.
package agent
