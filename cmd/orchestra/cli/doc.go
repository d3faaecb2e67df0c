// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind the orchestra CLI.
//
// [Command] is a node in the command tree: a name, a lazily built
// pflag set, optional subcommands, and a Run function. [Command.Execute]
// routes arguments down the tree, parses flags, and prints help. An
// unknown subcommand or flag gets a "did you mean" suggestion from the
// closest known name by edit distance.
//
// Errors returned from Run may implement ExitCode() int; main uses it
// as the process exit status. [CommandError] carries a category for
// bad input, missing resources, and unreachable controllers.
// [ExitError] exits quietly after the command printed its own result.
//
// [ControllerConnection] binds the flags every controller command
// shares and performs calls on the controller socket.
package cli
