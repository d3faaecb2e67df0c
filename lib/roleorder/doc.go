// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roleorder decides the relative order of two role commands.
//
// An [Oracle] answers Order(a, b) with -1 (a must run before b), 1 (b
// must run before a), or 0 (no constraint). Oracles are opaque to the
// planner in lib/rolegraph, which asks once per pair of distinct
// nodes.
//
// Oracle implementations are chosen by name from a compile-time
// registry ([Register], [New]). Two are built in:
//
//   - "none": every pair is unordered, so a plan is a single stage.
//   - "dependencies": ordering comes from a dependency table mapping a
//     blocked role command to the role commands that must finish first.
//
// # Dependency tables
//
// Tables are read by [LoadFile] from JSON (comments and "_comment"
// keys allowed), YAML, or HCL. Each file holds named sections; the
// caller picks which sections apply and they are merged in order.
// JSON and YAML use the record format
//
//	"BLOCKED_ROLE-COMMAND": ["BLOCKER_ROLE-COMMAND", ...]
//
// and HCL uses blocks:
//
//	section "general_deps" {
//	  order "DATANODE-START" {
//	    after = ["NAMENODE-START"]
//	  }
//	}
//
// The dependencies oracle closes the table transitively when it is
// constructed, so two role commands are ordered even if the role
// command linking them is absent from a particular planning pass. A
// table whose closure contains a cycle is rejected with
// [ErrCyclicDependencies].
package roleorder
