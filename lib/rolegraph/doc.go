// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rolegraph turns an unordered set of (host, role, command)
// assignments into an ordered list of stages.
//
// [Build] creates one node per distinct role command, collecting every
// host that needs it, then asks the ordering oracle about each pair of
// distinct nodes exactly once and records an edge from the earlier
// node to the later one. [Graph.Stages] consumes the graph: each round
// takes every node whose in-degree is zero, emits one stage holding a
// task per (node, host), removes those nodes, and decrements their
// successors. Nodes extracted in the same round run in parallel.
//
// Nodes live in an index-addressed slice with adjacency lists of
// indices, so consumption touches only integer counters. A graph is
// single-use and not safe for concurrent mutation; independent
// planning passes build independent graphs.
//
// If the oracle's pairwise answers form a cycle, a round finds no
// ready node while nodes remain. Stages returns a [*PlanningError]
// wrapping [ErrCycle] naming the stuck nodes rather than spinning.
package rolegraph
