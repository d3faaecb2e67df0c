// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Orchestra is the operator CLI for orchestra-controller.
//
//	orchestra plan start-hdfs.yaml
//	orchestra request submit --wait start-hdfs.yaml
//	orchestra request status <request-id>
//	orchestra request abort <request-id>
//	orchestra hosts list
//	orchestra hosts verify <hostname>...
//
// Request files are YAML, or JSON with comments when named *.json, in
// the shape of a submit request: a name, a list of {host, role,
// command} entries, and optional skippable, success_factors and
// dry_run. "-" reads the file from stdin.
//
// Controller commands locate the socket through --network and
// --address, falling back to the controller section of the file named
// by --config or $ORCHESTRA_CONFIG. Every listing accepts --json.
package main
