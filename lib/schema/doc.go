// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the vocabulary shared by every Orchestra
// component: task status values and the status/display-status split,
// role commands, host inventory and lifecycle state, the command and
// result shapes exchanged with agents, and the persisted request,
// stage, and task records.
//
// Types carry `json` tags. The CBOR codec falls back to them, the CLI
// prints them as JSON or YAML, and the store encodes inventory with
// them, so one set of field names is used on every surface.
package schema
