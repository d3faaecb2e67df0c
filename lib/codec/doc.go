// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used by Orchestra.
//
// Socket requests and responses between the controller, agents, and
// the CLI are CBOR values, and the store keeps host inventory as CBOR
// blobs. Every encoder uses Core Deterministic Encoding (RFC 8949
// §4.2) so the same value always produces the same bytes. Decoders
// ignore unknown fields so older agents keep working against a newer
// controller.
//
// Types that only travel between Orchestra processes use `cbor` struct
// tags. Types that are also written as YAML or JSON by the CLI use
// `json` tags, which fxamacker/cbor falls back to.
package codec
