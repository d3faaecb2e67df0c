// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Orchestra
// components.
//
// Configuration is loaded from a single file specified by either the
// ORCHESTRA_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search, so the configuration a daemon runs with is always the file
// an operator named.
//
// The file supports environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter: the
// controller requires hosts to be verified explicitly rather than
// verifying them on registration.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${ORCHESTRA_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Controller, Agent, RoleOrder, Roles
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Orchestra packages.
package config
