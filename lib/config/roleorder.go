// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/bureau-foundation/orchestra/lib/roleorder"
)

// Build loads the dependency table, if any, and constructs the named
// oracle from it.
func (r RoleOrderConfig) Build() (roleorder.Oracle, error) {
	var definitions roleorder.Definitions
	if r.File != "" {
		loaded, err := roleorder.LoadFile(r.File, r.Sections)
		if err != nil {
			return nil, err
		}
		definitions = loaded
	}
	oracle, err := roleorder.New(r.Oracle, definitions)
	if err != nil {
		return nil, fmt.Errorf("role_order: %w", err)
	}
	return oracle, nil
}
