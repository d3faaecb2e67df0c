// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roleorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultSections is the section every table is expected to carry.
var DefaultSections = []string{"general_deps"}

// LoadFile reads a dependency table and merges the named sections in
// order. The format is chosen by extension: .json, .yaml/.yml, .hcl.
// A requested section that is missing from the file is an error.
func LoadFile(path string, sections []string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("reading role order %s: %w", path, err)
	}

	var raw map[string]map[string][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raw, err = parseJSON(data)
	case ".yaml", ".yml":
		raw, err = parseYAML(data)
	case ".hcl":
		raw, err = parseHCL(path, data)
	default:
		return Definitions{}, fmt.Errorf("role order %s: unsupported format (want .json, .yaml, or .hcl)", path)
	}
	if err != nil {
		return Definitions{}, fmt.Errorf("parsing role order %s: %w", path, err)
	}

	if len(sections) == 0 {
		sections = DefaultSections
	}
	var definitions Definitions
	for _, section := range sections {
		records, ok := raw[section]
		if !ok {
			return Definitions{}, fmt.Errorf("role order %s: missing section %q", path, section)
		}
		parsed, err := parseRecords(records)
		if err != nil {
			return Definitions{}, fmt.Errorf("role order %s, section %q: %w", path, section, err)
		}
		definitions.Merge(parsed)
	}
	return definitions, nil
}

// parseRecords converts "ROLE-COMMAND" strings into a table. Keys are
// visited in sorted order so error messages are stable.
func parseRecords(records map[string][]string) (Definitions, error) {
	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var definitions Definitions
	for _, key := range keys {
		blocked, err := ParseRoleCommand(key)
		if err != nil {
			return Definitions{}, err
		}
		blockers := make([]RoleCommand, 0, len(records[key]))
		for _, value := range records[key] {
			blocker, err := ParseRoleCommand(value)
			if err != nil {
				return Definitions{}, fmt.Errorf("blocker of %s: %w", key, err)
			}
			blockers = append(blockers, blocker)
		}
		definitions.Add(blocked, blockers...)
	}
	return definitions, nil
}

// isComment reports whether a key is documentation rather than a
// record. Tables annotate themselves with "_comment" keys, which JSON
// allows to repeat.
func isComment(key string) bool { return strings.HasPrefix(key, "_") }

func parseJSON(data []byte) (map[string]map[string][]string, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &sections); err != nil {
		return nil, err
	}

	result := make(map[string]map[string][]string, len(sections))
	for name, body := range sections {
		if isComment(name) {
			continue
		}
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("section %q: %w", name, err)
		}
		records := make(map[string][]string, len(entries))
		for key, value := range entries {
			if isComment(key) {
				continue
			}
			var blockers []string
			if err := json.Unmarshal(value, &blockers); err != nil {
				return nil, fmt.Errorf("section %q, record %q: %w", name, key, err)
			}
			records[key] = blockers
		}
		result[name] = records
	}
	return result, nil
}

func parseYAML(data []byte) (map[string]map[string][]string, error) {
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, err
	}

	result := make(map[string]map[string][]string, len(sections))
	for name, node := range sections {
		if isComment(name) || node.Kind != yaml.MappingNode {
			continue
		}
		records := make(map[string][]string)
		// Mapping node content alternates key, value.
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if isComment(key) {
				continue
			}
			var blockers []string
			if err := node.Content[i+1].Decode(&blockers); err != nil {
				return nil, fmt.Errorf("section %q, record %q: %w", name, key, err)
			}
			records[key] = blockers
		}
		result[name] = records
	}
	return result, nil
}

type hclTable struct {
	Sections []hclSection `hcl:"section,block"`
}

type hclSection struct {
	Name   string     `hcl:"name,label"`
	Orders []hclOrder `hcl:"order,block"`
}

type hclOrder struct {
	Blocked string   `hcl:"blocked,label"`
	After   []string `hcl:"after"`
}

func parseHCL(path string, data []byte) (map[string]map[string][]string, error) {
	var table hclTable
	if err := hclsimple.Decode(filepath.Base(path), data, nil, &table); err != nil {
		return nil, err
	}

	result := make(map[string]map[string][]string, len(table.Sections))
	for _, section := range table.Sections {
		records := result[section.Name]
		if records == nil {
			records = make(map[string][]string)
			result[section.Name] = records
		}
		for _, order := range section.Orders {
			records[order.Blocked] = append(records[order.Blocked], order.After...)
		}
	}
	return result, nil
}
