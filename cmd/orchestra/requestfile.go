// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// loadRequestFile reads a request description. ".json" files may carry
// comments; everything else, including "-" for stdin, is YAML (which
// also accepts plain JSON). Command names are accepted in any case.
func loadRequestFile(path string, stdin io.Reader) (schema.SubmitRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return schema.SubmitRequest{}, fmt.Errorf("reading request file: %w", err)
	}

	var request schema.SubmitRequest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(jsonc.ToJSON(data), &request)
	} else {
		err = yaml.Unmarshal(data, &request)
	}
	if err != nil {
		return schema.SubmitRequest{}, fmt.Errorf("parsing request file %s: %w", path, err)
	}

	if len(request.Commands) == 0 {
		return schema.SubmitRequest{}, fmt.Errorf("request file %s lists no commands", path)
	}
	for i, command := range request.Commands {
		parsed, err := schema.ParseRoleCommand(string(command.Command))
		if err != nil {
			return schema.SubmitRequest{}, fmt.Errorf("request file %s, command %d: %w", path, i, err)
		}
		request.Commands[i].Command = parsed
	}
	return request, nil
}
