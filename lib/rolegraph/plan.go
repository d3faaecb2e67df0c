// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rolegraph

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/orchestra/lib/roleorder"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Digest is a BLAKE3 digest identifying a plan's stage contents.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// planDomainKey separates plan digests from any other BLAKE3 use.
var planDomainKey = [32]byte{
	'o', 'r', 'c', 'h', 'e', 's', 't', 'r', 'a', '.', 'p', 'l', 'a', 'n',
}

// Plan is the ordered stage list for one set of assignments.
type Plan struct {
	Stages []PlannedStage `json:"stages"`
	Digest Digest         `json:"-"`
}

// NewPlan builds a graph for commands and consumes it into stages.
func NewPlan(oracle roleorder.Oracle, commands []schema.HostRoleCommand) (*Plan, error) {
	graph, err := Build(oracle, commands)
	if err != nil {
		return nil, err
	}
	stages, err := graph.Stages()
	if err != nil {
		return nil, err
	}
	return &Plan{Stages: stages, Digest: digestStages(stages)}, nil
}

// TaskCount returns the number of tasks across all stages.
func (p *Plan) TaskCount() int {
	count := 0
	for _, stage := range p.Stages {
		count += len(stage.Tasks)
	}
	return count
}

// digestStages hashes stage boundaries and task fields in plan order.
// Strings are length-prefixed so field boundaries cannot shift.
func digestStages(stages []PlannedStage) Digest {
	hasher, err := blake3.NewKeyed(planDomainKey[:])
	if err != nil {
		panic("rolegraph: BLAKE3 keyed hasher: " + err.Error())
	}

	var scratch [8]byte
	writeString := func(value string) {
		binary.BigEndian.PutUint64(scratch[:], uint64(len(value)))
		hasher.Write(scratch[:])
		hasher.Write([]byte(value))
	}

	for _, stage := range stages {
		binary.BigEndian.PutUint64(scratch[:], uint64(len(stage.Tasks)))
		hasher.Write(scratch[:])
		for _, task := range stage.Tasks {
			writeString(task.Host)
			writeString(task.Role)
			writeString(string(task.Command))
		}
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}
