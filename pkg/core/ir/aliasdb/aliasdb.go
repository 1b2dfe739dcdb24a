// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package aliasdb answers whether instructions of an ir.Graph can be reordered without
// changing the order of reads and writes to any storage their values may alias.
//
// Every Value is assigned a set of abstract memory locations it may point to:
//
//   - Graph inputs and the outputs of ordinary operations get a fresh location.
//   - Outputs of view-like and in-place operations (see ir.OpKind.AliasesFirstInput) share
//     the locations of their first input.
//   - Parameters of fusion groups share the locations of the matching group input, and group
//     outputs the locations of the matching block result.
//   - Parameters and outputs of other control-flow instructions conservatively point to
//     everything their owner's inputs point to, plus a fresh location.
//
// Locations are derived lazily from the graph, so values created by graph rewrites are
// covered as soon as they are queried. Rewrites that replace a value by a new one should
// still call CopyValueAliasing, so the new value keeps the exact aliasing of the old one.
//
// The order of instructions is always read from the graph itself: moves done with the
// methods of this package, or directly on the graph, are immediately reflected.
package aliasdb

import (
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/support/sets"
	"github.com/pkg/errors"
)

type location int

// AliasDB holds the aliasing information of the values of one graph.
type AliasDB struct {
	graph        *ir.Graph
	locations    map[*ir.Value]sets.Set[location]
	nextLocation location
}

// New analyzes all the values of the graph g.
func New(g *ir.Graph) *AliasDB {
	db := &AliasDB{
		graph:     g,
		locations: make(map[*ir.Value]sets.Set[location]),
	}
	for _, v := range g.Inputs() {
		db.locationsOf(v)
	}
	g.Block().Walk(func(n *ir.Instruction) {
		for _, nested := range n.Blocks() {
			for _, v := range nested.Params() {
				db.locationsOf(v)
			}
		}
		for _, v := range n.Outputs() {
			db.locationsOf(v)
		}
	})
	return db
}

// Graph analyzed by the database.
func (db *AliasDB) Graph() *ir.Graph { return db.graph }

func (db *AliasDB) freshLocation() location {
	db.nextLocation++
	return db.nextLocation
}

// locationsOf returns the memory locations v may point to. The returned set must not be modified.
func (db *AliasDB) locationsOf(v *ir.Value) sets.Set[location] {
	if locs, found := db.locations[v]; found {
		return locs
	}
	producer := v.Producer()
	if producer == nil {
		panic(errors.Errorf("aliasdb: value %s has no producer", v))
	}
	locs := sets.MakeWith(db.freshLocation())
	// Registered before recursing, so malformed (cyclic) graphs don't recurse forever.
	db.locations[v] = locs

	switch {
	case producer.Kind() == ir.OpParam:
		owner := producer.Owner().Owner()
		switch {
		case owner == nil:
			// Graph input.
		case owner.Kind() == ir.OpFusionGroup && v.Offset() < owner.NumInputs():
			locs = db.locationsOf(owner.Input(v.Offset())).Clone()
		default:
			for _, input := range owner.Inputs() {
				locs.Merge(db.locationsOf(input))
			}
		}

	case producer.Kind() == ir.OpFusionGroup:
		body := producer.Block(0)
		if v.Offset() < len(body.Results()) {
			locs = db.locationsOf(body.ResultAt(v.Offset())).Clone()
		}

	case producer.NumBlocks() > 0:
		for _, input := range producer.Inputs() {
			locs.Merge(db.locationsOf(input))
		}
		for _, block := range producer.Blocks() {
			if v.Offset() < len(block.Results()) {
				locs.Merge(db.locationsOf(block.ResultAt(v.Offset())))
			}
		}

	case v.Offset() == 0 && producer.Kind().AliasesFirstInput() && producer.NumInputs() > 0:
		locs = db.locationsOf(producer.Input(0)).Clone()
	}
	db.locations[v] = locs
	return locs
}

// CopyValueAliasing makes to point to the same locations as from.
func (db *AliasDB) CopyValueAliasing(from, to *ir.Value) {
	db.locations[to] = db.locationsOf(from).Clone()
}

// Writes returns the locations written by n, including the writes of instructions nested in its blocks.
func (db *AliasDB) Writes(n *ir.Instruction) sets.Set[location] {
	writes := sets.Make[location]()
	db.collectWrites(n, writes)
	return writes
}

func (db *AliasDB) collectWrites(n *ir.Instruction, writes sets.Set[location]) {
	for _, idx := range n.Kind().MutatedInputs() {
		if idx < n.NumInputs() {
			writes.Merge(db.locationsOf(n.Input(idx)))
		}
	}
	for _, block := range n.Blocks() {
		for inner := block.First(); inner != block.Return(); inner = inner.Next() {
			db.collectWrites(inner, writes)
		}
	}
}

// Reads returns the locations read by n, including the reads of instructions nested in its blocks.
func (db *AliasDB) Reads(n *ir.Instruction) sets.Set[location] {
	reads := sets.Make[location]()
	db.collectReads(n, reads)
	return reads
}

func (db *AliasDB) collectReads(n *ir.Instruction, reads sets.Set[location]) {
	for _, input := range n.Inputs() {
		reads.Merge(db.locationsOf(input))
	}
	for _, block := range n.Blocks() {
		for inner := block.First(); inner != block.Return(); inner = inner.Next() {
			db.collectReads(inner, reads)
		}
	}
}

// HasWriters returns whether any instruction of the graph may write to the storage of one of
// n's inputs or outputs.
func (db *AliasDB) HasWriters(n *ir.Instruction) bool {
	return db.HasWritersFunc()(n)
}

// HasWritersFunc returns a version of HasWriters that collects the written locations of the
// graph only once. It is valid while no instruction that writes to memory is added.
func (db *AliasDB) HasWritersFunc() func(n *ir.Instruction) bool {
	written := db.writtenLocations()
	return func(n *ir.Instruction) bool {
		if len(written) == 0 {
			return false
		}
		for _, v := range n.Inputs() {
			if db.locationsOf(v).Intersects(written) {
				return true
			}
		}
		for _, v := range n.Outputs() {
			if db.locationsOf(v).Intersects(written) {
				return true
			}
		}
		return false
	}
}

// writtenLocations returns every location written by some instruction of the graph.
func (db *AliasDB) writtenLocations() sets.Set[location] {
	written := sets.Make[location]()
	db.graph.Block().Walk(func(n *ir.Instruction) {
		for _, idx := range n.Kind().MutatedInputs() {
			if idx < n.NumInputs() {
				written.Merge(db.locationsOf(n.Input(idx)))
			}
		}
	})
	return written
}

// HasMutabilityDependency returns whether a and b access a common location and at least one
// of them writes to it.
func (db *AliasDB) HasMutabilityDependency(a, b *ir.Instruction) bool {
	writesA, writesB := db.Writes(a), db.Writes(b)
	if len(writesA) == 0 && len(writesB) == 0 {
		return false
	}
	return writesA.Intersects(writesB) ||
		writesA.Intersects(db.Reads(b)) ||
		writesB.Intersects(db.Reads(a))
}
