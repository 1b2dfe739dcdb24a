// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partitioner

// disjointSets of instruction IDs, with path compression.
type disjointSets map[uint64]uint64

func (ds disjointSets) add(id uint64) {
	if _, found := ds[id]; !found {
		ds[id] = id
	}
}

func (ds disjointSets) find(id uint64) uint64 {
	root := id
	for ds[root] != root {
		root = ds[root]
	}
	for id != root {
		id, ds[id] = ds[id], root
	}
	return root
}

// union joins the sets of a and b. The smaller root is kept, so results are deterministic.
func (ds disjointSets) union(a, b uint64) {
	rootA, rootB := ds.find(a), ds.find(b)
	if rootA == rootB {
		return
	}
	if rootB < rootA {
		rootA, rootB = rootB, rootA
	}
	ds[rootB] = rootA
}
