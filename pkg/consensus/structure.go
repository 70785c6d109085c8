/*
Copyright 2026 KMFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package consensus

import "sort"

// followEdge is one directly-follows edge at the canonical-entity
// level, weighted by how many PRECEDES assertions support it relative
// to the source's total outgoing mentions (spec §4.4 step 6).
type followEdge struct {
	from, to string
	weight   float64
}

// structure is the directly-follows graph discovered for one
// engagement, pruned to dependency_threshold and split-classified.
type structure struct {
	precedes map[string][]string // canonical name -> surviving successors
	parallel map[string][]string // AND-split: concurrent successors
	xor      map[string][]string // XOR-split: mutually exclusive successors
	loopBack map[string][]string // successors that close a cycle, kept rather than dropped
}

// discoverStructure builds the directly-follows graph over
// counts (canonical source -> canonical target -> raw mention count),
// pruning edges whose normalized weight falls below threshold, then
// classifying each surviving multi-successor fan-out as AND-split
// (default) or XOR-split when exclusivePairs marks the two successors
// as mutually exclusive (a genuine_disagreement sequence conflict
// between them, spec §4.3/§4.4), and preserving any edge that closes a
// cycle back to an ancestor still on the current DFS path as a loop
// back-edge instead of dropping it.
func discoverStructure(counts map[string]map[string]int, threshold float64, exclusivePairs map[[2]string]bool) *structure {
	s := &structure{
		precedes: map[string][]string{},
		parallel: map[string][]string{},
		xor:      map[string][]string{},
		loopBack: map[string][]string{},
	}

	weighted := make(map[string][]followEdge, len(counts))
	for from, targets := range counts {
		total := 0
		for _, c := range targets {
			total += c
		}
		if total == 0 {
			continue
		}
		var edges []followEdge
		for to, c := range targets {
			w := float64(c) / float64(total)
			if w < threshold {
				continue
			}
			edges = append(edges, followEdge{from: from, to: to, weight: w})
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].weight != edges[j].weight {
				return edges[i].weight > edges[j].weight
			}
			return edges[i].to < edges[j].to
		})
		weighted[from] = edges
	}

	onStack := map[string]bool{}
	visited := map[string]bool{}

	var visit func(node string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		visited[node] = true
		onStack[node] = true
		for _, e := range weighted[node] {
			if onStack[e.to] {
				s.loopBack[node] = append(s.loopBack[node], e.to)
				continue
			}
			s.precedes[node] = append(s.precedes[node], e.to)
			visit(e.to)
		}
		onStack[node] = false
	}

	// Deterministic root ordering so structure discovery is stable
	// across runs over the same input (spec §4.4 step 9 "stable
	// ordering").
	roots := make([]string, 0, len(weighted))
	for from := range weighted {
		roots = append(roots, from)
	}
	sort.Strings(roots)
	for _, root := range roots {
		visit(root)
	}

	for node, successors := range s.precedes {
		if len(successors) < 2 {
			continue
		}
		for i := 0; i < len(successors); i++ {
			for j := i + 1; j < len(successors); j++ {
				a, b := successors[i], successors[j]
				if exclusivePairs[pairOf(a, b)] {
					s.xor[node] = append(s.xor[node], a, b)
				} else {
					s.parallel[node] = append(s.parallel[node], a, b)
				}
			}
		}
	}
	return s
}

func pairOf(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
