// Package retrieval implements the hybrid dense+sparse retrieval
// engine: RetrieveKnowledge, RetrieveColumn, and RetrieveCell, each
// querying the graph store's vector and full-text indexes and fusing
// the results with Reciprocal Rank Fusion.
//
// The VectorAdapter shape (dense top-k against a scoped index,
// climbed back to an owning entity) and the branch/fuse/climb
// structure generalize from marketing-chunk retrieval to graph-node
// retrieval scoped by db_code.
package retrieval

import "sort"

// RankFrom orders keys by descending score, breaking ties by key
// ascending so the ranking (and therefore the fused result) is
// deterministic across runs with identical input scores.
func RankFrom(scores map[string]float64) []string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := scores[keys[i]], scores[keys[j]]
		if si != sj {
			return si > sj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Fuse implements Reciprocal Rank Fusion: rrf(n) = Σ_branch 1/(k +
// rank_branch(n)), where rank is the 0-indexed position of n within
// each already-ranked branch; a key absent from a branch contributes 0
// for that branch.
func Fuse(k int, branches ...[]string) map[string]float64 {
	fused := make(map[string]float64)
	for _, branch := range branches {
		for rank, key := range branch {
			fused[key] += 1.0 / float64(k+rank)
		}
	}
	return fused
}

// TopN returns the first n keys of a ranked slice, or the whole slice
// if it has fewer than n elements.
func TopN(ranked []string, n int) []string {
	if n < 0 || n > len(ranked) {
		return ranked
	}
	return ranked[:n]
}
