package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse_RRFDeterminismScenario(t *testing.T) {
	// V=[A,B,C], F=[B,D], k=60 ->
	// A=1/60, B=1/61+1/60, C=1/62, D=1/61; final order B,A,D,C.
	v := []string{"A", "B", "C"}
	f := []string{"B", "D"}

	fused := Fuse(60, v, f)

	assert.InDelta(t, 1.0/60.0, fused["A"], 1e-9)
	assert.InDelta(t, 1.0/61.0+1.0/60.0, fused["B"], 1e-9)
	assert.InDelta(t, 1.0/62.0, fused["C"], 1e-9)
	assert.InDelta(t, 1.0/61.0, fused["D"], 1e-9)

	ranked := RankFrom(fused)
	assert.Equal(t, []string{"B", "A", "D", "C"}, ranked)
}

func TestFuse_AbsentFromBranchContributesZero(t *testing.T) {
	fused := Fuse(60, []string{"A"}, nil)
	assert.InDelta(t, 1.0/60.0, fused["A"], 1e-9)
	_, ok := fused["B"]
	assert.False(t, ok)
}

func TestRankFrom_TieBreaksByKeyAscending(t *testing.T) {
	scores := map[string]float64{"z": 1.0, "a": 1.0, "m": 2.0}
	assert.Equal(t, []string{"m", "a", "z"}, RankFrom(scores))
}

func TestTopN(t *testing.T) {
	ranked := []string{"a", "b", "c"}
	assert.Equal(t, []string{"a", "b"}, TopN(ranked, 2))
	assert.Equal(t, []string{"a", "b", "c"}, TopN(ranked, 10))
}
