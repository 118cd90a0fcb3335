package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

func TestCloseRelKnFixpoint_MultiHop(t *testing.T) {
	candidates := map[string]graphstore.Knowledge{
		"K1": {KnCode: "K1"},
		"K2": {KnCode: "K2", RelKn: []string{"K1"}},
		"K3": {KnCode: "K3", RelKn: []string{"K2"}},
	}
	knMap := map[string]graphstore.Knowledge{"K3": candidates["K3"]}

	closeRelKnFixpoint(knMap, candidates)

	assert.Contains(t, knMap, "K1")
	assert.Contains(t, knMap, "K2")
	assert.Contains(t, knMap, "K3")
}

func TestCloseRelKnFixpoint_IgnoresUnknownTarget(t *testing.T) {
	candidates := map[string]graphstore.Knowledge{
		"K1": {KnCode: "K1", RelKn: []string{"K99"}},
	}
	knMap := map[string]graphstore.Knowledge{"K1": candidates["K1"]}

	closeRelKnFixpoint(knMap, candidates)

	assert.Len(t, knMap, 1)
}

func TestPruneColMap_RespectsCaps(t *testing.T) {
	colMap := make(map[string]map[string]pipeline.ColumnView)
	score := 0.0
	for t := 0; t < 4; t++ {
		tb := "tb" + string(rune('A'+t))
		cols := make(map[string]pipeline.ColumnView)
		for c := 0; c < 5; c++ {
			score += 1
			colName := "col" + string(rune('a'+c))
			cols[colName] = pipeline.ColumnView{Score: score}
		}
		colMap[tb] = cols
	}

	pruned := pruneColMap(colMap, 2, 3)

	assert.LessOrEqual(t, len(pruned), 2)
	for tb, cols := range pruned {
		assert.LessOrEqual(t, len(cols), 3, "table %s has too many columns", tb)
	}
}

func TestPruneColMap_KeepsHighestSumTables(t *testing.T) {
	colMap := map[string]map[string]pipeline.ColumnView{
		"low":  {"a": {Score: 1}},
		"high": {"a": {Score: 100}},
		"mid":  {"a": {Score: 10}},
	}

	pruned := pruneColMap(colMap, 2, 10)

	require.Len(t, pruned, 2)
	assert.Contains(t, pruned, "high")
	assert.Contains(t, pruned, "mid")
	assert.NotContains(t, pruned, "low")
}

func TestUnionDedup(t *testing.T) {
	out := unionDedup([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestSplitRelCol(t *testing.T) {
	tb, col, ok := splitRelCol("orders.status")
	require.True(t, ok)
	assert.Equal(t, "orders", tb)
	assert.Equal(t, "status", col)

	_, _, ok = splitRelCol("malformed")
	assert.False(t, ok)
}

func TestMergeColumnViews_UnionsCellsAndMaxScore(t *testing.T) {
	colMap := map[string]map[string]pipeline.ColumnView{
		"tb1": {"col1": {Score: 5}},
	}
	cellMap := map[string]map[string]pipeline.ColumnView{
		"tb1": {"col1": {Cells: []string{"x", "y"}, Score: 9}},
		"tb2": {"col2": {Cells: []string{"z"}, Score: 3}},
	}

	merged := mergeColumnViews(colMap, cellMap)

	require.Contains(t, merged, "tb1")
	require.Contains(t, merged["tb1"], "col1")
	assert.Equal(t, 9.0, merged["tb1"]["col1"].Score)
	assert.Equal(t, []string{"x", "y"}, merged["tb1"]["col1"].Cells)
	assert.Contains(t, merged, "tb2")
}
