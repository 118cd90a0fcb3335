package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/graphstore"
)

func TestIsNumericString(t *testing.T) {
	assert.True(t, isNumericString("123"))
	assert.True(t, isNumericString("4.56"))
	assert.True(t, isNumericString("-7.2"))
	assert.False(t, isNumericString("A"))
	assert.False(t, isNumericString(""))
	assert.False(t, isNumericString("12a"))
}

func TestMergeColumns_KeepsFilteredFewshot(t *testing.T) {
	// Numeric and blank values are dropped by SampleFewshot; mergeColumns
	// carries its already-filtered output ["A","B"] through unchanged.
	decl := config.TableDecl{TbCode: "tb1", TbName: "orders"}
	attrs := map[string]ColumnAttrs{"status": {ColType: "varchar"}}
	fewshot := map[string][]string{"status": {"A", "B"}} // SampleFewshot already filters numeric/blank

	cols := mergeColumns(decl, attrs, fewshot)
	col := cols["status"]
	assert.ElementsMatch(t, []string{"A", "B"}, col.Fewshot)
	assert.LessOrEqual(t, len(col.Fewshot), 5)
}

func TestMergeColumns_ConfigOverridesDiscoveredFK(t *testing.T) {
	decl := config.TableDecl{
		TbCode: "tb1",
		Column: map[string]config.ColumnOverride{
			"customer_id": {RelCol: "customers.id"},
		},
	}
	attrs := map[string]ColumnAttrs{"customer_id": {FKTarget: "cust.cust_id"}}

	cols := mergeColumns(decl, attrs, nil)
	assert.Equal(t, "customers.id", cols["customer_id"].RelCol)
}

func TestFlattenFieldMeaning_RecursiveLeaves(t *testing.T) {
	fm := map[string]interface{}{
		"status": map[string]interface{}{
			"0": "pending",
			"1": "shipped",
		},
		"notes": []interface{}{"a", "b"},
	}
	leaves := flattenFieldMeaning(fm)
	assert.ElementsMatch(t, []string{"pending", "shipped", "a", "b"}, leaves)
}

func TestSyncSetColumns_FiltersByTypeAndConfig(t *testing.T) {
	cols := map[string]graphstore.Column{
		"name":   {ColName: "name", ColType: "varchar"},
		"amount": {ColName: "amount", ColType: "decimal"},
		"notes":  {ColName: "notes", ColType: "text"},
	}
	decl := config.TableDecl{NoSyncCol: []string{"notes"}}

	set := syncSetColumns(decl, cols)
	_, hasName := set["name"]
	_, hasAmount := set["amount"]
	_, hasNotes := set["notes"]
	assert.True(t, hasName)
	assert.False(t, hasAmount, "numeric column must not be in sync set")
	assert.False(t, hasNotes, "no_sync_col excludes the column")
}

func TestSyncSetColumns_NilSyncColMeansAll(t *testing.T) {
	cols := map[string]graphstore.Column{
		"a": {ColName: "a", ColType: "varchar"},
		"b": {ColName: "b", ColType: "char(10)"},
	}
	set := syncSetColumns(config.TableDecl{}, cols)
	assert.Len(t, set, 2)
}

func TestResolveRelCol(t *testing.T) {
	m := map[string]string{"orders": "tb_orders"}
	tb, col, ok := resolveRelCol("orders.id", m)
	assert.True(t, ok)
	assert.Equal(t, "tb_orders", tb)
	assert.Equal(t, "id", col)
}

func TestDedupNonEmpty(t *testing.T) {
	out := dedupNonEmpty([]string{"a", "", "a", " ", "b"})
	assert.Equal(t, []string{"a", "b"}, out)
}
