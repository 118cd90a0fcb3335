// Package xmlctx renders pipeline state into the XML context blocks
// the filter/extend stages pass to the LLM, grounded on
// data_query_scripts/util.py's tb_col_xml_str/kn_info_xml_str: plain
// string-building rather than encoding/xml, since the output is a
// prompt fragment, not a document meant to be parsed back.
package xmlctx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

func tag(name, val string) string {
	if strings.TrimSpace(val) == "" {
		return ""
	}
	return fmt.Sprintf("<%s>%s</%s>", name, val, name)
}

func tagStrings(name string, vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return tag(name, strings.Join(vals, ", "))
}

func tagJSON(name string, val interface{}) string {
	if val == nil {
		return ""
	}
	b, err := json.Marshal(val)
	if err != nil || string(b) == "null" || string(b) == "{}" {
		return ""
	}
	return tag(name, string(b))
}

// RenderTables builds the <tables> XML block for a set of tables and
// their columns, the context the table_filter and column_filter
// prompts consume.
func RenderTables(tbMap map[string]pipeline.TableInfo, colMap map[string]map[string]pipeline.ColumnView) string {
	tbCodes := make([]string, 0, len(colMap))
	for tb := range colMap {
		tbCodes = append(tbCodes, tb)
	}
	sort.Strings(tbCodes)

	var b strings.Builder
	b.WriteString("<tables>")
	for _, tbCode := range tbCodes {
		info := tbMap[tbCode]
		b.WriteString("\n\t<table>")
		b.WriteString(tag("table_code", tbCode))
		b.WriteString(tag("table_name", info.TbName))
		b.WriteString(tag("table_meaning", info.TbMeaning))
		b.WriteString("\n\t\t<columns>")
		b.WriteString(renderColumns(colMap[tbCode]))
		b.WriteString("\n\t\t</columns>")
		b.WriteString("\n\t</table>")
	}
	b.WriteString("\n</tables>")
	return b.String()
}

func renderColumns(cols map[string]pipeline.ColumnView) string {
	names := make([]string, 0, len(cols))
	for n := range cols {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		c := cols[name]
		b.WriteString("\n\t\t\t<column>")
		b.WriteString(tag("column_name", c.ColName))
		b.WriteString(tag("column_comment", c.ColComment))
		b.WriteString(tag("column_meaning", c.ColMeaning))
		b.WriteString(tagStrings("column_alias", c.ColAlias))
		b.WriteString(tagJSON("column_json_meaning", c.FieldMeaning))
		b.WriteString(tagStrings("fewshot", c.Fewshot))
		b.WriteString(tagStrings("cells", c.Cells))
		b.WriteString("</column>")
	}
	return b.String()
}

// RenderKnowledges builds the <knowledges> XML block the
// knowledge_filter prompt consumes, sorted by kn_code for determinism.
func RenderKnowledges(knMap map[string]graphstore.Knowledge) string {
	codes := make([]string, 0, len(knMap))
	for code := range knMap {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var b strings.Builder
	b.WriteString("<knowledges>")
	for _, code := range codes {
		k := knMap[code]
		b.WriteString("\n\t<knowledge>")
		b.WriteString(tag("kn_code", k.KnCode))
		b.WriteString(tag("kn_name", k.KnName))
		b.WriteString(tag("kn_def", k.KnDef))
		b.WriteString(tag("kn_desc", k.KnDesc))
		b.WriteString(tagStrings("rel_kn", k.RelKn))
		b.WriteString(tagStrings("kn_alias", k.KnAlias))
		b.WriteString("</knowledge>")
	}
	b.WriteString("\n</knowledges>")
	return b.String()
}
