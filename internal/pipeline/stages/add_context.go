package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/keyword"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// AddContext is the pipeline's entry stage: given a db_code and query
// already set on the incoming State by the caller,
// it tokenizes the query into keywords, stamps the current date, and
// loads the database's full table roster into tb_map/tb_caption so
// later stages (extend_column, extend_cell, filter_tb_col) have a
// summary of "what tables exist" before any retrieval has run.
func AddContext(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	if st.DBCode == "" || st.Query == "" {
		return pipeline.State{}, errs.New(errs.KindConfig, "add_context", fmt.Errorf("db_code and query are required"))
	}

	keywords, err := keyword.Extract(ctx, st.Query)
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "add_context_keywords", err)
	}

	tables, err := deps.Store.ListTables(ctx, st.DBCode)
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "add_context_list_tables", err)
	}

	tbMap := make(map[string]pipeline.TableInfo, len(tables))
	codes := make([]string, 0, len(tables))
	for code, t := range tables {
		tbMap[code] = pipeline.TableInfo{TbName: t.TbName, TbMeaning: t.TbMeaning}
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var caption strings.Builder
	for _, code := range codes {
		info := tbMap[code]
		caption.WriteString(fmt.Sprintf("%s (%s): %s\n", code, info.TbName, info.TbMeaning))
	}

	return pipeline.State{
		DBCode:      st.DBCode,
		Query:       st.Query,
		Keywords:    keywords,
		CurDateInfo: nowFunc().Format("2006-01-02"),
		TbMap:       tbMap,
		TbCaption:   caption.String(),
	}, nil
}
