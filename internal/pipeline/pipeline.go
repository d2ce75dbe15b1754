// Package pipeline orchestrates a resolved intent end to end: deterministic
// report compilation or LLM SQL synthesis, execution, and narration. The
// narrative step always runs once a result exists, including for empty
// results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/asklens/asklens/internal/catalog"
	"github.com/asklens/asklens/internal/compiler"
	"github.com/asklens/asklens/internal/executor"
	"github.com/asklens/asklens/internal/narrative"
	"github.com/asklens/asklens/internal/sqlgen"
	"github.com/asklens/asklens/pkg/models"
)

// ErrMissingDefinition is returned when a report intent arrives without a
// report definition.
var ErrMissingDefinition = errors.New("report intent requires a report definition")

// Pipeline wires the catalog, executor, and both generators.
type Pipeline struct {
	catalog   catalog.Store
	executor  executor.Executor
	generator *sqlgen.Generator
	narrator  *narrative.Generator
}

// New builds a Pipeline.
func New(store catalog.Store, exec executor.Executor, gen *sqlgen.Generator, narr *narrative.Generator) *Pipeline {
	return &Pipeline{catalog: store, executor: exec, generator: gen, narrator: narr}
}

// Ask answers one question for one tenant. Report intents compile
// deterministically; freeform intents go through SQL synthesis with its
// correction loop. Either way the result is narrated before returning.
func (p *Pipeline) Ask(ctx context.Context, tenantID string, intent models.ResolvedIntent) (*models.AskResponse, error) {
	resp := &models.AskResponse{RequestID: uuid.NewString()}

	var query *models.CompiledQuery
	var result *models.QueryResult

	switch intent.Mode {
	case models.IntentModeReport:
		q, err := p.CompileReport(ctx, tenantID, intent.Dataset, intent.Definition)
		if err != nil {
			return nil, err
		}
		r, err := p.executor.Execute(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("execute report: %w", err)
		}
		query, result = q, r

	case models.IntentModeFreeform:
		schema, err := sqlgen.SchemaText(ctx, p.catalog)
		if err != nil {
			return nil, fmt.Errorf("render schema: %w", err)
		}
		out, err := p.generator.Run(ctx, sqlgen.Request{
			TenantID: tenantID,
			Message:  intent.Message,
			History:  intent.History,
			Schema:   schema,
		}, p.executor.Execute)
		resp.Usage = out.Usage
		resp.Attempts = out.Attempts
		if err != nil {
			log.Warn().
				Str("tenant_id", tenantID).
				Int("attempts", out.Attempts).
				Int64("tokens", out.Usage.TotalTokens).
				Err(err).
				Msg("sql synthesis failed")
			return nil, err
		}
		query, result = out.Query, out.Result

	default:
		return nil, fmt.Errorf("unknown intent mode: %q", intent.Mode)
	}

	sections, nresp, err := p.narrator.Narrate(ctx, narrative.Request{
		TenantID: tenantID,
		Message:  intent.Message,
		History:  intent.History,
		SQL:      query.SQL,
		Result:   result,
	})
	resp.Usage.Add(nresp)
	if err != nil {
		return nil, fmt.Errorf("narrate result: %w", err)
	}

	resp.Query = query
	resp.Result = result
	resp.Narrative = sections
	return resp, nil
}

// CompileReport compiles a report definition without executing it. Exposed
// for the compile-only API endpoint and used by Ask's report path.
func (p *Pipeline) CompileReport(ctx context.Context, tenantID, dataset string, def *models.ReportDefinition) (*models.CompiledQuery, error) {
	if def == nil {
		return nil, ErrMissingDefinition
	}
	cat, err := p.loadCatalog(ctx, dataset, def)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(tenantID, dataset, def, cat)
}

// loadCatalog builds the per-compile catalog slice. Dataset-qualified column
// references pull sibling datasets into the same slice.
func (p *Pipeline) loadCatalog(ctx context.Context, primary string, def *models.ReportDefinition) (compiler.Catalog, error) {
	var infos []models.DatasetInfo
	var entries []models.FieldCatalogEntry
	for _, name := range referencedDatasets(primary, def) {
		info, err := p.catalog.GetDataset(ctx, name)
		if err != nil {
			return compiler.Catalog{}, err
		}
		fields, err := p.catalog.ListFields(ctx, name)
		if err != nil {
			return compiler.Catalog{}, err
		}
		infos = append(infos, *info)
		entries = append(entries, fields...)
	}
	return compiler.NewCatalog(infos, entries), nil
}

// referencedDatasets collects the primary dataset plus every dataset named by
// a qualified "dataset:field_key" reference, in first-seen order.
func referencedDatasets(primary string, def *models.ReportDefinition) []string {
	seen := map[string]bool{primary: true}
	names := []string{primary}

	add := func(key string) {
		if idx := strings.IndexByte(key, ':'); idx > 0 {
			if ds := key[:idx]; !seen[ds] {
				seen[ds] = true
				names = append(names, ds)
			}
		}
	}
	for _, key := range def.Columns {
		add(key)
	}
	for _, f := range def.Filters {
		add(f.FieldKey)
	}
	for _, key := range def.GroupBy {
		add(key)
	}
	for _, s := range def.SortBy {
		add(s.FieldKey)
	}
	return names
}
