// Package compiler turns a declarative report definition plus a field catalog
// into a tenant-safe, parameterized SQL query. Compilation is a pure
// function: no I/O, no clock, no globals. User input is only ever bound as
// positional parameters — the statement text is assembled exclusively from
// catalog-owned column expressions.
package compiler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asklens/asklens/pkg/models"
)

// MaxRangeDays is the widest date range a time-series report may request.
const MaxRangeDays = 365

// Catalog is the resolved, immutable catalog slice a single compile works
// against. Build one per request with NewCatalog.
type Catalog struct {
	datasets map[string]models.DatasetInfo
	fields   map[string]map[string]models.FieldCatalogEntry // dataset → fieldKey
}

// NewCatalog indexes dataset infos and field entries for compilation.
func NewCatalog(datasets []models.DatasetInfo, entries []models.FieldCatalogEntry) Catalog {
	c := Catalog{
		datasets: make(map[string]models.DatasetInfo, len(datasets)),
		fields:   make(map[string]map[string]models.FieldCatalogEntry),
	}
	for _, d := range datasets {
		c.datasets[d.Name] = d
	}
	for _, e := range entries {
		byKey, ok := c.fields[e.Dataset]
		if !ok {
			byKey = make(map[string]models.FieldCatalogEntry)
			c.fields[e.Dataset] = byKey
		}
		byKey[e.FieldKey] = e
	}
	return c
}

// Datasets returns the dataset names present in the catalog, sorted.
func (c Catalog) Datasets() []string {
	names := make([]string, 0, len(c.fields))
	for name := range c.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Catalog) lookup(dataset, fieldKey string) (models.FieldCatalogEntry, bool) {
	byKey, ok := c.fields[dataset]
	if !ok {
		return models.FieldCatalogEntry{}, false
	}
	e, ok := byKey[fieldKey]
	return e, ok
}

// column is a resolved report column.
type column struct {
	dataset    string
	fieldKey   string
	entry      models.FieldCatalogEntry
	aggregated bool
}

func (col column) alias() string {
	return col.dataset + ":" + col.fieldKey
}

func (col column) selectExpr() string {
	if !col.aggregated {
		return col.entry.ColumnExpression
	}
	return fmt.Sprintf("%s(%s)", col.entry.Aggregation, col.entry.ColumnExpression)
}

// Compile builds a parameterized query for one tenant. The emitted WHERE
// clause always starts with a tenant-scoping predicate bound to $1; user
// filters follow in definition order as $2…$n.
func Compile(tenantID, dataset string, def *models.ReportDefinition, cat Catalog) (*models.CompiledQuery, error) {
	cols, err := resolveColumns(dataset, def.Columns, cat)
	if err != nil {
		return nil, err
	}

	if err := checkDateRange(dataset, def.Filters, cat); err != nil {
		return nil, err
	}

	groupSet := make(map[string]bool, len(def.GroupBy))
	for _, key := range def.GroupBy {
		groupSet[key] = true
	}
	if len(def.GroupBy) > 0 {
		for _, col := range cols {
			if !col.aggregated && !groupSet[col.fieldKey] && !groupSet[col.alias()] {
				return nil, &UngroupedColumnError{FieldKey: col.fieldKey}
			}
		}
	}

	var sb strings.Builder
	params := []interface{}{tenantID}

	sb.WriteString("SELECT ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s AS %q", col.selectExpr(), col.alias())
	}

	table := tableRef(dataset, cols, cat)
	fmt.Fprintf(&sb, " FROM %s WHERE tenant_id = $1", table)

	for _, f := range def.Filters {
		ds, fieldKey := splitQualified(f.FieldKey, dataset)
		entry, ok := cat.lookup(ds, fieldKey)
		if !ok {
			return nil, &UnknownFieldError{FieldKey: f.FieldKey}
		}
		pred, value, err := translateFilter(entry, f, len(params)+1)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(pred)
		params = append(params, value)
	}

	if len(def.GroupBy) > 0 {
		exprs := make([]string, 0, len(def.GroupBy))
		for _, key := range def.GroupBy {
			ds, fieldKey := splitQualified(key, dataset)
			entry, ok := cat.lookup(ds, fieldKey)
			if !ok {
				return nil, &UnknownFieldError{FieldKey: key}
			}
			exprs = append(exprs, entry.ColumnExpression)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(exprs, ", "))
	}

	if len(def.SortBy) > 0 {
		selected := make(map[string]bool, len(cols))
		for _, col := range cols {
			selected[col.alias()] = true
		}
		sb.WriteString(" ORDER BY ")
		for i, s := range def.SortBy {
			ds, fieldKey := splitQualified(s.FieldKey, dataset)
			entry, ok := cat.lookup(ds, fieldKey)
			if !ok {
				return nil, &UnknownFieldError{FieldKey: s.FieldKey}
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			dir := "ASC"
			if strings.EqualFold(s.Direction, "desc") {
				dir = "DESC"
			}
			// Select-list aliases sort by alias; anything else sorts by its
			// column expression, since PostgreSQL rejects unselected aliases.
			if alias := ds + ":" + fieldKey; selected[alias] {
				fmt.Fprintf(&sb, "%q %s", alias, dir)
			} else {
				expr := entry.ColumnExpression
				if entry.Aggregation != "" && entry.Aggregation != models.AggregationNone {
					expr = fmt.Sprintf("%s(%s)", entry.Aggregation, expr)
				}
				fmt.Fprintf(&sb, "%s %s", expr, dir)
			}
		}
	}

	if def.Limit != nil {
		params = append(params, *def.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(params))
	}

	return &models.CompiledQuery{SQL: sb.String(), Params: params}, nil
}

// resolveColumns maps requested column keys (optionally dataset-qualified)
// to catalog entries across the union of referenced datasets.
func resolveColumns(defaultDataset string, keys []string, cat Catalog) ([]column, error) {
	if len(keys) == 0 {
		return nil, &UnknownFieldError{FieldKey: "(no columns requested)"}
	}
	cols := make([]column, 0, len(keys))
	for _, key := range keys {
		ds, fieldKey := splitQualified(key, defaultDataset)
		entry, ok := cat.lookup(ds, fieldKey)
		if !ok {
			return nil, &UnknownFieldError{FieldKey: key}
		}
		agg := entry.Aggregation != "" && entry.Aggregation != models.AggregationNone
		cols = append(cols, column{dataset: ds, fieldKey: fieldKey, entry: entry, aggregated: agg})
	}
	return cols, nil
}

// splitQualified splits "dataset:fieldKey" column references; bare keys
// belong to the report's primary dataset.
func splitQualified(key, defaultDataset string) (dataset, fieldKey string) {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return defaultDataset, key
}

// tableRef picks the physical relation. The primary dataset's table wins;
// qualified columns from sibling datasets are expected to resolve through
// catalog views that share it.
func tableRef(dataset string, cols []column, cat Catalog) string {
	if info, ok := cat.datasets[dataset]; ok && info.TableRef != "" {
		return info.TableRef
	}
	for _, col := range cols {
		if col.dataset == dataset && col.entry.TableRef != "" {
			return col.entry.TableRef
		}
	}
	return dataset
}

// translateFilter renders one predicate with its positional placeholder.
// The caller's value is bound verbatim — including any wildcard characters
// supplied for pattern matches.
func translateFilter(entry models.FieldCatalogEntry, f models.ReportFilter, position int) (string, interface{}, error) {
	expr := entry.ColumnExpression
	switch f.Op {
	case models.FilterOpEq:
		return fmt.Sprintf("%s = $%d", expr, position), f.Value, nil
	case models.FilterOpGte:
		return fmt.Sprintf("%s >= $%d", expr, position), f.Value, nil
	case models.FilterOpLte:
		return fmt.Sprintf("%s <= $%d", expr, position), f.Value, nil
	case models.FilterOpLike:
		return fmt.Sprintf("%s ILIKE $%d", expr, position), f.Value, nil
	case models.FilterOpIn:
		return fmt.Sprintf("%s = ANY($%d)", expr, position), f.Value, nil
	default:
		return "", nil, fmt.Errorf("unsupported filter op: %s", f.Op)
	}
}

// checkDateRange enforces the time-series guard: a bounded business-date
// range must be present and must not exceed MaxRangeDays.
func checkDateRange(dataset string, filters []models.ReportFilter, cat Catalog) error {
	info, ok := cat.datasets[dataset]
	if !ok || !info.IsTimeSeries {
		return nil
	}

	dateKey := info.DateFieldKey
	var lower, upper *time.Time
	for _, f := range filters {
		ds, fieldKey := splitQualified(f.FieldKey, dataset)
		if ds != dataset || fieldKey != dateKey {
			continue
		}
		t, ok := parseDate(f.Value)
		if !ok {
			continue
		}
		switch f.Op {
		case models.FilterOpGte:
			lower = &t
		case models.FilterOpLte:
			upper = &t
		}
	}

	if lower == nil || upper == nil {
		return &InvalidRangeError{Dataset: dataset}
	}
	days := int(upper.Sub(*lower).Hours() / 24)
	if days > MaxRangeDays {
		return &RangeTooWideError{Days: days, MaxDays: MaxRangeDays}
	}
	return nil
}

func parseDate(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
