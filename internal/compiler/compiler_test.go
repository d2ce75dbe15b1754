package compiler_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/asklens/asklens/internal/compiler"
	"github.com/asklens/asklens/pkg/models"
)

// golfCatalog builds the golf_revenue test catalog: a time-series dataset
// with two summed metrics and two plain dimensions.
func golfCatalog() compiler.Catalog {
	datasets := []models.DatasetInfo{
		{Name: "golf_revenue", TableRef: "fact_golf_revenue", IsTimeSeries: true, DateFieldKey: "business_date"},
		{Name: "golf_bookings", TableRef: "fact_golf_bookings", IsTimeSeries: false},
	}
	entries := []models.FieldCatalogEntry{
		{Dataset: "golf_revenue", FieldKey: "course_id", Label: "Course", DataType: models.DataTypeString, ColumnExpression: "course_id", TableRef: "fact_golf_revenue"},
		{Dataset: "golf_revenue", FieldKey: "total_revenue", Label: "Total Revenue", DataType: models.DataTypeNumber, Aggregation: models.AggregationSum, IsMetric: true, ColumnExpression: "total_revenue", TableRef: "fact_golf_revenue"},
		{Dataset: "golf_revenue", FieldKey: "rounds_played", Label: "Rounds Played", DataType: models.DataTypeNumber, Aggregation: models.AggregationSum, IsMetric: true, ColumnExpression: "rounds_played", TableRef: "fact_golf_revenue"},
		{Dataset: "golf_revenue", FieldKey: "business_date", Label: "Business Date", DataType: models.DataTypeDate, IsFilterable: true, ColumnExpression: "business_date", TableRef: "fact_golf_revenue"},
		{Dataset: "golf_revenue", FieldKey: "channel", Label: "Channel", DataType: models.DataTypeString, IsFilterable: true, ColumnExpression: "CASE WHEN channel IS NULL THEN 'walk-in' ELSE channel END", TableRef: "fact_golf_revenue"},
		{Dataset: "golf_bookings", FieldKey: "bookings", Label: "Bookings", DataType: models.DataTypeNumber, Aggregation: models.AggregationCount, IsMetric: true, ColumnExpression: "booking_id", TableRef: "fact_golf_bookings"},
	}
	return compiler.NewCatalog(datasets, entries)
}

func marchRange() []models.ReportFilter {
	return []models.ReportFilter{
		{FieldKey: "business_date", Op: models.FilterOpGte, Value: "2026-03-01"},
		{FieldKey: "business_date", Op: models.FilterOpLte, Value: "2026-03-31"},
	}
}

func TestCompile_GolfRevenueEndToEnd(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id", "total_revenue", "rounds_played"},
		GroupBy: []string{"course_id"},
		Filters: marchRange(),
	}

	q, err := compiler.Compile("tenant-42", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if !strings.Contains(q.SQL, "GROUP BY course_id") {
		t.Errorf("SQL missing GROUP BY course_id: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "sum(total_revenue)") {
		t.Errorf("SQL missing sum(total_revenue): %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "sum(rounds_played)") {
		t.Errorf("SQL missing sum(rounds_played): %s", q.SQL)
	}
	if len(q.Params) != 3 {
		t.Fatalf("len(Params) = %d, want 3 (tenant + two date bounds)", len(q.Params))
	}
	if q.Params[0] != "tenant-42" {
		t.Errorf("Params[0] = %v, want tenant-42", q.Params[0])
	}
	if q.Params[1] != "2026-03-01" || q.Params[2] != "2026-03-31" {
		t.Errorf("date params = %v, %v", q.Params[1], q.Params[2])
	}
}

func TestCompile_TenantPredicateBeforeUserFilters(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		Filters: append(marchRange(), models.ReportFilter{
			FieldKey: "channel", Op: models.FilterOpEq, Value: "online",
		}),
	}

	q, err := compiler.Compile("tenant-1", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tenantIdx := strings.Index(q.SQL, "tenant_id = $1")
	if tenantIdx < 0 {
		t.Fatalf("SQL missing tenant predicate: %s", q.SQL)
	}
	filterIdx := strings.Index(q.SQL, "$2")
	if filterIdx >= 0 && filterIdx < tenantIdx {
		t.Errorf("user filter appears before tenant predicate: %s", q.SQL)
	}
	if q.Params[0] != "tenant-1" {
		t.Errorf("Params[0] = %v, want tenant id", q.Params[0])
	}
}

func TestCompile_UnknownFieldNamesKey(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id", "no_such_field"},
		Filters: marchRange(),
	}

	_, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	var unknown *compiler.UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("Compile() error = %v, want UnknownFieldError", err)
	}
	if unknown.FieldKey != "no_such_field" {
		t.Errorf("UnknownFieldError.FieldKey = %q, want %q", unknown.FieldKey, "no_such_field")
	}
}

func TestCompile_TimeSeriesRequiresDateRange(t *testing.T) {
	def := &models.ReportDefinition{Columns: []string{"course_id"}}

	_, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	var invalid *compiler.InvalidRangeError
	if !errors.As(err, &invalid) {
		t.Fatalf("Compile() error = %v, want InvalidRangeError", err)
	}
}

func TestCompile_RangeWiderThanYearFails(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		Filters: []models.ReportFilter{
			{FieldKey: "business_date", Op: models.FilterOpGte, Value: "2024-01-01"},
			{FieldKey: "business_date", Op: models.FilterOpLte, Value: "2026-03-31"},
		},
	}

	_, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	var wide *compiler.RangeTooWideError
	if !errors.As(err, &wide) {
		t.Fatalf("Compile() error = %v, want RangeTooWideError", err)
	}
	if wide.MaxDays != compiler.MaxRangeDays {
		t.Errorf("RangeTooWideError.MaxDays = %d, want %d", wide.MaxDays, compiler.MaxRangeDays)
	}
}

func TestCompile_ThirtyDayRangeSucceeds(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		Filters: marchRange(),
	}

	if _, err := compiler.Compile("t", "golf_revenue", def, golfCatalog()); err != nil {
		t.Fatalf("Compile() error = %v, want nil for 30-day range", err)
	}
}

func TestCompile_UngroupedColumnFails(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id", "channel", "total_revenue"},
		GroupBy: []string{"course_id"},
		Filters: marchRange(),
	}

	_, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	var ungrouped *compiler.UngroupedColumnError
	if !errors.As(err, &ungrouped) {
		t.Fatalf("Compile() error = %v, want UngroupedColumnError", err)
	}
	if ungrouped.FieldKey != "channel" {
		t.Errorf("UngroupedColumnError.FieldKey = %q, want %q", ungrouped.FieldKey, "channel")
	}
}

func TestCompile_LikeIsCaseInsensitiveAndVerbatim(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		Filters: append(marchRange(), models.ReportFilter{
			FieldKey: "channel", Op: models.FilterOpLike, Value: "%pro shop%",
		}),
	}

	q, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(q.SQL, "ILIKE $4") {
		t.Errorf("SQL missing case-insensitive match: %s", q.SQL)
	}
	if q.Params[3] != "%pro shop%" {
		t.Errorf("Params[3] = %v, want caller value verbatim", q.Params[3])
	}
}

func TestCompile_ComputedColumnExpressionUsedRaw(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"channel"},
		Filters: marchRange(),
	}

	q, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(q.SQL, "CASE WHEN channel IS NULL") {
		t.Errorf("SQL does not carry computed column expression: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, `AS "golf_revenue:channel"`) {
		t.Errorf("SQL missing dataset-qualified alias: %s", q.SQL)
	}
}

func TestCompile_MultiDatasetQualifiedColumn(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id", "golf_bookings:bookings"},
		GroupBy: []string{"course_id"},
		Filters: marchRange(),
	}

	q, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(q.SQL, "count(booking_id)") {
		t.Errorf("SQL missing aggregated sibling-dataset column: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, `AS "golf_bookings:bookings"`) {
		t.Errorf("SQL missing qualified alias for sibling dataset: %s", q.SQL)
	}
}

func TestCompile_QualifiedFilterKeys(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		Filters: []models.ReportFilter{
			{FieldKey: "golf_revenue:business_date", Op: models.FilterOpGte, Value: "2026-03-01"},
			{FieldKey: "golf_revenue:business_date", Op: models.FilterOpLte, Value: "2026-03-31"},
			{FieldKey: "golf_revenue:channel", Op: models.FilterOpEq, Value: "online"},
		},
	}

	q, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v, want qualified filter keys accepted", err)
	}
	if !strings.Contains(q.SQL, "END = $4") {
		t.Errorf("SQL missing predicate on qualified channel filter: %s", q.SQL)
	}
	if q.Params[3] != "online" {
		t.Errorf("Params[3] = %v, want online", q.Params[3])
	}
}

func TestCompile_QualifiedUnknownFilterFails(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		Filters: append(marchRange(), models.ReportFilter{
			FieldKey: "golf_revenue:no_such_field", Op: models.FilterOpEq, Value: "x",
		}),
	}

	_, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	var unknown *compiler.UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("Compile() error = %v, want UnknownFieldError", err)
	}
	if unknown.FieldKey != "golf_revenue:no_such_field" {
		t.Errorf("UnknownFieldError.FieldKey = %q, want full qualified key", unknown.FieldKey)
	}
}

func TestCompile_SortAndLimit(t *testing.T) {
	limit := 10
	def := &models.ReportDefinition{
		Columns: []string{"course_id", "total_revenue"},
		GroupBy: []string{"course_id"},
		SortBy:  []models.SortSpec{{FieldKey: "total_revenue", Direction: "desc"}},
		Limit:   &limit,
		Filters: marchRange(),
	}

	q, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(q.SQL, `ORDER BY "golf_revenue:total_revenue" DESC`) {
		t.Errorf("SQL missing ORDER BY on alias: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "LIMIT $4") {
		t.Errorf("LIMIT should be parameterized, got: %s", q.SQL)
	}
	if q.Params[len(q.Params)-1] != 10 {
		t.Errorf("last param = %v, want limit 10", q.Params[len(q.Params)-1])
	}
}

func TestCompile_SortByUnselectedFieldUsesExpression(t *testing.T) {
	def := &models.ReportDefinition{
		Columns: []string{"course_id"},
		GroupBy: []string{"course_id"},
		SortBy:  []models.SortSpec{{FieldKey: "total_revenue", Direction: "desc"}},
		Filters: marchRange(),
	}

	q, err := compiler.Compile("t", "golf_revenue", def, golfCatalog())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(q.SQL, "ORDER BY sum(total_revenue) DESC") {
		t.Errorf("SQL should sort by the column expression when the field is not selected: %s", q.SQL)
	}
	if strings.Contains(q.SQL, `ORDER BY "golf_revenue:total_revenue"`) {
		t.Errorf("SQL sorts by an alias absent from the select list: %s", q.SQL)
	}
}
