// Package models defines the shared domain types for the asklens control plane:
// the field catalog, report definitions, compiled queries, LLM call contracts,
// query results, narrative sections, and resilience status snapshots.
package models

import (
	"time"
)

// ── Field Catalog ────────────────────────────────────────────

// DataType is the logical type of a catalog field.
type DataType string

const (
	DataTypeString DataType = "string"
	DataTypeNumber DataType = "number"
	DataTypeDate   DataType = "date"
)

// Aggregation is the aggregate function declared for a metric field.
type Aggregation string

const (
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationCount Aggregation = "count"
	AggregationNone  Aggregation = "none"
)

// FieldCatalogEntry describes one queryable field of a dataset.
// Entries are immutable for the duration of a compile. ColumnExpression is a
// trusted SQL fragment owned by the catalog — it never contains caller text.
type FieldCatalogEntry struct {
	Dataset          string      `json:"dataset"`
	FieldKey         string      `json:"field_key"`
	Label            string      `json:"label"`
	DataType         DataType    `json:"data_type"`
	Aggregation      Aggregation `json:"aggregation,omitempty"`
	IsMetric         bool        `json:"is_metric"`
	IsFilterable     bool        `json:"is_filterable"`
	IsSortable       bool        `json:"is_sortable"`
	ColumnExpression string      `json:"column_expression"`
	TableRef         string      `json:"table_ref"`
}

// DatasetInfo carries dataset-level flags the compiler needs.
type DatasetInfo struct {
	Name         string `json:"name"`
	TableRef     string `json:"table_ref"`
	IsTimeSeries bool   `json:"is_time_series"`
	// DateFieldKey is the field that carries the business date for
	// time-series datasets.
	DateFieldKey string `json:"date_field_key,omitempty"`
}

// ── Report Definitions ───────────────────────────────────────

// FilterOp is the comparison operator of a report filter.
type FilterOp string

const (
	FilterOpEq   FilterOp = "eq"
	FilterOpGte  FilterOp = "gte"
	FilterOpLte  FilterOp = "lte"
	FilterOpLike FilterOp = "like"
	FilterOpIn   FilterOp = "in"
)

// ReportFilter is one predicate of a report definition. FieldKey must resolve
// against the active field catalog or compilation fails.
type ReportFilter struct {
	FieldKey string      `json:"field_key"`
	Op       FilterOp    `json:"op"`
	Value    interface{} `json:"value"`
}

// SortSpec orders report output by a selected column.
type SortSpec struct {
	FieldKey  string `json:"field_key"`
	Direction string `json:"direction"` // "asc" | "desc"
}

// ReportDefinition is the declarative body of a report. Columns may be
// dataset-qualified ("dataset:field_key") for multi-dataset reports.
type ReportDefinition struct {
	Columns []string       `json:"columns"`
	Filters []ReportFilter `json:"filters,omitempty"`
	GroupBy []string       `json:"group_by,omitempty"`
	SortBy  []SortSpec     `json:"sort_by,omitempty"`
	Limit   *int           `json:"limit,omitempty"`
}

// CompiledQuery is a parameterized SQL statement plus its ordered bind values.
// Params[0] is always the tenant identifier; the statement text never
// contains caller-supplied text.
type CompiledQuery struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params"`
}

// ── LLM Call Contract ────────────────────────────────────────

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" | "assistant" | "system"
	Content string `json:"content"`
}

// CompletionOptions tunes a single LLM completion call.
type CompletionOptions struct {
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"`
}

// CompletionResponse is the provider-neutral result of an LLM call.
type CompletionResponse struct {
	Content      string `json:"content"`
	TokensInput  int64  `json:"tokens_input"`
	TokensOutput int64  `json:"tokens_output"`
	Model        string `json:"model"`
	LatencyMs    int64  `json:"latency_ms"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// ── Query Execution ──────────────────────────────────────────

// QueryResult is the tabular output of an executed query. Truncated is set
// when the executor stopped fetching at its row ceiling.
type QueryResult struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated"`
}

// ── Narrative ────────────────────────────────────────────────

// SectionType tags a parsed narrative section.
type SectionType string

const (
	SectionAnswer         SectionType = "answer"
	SectionFinding        SectionType = "finding"
	SectionTrend          SectionType = "trend"
	SectionRecommendation SectionType = "recommendation"
	SectionMethodology    SectionType = "methodology"
	SectionDetail         SectionType = "detail"
	SectionDataSources    SectionType = "data_sources"
)

// NarrativeSection is one typed block of the generated summary.
type NarrativeSection struct {
	Type    SectionType `json:"type"`
	Heading string      `json:"heading,omitempty"`
	Body    string      `json:"body"`
}

// ── Intent & Pipeline ────────────────────────────────────────

// IntentMode selects the deterministic or LLM query path.
type IntentMode string

const (
	IntentModeReport   IntentMode = "report"
	IntentModeFreeform IntentMode = "freeform"
)

// ResolvedIntent is the output of the (external) intent resolver that enters
// the pipeline orchestrator.
type ResolvedIntent struct {
	Mode       IntentMode        `json:"mode"`
	Dataset    string            `json:"dataset,omitempty"`
	Definition *ReportDefinition `json:"definition,omitempty"`
	Message    string            `json:"message"`
	History    []ChatMessage     `json:"history,omitempty"`
}

// GeneratedSQL is the structured response of the SQL synthesis prompt.
type GeneratedSQL struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// AskResponse is the end-to-end answer returned by POST /api/v1/ask.
type AskResponse struct {
	RequestID string             `json:"request_id"`
	Query     *CompiledQuery     `json:"query,omitempty"`
	Result    *QueryResult       `json:"result,omitempty"`
	Narrative []NarrativeSection `json:"narrative"`
	Usage     TokenUsage         `json:"usage"`
	Attempts  int                `json:"attempts"`
}

// TokenUsage accumulates token and latency counters across LLM attempts.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	LatencyMs    int64 `json:"latency_ms"`
}

// Add accumulates another response's counters.
func (u *TokenUsage) Add(resp *CompletionResponse) {
	if resp == nil {
		return
	}
	u.InputTokens += resp.TokensInput
	u.OutputTokens += resp.TokensOutput
	u.TotalTokens += resp.TokensInput + resp.TokensOutput
	u.LatencyMs += resp.LatencyMs
}

// ── Resilience Status ────────────────────────────────────────

// CircuitState is the breaker's lifecycle state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerStatus is the breaker's snapshot for dashboards.
type CircuitBreakerStatus struct {
	State         CircuitState `json:"state"`
	ErrorRate     float64      `json:"error_rate"`
	TotalTrips    int64        `json:"total_trips"`
	TotalRejected int64        `json:"total_rejected"`
	RetryAfterMs  int64        `json:"retry_after_ms"`
}

// ConcurrencyStatus is the limiter's snapshot.
type ConcurrencyStatus struct {
	InFlight      int `json:"in_flight"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"max_concurrent"`
}

// CoalescingStatus is the coalescer's snapshot.
type CoalescingStatus struct {
	InFlightCount int `json:"in_flight_count"`
}

// ResilienceStatus is the combined snapshot exposed at GET /api/v1/resilience.
type ResilienceStatus struct {
	CircuitBreaker CircuitBreakerStatus `json:"circuit_breaker"`
	Concurrency    ConcurrencyStatus    `json:"concurrency"`
	Coalescing     CoalescingStatus     `json:"coalescing"`
}
