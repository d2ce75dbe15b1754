package sqlgen_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/asklens/asklens/internal/llm"
	"github.com/asklens/asklens/internal/promptguard"
	"github.com/asklens/asklens/internal/sqlgen"
	"github.com/asklens/asklens/pkg/models"
)

const goodResponse = "```json\n{\"sql\": \"SELECT course_id, SUM(total_revenue) AS total_revenue FROM fact_golf_revenue WHERE tenant_id = $1 GROUP BY course_id LIMIT 100\", \"explanation\": \"Revenue per course.\", \"confidence\": 0.9}\n```"

const fixedResponse = `{"sql": "SELECT course_id FROM fact_golf_revenue WHERE tenant_id = $1 LIMIT 100", "explanation": "Fixed.", "confidence": 0.8}`

type scriptedCompleter struct {
	responses []string
	calls     [][]models.ChatMessage
}

func (s *scriptedCompleter) Complete(ctx context.Context, key string, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	i := len(s.calls)
	s.calls = append(s.calls, messages)
	if i >= len(s.responses) {
		return nil, errors.New("unexpected extra completion call")
	}
	return &models.CompletionResponse{Content: s.responses[i], TokensInput: 10, TokensOutput: 5}, nil
}

func testConfig() sqlgen.Config {
	return sqlgen.Config{
		MaxCorrectionRetries: 1,
		MaxTokens:            1024,
		Timeout:              30 * time.Second,
		Budget: promptguard.Budget{
			MaxBaseChars:      8000,
			MaxSchemaChars:    12000,
			MaxExampleChars:   6000,
			MaxRetrievalChars: 6000,
			MaxTotalChars:     24000,
		},
		RowLimit: 100,
	}
}

func okExecute(result *models.QueryResult) sqlgen.ExecuteFunc {
	return func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
		return result, nil
	}
}

func TestRun_Success(t *testing.T) {
	c := &scriptedCompleter{responses: []string{goodResponse}}
	g := sqlgen.New(c, testConfig())

	want := &models.QueryResult{RowCount: 3}
	out, err := g.Run(context.Background(), sqlgen.Request{
		TenantID: "tenant-1",
		Message:  "revenue by course",
	}, okExecute(want))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if out.Result != want {
		t.Error("Result not propagated from executor")
	}
	if len(out.Query.Params) != 1 || out.Query.Params[0] != "tenant-1" {
		t.Errorf("Params = %v, want [tenant-1]", out.Query.Params)
	}
	if !strings.Contains(out.Query.SQL, "tenant_id = $1") {
		t.Errorf("SQL missing tenant predicate: %s", out.Query.SQL)
	}
	if out.SQL.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", out.SQL.Confidence)
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", out.Usage.TotalTokens)
	}
}

func TestRun_InitialParseFailureSurfaces(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"I cannot answer that."}}
	g := sqlgen.New(c, testConfig())

	executed := false
	out, err := g.Run(context.Background(), sqlgen.Request{TenantID: "t1", Message: "q"},
		func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
			executed = true
			return nil, nil
		})

	var te *llm.TransportError
	if !errors.As(err, &te) || te.Kind != llm.ErrParseError {
		t.Fatalf("Run() error = %v, want PARSE_ERROR", err)
	}
	if executed {
		t.Error("executor ran despite parse failure")
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestRun_CorrectsAfterExecutionFailure(t *testing.T) {
	c := &scriptedCompleter{responses: []string{goodResponse, fixedResponse}}
	g := sqlgen.New(c, testConfig())

	execErr := errors.New(`column "total_revenue" does not exist`)
	var executions int
	out, err := g.Run(context.Background(), sqlgen.Request{TenantID: "t1", Message: "q"},
		func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
			executions++
			if executions == 1 {
				return nil, execErr
			}
			return &models.QueryResult{RowCount: 1}, nil
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if len(c.calls) != 2 {
		t.Fatalf("completion calls = %d, want 2", len(c.calls))
	}

	// The correction turn carries the failing SQL and the database error.
	second := c.calls[1]
	last := second[len(second)-1]
	if last.Role != "user" || !strings.Contains(last.Content, execErr.Error()) {
		t.Errorf("correction message missing database error: %q", last.Content)
	}
	assistant := second[len(second)-2]
	if assistant.Role != "assistant" || !strings.Contains(assistant.Content, "SELECT course_id, SUM(total_revenue)") {
		t.Errorf("correction transcript missing failing SQL: %q", assistant.Content)
	}

	if !strings.Contains(out.Query.SQL, "SELECT course_id FROM") {
		t.Errorf("final query is not the corrected one: %s", out.Query.SQL)
	}
	if out.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30 (both attempts accounted)", out.Usage.TotalTokens)
	}
}

func TestRun_RetriesExhaustedRaisesLastError(t *testing.T) {
	c := &scriptedCompleter{responses: []string{goodResponse, fixedResponse}}
	g := sqlgen.New(c, testConfig())

	firstErr := errors.New("first failure")
	lastErr := errors.New("second failure")
	var executions int
	out, err := g.Run(context.Background(), sqlgen.Request{TenantID: "t1", Message: "q"},
		func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
			executions++
			if executions == 1 {
				return nil, firstErr
			}
			return nil, lastErr
		})

	if !errors.Is(err, lastErr) {
		t.Errorf("Run() error = %v, want the last execution error", err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if executions != 2 {
		t.Errorf("executions = %d, want 2", executions)
	}
}

func TestRun_MidLoopParseFailureBecomesLastError(t *testing.T) {
	c := &scriptedCompleter{responses: []string{goodResponse, "still broken, sorry"}}
	g := sqlgen.New(c, testConfig())

	_, err := g.Run(context.Background(), sqlgen.Request{TenantID: "t1", Message: "q"},
		func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
			return nil, errors.New("syntax error at or near FROM")
		})

	var te *llm.TransportError
	if !errors.As(err, &te) || te.Kind != llm.ErrParseError {
		t.Errorf("Run() error = %v, want the mid-loop PARSE_ERROR", err)
	}
}

func TestRun_LowBudgetSkipsCorrection(t *testing.T) {
	c := &scriptedCompleter{responses: []string{goodResponse, fixedResponse}}
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	g := sqlgen.New(c, cfg)

	execErr := errors.New("relation does not exist")
	_, err := g.Run(context.Background(), sqlgen.Request{TenantID: "t1", Message: "q"},
		func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
			time.Sleep(45 * time.Millisecond)
			return nil, execErr
		})

	if !errors.Is(err, execErr) {
		t.Errorf("Run() error = %v, want execution error without correction", err)
	}
	if len(c.calls) != 1 {
		t.Errorf("completion calls = %d, want 1 (budget below 20%%)", len(c.calls))
	}
}

func TestParse_AcceptsBareAndFencedJSON(t *testing.T) {
	for _, content := range []string{
		fixedResponse,
		"```json\n" + fixedResponse + "\n```",
		"Here is the query:\n\n" + fixedResponse,
	} {
		gen, err := sqlgen.Parse(content)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", content[:20], err)
			continue
		}
		if gen.Explanation != "Fixed." {
			t.Errorf("Explanation = %q, want Fixed.", gen.Explanation)
		}
	}
}

func TestParse_ClampsConfidence(t *testing.T) {
	gen, err := sqlgen.Parse(`{"sql": "SELECT 1 WHERE tenant_id = $1", "confidence": 1.7}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if gen.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", gen.Confidence)
	}
}

func TestParse_RejectsUnsafeStatements(t *testing.T) {
	cases := map[string]string{
		"non-select":          `{"sql": "DROP TABLE fact_golf_revenue", "confidence": 1}`,
		"missing placeholder": `{"sql": "SELECT 1 FROM t", "confidence": 1}`,
		"multi-statement":     `{"sql": "SELECT 1 WHERE tenant_id = $1; SELECT 2", "confidence": 1}`,
		"empty sql":           `{"sql": "", "confidence": 1}`,
	}
	for name, content := range cases {
		if _, err := sqlgen.Parse(content); err == nil {
			t.Errorf("%s: Parse() accepted unsafe statement", name)
		}
	}
}
