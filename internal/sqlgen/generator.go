// Package sqlgen synthesizes SQL from natural-language questions when no
// deterministic report definition applies. The generated statement is treated
// as untrusted: it must be a single SELECT, must filter on the tenant
// placeholder $1, and execution failures feed a bounded self-correction loop
// that re-prompts the model with the failing SQL and the database error.
package sqlgen

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/asklens/asklens/internal/promptguard"
	"github.com/asklens/asklens/internal/resilience"
	"github.com/asklens/asklens/pkg/models"
	"github.com/rs/zerolog/log"
)

// Completer issues one guarded LLM completion under a coalescing key.
type Completer interface {
	Complete(ctx context.Context, key string, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error)
}

// ExecuteFunc runs a synthesized query and returns its result. The generator
// calls it once per attempt; a returned error triggers a correction round
// while retries and deadline budget remain.
type ExecuteFunc func(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error)

// Config tunes the generator.
type Config struct {
	// MaxCorrectionRetries bounds re-prompts after a failed execution.
	MaxCorrectionRetries int
	MaxTokens            int
	Temperature          float64
	// Timeout is the overall deadline budget for the generate-execute-correct
	// cycle. A correction round is only started while at least 20% of the
	// budget remains.
	Timeout time.Duration
	Budget  promptguard.Budget
	// RowLimit is advertised in the prompt as the mandatory LIMIT ceiling.
	RowLimit int
}

// Request carries one synthesis job.
type Request struct {
	TenantID string
	Message  string
	History  []models.ChatMessage
	// Schema is the catalog rendering fed to the prompt (see SchemaText).
	Schema string
	// Retrieval is optional retrieved context (prior reports, glossary hits).
	Retrieval string
}

// Outcome is the result of a synthesis run, successful or not. Usage and
// Attempts are populated even when the run fails so callers can account for
// spent tokens.
type Outcome struct {
	SQL      models.GeneratedSQL
	Query    *models.CompiledQuery
	Result   *models.QueryResult
	Usage    models.TokenUsage
	Attempts int
}

// Generator drives the synthesis and correction loop.
type Generator struct {
	completer Completer
	cfg       Config
}

// New builds a Generator.
func New(completer Completer, cfg Config) *Generator {
	return &Generator{completer: completer, cfg: cfg}
}

// Run synthesizes SQL for the question, executes it, and self-corrects on
// execution failure up to MaxCorrectionRetries times. A malformed response on
// the first attempt surfaces immediately; a malformed response mid-loop
// becomes the error fed into the next correction round. After the last
// attempt the last error is returned.
func (g *Generator) Run(ctx context.Context, req Request, execute ExecuteFunc) (*Outcome, error) {
	start := time.Now()
	budget := g.cfg.Timeout

	prompt := promptguard.Apply(g.cfg.Budget, promptguard.Sections{
		Base:      g.systemPrompt(),
		Schema:    req.Schema,
		Examples:  fewShotExamples,
		Retrieval: req.Retrieval,
	})
	if prompt.Truncated {
		log.Warn().Str("tenant_id", req.TenantID).Msg("sql prompt truncated to fit ceilings")
	}
	opts := models.CompletionOptions{
		SystemPrompt: prompt.Text,
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
		Timeout:      budget,
	}

	messages := append(slices.Clone(req.History), models.ChatMessage{Role: "user", Content: req.Message})
	out := &Outcome{}

	resp, err := g.completer.Complete(ctx, resilience.Key(req.TenantID, req.Message, req.History), messages, opts)
	out.Usage.Add(resp)
	if err != nil {
		return out, err
	}
	out.Attempts = 1

	gen, err := Parse(resp.Content)
	if err != nil {
		return out, err
	}

	query := &models.CompiledQuery{SQL: gen.SQL, Params: []interface{}{req.TenantID}}
	result, execErr := execute(ctx, query)
	if execErr == nil {
		out.SQL, out.Query, out.Result = *gen, query, result
		return out, nil
	}

	lastErr := execErr
	lastSQL := gen.SQL

	for retry := 0; retry < g.cfg.MaxCorrectionRetries; retry++ {
		if remaining := budget - time.Since(start); remaining < budget/5 {
			log.Warn().
				Str("tenant_id", req.TenantID).
				Dur("remaining", remaining).
				Msg("deadline budget too low for sql correction")
			break
		}

		correction := correctionMessage(lastSQL, lastErr)
		messages = append(messages,
			models.ChatMessage{Role: "assistant", Content: lastSQL},
			models.ChatMessage{Role: "user", Content: correction},
		)

		resp, err := g.completer.Complete(ctx, resilience.Key(req.TenantID, correction, messages), messages, opts)
		out.Usage.Add(resp)
		if err != nil {
			return out, err
		}
		out.Attempts++

		gen, perr := Parse(resp.Content)
		if perr != nil {
			// The malformed response is the new failure fed into the next
			// round (if any remain).
			lastErr = perr
			continue
		}

		query = &models.CompiledQuery{SQL: gen.SQL, Params: []interface{}{req.TenantID}}
		result, execErr = execute(ctx, query)
		if execErr == nil {
			out.SQL, out.Query, out.Result = *gen, query, result
			return out, nil
		}
		lastErr = execErr
		lastSQL = gen.SQL
	}

	return out, lastErr
}

func (g *Generator) systemPrompt() string {
	return fmt.Sprintf(`You are a SQL analyst for a multi-tenant analytics warehouse (PostgreSQL).
Translate the user's question into a single SQL query over the datasets described below.

Rules:
1. SELECT statements only. Never write INSERT, UPDATE, DELETE, DDL, or multiple statements.
2. Every query MUST filter on the tenant: include "tenant_id = $1" in the WHERE clause. $1 is bound by the server; never inline a tenant value.
3. Every query MUST end with a LIMIT of at most %d.
4. Only reference tables and columns from the schema below.
5. Use ISO dates ('2006-01-02') in date comparisons.

Respond with a single JSON object and nothing else:
{"sql": "<the query>", "explanation": "<one sentence>", "confidence": <0.0-1.0>}`, g.cfg.RowLimit)
}

// fewShotExamples anchors the response shape. Kept short; the prompt guard
// drops this section before it drops schema.
const fewShotExamples = `Examples:

Q: total revenue by course last week
{"sql": "SELECT course_id, SUM(total_revenue) AS total_revenue FROM fact_golf_revenue WHERE tenant_id = $1 AND business_date >= '2026-08-17' AND business_date <= '2026-08-23' GROUP BY course_id ORDER BY total_revenue DESC LIMIT 100", "explanation": "Sums revenue per course over the last seven days.", "confidence": 0.9}

Q: how many bookings came from the mobile app yesterday
{"sql": "SELECT COUNT(*) AS bookings FROM fact_bookings WHERE tenant_id = $1 AND channel = 'mobile' AND booked_on = '2026-08-23' LIMIT 100", "explanation": "Counts yesterday's mobile-channel bookings.", "confidence": 0.85}`

func correctionMessage(failedSQL string, cause error) string {
	return fmt.Sprintf(`The previous query failed.

SQL:
%s

Error:
%s

Fix the query and respond with the same JSON shape. Keep the tenant_id = $1 filter and the LIMIT.`, failedSQL, cause.Error())
}
