// Package narrative turns query results into a prose answer. The model is
// prompted with the question, the executed SQL, and a bounded tabular sample
// of the result rows; its markdown response is parsed into typed sections so
// clients can render answer, findings, trends, recommendations, and
// methodology blocks separately.
package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asklens/asklens/internal/promptguard"
	"github.com/asklens/asklens/internal/resilience"
	"github.com/asklens/asklens/pkg/models"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
)

// Completer issues one guarded LLM completion under a coalescing key.
type Completer interface {
	Complete(ctx context.Context, key string, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error)
}

// Config tunes the narrative generator.
type Config struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Budget      promptguard.Budget
	// SampleRows bounds the tabular sample embedded in the prompt.
	SampleRows int
}

// Request carries one narration job. Result may be nil or empty; the
// narrative is still generated so the caller always gets prose back.
type Request struct {
	TenantID string
	Message  string
	History  []models.ChatMessage
	SQL      string
	Result   *models.QueryResult
}

// Generator produces typed narrative sections from query results.
type Generator struct {
	completer Completer
	cfg       Config
}

// New builds a Generator.
func New(completer Completer, cfg Config) *Generator {
	return &Generator{completer: completer, cfg: cfg}
}

// Narrate prompts the model and parses its markdown into sections. The
// returned response carries token usage for the caller to accumulate.
func (g *Generator) Narrate(ctx context.Context, req Request) ([]models.NarrativeSection, *models.CompletionResponse, error) {
	prompt := promptguard.Apply(g.cfg.Budget, promptguard.Sections{
		Base:      systemPrompt,
		Schema:    sqlContext(req.SQL),
		Retrieval: g.dataContext(req.Result),
	})
	if prompt.Truncated {
		log.Warn().Str("tenant_id", req.TenantID).Msg("narrative prompt truncated to fit ceilings")
	}

	messages := append(append([]models.ChatMessage{}, req.History...),
		models.ChatMessage{Role: "user", Content: req.Message})

	key := resilience.Key(req.TenantID, "narrate\x00"+req.Message+"\x00"+req.SQL, req.History)
	resp, err := g.completer.Complete(ctx, key, messages, models.CompletionOptions{
		SystemPrompt: prompt.Text,
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
		Timeout:      g.cfg.Timeout,
	})
	if err != nil {
		return nil, resp, err
	}
	return ParseSections(resp.Content), resp, nil
}

const systemPrompt = `You are a business analyst narrating query results for a non-technical reader.

Structure your markdown response with these headings as applicable:
## Answer        - the direct answer to the question (always include)
## Key Findings  - notable values, outliers, comparisons
## Trends        - direction of change over time, when the data shows it
## Recommendations - concrete next steps the data supports
## Methodology   - how the numbers were derived

Finish with one italic line naming the data behind the answer, e.g.:
*Data: fact_golf_revenue, Aug 1-23, 2026*

Be concise and specific. Cite actual numbers from the data. Never invent values that are not in the result set.`

func sqlContext(sql string) string {
	if sql == "" {
		return ""
	}
	return "Query executed:\n```sql\n" + sql + "\n```"
}

// dataContext renders the result sample as an ASCII table. Empty results get
// an explicit marker so the model states the absence instead of inventing
// numbers.
func (g *Generator) dataContext(res *models.QueryResult) string {
	if res == nil || res.RowCount == 0 {
		return "Result: the query returned no rows. Say so plainly and suggest how the question could be adjusted."
	}

	var b strings.Builder
	b.WriteString("Result sample:\n")

	tw := tablewriter.NewWriter(&b)
	tw.SetHeader(res.Columns)
	tw.SetAutoFormatHeaders(false)
	tw.SetBorder(false)

	shown := 0
	for _, row := range res.Rows {
		if shown >= g.cfg.SampleRows {
			break
		}
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			if v, ok := row[col]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		tw.Append(cells)
		shown++
	}
	tw.Render()

	if shown < res.RowCount {
		fmt.Fprintf(&b, "\n(%d of %d rows shown)", shown, res.RowCount)
	}
	if res.Truncated {
		b.WriteString("\n(result truncated at the fetch ceiling; totals may be incomplete)")
	}
	return b.String()
}
