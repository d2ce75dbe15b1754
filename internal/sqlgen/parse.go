package sqlgen

import (
	"encoding/json"
	"strings"

	"github.com/asklens/asklens/internal/llm"
	"github.com/asklens/asklens/pkg/models"
)

// Parse extracts the structured synthesis response from raw model output.
// Accepts the JSON object bare or inside a fenced code block. Fails with a
// PARSE_ERROR when the payload is malformed, the sql field is empty, the
// statement is not a SELECT, or the tenant placeholder is missing.
// Confidence is clamped to [0, 1].
func Parse(content string) (*models.GeneratedSQL, error) {
	payload := extractJSON(content)
	if payload == "" {
		return nil, llm.ParseError("no JSON object in model response")
	}

	var gen models.GeneratedSQL
	if err := json.Unmarshal([]byte(payload), &gen); err != nil {
		return nil, llm.ParseError("malformed JSON in model response: " + err.Error())
	}

	gen.SQL = strings.TrimSpace(gen.SQL)
	if gen.SQL == "" {
		return nil, llm.ParseError("model response has empty sql field")
	}
	if err := validateSQL(gen.SQL); err != nil {
		return nil, err
	}

	if gen.Confidence < 0 {
		gen.Confidence = 0
	} else if gen.Confidence > 1 {
		gen.Confidence = 1
	}
	return &gen, nil
}

// validateSQL enforces the safety rules the prompt states: single SELECT (or
// WITH ... SELECT) and the mandatory tenant placeholder.
func validateSQL(sql string) error {
	upper := strings.ToUpper(sql)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return llm.ParseError("generated statement is not a SELECT")
	}
	if strings.Contains(strings.TrimSuffix(sql, ";"), ";") {
		return llm.ParseError("generated statement contains multiple statements")
	}
	if !strings.Contains(sql, "$1") {
		return llm.ParseError("generated statement is missing the tenant placeholder $1")
	}
	return nil
}

// extractJSON locates the JSON object in the response: fenced block first,
// then the outermost brace pair.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if idx := strings.Index(content, "```"); idx >= 0 {
		rest := content[idx+3:]
		// Skip a language tag like "json" on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			content = strings.TrimSpace(rest[:end])
		}
	}

	first := strings.IndexByte(content, '{')
	last := strings.LastIndexByte(content, '}')
	if first < 0 || last <= first {
		return ""
	}
	return content[first : last+1]
}
