// Package promptguard bounds prompt text before it reaches the LLM provider.
// Each section is truncated against its own ceiling first, then the combined
// prompt is re-checked against a global ceiling and cut further in a fixed
// priority order: retrieval content first, then examples, then schema. Base
// instructions are never dropped below their own ceiling.
package promptguard

import "strings"

// TruncationMarker is appended wherever text was cut so downstream consumers
// can detect the loss.
const TruncationMarker = "\n[...truncated]"

// Budget is the per-section and total character ceilings. Pure configuration.
// Ceilings count the truncation marker against the cut section. MaxTotalChars
// bounds the combined section text; the two-byte joiners between non-empty
// sections sit outside it, and a ceiling smaller than the marker itself still
// yields the bare marker.
type Budget struct {
	MaxBaseChars      int
	MaxSchemaChars    int
	MaxExampleChars   int
	MaxRetrievalChars int
	MaxTotalChars     int
}

// Sections is the prompt input. Base is mandatory; the rest are optional.
type Sections struct {
	Base      string
	Schema    string
	Examples  string
	Retrieval string
}

// Result is the bounded prompt plus a flag reporting whether anything was cut.
type Result struct {
	Text      string
	Truncated bool
}

// Apply bounds each section, assembles the prompt, and enforces the global
// ceiling by shrinking sections in drop-priority order.
func Apply(b Budget, s Sections) Result {
	truncated := false

	base := capSection(s.Base, b.MaxBaseChars, &truncated)
	schema := capSection(s.Schema, b.MaxSchemaChars, &truncated)
	examples := capSection(s.Examples, b.MaxExampleChars, &truncated)
	retrieval := capSection(s.Retrieval, b.MaxRetrievalChars, &truncated)

	if b.MaxTotalChars > 0 {
		total := func() int {
			return len(base) + len(schema) + len(examples) + len(retrieval)
		}
		// Drop order: retrieval, then examples, then schema. Base survives.
		for _, victim := range []*string{&retrieval, &examples, &schema} {
			over := total() - b.MaxTotalChars
			if over <= 0 {
				break
			}
			keep := len(*victim) - over
			if keep < 0 {
				keep = 0
			}
			if keep < len(*victim) {
				*victim = cut(*victim, keep)
				truncated = true
			}
		}
	}

	var parts []string
	for _, p := range []string{base, schema, examples, retrieval} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Result{Text: strings.Join(parts, "\n\n"), Truncated: truncated}
}

func capSection(text string, max int, truncated *bool) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	*truncated = true
	return cut(text, max)
}

// cut shortens text so the result, marker included, fits in n bytes. An
// allowance at or below the marker length yields just the marker.
func cut(text string, n int) string {
	if n >= len(text) {
		return text
	}
	n -= len(TruncationMarker)
	if n <= 0 {
		return TruncationMarker
	}
	// Avoid splitting a UTF-8 sequence mid-rune.
	for n > 0 && text[n]&0xC0 == 0x80 {
		n--
	}
	return text[:n] + TruncationMarker
}
