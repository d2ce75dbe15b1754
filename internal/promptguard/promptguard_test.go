package promptguard_test

import (
	"strings"
	"testing"

	"github.com/asklens/asklens/internal/promptguard"
)

func TestApply_NoTruncationWithinBudget(t *testing.T) {
	res := promptguard.Apply(
		promptguard.Budget{MaxBaseChars: 100, MaxSchemaChars: 100, MaxTotalChars: 400},
		promptguard.Sections{Base: "instructions", Schema: "schema text"},
	)

	if res.Truncated {
		t.Error("Truncated = true, want false for prompt within budget")
	}
	if !strings.Contains(res.Text, "instructions") || !strings.Contains(res.Text, "schema text") {
		t.Errorf("Text missing sections: %q", res.Text)
	}
}

func TestApply_SectionCeilingMarksTruncation(t *testing.T) {
	res := promptguard.Apply(
		promptguard.Budget{MaxBaseChars: 100, MaxSchemaChars: 10},
		promptguard.Sections{Base: "base", Schema: strings.Repeat("x", 50)},
	)

	if !res.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if !strings.Contains(res.Text, promptguard.TruncationMarker) {
		t.Errorf("Text missing truncation marker: %q", res.Text)
	}
}

func TestApply_GlobalCeilingDropsRetrievalFirst(t *testing.T) {
	base := strings.Repeat("w", 100)
	schema := strings.Repeat("x", 100)
	examples := strings.Repeat("y", 100)
	retrieval := strings.Repeat("z", 100)

	// Total 400; global ceiling forces 80 chars out. Only retrieval should shrink.
	res := promptguard.Apply(
		promptguard.Budget{
			MaxBaseChars: 200, MaxSchemaChars: 200, MaxExampleChars: 200,
			MaxRetrievalChars: 200, MaxTotalChars: 320,
		},
		promptguard.Sections{Base: base, Schema: schema, Examples: examples, Retrieval: retrieval},
	)

	if !res.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if got := strings.Count(res.Text, "x"); got != 100 {
		t.Errorf("schema (x) chars = %d, want 100 (schema must survive while retrieval shrinks)", got)
	}
	if got := strings.Count(res.Text, "y"); got != 100 {
		t.Errorf("example (y) chars = %d, want 100", got)
	}
	if got := strings.Count(res.Text, "z"); got >= 100 {
		t.Errorf("retrieval (z) chars = %d, want < 100", got)
	}
}

func TestApply_MarkerCountsAgainstCeilings(t *testing.T) {
	res := promptguard.Apply(
		promptguard.Budget{MaxBaseChars: 100, MaxSchemaChars: 40},
		promptguard.Sections{Base: "base", Schema: strings.Repeat("x", 100)},
	)

	schemaPart := strings.TrimPrefix(res.Text, "base\n\n")
	if len(schemaPart) > 40 {
		t.Errorf("schema part = %d bytes, want <= 40 with marker included", len(schemaPart))
	}
	if !strings.HasSuffix(schemaPart, promptguard.TruncationMarker) {
		t.Errorf("schema part missing marker: %q", schemaPart)
	}

	// Global ceiling: four 100-char sections into 320; the two-byte joiners
	// are the only slack.
	res = promptguard.Apply(
		promptguard.Budget{
			MaxBaseChars: 200, MaxSchemaChars: 200, MaxExampleChars: 200,
			MaxRetrievalChars: 200, MaxTotalChars: 320,
		},
		promptguard.Sections{
			Base:      strings.Repeat("w", 100),
			Schema:    strings.Repeat("x", 100),
			Examples:  strings.Repeat("y", 100),
			Retrieval: strings.Repeat("z", 100),
		},
	)
	if len(res.Text) > 320+6 {
		t.Errorf("assembled prompt = %d bytes, want <= 326", len(res.Text))
	}
}

func TestApply_BaseNeverDroppedByGlobalCeiling(t *testing.T) {
	base := strings.Repeat("w", 100)
	retrieval := strings.Repeat("z", 100)

	// Global ceiling below even the base length: everything else goes, base stays.
	res := promptguard.Apply(
		promptguard.Budget{MaxBaseChars: 200, MaxRetrievalChars: 200, MaxTotalChars: 50},
		promptguard.Sections{Base: base, Retrieval: retrieval},
	)

	if got := strings.Count(res.Text, "w"); got != 100 {
		t.Errorf("base (w) chars = %d, want 100 (base instructions are never dropped)", got)
	}
	if got := strings.Count(res.Text, "z"); got != 0 {
		t.Errorf("retrieval (z) chars = %d, want 0", got)
	}
}
