package sqlgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/asklens/asklens/internal/catalog"
	"github.com/asklens/asklens/pkg/models"
)

// SchemaText renders the full field catalog as the schema section of the
// synthesis prompt. The output is deterministic (catalog order) so identical
// requests coalesce on identical prompts.
func SchemaText(ctx context.Context, store catalog.Store) (string, error) {
	datasets, err := store.ListDatasets(ctx)
	if err != nil {
		return "", fmt.Errorf("list datasets: %w", err)
	}

	var b strings.Builder
	b.WriteString("Available datasets:\n")
	for _, ds := range datasets {
		fmt.Fprintf(&b, "\nDataset %s (table %s)", ds.Name, ds.TableRef)
		if ds.IsTimeSeries {
			fmt.Fprintf(&b, ", time series keyed by %s", ds.DateFieldKey)
		}
		b.WriteString("\n")

		fields, err := store.ListFields(ctx, ds.Name)
		if err != nil {
			return "", fmt.Errorf("list fields for %s: %w", ds.Name, err)
		}
		for _, f := range fields {
			b.WriteString("  - ")
			b.WriteString(describeField(f))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func describeField(f models.FieldCatalogEntry) string {
	var traits []string
	traits = append(traits, string(f.DataType))
	if f.IsMetric && f.Aggregation != "" && f.Aggregation != models.AggregationNone {
		traits = append(traits, "metric "+string(f.Aggregation))
	}
	if f.IsFilterable {
		traits = append(traits, "filterable")
	}
	return fmt.Sprintf("%s (%s): %s [sql: %s]", f.FieldKey, strings.Join(traits, ", "), f.Label, f.ColumnExpression)
}
