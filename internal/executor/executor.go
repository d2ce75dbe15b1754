// Package executor runs compiled queries against the warehouse. Results are
// fetched through a hard row ceiling; anything beyond it is dropped and the
// result is flagged truncated rather than failing the request.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/asklens/asklens/internal/config"
	"github.com/asklens/asklens/pkg/models"
)

// Executor is the execution contract the pipeline depends on.
type Executor interface {
	Execute(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error)
}

// SQLExecutor executes against a database/sql pool.
type SQLExecutor struct {
	db      *sql.DB
	maxRows int
	timeout time.Duration
}

// Open connects to the warehouse through the pgx stdlib driver.
func Open(db config.DatabaseConfig, exec config.ExecutorConfig) (*SQLExecutor, error) {
	pool, err := sql.Open("pgx", db.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(db.MaxConnections)
	return NewSQLExecutor(pool, exec), nil
}

// NewSQLExecutor wraps an existing pool.
func NewSQLExecutor(db *sql.DB, cfg config.ExecutorConfig) *SQLExecutor {
	return &SQLExecutor{db: db, maxRows: cfg.MaxRows, timeout: cfg.Timeout}
}

// Close releases the pool.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// Execute runs the query with its bound parameters and maps rows to
// column-keyed maps. Fetching stops at the row ceiling.
func (e *SQLExecutor) Execute(ctx context.Context, q *models.CompiledQuery) (*models.QueryResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()

	rows, err := e.db.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &models.QueryResult{Columns: cols}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowCount = len(result.Rows)

	log.Debug().
		Int("rows", result.RowCount).
		Bool("truncated", result.Truncated).
		Dur("latency", time.Since(start)).
		Msg("query executed")
	return result, nil
}

// normalize converts driver byte slices to strings so results marshal as
// text instead of base64.
func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
