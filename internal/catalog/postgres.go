// Package catalog — PostgreSQL Store implementation backed by pgxpool.
package catalog

import (
	"context"
	"fmt"

	"github.com/asklens/asklens/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads the field catalog from the catalog_datasets and
// catalog_fields tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and verifies reachability.
func NewPostgresStore(ctx context.Context, url string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) GetDataset(ctx context.Context, name string) (*models.DatasetInfo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT name, table_ref, is_time_series, COALESCE(date_field_key, '')
		 FROM catalog_datasets WHERE name = $1`, name)

	var info models.DatasetInfo
	if err := row.Scan(&info.Name, &info.TableRef, &info.IsTimeSeries, &info.DateFieldKey); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrNotFound{Dataset: name}
		}
		return nil, fmt.Errorf("get dataset %s: %w", name, err)
	}
	return &info, nil
}

func (s *PostgresStore) ListFields(ctx context.Context, dataset string) ([]models.FieldCatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dataset, field_key, label, data_type, COALESCE(aggregation, ''),
		        is_metric, is_filterable, is_sortable, column_expression, table_ref
		 FROM catalog_fields WHERE dataset = $1 ORDER BY field_key`, dataset)
	if err != nil {
		return nil, fmt.Errorf("list fields for %s: %w", dataset, err)
	}
	defer rows.Close()

	var entries []models.FieldCatalogEntry
	for rows.Next() {
		var e models.FieldCatalogEntry
		var agg string
		if err := rows.Scan(&e.Dataset, &e.FieldKey, &e.Label, &e.DataType, &agg,
			&e.IsMetric, &e.IsFilterable, &e.IsSortable, &e.ColumnExpression, &e.TableRef); err != nil {
			return nil, fmt.Errorf("scan field row: %w", err)
		}
		e.Aggregation = models.Aggregation(agg)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field rows: %w", err)
	}
	if len(entries) == 0 {
		return nil, &ErrNotFound{Dataset: dataset}
	}
	return entries, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context) ([]models.DatasetInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, table_ref, is_time_series, COALESCE(date_field_key, '')
		 FROM catalog_datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []models.DatasetInfo
	for rows.Next() {
		var info models.DatasetInfo
		if err := rows.Scan(&info.Name, &info.TableRef, &info.IsTimeSeries, &info.DateFieldKey); err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
