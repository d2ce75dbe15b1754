package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/asklens/asklens/internal/config"
	"github.com/asklens/asklens/pkg/models"
)

func newMockExecutor(t *testing.T, maxRows int) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLExecutor(db, config.ExecutorConfig{MaxRows: maxRows, Timeout: 5 * time.Second}), mock
}

func TestExecute_MapsRowsToColumns(t *testing.T) {
	e, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery("SELECT course_id, total_revenue FROM fact_golf_revenue WHERE tenant_id = \\$1").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "total_revenue"}).
			AddRow([]byte("pine-valley"), 25700).
			AddRow([]byte("oak-ridge"), 11300))

	result, err := e.Execute(context.Background(), &models.CompiledQuery{
		SQL:    "SELECT course_id, total_revenue FROM fact_golf_revenue WHERE tenant_id = $1",
		Params: []interface{}{"tenant-1"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.RowCount != 2 || result.Truncated {
		t.Errorf("RowCount = %d, Truncated = %v, want 2 rows untruncated", result.RowCount, result.Truncated)
	}
	if got := result.Rows[0]["course_id"]; got != "pine-valley" {
		t.Errorf("Rows[0][course_id] = %v (%T), want string pine-valley", got, got)
	}
	if got := result.Rows[1]["total_revenue"]; got != int64(11300) {
		t.Errorf("Rows[1][total_revenue] = %v, want 11300", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecute_TruncatesAtRowCeiling(t *testing.T) {
	e, mock := newMockExecutor(t, 2)

	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 5; i++ {
		rows.AddRow(i)
	}
	mock.ExpectQuery("SELECT n FROM series WHERE tenant_id = \\$1").
		WithArgs("t1").
		WillReturnRows(rows)

	result, err := e.Execute(context.Background(), &models.CompiledQuery{
		SQL:    "SELECT n FROM series WHERE tenant_id = $1",
		Params: []interface{}{"t1"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", result.RowCount)
	}
	if !result.Truncated {
		t.Error("Truncated = false, want true at the ceiling")
	}
}

func TestExecute_QueryErrorIsWrapped(t *testing.T) {
	e, mock := newMockExecutor(t, 1000)

	dbErr := errors.New(`column "nope" does not exist`)
	mock.ExpectQuery("SELECT nope").WillReturnError(dbErr)

	_, err := e.Execute(context.Background(), &models.CompiledQuery{
		SQL:    "SELECT nope FROM t WHERE tenant_id = $1",
		Params: []interface{}{"t1"},
	})
	if !errors.Is(err, dbErr) {
		t.Errorf("Execute() error = %v, want wrapped %v", err, dbErr)
	}
}
