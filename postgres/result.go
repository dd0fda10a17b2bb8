package postgres

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is a fully materialized query result.
type Result struct {
	Columns    []string
	Rows       []map[string]any
	RowCount   int64
	CommandTag string
}

func columnNames(fields []pgconn.FieldDescription) []string {
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name)
	}

	return columns
}

func newResult(columns []string, tag pgconn.CommandTag, records []map[string]any) *Result {
	if records == nil {
		records = []map[string]any{}
	}

	return &Result{
		Columns:    columns,
		Rows:       records,
		RowCount:   tag.RowsAffected(),
		CommandTag: tag.String(),
	}
}

// PoolStats is a snapshot of connection pool usage.
type PoolStats struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	TotalConns    int32 `json:"total_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

func newPoolStats(s *pgxpool.Stat) *PoolStats {
	return &PoolStats{
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
		TotalConns:    s.TotalConns(),
		MaxConns:      s.MaxConns(),
		AcquireCount:  s.AcquireCount(),
	}
}
