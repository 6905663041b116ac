package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// retentionFilters maps each table subject to retention to the predicate
// selecting rows older than $1. Walls only qualify once they have ended.
var retentionFilters = map[string]string{
	"walls":            "ended_at IS NOT NULL AND ended_at < $1",
	"large_trades":     "ts < $1",
	"liquidations":     "ts < $1",
	"trade_aggregates": "ts < $1",
	"book_metrics":     "ts < $1",
	"alert_log":        "ts < $1",
}

// RetentionTables lists the tables in the order retention processes them.
var RetentionTables = []string{
	"walls", "large_trades", "liquidations", "trade_aggregates", "book_metrics", "alert_log",
}

func retentionFilter(table string) (string, error) {
	f, ok := retentionFilters[table]
	if !ok {
		return "", fmt.Errorf("postgres: table %q is not subject to retention", table)
	}
	return f, nil
}

// RetentionStore implements domain.RetentionStore using PostgreSQL.
type RetentionStore struct {
	pool *pgxpool.Pool
}

// NewRetentionStore creates a new RetentionStore backed by the given connection pool.
func NewRetentionStore(pool *pgxpool.Pool) *RetentionStore {
	return &RetentionStore{pool: pool}
}

// Export streams the expiring rows of table to w, one JSON object per line
// keyed by column name.
func (s *RetentionStore) Export(ctx context.Context, table string, before time.Time, w io.Writer) (int64, error) {
	filter, err := retentionFilter(table)
	if err != nil {
		return 0, err
	}

	rows, err := s.pool.Query(ctx, `SELECT * FROM `+table+` WHERE `+filter, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: export %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	enc := json.NewEncoder(w)
	var n int64
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return n, fmt.Errorf("postgres: export %s values: %w", table, err)
		}
		rec := make(map[string]any, len(fields))
		for i, f := range fields {
			rec[f.Name] = vals[i]
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("postgres: export %s encode: %w", table, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("postgres: export %s rows: %w", table, err)
	}
	return n, nil
}

// Purge deletes the expiring rows of table.
func (s *RetentionStore) Purge(ctx context.Context, table string, before time.Time) (int64, error) {
	filter, err := retentionFilter(table)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE `+filter, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}
