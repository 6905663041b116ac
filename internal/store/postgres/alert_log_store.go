package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// AlertLogStore implements domain.AlertLogStore using PostgreSQL.
type AlertLogStore struct {
	pool *pgxpool.Pool
}

// NewAlertLogStore creates a new AlertLogStore backed by the given connection pool.
func NewAlertLogStore(pool *pgxpool.Pool) *AlertLogStore {
	return &AlertLogStore{pool: pool}
}

// Insert records a dispatched alert. Re-inserting an id is ignored.
func (s *AlertLogStore) Insert(ctx context.Context, a domain.AlertEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_log (id, ts, kind, topic, text) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Time, string(a.Kind), string(a.Topic), a.Text,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert log: %w", err)
	}
	return nil
}

// List returns logged alerts, newest first.
func (s *AlertLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AlertEvent, error) {
	query, args := listQuery(`SELECT id, ts, kind, topic, text FROM alert_log WHERE TRUE`, nil, "ts", "", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alert log: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertEvent
	for rows.Next() {
		var a domain.AlertEvent
		if err := rows.Scan(&a.ID, &a.Time, &a.Kind, &a.Topic, &a.Text); err != nil {
			return nil, fmt.Errorf("postgres: scan alert log: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alert log rows: %w", err)
	}
	return out, nil
}
