package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// SettingsStore implements domain.SettingsStore using PostgreSQL.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the setting of kind, or domain.ErrNotFound.
func (s *SettingsStore) Get(ctx context.Context, kind domain.AlertKind) (domain.NotificationSetting, error) {
	var ns domain.NotificationSetting
	err := s.pool.QueryRow(ctx,
		`SELECT kind, enabled, threshold_quote, updated_at FROM notification_settings WHERE kind = $1`,
		string(kind),
	).Scan(&ns.Kind, &ns.Enabled, &ns.ThresholdQuote, &ns.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotificationSetting{}, domain.ErrNotFound
		}
		return domain.NotificationSetting{}, fmt.Errorf("postgres: get setting %s: %w", kind, err)
	}
	return ns, nil
}

// List returns every stored setting ordered by kind.
func (s *SettingsStore) List(ctx context.Context) ([]domain.NotificationSetting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, enabled, threshold_quote, updated_at FROM notification_settings ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settings: %w", err)
	}
	defer rows.Close()

	var out []domain.NotificationSetting
	for rows.Next() {
		var ns domain.NotificationSetting
		if err := rows.Scan(&ns.Kind, &ns.Enabled, &ns.ThresholdQuote, &ns.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan setting: %w", err)
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settings rows: %w", err)
	}
	return out, nil
}

// Toggle flips the enabled flag of kind. A kind without a row starts from
// enabled, so the first toggle disables it.
func (s *SettingsStore) Toggle(ctx context.Context, kind domain.AlertKind) (domain.NotificationSetting, error) {
	const query = `
		INSERT INTO notification_settings (kind, enabled, updated_at)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (kind) DO UPDATE SET
			enabled    = NOT notification_settings.enabled,
			updated_at = NOW()
		RETURNING kind, enabled, threshold_quote, updated_at`

	var ns domain.NotificationSetting
	err := s.pool.QueryRow(ctx, query, string(kind)).
		Scan(&ns.Kind, &ns.Enabled, &ns.ThresholdQuote, &ns.UpdatedAt)
	if err != nil {
		return domain.NotificationSetting{}, fmt.Errorf("postgres: toggle setting %s: %w", kind, err)
	}
	return ns, nil
}

// Upsert writes a setting.
func (s *SettingsStore) Upsert(ctx context.Context, ns domain.NotificationSetting) error {
	const query = `
		INSERT INTO notification_settings (kind, enabled, threshold_quote, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind) DO UPDATE SET
			enabled         = EXCLUDED.enabled,
			threshold_quote = EXCLUDED.threshold_quote,
			updated_at      = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(ns.Kind), ns.Enabled, ns.ThresholdQuote); err != nil {
		return fmt.Errorf("postgres: upsert setting %s: %w", ns.Kind, err)
	}
	return nil
}
