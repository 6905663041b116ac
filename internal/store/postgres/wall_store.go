package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// WallStore implements domain.WallStore using PostgreSQL.
type WallStore struct {
	pool *pgxpool.Pool
}

// NewWallStore creates a new WallStore backed by the given connection pool.
func NewWallStore(pool *pgxpool.Pool) *WallStore {
	return &WallStore{pool: pool}
}

const wallSelectCols = `id, venue, side, price, size_base, size_quote, peak_size_quote,
	status, detected_at, ended_at, end_reason, price_at_detection, price_at_end, distance_pct`

func scanWallRows(rows pgx.Rows) ([]domain.WallRecord, error) {
	var walls []domain.WallRecord
	for rows.Next() {
		var w domain.WallRecord
		if err := rows.Scan(
			&w.ID, &w.Venue, &w.Side, &w.Price, &w.SizeBase, &w.SizeQuote, &w.PeakSizeQuote,
			&w.Status, &w.DetectedAt, &w.EndedAt, &w.EndReason,
			&w.PriceAtDetection, &w.PriceAtEnd, &w.DistancePct,
		); err != nil {
			return nil, err
		}
		walls = append(walls, w)
	}
	return walls, rows.Err()
}

// Insert stores a newly detected wall and returns its id.
func (s *WallStore) Insert(ctx context.Context, w domain.WallRecord) (int64, error) {
	status := w.Status
	if status == "" {
		status = domain.WallStatusActive
	}
	const query = `
		INSERT INTO walls (
			venue, side, price, size_base, size_quote, peak_size_quote,
			status, detected_at, price_at_detection, distance_pct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		string(w.Venue), string(w.Side), w.Price, w.SizeBase, w.SizeQuote, w.PeakSizeQuote,
		string(status), w.DetectedAt, w.PriceAtDetection, w.DistancePct,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert wall: %w", err)
	}
	return id, nil
}

// Close ends an active wall. Closing a wall that is already ended is a
// no-op.
func (s *WallStore) Close(ctx context.Context, id int64, status domain.WallStatus, priceAtEnd, peakQuote float64, endedAt time.Time) error {
	const query = `
		UPDATE walls SET
			status          = $2,
			end_reason      = $2,
			ended_at        = $3,
			price_at_end    = $4,
			peak_size_quote = GREATEST(peak_size_quote, $5)
		WHERE id = $1 AND status = 'active'`

	_, err := s.pool.Exec(ctx, query, id, string(status), endedAt, priceAtEnd, peakQuote)
	if err != nil {
		return fmt.Errorf("postgres: close wall %d: %w", id, err)
	}
	return nil
}

// ListActive returns the active walls of venue.
func (s *WallStore) ListActive(ctx context.Context, venue domain.Venue) ([]domain.WallRecord, error) {
	query := `SELECT ` + wallSelectCols + ` FROM walls WHERE status = 'active' AND venue = $1 ORDER BY size_quote DESC`

	rows, err := s.pool.Query(ctx, query, string(venue))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active walls: %w", err)
	}
	defer rows.Close()

	walls, err := scanWallRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active walls: %w", err)
	}
	return walls, nil
}

// ListHistory returns ended walls, newest first.
func (s *WallStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.WallRecord, error) {
	query, args := listQuery(
		`SELECT `+wallSelectCols+` FROM walls WHERE status <> 'active'`,
		nil, "detected_at", "venue", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wall history: %w", err)
	}
	defer rows.Close()

	walls, err := scanWallRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan wall history: %w", err)
	}
	return walls, nil
}

// MarkActiveUnknown closes every active wall with status unknown.
func (s *WallStore) MarkActiveUnknown(ctx context.Context, endedAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE walls SET status = 'unknown', end_reason = 'shutdown', ended_at = $1 WHERE status = 'active'`,
		endedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark active walls unknown: %w", err)
	}
	return tag.RowsAffected(), nil
}
