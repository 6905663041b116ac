package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

const retentionLockTTL = time.Hour

// TableArchiver uploads the expiring rows of a table to cold storage.
type TableArchiver interface {
	Archive(ctx context.Context, table string, before time.Time) (int64, string, error)
}

// RetentionReport is the outcome of one retention run for one table.
type RetentionReport struct {
	Table    string
	Archived int64
	Object   string
	Purged   int64
	Err      error
}

// RunRetention archives and deletes rows older than the retention window.
// A table whose archive fails keeps its rows. The run is skipped when
// another instance holds the retention lock.
func (s *Scheduler) RunRetention(ctx context.Context) error {
	_, err := s.Retain(ctx)
	return err
}

// Retain is RunRetention returning the per-table reports.
func (s *Scheduler) Retain(ctx context.Context) ([]RetentionReport, error) {
	if s.deps.Retention == nil || s.cfg.RetentionDays < 1 {
		return nil, nil
	}
	if s.deps.Lock != nil {
		unlock, err := s.deps.Lock.Acquire(ctx, "retention", retentionLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("retention skipped, lock held elsewhere")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: retention lock: %w", err)
		}
		defer unlock()
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	s.logger.Info("retention starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", s.cfg.RetentionDays),
		slog.Bool("archive", s.deps.Archiver != nil),
	)

	reports := make([]RetentionReport, 0, len(s.deps.Tables))
	var errs []error
	for _, table := range s.deps.Tables {
		rep := s.retainTable(ctx, table, cutoff)
		if rep.Err != nil {
			errs = append(errs, rep.Err)
			s.logger.Error("retention failed",
				slog.String("table", table),
				slog.String("error", rep.Err.Error()),
			)
		} else {
			s.logger.Info("retention done",
				slog.String("table", table),
				slog.Int64("archived", rep.Archived),
				slog.Int64("purged", rep.Purged),
				slog.String("object", rep.Object),
			)
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

func (s *Scheduler) retainTable(ctx context.Context, table string, cutoff time.Time) RetentionReport {
	rep := RetentionReport{Table: table}
	if s.deps.Archiver != nil {
		n, key, err := s.deps.Archiver.Archive(ctx, table, cutoff)
		if err != nil {
			rep.Err = fmt.Errorf("pipeline: archive %s: %w", table, err)
			return rep
		}
		rep.Archived, rep.Object = n, key
	}
	n, err := s.deps.Retention.Purge(ctx, table, cutoff)
	if err != nil {
		rep.Err = fmt.Errorf("pipeline: purge %s: %w", table, err)
		return rep
	}
	rep.Purged = n
	return rep
}
