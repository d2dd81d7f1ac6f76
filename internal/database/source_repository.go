package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/warsite/contentpipe/internal/models"
)

var sourceColumns = []string{
	"id", "name", "url", "kind", "priority", "language",
	"interval_seconds", "min_interval_seconds", "max_interval_seconds", "enabled",
	"last_run_at", "next_run_at", "consecutive_failures", "disabled_reason",
}

// SourceRepository is the source registry. Identity fields are written by
// SyncFromConfig; schedule fields only by SaveSchedule.
type SourceRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewSourceRepository creates a source repository for the given dialect.
func NewSourceRepository(db *sql.DB, dialect Dialect) *SourceRepository {
	return &SourceRepository{db: db, dialect: dialect}
}

// List returns all registered sources ordered by ID.
func (r *SourceRepository) List(ctx context.Context) ([]models.Source, error) {
	query, args, err := r.dialect.builder().
		Select(sourceColumns...).
		From("sources").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	return sources, nil
}

// Get returns one source by ID.
func (r *SourceRepository) Get(ctx context.Context, id string) (*models.Source, error) {
	query, args, err := r.dialect.builder().
		Select(sourceColumns...).
		From("sources").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	src, err := scanSource(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return src, err
}

// SyncFromConfig inserts configured sources that are new and refreshes the
// identity fields of known ones. Schedule state survives the sync; a source
// disabled by the scheduler stays disabled until Enable is called.
func (r *SourceRepository) SyncFromConfig(ctx context.Context, sources []models.Source) error {
	for _, cfg := range sources {
		existing, err := r.Get(ctx, cfg.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := r.insert(ctx, cfg); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		merged := mergeConfig(*existing, cfg)
		if err := r.update(ctx, merged); err != nil {
			return err
		}
	}
	return nil
}

// SaveSchedule persists the scheduler-owned fields of a source.
func (r *SourceRepository) SaveSchedule(ctx context.Context, src models.Source) error {
	query, args, err := r.dialect.builder().
		Update("sources").
		Set("interval_seconds", int64(src.Interval/time.Second)).
		Set("enabled", src.Enabled).
		Set("last_run_at", nullTime(src.LastRunAt)).
		Set("next_run_at", nullTime(src.NextRunAt)).
		Set("consecutive_failures", src.ConsecutiveFailures).
		Set("disabled_reason", src.DisabledReason).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": src.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save schedule for %s: %w", src.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source %s: %w", src.ID, ErrNotFound)
	}
	return nil
}

// Enable re-enables a source and clears its failure state.
func (r *SourceRepository) Enable(ctx context.Context, id string) error {
	query, args, err := r.dialect.builder().
		Update("sources").
		Set("enabled", true).
		Set("consecutive_failures", 0).
		Set("disabled_reason", "").
		Set("next_run_at", nil).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to enable source %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return nil
}

// mergeConfig applies configured identity fields onto a stored source while
// keeping its schedule state.
func mergeConfig(existing, cfg models.Source) models.Source {
	merged := existing
	merged.Name = cfg.Name
	merged.URL = cfg.URL
	merged.Kind = cfg.Kind
	merged.Priority = cfg.Priority
	merged.Language = cfg.Language
	merged.MinInterval = cfg.MinInterval
	merged.MaxInterval = cfg.MaxInterval
	merged.Interval = merged.ClampInterval(merged.Interval)
	if !cfg.Enabled {
		merged.Enabled = false
	} else if existing.DisabledReason == "" {
		merged.Enabled = true
	}
	return merged
}

func (r *SourceRepository) insert(ctx context.Context, src models.Source) error {
	now := time.Now().UTC()
	query, args, err := r.dialect.builder().
		Insert("sources").
		Columns(append(append([]string{}, sourceColumns...), "created_at", "updated_at")...).
		Values(
			src.ID, src.Name, src.URL, string(src.Kind), string(src.Priority), src.Language,
			int64(src.Interval/time.Second), int64(src.MinInterval/time.Second), int64(src.MaxInterval/time.Second), src.Enabled,
			nullTime(src.LastRunAt), nullTime(src.NextRunAt), src.ConsecutiveFailures, src.DisabledReason,
			now, now,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source %s: %w", src.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert source %s: %w", src.ID, err)
	}
	return nil
}

func (r *SourceRepository) update(ctx context.Context, src models.Source) error {
	query, args, err := r.dialect.builder().
		Update("sources").
		Set("name", src.Name).
		Set("url", src.URL).
		Set("kind", string(src.Kind)).
		Set("priority", string(src.Priority)).
		Set("language", src.Language).
		Set("interval_seconds", int64(src.Interval/time.Second)).
		Set("min_interval_seconds", int64(src.MinInterval/time.Second)).
		Set("max_interval_seconds", int64(src.MaxInterval/time.Second)).
		Set("enabled", src.Enabled).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": src.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update source %s: %w", src.ID, err)
	}
	return nil
}

func scanSource(row rowScanner) (*models.Source, error) {
	var (
		src                      models.Source
		kind, priority           string
		interval, minIvl, maxIvl int64
		lastRunAt, nextRunAt     sql.NullTime
	)

	err := row.Scan(
		&src.ID, &src.Name, &src.URL, &kind, &priority, &src.Language,
		&interval, &minIvl, &maxIvl, &src.Enabled,
		&lastRunAt, &nextRunAt, &src.ConsecutiveFailures, &src.DisabledReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	src.Kind = models.SourceKind(kind)
	src.Priority = models.SourcePriority(priority)
	src.Interval = time.Duration(interval) * time.Second
	src.MinInterval = time.Duration(minIvl) * time.Second
	src.MaxInterval = time.Duration(maxIvl) * time.Second
	src.LastRunAt = timePtr(lastRunAt)
	src.NextRunAt = timePtr(nextRunAt)
	return &src, nil
}
