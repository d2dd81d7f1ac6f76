package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/warsite/contentpipe/internal/models"
)

var itemColumns = []string{
	"id", "title", "body", "original_title", "original_body", "canonical_link",
	"source_id", "media_ref", "quality_score", "uniqueness_score", "categories",
	"content_hash", "used_fallback", "status", "published_at", "created_at",
}

// ItemRepository persists accepted items. The unique index on canonical_link
// makes a second insert for the same link fail with ErrConflict.
type ItemRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewItemRepository creates an item repository for the given dialect.
func NewItemRepository(db *sql.DB, dialect Dialect) *ItemRepository {
	return &ItemRepository{db: db, dialect: dialect}
}

// Insert stores a new item. It fills ID, Status and CreatedAt when unset.
func (r *ItemRepository) Insert(ctx context.Context, item *models.ProcessedItem) error {
	if item.CanonicalLink == "" {
		return fmt.Errorf("item canonical link is required")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusAccepted
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	categories, err := json.Marshal(models.NormalizeCategories(item.Categories))
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	query, args, err := r.dialect.builder().
		Insert("items").
		Columns(itemColumns...).
		Values(
			item.ID, item.Title, item.Body, item.OriginalTitle, item.OriginalBody, item.CanonicalLink,
			item.SourceID, item.MediaRef, item.QualityScore, item.UniquenessScore, string(categories),
			item.ContentHash, item.UsedFallback, string(item.Status), nullTime(item.PublishedAt), item.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("item %s: %w", item.CanonicalLink, ErrConflict)
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// Upsert inserts the item unless its canonical link is already stored, in
// which case it reports created=false and leaves the stored row untouched.
func (r *ItemRepository) Upsert(ctx context.Context, item *models.ProcessedItem) (bool, error) {
	if err := r.Insert(ctx, item); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ExistsByLink reports whether an item with the canonical link is stored.
func (r *ItemRepository) ExistsByLink(ctx context.Context, link string) (bool, error) {
	return r.exists(ctx, sq.Eq{"canonical_link": link})
}

// ExistsByHash reports whether an item with the content hash is stored.
func (r *ItemRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	return r.exists(ctx, sq.Eq{"content_hash": hash})
}

func (r *ItemRepository) exists(ctx context.Context, pred sq.Eq) (bool, error) {
	query, args, err := r.dialect.builder().
		Select("1").
		From("items").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query items: %w", err)
	}
	return true, nil
}

// GetByLink returns the item stored under the canonical link.
func (r *ItemRepository) GetByLink(ctx context.Context, link string) (*models.ProcessedItem, error) {
	query, args, err := r.dialect.builder().
		Select(itemColumns...).
		From("items").
		Where(sq.Eq{"canonical_link": link}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RecentBySource returns up to limit items from a source, newest first.
func (r *ItemRepository) RecentBySource(ctx context.Context, sourceID string, limit int) ([]models.ProcessedItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := r.dialect.builder().
		Select(itemColumns...).
		From("items").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent items: %w", err)
	}
	defer rows.Close()

	var items []models.ProcessedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// Count returns the number of stored items.
func (r *ItemRepository) Count(ctx context.Context) (int, error) {
	query, args, err := r.dialect.builder().Select("COUNT(*)").From("items").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.ProcessedItem, error) {
	var (
		item        models.ProcessedItem
		categories  string
		status      string
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&item.ID, &item.Title, &item.Body, &item.OriginalTitle, &item.OriginalBody, &item.CanonicalLink,
		&item.SourceID, &item.MediaRef, &item.QualityScore, &item.UniquenessScore, &categories,
		&item.ContentHash, &item.UsedFallback, &status, &publishedAt, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	if categories != "" {
		if err := json.Unmarshal([]byte(categories), &item.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
	}
	item.Status = models.ItemStatus(status)
	item.PublishedAt = timePtr(publishedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}
