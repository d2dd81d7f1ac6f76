package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warsite/contentpipe/internal/models"
)

// MemoryItemRepository implements an in-memory item store for testing/development.
// It enforces the same canonical-link uniqueness as the SQL store.
type MemoryItemRepository struct {
	mu      sync.RWMutex
	items   map[string]models.ProcessedItem // canonical link -> item
	hashIdx map[string]string               // content hash -> canonical link
	order   []string                        // insertion order of links
}

// NewMemoryItemRepository creates a new in-memory item repository.
func NewMemoryItemRepository() *MemoryItemRepository {
	return &MemoryItemRepository{
		items:   make(map[string]models.ProcessedItem),
		hashIdx: make(map[string]string),
	}
}

// Insert stores a new item or returns ErrConflict if the link exists.
func (r *MemoryItemRepository) Insert(ctx context.Context, item *models.ProcessedItem) error {
	if item.CanonicalLink == "" {
		return fmt.Errorf("item canonical link is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.CanonicalLink]; exists {
		return fmt.Errorf("item %s: %w", item.CanonicalLink, ErrConflict)
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

	stored := *item
	stored.Categories = models.NormalizeCategories(item.Categories)
	r.items[item.CanonicalLink] = stored
	if item.ContentHash != "" {
		r.hashIdx[item.ContentHash] = item.CanonicalLink
	}
	r.order = append(r.order, item.CanonicalLink)
	return nil
}

// Upsert inserts the item unless the link exists, reporting created=false on conflict.
func (r *MemoryItemRepository) Upsert(ctx context.Context, item *models.ProcessedItem) (bool, error) {
	if err := r.Insert(ctx, item); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ExistsByLink reports whether the canonical link is stored.
func (r *MemoryItemRepository) ExistsByLink(ctx context.Context, link string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[link]
	return ok, nil
}

// ExistsByHash reports whether the content hash is stored.
func (r *MemoryItemRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hashIdx[hash]
	return ok, nil
}

// GetByLink returns the stored item for a canonical link.
func (r *MemoryItemRepository) GetByLink(ctx context.Context, link string) (*models.ProcessedItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[link]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

// RecentBySource returns up to limit items from a source, newest first.
func (r *MemoryItemRepository) RecentBySource(ctx context.Context, sourceID string, limit int) ([]models.ProcessedItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ProcessedItem
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		item := r.items[r.order[i]]
		if item.SourceID == sourceID {
			out = append(out, item)
		}
	}
	return out, nil
}

// Count returns the number of stored items.
func (r *MemoryItemRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

// MemorySourceRepository implements an in-memory source registry for testing/development.
type MemorySourceRepository struct {
	mu      sync.RWMutex
	sources map[string]models.Source
	saves   int
}

// NewMemorySourceRepository creates a new in-memory source repository.
func NewMemorySourceRepository() *MemorySourceRepository {
	return &MemorySourceRepository{sources: make(map[string]models.Source)}
}

// List returns all sources ordered by ID.
func (r *MemorySourceRepository) List(ctx context.Context) ([]models.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one source by ID.
func (r *MemorySourceRepository) Get(ctx context.Context, id string) (*models.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return &s, nil
}

// SyncFromConfig mirrors SourceRepository.SyncFromConfig.
func (r *MemorySourceRepository) SyncFromConfig(ctx context.Context, sources []models.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range sources {
		existing, ok := r.sources[cfg.ID]
		if !ok {
			r.sources[cfg.ID] = cfg
			continue
		}
		merged := mergeConfig(existing, cfg)
		r.sources[cfg.ID] = merged
	}
	return nil
}

// SaveSchedule persists scheduler-owned fields.
func (r *MemorySourceRepository) SaveSchedule(ctx context.Context, src models.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sources[src.ID]
	if !ok {
		return fmt.Errorf("source %s: %w", src.ID, ErrNotFound)
	}
	existing.Interval = src.Interval
	existing.Enabled = src.Enabled
	existing.LastRunAt = src.LastRunAt
	existing.NextRunAt = src.NextRunAt
	existing.ConsecutiveFailures = src.ConsecutiveFailures
	existing.DisabledReason = src.DisabledReason
	r.sources[src.ID] = existing
	r.saves++
	return nil
}

// Enable re-enables a source and clears its failure state.
func (r *MemorySourceRepository) Enable(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	s.Enabled = true
	s.ConsecutiveFailures = 0
	s.DisabledReason = ""
	s.NextRunAt = nil
	r.sources[id] = s
	return nil
}

// SaveCount returns how many schedule saves were recorded.
func (r *MemorySourceRepository) SaveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}
