// File: cache.go
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ParleyChat/go-api/parley/postgres/models"
)

// DefaultTTL is how long a cached verdict stays valid before a full
// re-enrichment is forced.
const DefaultTTL = 24 * time.Hour

// VerdictStore is the durable key→verdict store consulted by the enricher.
// Get returns nil (not an error) for a miss; errors indicate the storage
// layer itself failed and must surface to the caller.
type VerdictStore interface {
	Get(ctx context.Context, target Target) (*Verdict, error)
	Put(ctx context.Context, target Target, v Verdict) error
	Purge(ctx context.Context, kind TargetKind) (int64, error)
}

// Cache implements VerdictStore on top of the scan_caches table.
type Cache struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewCache wraps a database handle. A non-positive ttl selects DefaultTTL.
func NewCache(db *gorm.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{db: db, ttl: ttl}
}

// Get returns the stored verdict for a target if one exists and is still
// fresh. An expired entry is treated as a miss; the stale row stays in
// storage until the next Put overwrites it.
func (c *Cache) Get(ctx context.Context, target Target) (*Verdict, error) {
	var entry models.ScanCache
	err := c.db.WithContext(ctx).
		Where("type = ? AND identifier = ?", string(target.Kind), target.Identifier).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache query for %s '%s' failed: %w", target.Kind, target.Identifier, err)
	}

	if time.Since(entry.LastScannedAt) >= c.ttl {
		// Expired: force a re-scan. The row is overwritten on the next Put.
		return nil, nil
	}

	data, err := json.Marshal(entry.Result)
	if err != nil {
		return nil, fmt.Errorf("scan cache entry for '%s' is not valid JSON: %w", target.Identifier, err)
	}
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("scan cache entry for '%s' does not decode to a verdict: %w", target.Identifier, err)
	}
	return &v, nil
}

// Put upserts the verdict for a target and refreshes its scan timestamp.
// The transient cached flag is stripped before persisting. Safe to call
// repeatedly with the same verdict.
func (c *Cache) Put(ctx context.Context, target Target, v Verdict) error {
	v.Cached = nil

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict for '%s': %w", target.Identifier, err)
	}
	var result models.JSONB
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("convert verdict for '%s': %w", target.Identifier, err)
	}

	entry := models.ScanCache{
		Type:          string(target.Kind),
		Identifier:    target.Identifier,
		Result:        result,
		LastScannedAt: time.Now(),
	}

	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "result", "last_scanned_at", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("scan cache write for %s '%s' failed: %w", target.Kind, target.Identifier, err)
	}
	return nil
}

// Purge deletes all cached verdicts, or only those of one kind when kind is
// non-empty. Returns the number of rows removed.
func (c *Cache) Purge(ctx context.Context, kind TargetKind) (int64, error) {
	query := c.db.WithContext(ctx)
	if kind != "" {
		query = query.Where("type = ?", string(kind))
	} else {
		query = query.Session(&gorm.Session{AllowGlobalUpdate: true})
	}

	result := query.Unscoped().Delete(&models.ScanCache{})
	if result.Error != nil {
		return 0, fmt.Errorf("scan cache purge failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}
