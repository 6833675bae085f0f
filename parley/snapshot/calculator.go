package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ParleyChat/go-api/parley/postgres/models"
	"github.com/ParleyChat/go-api/parley/scan"
	"github.com/ParleyChat/go-api/parley/store"
)

// SnapshotCalculator turns the current verdict cache contents into one
// aggregate snapshot and writes it to the key-value store.
type SnapshotCalculator struct {
	db      *gorm.DB
	kvStore store.KVStore
	ttl     time.Duration
}

// NewSnapshotCalculator wraps a database handle and key-value store. ttl is
// the verdict cache freshness window used to split fresh from stale entries;
// non-positive selects the cache default.
func NewSnapshotCalculator(db *gorm.DB, kvStore store.KVStore, ttl time.Duration) *SnapshotCalculator {
	if ttl <= 0 {
		ttl = scan.DefaultTTL
	}
	return &SnapshotCalculator{db: db, kvStore: kvStore, ttl: ttl}
}

// CalculateSnapshot aggregates the verdict cache into a snapshot. An empty
// snapshotID selects one derived from the current UTC time.
func (sc *SnapshotCalculator) CalculateSnapshot(snapshotID string) (*store.ScanSnapshot, error) {
	startTime := time.Now()
	now := time.Now().UTC()

	if snapshotID == "" {
		snapshotID = now.Format("2006-01-02-150405")
	}

	snapshot := &store.ScanSnapshot{
		SnapshotID: snapshotID,
		Timestamp:  now,
	}

	var entries []models.ScanCache
	err := sc.db.Order("last_scanned_at ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	// Aggregate in Go rather than with JSON SQL operators so the math is
	// identical on every backing driver.
	cutoff := now.Add(-sc.ttl)
	byDay := map[string]*store.DailyScanStat{}
	dayOrder := []string{}

	for _, entry := range entries {
		snapshot.Counts.Total++
		isURL := entry.Type == string(scan.TargetURL)
		if isURL {
			snapshot.Counts.URLs++
		} else {
			snapshot.Counts.Files++
		}

		unsafe := isUnsafe(entry.Result)
		if unsafe {
			snapshot.Counts.Unsafe++
		}

		if entry.LastScannedAt.Before(cutoff) {
			snapshot.Counts.Stale++
		} else {
			snapshot.Counts.Fresh++
		}

		day := entry.LastScannedAt.UTC().Format("2006-01-02")
		stat, ok := byDay[day]
		if !ok {
			stat = &store.DailyScanStat{Day: day}
			byDay[day] = stat
			dayOrder = append(dayOrder, day)
		}
		stat.Total++
		if isURL {
			stat.URLs++
		} else {
			stat.Files++
		}
		if unsafe {
			stat.Unsafe++
		}
	}

	snapshot.ByDay = make([]store.DailyScanStat, 0, len(dayOrder))
	for _, day := range dayOrder {
		snapshot.ByDay = append(snapshot.ByDay, *byDay[day])
	}

	snapshot.Metadata = store.SnapshotMetadata{
		CacheTTLHours:      sc.ttl.Hours(),
		SnapshotDurationMs: time.Since(startTime).Milliseconds(),
	}

	return snapshot, nil
}

// SaveSnapshot writes a snapshot under its ID-derived key.
func (sc *SnapshotCalculator) SaveSnapshot(ctx context.Context, snapshot *store.ScanSnapshot) error {
	key := fmt.Sprintf("scan:snapshot:%s", snapshot.SnapshotID)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return sc.kvStore.SetValue(ctx, key, string(data))
}

// isUnsafe reads the stored verdict's isSafe marker. Malformed or missing
// values count as safe; the cache only ever holds successful verdicts.
func isUnsafe(result models.JSONB) bool {
	v, ok := result["isSafe"]
	if !ok {
		return false
	}
	safe, ok := v.(bool)
	return ok && !safe
}
