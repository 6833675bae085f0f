// Package snapshot builds point-in-time aggregates of scan cache activity
// and keeps a short history of them in the key-value store for dashboards
// and trend views.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ParleyChat/go-api/parley/store"
)

// retainLimit is how many snapshots survive cleanup. Trend queries are
// capped at the same depth since anything older has been deleted.
const retainLimit = 10

// SnapshotManager owns the stored snapshot lifecycle: building new ones,
// reading them back, and trimming history past the retention window.
type SnapshotManager struct {
	kvStore    store.KVStore
	calculator *SnapshotCalculator
}

// NewSnapshotManager builds a manager over the given database handle and
// key-value store. ttl is the cache freshness window passed through to the
// calculator.
func NewSnapshotManager(db *gorm.DB, kvStore store.KVStore, ttl time.Duration) *SnapshotManager {
	return &SnapshotManager{
		kvStore:    kvStore,
		calculator: NewSnapshotCalculator(db, kvStore, ttl),
	}
}

// CreateSnapshot builds a snapshot, stores it, and trims old history. An
// empty snapshotID selects a timestamp-derived one. A cleanup failure is
// logged, not returned; the new snapshot is already safely stored.
func (sm *SnapshotManager) CreateSnapshot(ctx context.Context, snapshotID string) (*store.ScanSnapshot, error) {
	snapshot, err := sm.calculator.CalculateSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}

	if err := sm.calculator.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	if err := sm.CleanupOldSnapshots(ctx); err != nil {
		slog.Warn("Failed to cleanup old snapshots", "error", err)
	}

	return snapshot, nil
}

// GetSnapshot loads one snapshot by ID.
func (sm *SnapshotManager) GetSnapshot(ctx context.Context, snapshotID string) (*store.ScanSnapshot, error) {
	key := fmt.Sprintf("scan:snapshot:%s", snapshotID)

	value, err := sm.kvStore.GetValue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("snapshot not found for ID %s: %w", snapshotID, err)
	}

	var snapshot store.ScanSnapshot
	if err := json.Unmarshal([]byte(value), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListSnapshots returns every stored snapshot ID, newest first. IDs are
// timestamp-formatted, so a descending lexical sort is a descending time
// sort.
func (sm *SnapshotManager) ListSnapshots(ctx context.Context) ([]string, error) {
	keys, err := sm.kvStore.ListKeys(ctx, "scan:snapshot:*")
	if err != nil {
		return nil, err
	}

	snapshotIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, "scan:snapshot:")
		if id == key {
			continue // foreign key in the namespace
		}
		snapshotIDs = append(snapshotIDs, id)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(snapshotIDs)))
	return snapshotIDs, nil
}

// GetTrendData loads up to limit of the newest snapshots for trend views.
// Snapshots that fail to decode are skipped rather than failing the whole
// series.
func (sm *SnapshotManager) GetTrendData(ctx context.Context, limit int) ([]*store.ScanSnapshot, error) {
	if limit > retainLimit {
		limit = retainLimit
	}

	ids, err := sm.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	snapshots := make([]*store.ScanSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := sm.GetSnapshot(ctx, id)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// CleanupOldSnapshots deletes everything past the retention window. A
// single failed delete is logged and skipped so one bad key cannot wedge
// retention forever.
func (sm *SnapshotManager) CleanupOldSnapshots(ctx context.Context) error {
	snapshotIDs, err := sm.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snapshotIDs) <= retainLimit {
		return nil
	}

	for _, snapshotID := range snapshotIDs[retainLimit:] {
		key := fmt.Sprintf("scan:snapshot:%s", snapshotID)
		if err := sm.kvStore.DeleteValue(ctx, key); err != nil {
			slog.Warn("Failed to delete old snapshot", "key", key, "error", err)
		}
	}
	return nil
}

// GetLatestSnapshot loads the newest stored snapshot.
func (sm *SnapshotManager) GetLatestSnapshot(ctx context.Context) (*store.ScanSnapshot, error) {
	snapshotIDs, err := sm.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshotIDs) == 0 {
		return nil, fmt.Errorf("no snapshots available")
	}
	return sm.GetSnapshot(ctx, snapshotIDs[0])
}
