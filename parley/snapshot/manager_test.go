package snapshot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ParleyChat/go-api/parley/postgres"
	"github.com/ParleyChat/go-api/parley/postgres/models"
	"github.com/ParleyChat/go-api/parley/scan"
	"github.com/ParleyChat/go-api/parley/store"
)

// MockKVStore is a simple in-memory implementation of KVStore for testing
type MockKVStore struct {
	data map[string]string
}

func NewMockKVStore() *MockKVStore {
	return &MockKVStore{data: make(map[string]string)}
}

func (m *MockKVStore) SetValue(ctx context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *MockKVStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	m.data[key] = value
	return nil
}

func (m *MockKVStore) GetValue(ctx context.Context, key string) (string, error) {
	value, exists := m.data[key]
	if !exists {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (m *MockKVStore) SetExpire(ctx context.Context, key string, ttlSeconds int) error {
	return nil
}

func (m *MockKVStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.ReplaceAll(pattern, "*", "")
	keys := make([]string, 0)
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MockKVStore) DeleteValue(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *MockKVStore) Close() error {
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := postgres.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedCacheEntry(t *testing.T, db *gorm.DB, kind, identifier string, safe bool, scannedAt time.Time) {
	t.Helper()
	entry := models.ScanCache{
		Type:          kind,
		Identifier:    identifier,
		Result:        models.JSONB{"isSafe": safe, "source": kind},
		LastScannedAt: scannedAt,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to seed cache entry: %v", err)
	}
}

func TestCreateAndGetSnapshot(t *testing.T) {
	db := newTestDB(t)
	kv := NewMockKVStore()
	manager := NewSnapshotManager(db, kv, scan.DefaultTTL)
	ctx := context.Background()

	now := time.Now().UTC()
	seedCacheEntry(t, db, "url", "https://a.example", true, now.Add(-1*time.Hour))
	seedCacheEntry(t, db, "url", "https://b.example", false, now.Add(-2*time.Hour))
	seedCacheEntry(t, db, "file", "aa11", true, now.Add(-30*time.Hour))

	snap, err := manager.CreateSnapshot(ctx, "2026-08-29-120000")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	if snap.Counts.Total != 3 || snap.Counts.URLs != 2 || snap.Counts.Files != 1 {
		t.Errorf("counts wrong: %+v", snap.Counts)
	}
	if snap.Counts.Unsafe != 1 {
		t.Errorf("expected 1 unsafe entry, got %d", snap.Counts.Unsafe)
	}
	if snap.Counts.Fresh != 2 || snap.Counts.Stale != 1 {
		t.Errorf("freshness split wrong: %+v", snap.Counts)
	}

	loaded, err := manager.GetSnapshot(ctx, "2026-08-29-120000")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if loaded.Counts != snap.Counts {
		t.Errorf("stored snapshot differs: %+v vs %+v", loaded.Counts, snap.Counts)
	}
}

func TestSnapshotAutoGeneratesID(t *testing.T) {
	db := newTestDB(t)
	manager := NewSnapshotManager(db, NewMockKVStore(), 0)

	snap, err := manager.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if _, err := time.Parse("2006-01-02-150405", snap.SnapshotID); err != nil {
		t.Errorf("auto ID must be timestamp-formatted, got %q", snap.SnapshotID)
	}
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	kv := NewMockKVStore()
	manager := NewSnapshotManager(db, kv, 0)
	ctx := context.Background()

	for _, id := range []string{"2026-08-27-000000", "2026-08-29-000000", "2026-08-28-000000"} {
		if _, err := manager.CreateSnapshot(ctx, id); err != nil {
			t.Fatalf("CreateSnapshot failed: %v", err)
		}
	}

	ids, err := manager.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	want := []string{"2026-08-29-000000", "2026-08-28-000000", "2026-08-27-000000"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d snapshots, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], ids[i])
		}
	}

	latest, err := manager.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if latest.SnapshotID != "2026-08-29-000000" {
		t.Errorf("latest must be newest, got %s", latest.SnapshotID)
	}
}

func TestCleanupKeepsMostRecent(t *testing.T) {
	db := newTestDB(t)
	kv := NewMockKVStore()
	manager := NewSnapshotManager(db, kv, 0)
	ctx := context.Background()

	for i := 0; i < 13; i++ {
		id := fmt.Sprintf("2026-08-%02d-000000", i+1)
		if _, err := manager.CreateSnapshot(ctx, id); err != nil {
			t.Fatalf("CreateSnapshot failed: %v", err)
		}
	}

	ids, err := manager.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(ids) != retainLimit {
		t.Fatalf("expected %d retained snapshots, got %d", retainLimit, len(ids))
	}
	if ids[0] != "2026-08-13-000000" || ids[len(ids)-1] != "2026-08-04-000000" {
		t.Errorf("wrong retention window: first %s last %s", ids[0], ids[len(ids)-1])
	}
}

func TestGetTrendData(t *testing.T) {
	db := newTestDB(t)
	manager := NewSnapshotManager(db, NewMockKVStore(), 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("2026-08-%02d-000000", i+10)
		if _, err := manager.CreateSnapshot(ctx, id); err != nil {
			t.Fatalf("CreateSnapshot failed: %v", err)
		}
	}

	trend, err := manager.GetTrendData(ctx, 3)
	if err != nil {
		t.Fatalf("GetTrendData failed: %v", err)
	}
	if len(trend) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(trend))
	}
	if trend[0].SnapshotID != "2026-08-14-000000" {
		t.Errorf("trend must start with newest, got %s", trend[0].SnapshotID)
	}
}

func TestGetLatestSnapshotEmpty(t *testing.T) {
	db := newTestDB(t)
	manager := NewSnapshotManager(db, NewMockKVStore(), 0)

	if _, err := manager.GetLatestSnapshot(context.Background()); err == nil {
		t.Error("no snapshots must be an error")
	}
}

func TestSnapshotDailyBreakdown(t *testing.T) {
	db := newTestDB(t)
	manager := NewSnapshotManager(db, NewMockKVStore(), 0)

	day1 := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	seedCacheEntry(t, db, "url", "https://a.example", true, day1)
	seedCacheEntry(t, db, "url", "https://b.example", false, day1)
	seedCacheEntry(t, db, "file", "aa11", true, day2)

	snap, err := manager.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if len(snap.ByDay) != 2 {
		t.Fatalf("expected 2 days, got %d", len(snap.ByDay))
	}
	if snap.ByDay[0].Day != "2026-08-27" || snap.ByDay[0].Total != 2 || snap.ByDay[0].Unsafe != 1 {
		t.Errorf("day 1 breakdown wrong: %+v", snap.ByDay[0])
	}
	if snap.ByDay[1].Day != "2026-08-28" || snap.ByDay[1].Files != 1 {
		t.Errorf("day 2 breakdown wrong: %+v", snap.ByDay[1])
	}
}
