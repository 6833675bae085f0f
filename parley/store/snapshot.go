package store

import "time"

// ScanSnapshot represents a point-in-time view of scan cache activity.
type ScanSnapshot struct {
	SnapshotID string           `json:"snapshot_id"` // YYYY-MM-DD-HHMMSS format
	Timestamp  time.Time        `json:"timestamp"`
	Counts     ScanCounts       `json:"counts"`
	ByDay      []DailyScanStat  `json:"by_day"`
	Metadata   SnapshotMetadata `json:"metadata"`
}

// ScanCounts represents totals across the verdict cache.
type ScanCounts struct {
	Total  int `json:"total"`
	URLs   int `json:"urls"`
	Files  int `json:"files"`
	Unsafe int `json:"unsafe"`
	Fresh  int `json:"fresh"`
	Stale  int `json:"stale"`
}

// DailyScanStat represents scan activity for a single day.
type DailyScanStat struct {
	Day    string `json:"day"` // YYYY-MM-DD
	Total  int    `json:"total"`
	URLs   int    `json:"urls"`
	Files  int    `json:"files"`
	Unsafe int    `json:"unsafe"`
}

// SnapshotMetadata contains metadata about the snapshot.
type SnapshotMetadata struct {
	CacheTTLHours      float64 `json:"cache_ttl_hours"`
	SnapshotDurationMs int64   `json:"snapshot_duration_ms"`
}
