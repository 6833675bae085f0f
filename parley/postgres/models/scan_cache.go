// File: scan_cache.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// ScanCache is one cached reputation verdict keyed by target identity.
// At most one row exists per identifier; Type scopes lookups to url or file
// targets. Result holds the verdict snapshot exactly as returned to callers
// (minus the transient cached flag).
type ScanCache struct {
	gorm.Model
	Type          string    `gorm:"size:10;not null;index" json:"type"`
	Identifier    string    `gorm:"uniqueIndex;not null" json:"identifier"`
	Result        JSONB     `gorm:"type:jsonb;not null" json:"result"`
	LastScannedAt time.Time `gorm:"not null;index" json:"last_scanned_at"`
}

// TableName specifies the table name for the ScanCache model.
func (ScanCache) TableName() string {
	return "scan_caches"
}
