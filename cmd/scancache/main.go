// Command scancache administers the verdict cache: inspect its contents,
// purge entries, and build activity snapshots.
//
// Usage:
//
//	scancache stats
//	scancache purge [-type url|file]
//	scancache snapshot
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"github.com/ParleyChat/go-api/parley/postgres"
	"github.com/ParleyChat/go-api/parley/postgres/models"
	"github.com/ParleyChat/go-api/parley/scan"
	"github.com/ParleyChat/go-api/parley/slogger"
	"github.com/ParleyChat/go-api/parley/snapshot"
	"github.com/ParleyChat/go-api/parley/store"
)

func main() {
	slogger.Init()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	db, err := postgres.ConnectFromEnv()
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "stats":
		err = runStats(db)
	case "purge":
		err = runPurge(ctx, db, os.Args[2:])
	case "snapshot":
		err = runSnapshot(ctx, db)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scancache <stats|purge|snapshot> [flags]")
}

// runStats prints per-kind entry counts for the verdict cache.
func runStats(db *gorm.DB) error {
	type kindCount struct {
		Type  string
		Count int64
	}

	var counts []kindCount
	err := db.Model(&models.ScanCache{}).
		Select("type, COUNT(*) as count").
		Group("type").
		Scan(&counts).Error
	if err != nil {
		return fmt.Errorf("count cache entries: %w", err)
	}

	var total int64
	for _, kc := range counts {
		fmt.Printf("%-8s %d\n", kc.Type, kc.Count)
		total += kc.Count
	}
	fmt.Printf("%-8s %d\n", "total", total)
	return nil
}

// runPurge deletes cached verdicts, optionally restricted to one target kind.
func runPurge(ctx context.Context, db *gorm.DB, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	kindFlag := fs.String("type", "", "restrict purge to one kind: url or file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var kind scan.TargetKind
	switch *kindFlag {
	case "":
	case "url":
		kind = scan.TargetURL
	case "file":
		kind = scan.TargetFile
	default:
		return fmt.Errorf("unknown type %q, want url or file", *kindFlag)
	}

	cache := scan.NewCache(db, 0)
	removed, err := cache.Purge(ctx, kind)
	if err != nil {
		return err
	}

	fmt.Printf("purged %d entries\n", removed)
	return nil
}

// runSnapshot builds and stores one scan activity snapshot.
func runSnapshot(ctx context.Context, db *gorm.DB) error {
	kv, err := store.NewValkeyStore()
	if err != nil {
		return fmt.Errorf("connect to key-value store: %w", err)
	}
	defer kv.Close()

	manager := snapshot.NewSnapshotManager(db, kv, scan.DefaultTTL)
	snap, err := manager.CreateSnapshot(ctx, "")
	if err != nil {
		return err
	}

	fmt.Printf("snapshot %s: %d entries (%d urls, %d files, %d unsafe)\n",
		snap.SnapshotID, snap.Counts.Total, snap.Counts.URLs, snap.Counts.Files, snap.Counts.Unsafe)
	return nil
}
