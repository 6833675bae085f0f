// File: enricher.go
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ReputationClient is the external scanning oracle as the enricher sees it.
// The three scan operations absorb their own failures and always return a
// verdict (fail-open policy); the analysis fetches can fail, because the
// enricher falls back to the bare verdict when vendor detail is unavailable.
type ReputationClient interface {
	ScanURL(ctx context.Context, rawURL string) Verdict
	ScanFileHash(ctx context.Context, hash string) Verdict
	ScanFileUpload(ctx context.Context, filePath string) Verdict
	URLAnalysis(ctx context.Context, rawURL string) (json.RawMessage, error)
	FileAnalysis(ctx context.Context, hash string) (json.RawMessage, error)
}

// Enricher is the policy layer over the verdict cache and the reputation
// client. It decides when a stored verdict can be reused, orchestrates the
// lookup fallback chain on a miss, merges per-vendor findings, and writes
// successful results back to the cache.
//
// Two concurrent enrichments of the same identifier may both miss and both
// call the oracle; last write wins. Verdicts are idempotent snapshots, so no
// per-key coordination is performed.
type Enricher struct {
	store  VerdictStore
	client ReputationClient
}

// NewEnricher wires a verdict store and a reputation client together.
func NewEnricher(store VerdictStore, client ReputationClient) *Enricher {
	return &Enricher{store: store, client: client}
}

// EnrichURL returns the verdict for a URL, from cache when fresh, otherwise
// by scanning it and fetching per-vendor detail. The returned error is
// non-nil only when the cache storage itself fails; oracle failures come
// back as fail-open verdicts.
func (e *Enricher) EnrichURL(ctx context.Context, rawURL string) (Verdict, error) {
	target := URLTarget(rawURL)

	if cached, err := e.store.Get(ctx, target); err != nil {
		return Verdict{}, fmt.Errorf("scan cache lookup: %w", err)
	} else if cached != nil {
		return cached.markCached(true), nil
	}

	base := e.client.ScanURL(ctx, rawURL)
	if !enrichable(base) {
		return base, nil
	}

	raw, err := e.client.URLAnalysis(ctx, rawURL)
	if err != nil {
		// Vendor detail is best-effort; the base verdict is never
		// sacrificed for it. Nothing is cached on this path.
		slog.Warn("URL analysis fetch failed, returning bare verdict", "url", rawURL, "error", err)
		return base, nil
	}

	base.Vendors = ExtractVendorResults(raw)
	if err := e.store.Put(ctx, target, base); err != nil {
		return Verdict{}, fmt.Errorf("scan cache write: %w", err)
	}
	return base.markCached(false), nil
}

// EnrichFile returns the verdict for a file identified by its content hash.
// When the oracle has no record of the hash, the file is uploaded only if
// the caller explicitly allowed it and a local path is available; otherwise
// the unknown verdict is returned as-is, unscanned.
func (e *Enricher) EnrichFile(ctx context.Context, hash, filePath string, allowUpload bool) (Verdict, error) {
	target := FileTarget(hash)

	if cached, err := e.store.Get(ctx, target); err != nil {
		return Verdict{}, fmt.Errorf("scan cache lookup: %w", err)
	} else if cached != nil {
		return cached.markCached(true), nil
	}

	base := e.client.ScanFileHash(ctx, hash)

	if base.Unknown && allowUpload && filePath != "" {
		slog.Debug("Unknown hash, escalating to upload", "hash", target.Identifier)
		base = e.client.ScanFileUpload(ctx, filePath)
	}
	if base.Unknown {
		// No record and no consent to upload: fail open without caching so
		// the next request re-checks the hash.
		return base, nil
	}
	if !enrichable(base) {
		return base, nil
	}

	raw, err := e.client.FileAnalysis(ctx, hash)
	if err != nil {
		slog.Warn("File analysis fetch failed, returning bare verdict", "hash", target.Identifier, "error", err)
		return base, nil
	}

	base.Vendors = ExtractVendorResults(raw)
	if err := e.store.Put(ctx, target, base); err != nil {
		return Verdict{}, fmt.Errorf("scan cache write: %w", err)
	}
	return base.markCached(false), nil
}

// enrichable reports whether a base verdict is worth detail enrichment and
// caching. Disabled, failed, and still-pending verdicts are returned to the
// caller untouched and never persisted, so the next request retries.
func enrichable(v Verdict) bool {
	return v.Source != SourceDisabled && !v.Err && !v.Pending
}
