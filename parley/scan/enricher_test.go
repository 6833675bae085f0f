package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// memStore is an in-memory VerdictStore recording its writes.
type memStore struct {
	data    map[Target]Verdict
	getErr  error
	putErr  error
	putKeys []Target
}

func newMemStore() *memStore {
	return &memStore{data: make(map[Target]Verdict)}
}

func (m *memStore) Get(ctx context.Context, target Target) (*Verdict, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[target]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memStore) Put(ctx context.Context, target Target, v Verdict) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.putKeys = append(m.putKeys, target)
	m.data[target] = v
	return nil
}

func (m *memStore) Purge(ctx context.Context, kind TargetKind) (int64, error) {
	return 0, nil
}

// fakeOracle is a scripted ReputationClient counting its calls.
type fakeOracle struct {
	urlVerdict    Verdict
	hashVerdict   Verdict
	uploadVerdict Verdict
	detail        json.RawMessage
	detailErr     error

	urlCalls    int
	hashCalls   int
	uploadCalls int
	detailCalls int
}

func (f *fakeOracle) ScanURL(ctx context.Context, rawURL string) Verdict {
	f.urlCalls++
	return f.urlVerdict
}

func (f *fakeOracle) ScanFileHash(ctx context.Context, hash string) Verdict {
	f.hashCalls++
	return f.hashVerdict
}

func (f *fakeOracle) ScanFileUpload(ctx context.Context, filePath string) Verdict {
	f.uploadCalls++
	return f.uploadVerdict
}

func (f *fakeOracle) URLAnalysis(ctx context.Context, rawURL string) (json.RawMessage, error) {
	f.detailCalls++
	return f.detail, f.detailErr
}

func (f *fakeOracle) FileAnalysis(ctx context.Context, hash string) (json.RawMessage, error) {
	f.detailCalls++
	return f.detail, f.detailErr
}

var cleanDetail = json.RawMessage(`{"VendorA": {"category": "harmless", "result": null}}`)

func TestEnrichURLCacheHitSkipsOracle(t *testing.T) {
	store := newMemStore()
	store.data[URLTarget("https://hit.example")] = FromStats(0, 0, 50, "", SourceURL)
	oracle := &fakeOracle{}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichURL(context.Background(), "https://hit.example")
	if err != nil {
		t.Fatalf("EnrichURL failed: %v", err)
	}
	if oracle.urlCalls != 0 || oracle.detailCalls != 0 {
		t.Errorf("cache hit must not touch the oracle: %d scans, %d detail fetches", oracle.urlCalls, oracle.detailCalls)
	}
	if got.Cached == nil || !*got.Cached {
		t.Error("cache hit must be marked cached=true")
	}
}

func TestEnrichURLMissScansAndCaches(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{
		urlVerdict: FromStats(1, 0, 70, "https://report.example/u", SourceURL),
		detail:     cleanDetail,
	}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichURL(context.Background(), "https://miss.example")
	if err != nil {
		t.Fatalf("EnrichURL failed: %v", err)
	}
	if oracle.urlCalls != 1 || oracle.detailCalls != 1 {
		t.Errorf("expected one scan and one detail fetch, got %d/%d", oracle.urlCalls, oracle.detailCalls)
	}
	if len(store.putKeys) != 1 {
		t.Fatalf("expected one cache write, got %d", len(store.putKeys))
	}
	if got.Cached == nil || *got.Cached {
		t.Error("fresh scan must be marked cached=false")
	}
	if len(got.Vendors) != 1 || got.Vendors[0].Vendor != "VendorA" {
		t.Errorf("vendor findings not merged: %+v", got.Vendors)
	}
}

func TestEnrichURLErrorVerdictNotCached(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{urlVerdict: FailOpen(SourceError)}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichURL(context.Background(), "https://down.example")
	if err != nil {
		t.Fatalf("EnrichURL failed: %v", err)
	}
	if !got.Err || !got.IsSafe {
		t.Errorf("expected fail-open verdict, got %+v", got)
	}
	if got.Cached != nil {
		t.Error("error verdicts never carry the cached flag")
	}
	if oracle.detailCalls != 0 {
		t.Error("failed scan must not fetch vendor detail")
	}
	if len(store.putKeys) != 0 {
		t.Error("failed scan must not be cached")
	}

	// The next request retries the oracle.
	if _, err := enricher.EnrichURL(context.Background(), "https://down.example"); err != nil {
		t.Fatalf("second EnrichURL failed: %v", err)
	}
	if oracle.urlCalls != 2 {
		t.Errorf("expected a fresh scan on retry, got %d calls", oracle.urlCalls)
	}
}

func TestEnrichURLDisabledPassthrough(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{urlVerdict: Disabled()}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichURL(context.Background(), "https://any.example")
	if err != nil {
		t.Fatalf("EnrichURL failed: %v", err)
	}
	if got.Source != SourceDisabled {
		t.Errorf("expected disabled verdict, got %+v", got)
	}
	if len(store.putKeys) != 0 {
		t.Error("disabled verdicts must not be cached")
	}
}

func TestEnrichURLPendingNotCached(t *testing.T) {
	store := newMemStore()
	pending := FromStats(0, 0, 12, "", SourceURL)
	pending.Pending = true
	oracle := &fakeOracle{urlVerdict: pending}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichURL(context.Background(), "https://slow.example")
	if err != nil {
		t.Fatalf("EnrichURL failed: %v", err)
	}
	if !got.Pending {
		t.Error("pending flag must survive to the caller")
	}
	if len(store.putKeys) != 0 {
		t.Error("incomplete analyses must not be cached")
	}
}

func TestEnrichURLDetailFailureReturnsBareVerdict(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{
		urlVerdict: FromStats(0, 0, 70, "", SourceURL),
		detailErr:  fmt.Errorf("detail endpoint down"),
	}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichURL(context.Background(), "https://partial.example")
	if err != nil {
		t.Fatalf("EnrichURL failed: %v", err)
	}
	if len(got.Vendors) != 0 {
		t.Errorf("expected bare verdict, got vendors %+v", got.Vendors)
	}
	if got.Total != 70 {
		t.Errorf("base verdict must be preserved, got %+v", got)
	}
	if len(store.putKeys) != 0 {
		t.Error("verdict without detail must not be cached")
	}
}

func TestEnrichURLStoreFaultsPropagate(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	enricher := NewEnricher(store, &fakeOracle{})

	if _, err := enricher.EnrichURL(context.Background(), "https://x.example"); err == nil {
		t.Error("cache read fault must surface as an error")
	}

	store.getErr = nil
	store.putErr = errors.New("disk full")
	oracle := &fakeOracle{urlVerdict: FromStats(0, 0, 70, "", SourceURL), detail: cleanDetail}
	enricher = NewEnricher(store, oracle)

	if _, err := enricher.EnrichURL(context.Background(), "https://x.example"); err == nil {
		t.Error("cache write fault must surface as an error")
	}
}

func TestEnrichFileUnknownHashWithoutConsent(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{hashVerdict: UnknownHash()}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichFile(context.Background(), "CAFE01", "/tmp/f.bin", false)
	if err != nil {
		t.Fatalf("EnrichFile failed: %v", err)
	}
	if !got.Unknown || !got.IsSafe {
		t.Errorf("expected unknown fail-open verdict, got %+v", got)
	}
	if oracle.uploadCalls != 0 {
		t.Error("upload requires explicit consent")
	}
	if len(store.putKeys) != 0 {
		t.Error("unknown verdicts must not be cached")
	}
}

func TestEnrichFileUnknownHashEscalatesToUpload(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{
		hashVerdict:   UnknownHash(),
		uploadVerdict: FromStats(3, 0, 70, "https://report.example/f", SourceUpload),
		detail:        cleanDetail,
	}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichFile(context.Background(), "CAFE02", "/tmp/f.bin", true)
	if err != nil {
		t.Fatalf("EnrichFile failed: %v", err)
	}
	if oracle.uploadCalls != 1 {
		t.Errorf("expected exactly one upload, got %d", oracle.uploadCalls)
	}
	if got.Source != SourceUpload || got.Malicious != 3 {
		t.Errorf("expected upload verdict, got %+v", got)
	}
	if len(store.putKeys) != 1 {
		t.Errorf("upload verdict must be cached, got %d writes", len(store.putKeys))
	}
}

func TestEnrichFileUploadWithoutLocalPath(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{hashVerdict: UnknownHash()}
	enricher := NewEnricher(store, oracle)

	_, err := enricher.EnrichFile(context.Background(), "CAFE03", "", true)
	if err != nil {
		t.Fatalf("EnrichFile failed: %v", err)
	}
	if oracle.uploadCalls != 0 {
		t.Error("no local path means nothing to upload")
	}
}

func TestEnrichFileCacheKeyIsLowercaseHash(t *testing.T) {
	store := newMemStore()
	store.data[FileTarget("cafe04")] = FromStats(0, 0, 60, "", SourceHash)
	oracle := &fakeOracle{}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichFile(context.Background(), "CAFE04", "", false)
	if err != nil {
		t.Fatalf("EnrichFile failed: %v", err)
	}
	if got.Cached == nil || !*got.Cached {
		t.Error("uppercase hash must hit the lowercase cache entry")
	}
	if oracle.hashCalls != 0 {
		t.Error("cache hit must not call the oracle")
	}
}

func TestEnrichFileKnownHashCached(t *testing.T) {
	store := newMemStore()
	oracle := &fakeOracle{
		hashVerdict: FromStats(0, 0, 65, "https://report.example/h", SourceHash),
		detail:      cleanDetail,
	}
	enricher := NewEnricher(store, oracle)

	got, err := enricher.EnrichFile(context.Background(), "cafe05", "", false)
	if err != nil {
		t.Fatalf("EnrichFile failed: %v", err)
	}
	if got.Cached == nil || *got.Cached {
		t.Error("fresh hash verdict must be marked cached=false")
	}
	if len(store.putKeys) != 1 || store.putKeys[0] != FileTarget("cafe05") {
		t.Errorf("expected one cache write under the file key, got %v", store.putKeys)
	}
}
