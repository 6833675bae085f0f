// Package scan implements the reputation-scan enrichment pipeline: target
// identity, the durable verdict cache, and the orchestration policy that
// decides when a cached verdict can be reused and when the external
// reputation service must be consulted.
package scan

// Source tags a verdict with its provenance: which lookup path produced it,
// or which path failed.
type Source string

const (
	// SourceDisabled marks a neutral verdict returned when no API key is
	// configured. Not an error.
	SourceDisabled Source = "disabled"
	// SourceURL marks a verdict from a URL submit-and-poll scan.
	SourceURL Source = "url"
	// SourceHash marks a verdict from a file lookup by content hash.
	SourceHash Source = "hash"
	// SourceUpload marks a verdict from a full file upload scan.
	SourceUpload Source = "upload"
	// SourceError marks a failed URL scan.
	SourceError Source = "error"
	// SourceHashError marks a failed hash lookup.
	SourceHashError Source = "hash-error"
	// SourceUploadError marks a failed upload scan.
	SourceUploadError Source = "upload-error"
)

// VendorFinding is one security vendor's opinion about a target. Result is
// nil when the vendor detected nothing specific (serialized as JSON null,
// matching the report format clients already consume).
type VendorFinding struct {
	Vendor   string  `json:"vendor"`
	Category string  `json:"category"`
	Result   *string `json:"result"`
}

// Verdict is the normalized outcome of a reputation scan for one target.
//
// The scanning service must never block message delivery, so failures are
// represented in-band: Err marks an oracle-side failure (fail-open, treated
// as safe), Unknown marks a hash the oracle has no record of, and Pending
// marks an analysis that had not completed when polling gave up. Cached is
// set by the enricher and never persisted; nil means the verdict did not go
// through the cache at all (disabled/error paths).
type Verdict struct {
	IsSafe     bool            `json:"isSafe"`
	Positives  int             `json:"positives"`
	Malicious  int             `json:"malicious"`
	Suspicious int             `json:"suspicious"`
	Total      int             `json:"total"`
	ScanURL    string          `json:"scan_url,omitempty"`
	Source     Source          `json:"source"`
	Vendors    []VendorFinding `json:"vendors,omitempty"`
	Unknown    bool            `json:"unknown,omitempty"`
	Err        bool            `json:"error,omitempty"`
	Pending    bool            `json:"pending,omitempty"`
	Cached     *bool           `json:"cached,omitempty"`
}

// Disabled returns the neutral verdict used when no service credential is
// configured.
func Disabled() Verdict {
	return Verdict{IsSafe: true, Source: SourceDisabled}
}

// FailOpen returns the safe-by-default verdict used when an oracle call
// fails. The failure is visible via Err but never blocks delivery.
func FailOpen(src Source) Verdict {
	return Verdict{IsSafe: true, Source: src, Err: true}
}

// UnknownHash returns the verdict for a content hash the oracle has never
// seen. Distinct from an error: the lookup succeeded, there is just no
// record.
func UnknownHash() Verdict {
	return Verdict{IsSafe: true, Source: SourceHash, Unknown: true}
}

// FromStats builds a verdict from raw analysis stats. Positives is always
// malicious+suspicious and IsSafe is true iff positives is zero.
func FromStats(malicious, suspicious, total int, scanURL string, src Source) Verdict {
	positives := malicious + suspicious
	return Verdict{
		IsSafe:     positives == 0,
		Positives:  positives,
		Malicious:  malicious,
		Suspicious: suspicious,
		Total:      total,
		ScanURL:    scanURL,
		Source:     src,
	}
}

// markCached stamps the transient cached flag.
func (v Verdict) markCached(cached bool) Verdict {
	v.Cached = &cached
	return v
}
