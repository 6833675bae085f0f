// File: target.go
package scan

import (
	"regexp"
	"strings"
)

// TargetKind distinguishes URL targets from file targets.
type TargetKind string

const (
	TargetURL  TargetKind = "url"
	TargetFile TargetKind = "file"
)

// Target is the cache identity of a scannable object: a URL string or a file
// content hash. Identity is exact-match on (Kind, Identifier); URLs are
// deliberately not deduplicated across trivial variations such as trailing
// slashes or query order.
type Target struct {
	Kind       TargetKind
	Identifier string
}

// URLTarget builds a target keyed by the literal URL string the caller
// supplied.
func URLTarget(rawURL string) Target {
	return Target{Kind: TargetURL, Identifier: rawURL}
}

// FileTarget builds a target keyed by a hex content hash. Hashes are folded
// to lower case; no further validation is done, a malformed hash simply
// misses the cache and fails the oracle lookup.
func FileTarget(hash string) Target {
	return Target{Kind: TargetFile, Identifier: strings.ToLower(hash)}
}

// DefaultScheme prefixes bare URLs (www.example.com) with http:// so the
// oracle accepts them. The cache key stays the caller's literal string.
func DefaultScheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return "http://" + rawURL
}

var urlPattern = regexp.MustCompile(`(?i)(https?://[^\s]+|www\.[^\s]+)`)

// ExtractURLs returns every URL-looking token in a message body, in order of
// appearance.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}
	return urlPattern.FindAllString(text, -1)
}
