// File: vendors.go
package scan

import (
	"bytes"
	"encoding/json"
)

// vendorEntry is the wire shape of one vendor's analysis in the oracle's
// last_analysis_results object.
type vendorEntry struct {
	Category string  `json:"category"`
	Result   *string `json:"result"`
}

// ExtractVendorResults transforms the oracle's raw per-vendor analysis
// object into an ordered list of findings. Vendors with no category are
// reported as "undetected"; a missing result stays nil.
//
// The object is decoded token by token so findings keep the oracle's own
// response order. That order is stable but carries no meaning; callers must
// not compare findings across vendors by position.
func ExtractVendorResults(raw json.RawMessage) []VendorFinding {
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var findings []VendorFinding
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return findings
		}
		vendor, ok := keyTok.(string)
		if !ok {
			return findings
		}

		var entry vendorEntry
		if err := dec.Decode(&entry); err != nil {
			return findings
		}
		if entry.Category == "" {
			entry.Category = "undetected"
		}

		findings = append(findings, VendorFinding{
			Vendor:   vendor,
			Category: entry.Category,
			Result:   entry.Result,
		})
	}

	return findings
}
