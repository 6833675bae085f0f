// Package vt is a VirusTotal v3 API client normalized to the verdict shape
// the scan pipeline works with. It implements scan.ReputationClient.
//
// All three scan operations are fail-open: on any transport or parse
// failure they return a safe-by-default verdict tagged with an error source
// instead of an error value, because an unreachable scanning service must
// never block message delivery. When no API key is configured every
// operation short-circuits to a disabled verdict without touching the
// network.
package vt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ParleyChat/go-api/parley/scan"
)

const (
	// DefaultBaseURL is the VirusTotal v3 API endpoint.
	DefaultBaseURL = "https://www.virustotal.com/api/v3"
	// DefaultGUIBaseURL is the human-facing report site.
	DefaultGUIBaseURL = "https://www.virustotal.com/gui"

	// defaultURLSettle is how long a freshly submitted URL analysis is given
	// before the first poll. Previously-unseen URLs usually complete quickly
	// but not instantly.
	defaultURLSettle = 8 * time.Second
	// defaultUploadSettle is the settle delay for uploaded files, which take
	// longer to analyze than URLs.
	defaultUploadSettle = 15 * time.Second
	// defaultPollBudget bounds how long polling continues past the settle
	// delay before the analysis is reported as pending.
	defaultPollBudget = 30 * time.Second

	defaultTimeout = 30 * time.Second
)

// Config holds client settings. Zero values select the defaults above.
type Config struct {
	APIKey       string
	BaseURL      string
	GUIBaseURL   string
	Timeout      time.Duration
	URLSettle    time.Duration
	UploadSettle time.Duration
	PollBudget   time.Duration
}

// LoadConfigFromEnv reads VT_API_KEY and VT_BASE_URL from the environment.
// An empty API key is a valid state: the client degrades to disabled
// verdicts rather than failing.
func LoadConfigFromEnv() Config {
	cfg := Config{APIKey: os.Getenv("VT_API_KEY")}
	if base := os.Getenv("VT_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	return cfg
}

// Client talks to the VirusTotal API. Construct one per process and share it;
// it is safe for concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	guiBaseURL   string
	httpClient   *http.Client
	urlSettle    time.Duration
	uploadSettle time.Duration
	pollBudget   time.Duration
}

// NewClient builds a client from cfg, filling in defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GUIBaseURL == "" {
		cfg.GUIBaseURL = DefaultGUIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.URLSettle == 0 {
		cfg.URLSettle = defaultURLSettle
	}
	if cfg.UploadSettle == 0 {
		cfg.UploadSettle = defaultUploadSettle
	}
	if cfg.PollBudget == 0 {
		cfg.PollBudget = defaultPollBudget
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		guiBaseURL:   strings.TrimRight(cfg.GUIBaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		urlSettle:    cfg.URLSettle,
		uploadSettle: cfg.UploadSettle,
		pollBudget:   cfg.PollBudget,
	}
}

// NewClientFromEnv builds a client configured from the environment.
func NewClientFromEnv() *Client {
	return NewClient(LoadConfigFromEnv())
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// ===================== wire shapes =====================

type submitResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type analysisResponse struct {
	Data struct {
		Attributes struct {
			Status string         `json:"status"`
			Stats  map[string]int `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

type objectResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats   map[string]int  `json:"last_analysis_stats"`
			LastAnalysisResults json.RawMessage `json:"last_analysis_results"`
		} `json:"attributes"`
	} `json:"data"`
}

// ===================== scan operations =====================

// ScanURL submits a URL for analysis, waits out the settle delay, then polls
// the analysis until it completes or the poll budget is spent. A verdict
// still pending at the deadline carries whatever stats were readable, marked
// Pending.
func (c *Client) ScanURL(ctx context.Context, rawURL string) scan.Verdict {
	if !c.Enabled() {
		return scan.Disabled()
	}

	form := url.Values{"url": {scan.DefaultScheme(rawURL)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return c.failOpen(scan.SourceError, rawURL, err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var submitted submitResponse
	if err := c.do(req, &submitted); err != nil {
		return c.failOpen(scan.SourceError, rawURL, err)
	}

	stats, pending, err := c.pollAnalysis(ctx, submitted.Data.ID, c.urlSettle)
	if err != nil {
		return c.failOpen(scan.SourceError, rawURL, err)
	}

	v := verdictFromStats(stats, c.guiBaseURL+"/url/"+submitted.Data.ID, scan.SourceURL)
	v.Pending = pending
	return v
}

// ScanFileHash looks a file up by content hash without ever transmitting
// file bytes. A 404 means the oracle has no record of the hash and yields an
// unknown verdict, not an error.
func (c *Client) ScanFileHash(ctx context.Context, hash string) scan.Verdict {
	if !c.Enabled() {
		return scan.Disabled()
	}

	req, err := c.newGet(ctx, "/files/"+hash)
	if err != nil {
		return c.failOpen(scan.SourceHashError, hash, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.failOpen(scan.SourceHashError, hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return scan.UnknownHash()
	}
	if resp.StatusCode != http.StatusOK {
		return c.failOpen(scan.SourceHashError, hash, fmt.Errorf("received status code %d", resp.StatusCode))
	}

	var obj objectResponse
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return c.failOpen(scan.SourceHashError, hash, err)
	}

	return verdictFromStats(obj.Data.Attributes.LastAnalysisStats, c.guiBaseURL+"/file/"+hash, scan.SourceHash)
}

// ScanFileUpload uploads the full file bytes and polls the resulting
// analysis. Only used as an explicit, consent-gated fallback when the hash
// is unknown to the oracle.
func (c *Client) ScanFileUpload(ctx context.Context, filePath string) scan.Verdict {
	if !c.Enabled() {
		return scan.Disabled()
	}

	f, err := os.Open(filePath)
	if err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}
	if err := mw.Close(); err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var submitted submitResponse
	if err := c.do(req, &submitted); err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}

	stats, pending, err := c.pollAnalysis(ctx, submitted.Data.ID, c.uploadSettle)
	if err != nil {
		return c.failOpen(scan.SourceUploadError, filePath, err)
	}

	v := verdictFromStats(stats, c.guiBaseURL+"/file/"+submitted.Data.ID, scan.SourceUpload)
	v.Pending = pending
	return v
}

// ===================== detail fetches =====================

// URLAnalysis fetches the per-vendor analysis object for a URL. The URL is
// addressed by its unpadded URL-safe base64 form, per the API's URL
// identifier scheme.
func (c *Client) URLAnalysis(ctx context.Context, rawURL string) (json.RawMessage, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(rawURL))
	return c.fetchAnalysisResults(ctx, "/urls/"+id)
}

// FileAnalysis fetches the per-vendor analysis object for a file hash.
func (c *Client) FileAnalysis(ctx context.Context, hash string) (json.RawMessage, error) {
	return c.fetchAnalysisResults(ctx, "/files/"+hash)
}

func (c *Client) fetchAnalysisResults(ctx context.Context, path string) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("no API key configured")
	}

	req, err := c.newGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var obj objectResponse
	if err := c.do(req, &obj); err != nil {
		return nil, err
	}
	return obj.Data.Attributes.LastAnalysisResults, nil
}

// ===================== internals =====================

// pollAnalysis waits out the settle delay, then polls the analysis endpoint
// with doubling intervals until the analysis completes or the poll budget is
// exhausted. When the budget runs out the last stats read are returned with
// pending=true; the caller decides what an incomplete analysis is worth.
func (c *Client) pollAnalysis(ctx context.Context, analysisID string, settle time.Duration) (map[string]int, bool, error) {
	if err := sleepCtx(ctx, settle); err != nil {
		return nil, false, err
	}

	deadline := time.Now().Add(c.pollBudget)
	interval := 2 * time.Second

	for {
		req, err := c.newGet(ctx, "/analyses/"+analysisID)
		if err != nil {
			return nil, false, err
		}

		var analysis analysisResponse
		if err := c.do(req, &analysis); err != nil {
			return nil, false, err
		}

		if analysis.Data.Attributes.Status == "completed" {
			return analysis.Data.Attributes.Stats, false, nil
		}
		if time.Now().Add(interval).After(deadline) {
			slog.Debug("Analysis still pending at deadline", "analysis_id", analysisID)
			return analysis.Data.Attributes.Stats, true, nil
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return nil, false, err
		}
		interval *= 2
	}
}

func (c *Client) newGet(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes a request and decodes a JSON body into out, treating any
// non-200 status as an error.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d from %s", resp.StatusCode, req.URL.Path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

func (c *Client) failOpen(src scan.Source, target string, err error) scan.Verdict {
	slog.Error("VirusTotal scan error", "source", string(src), "target", target, "error", err)
	return scan.FailOpen(src)
}

func verdictFromStats(stats map[string]int, scanURL string, src scan.Source) scan.Verdict {
	total := 0
	for _, n := range stats {
		total += n
	}
	return scan.FromStats(stats["malicious"], stats["suspicious"], total, scanURL, src)
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
