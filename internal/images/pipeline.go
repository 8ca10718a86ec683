// Package images implements the ImagePipeline: URL cleaning,
// deduplication, concurrent download with retry, format/size validation,
// optimization, base64<->blob conversion, and overlay annotation for
// computer-use action traces.
package images

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "golang.org/x/image/webp"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/blobstore"
)

// Size thresholds.
const (
	MaxSizeBytes       = 10 * 1024 * 1024
	WarnSizeBytes      = 8 * 1024 * 1024
	MaxAccumulatedFrac = 1.2 // download aborts beyond 120% of MaxSizeBytes
	MaxDimensionPx     = 2048
	PNGToJPEGThreshold = 2 * 1024 * 1024
)

// trailingPunctuation is stripped from URLs that commonly adhere to
// prose ("check this out: https://x.com/a)." -> trailing ")." removed).
const trailingPunctuation = ").,;!?"

// CleanURL strips trailing punctuation that commonly adheres to a URL
// embedded in prose. It is idempotent: CleanURL(CleanURL(s)) == CleanURL(s).
func CleanURL(s string) string {
	s = strings.TrimSpace(s)
	for len(s) > 0 && strings.ContainsRune(trailingPunctuation, rune(s[len(s)-1])) {
		s = s[:len(s)-1]
	}
	return s
}

// canonicalize reduces a URL to scheme+host+path for dedup purposes,
// dropping the querystring only when the path already looks like it
// uniquely identifies an asset (has a file extension).
func canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	key := u.Scheme + "://" + u.Host + u.Path
	if !hasFileExtension(u.Path) {
		key += "?" + u.RawQuery
	}
	return key
}

func hasFileExtension(path string) bool {
	idx := strings.LastIndex(path, "/")
	last := path
	if idx >= 0 {
		last = path[idx+1:]
	}
	dot := strings.LastIndex(last, ".")
	return dot > 0 && dot < len(last)-1
}

// Deduplicate keeps the first occurrence of each canonicalized URL,
// preserving first-seen order. Idempotent.
func Deduplicate(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		cleaned := CleanURL(raw)
		if cleaned == "" {
			continue
		}
		key := canonicalize(cleaned)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cleaned)
	}
	return out
}

// problematicHosts are known to reject cross-origin fetches from the
// model provider (provider CDNs, short-lived signed URLs, auth-token
// URLs). Such URLs are fetched by us and re-offered as data: URLs.
var problematicHosts = []string{
	"oaidalleapiprodscus.blob.core.windows.net",
	"blob.core.windows.net",
	"cdn.openai.com",
}

// IsProblematic reports whether url's host is known to reject
// cross-origin fetches from the provider, or whether the URL carries a
// short-lived signature/token querystring.
func IsProblematic(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, h := range problematicHosts {
		if strings.HasSuffix(host, h) {
			return true
		}
	}
	q := u.Query()
	for _, key := range []string{"signature", "sig", "token", "x-amz-signature", "se", "sp"} {
		if q.Get(key) != "" {
			return true
		}
	}
	return false
}

// Downloader fetches image bytes, retrying on timeout/5xx.
type Downloader struct {
	client *http.Client
	logger *slog.Logger
}

// NewDownloader constructs a Downloader. client may be nil to use a
// sensible default (30s timeout).
func NewDownloader(client *http.Client, logger *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, logger: logger}
}

// DownloadError distinguishes retryable (timeout/5xx) from terminal
// (4xx) download failures.
type DownloadError struct {
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("download failed with status %d", e.StatusCode)
}

func (e *DownloadError) retryable() bool {
	if e.StatusCode == 0 {
		return true // network/timeout error
	}
	return e.StatusCode >= 500
}

// downloadBackoff returns the wait before a retried download attempt:
// 1s, 2s, 4s for retryNum 1, 2, 3; un-jittered.
func downloadBackoff(retryNum int) time.Duration {
	return time.Duration(1<<uint(retryNum-1)) * time.Second
}

// Download fetches url's bytes, retrying up to 3 attempts total on
// timeout or 5xx, never on 4xx. Accumulated bytes are capped at 120%
// of maxSize; the stream is aborted mid-read beyond that.
func (d *Downloader) Download(ctx context.Context, rawURL string, maxSize int64) ([]byte, string, error) {
	if maxSize <= 0 {
		maxSize = MaxSizeBytes
	}
	cap := int64(float64(maxSize) * MaxAccumulatedFrac)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(downloadBackoff(attempt - 1)):
			}
		}

		data, mimeType, err := d.attempt(ctx, rawURL, cap)
		if err == nil {
			return data, mimeType, nil
		}
		lastErr = err
		var derr *DownloadError
		if asDownloadError(err, &derr) && !derr.retryable() {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("download %s: %w", rawURL, lastErr)
}

func asDownloadError(err error, target **DownloadError) bool {
	de, ok := err.(*DownloadError)
	if ok {
		*target = de
	}
	return ok
}

func (d *Downloader) attempt(ctx context.Context, rawURL string, capBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &DownloadError{Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", &DownloadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", &DownloadError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	limited := io.LimitReader(resp.Body, capBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", &DownloadError{Err: err}
	}
	if int64(len(data)) > capBytes {
		return nil, "", &DownloadError{Err: fmt.Errorf("exceeded %d bytes accumulated cap", capBytes)}
	}

	mimeType := resp.Header.Get("Content-Type")
	return data, mimeType, nil
}

// ValidateSize rejects above MaxSizeBytes and reports whether it should
// warn (above WarnSizeBytes but within the hard limit).
func ValidateSize(data []byte) (warn bool, err error) {
	n := int64(len(data))
	if n > MaxSizeBytes {
		return false, fmt.Errorf("image exceeds max size of %d bytes (got %d)", MaxSizeBytes, n)
	}
	return n > WarnSizeBytes, nil
}

// ValidateFormat ensures data parses as PNG/JPEG/GIF/WebP and returns
// its decoded dimensions and detected format.
func ValidateFormat(data []byte) (format string, width, height int, err error) {
	cfg, fmtName, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("unrecognized image format: %w", err)
	}
	switch fmtName {
	case "png", "jpeg", "gif", "webp":
		return fmtName, cfg.Width, cfg.Height, nil
	default:
		return "", 0, 0, fmt.Errorf("unsupported image format %q", fmtName)
	}
}

// Pipeline composes download, validation, optimization, and blob
// persistence for the job controller and strategies.
type Pipeline struct {
	downloader *Downloader
	blobs      blobstore.Store
	cache      *cache
	logger     *slog.Logger
}

// Config configures a Pipeline.
type Config struct {
	HTTPClient  *http.Client
	Blobs       blobstore.Store
	CacheSize   int
	CacheTTL    time.Duration
	Logger      *slog.Logger
}

// NewPipeline constructs an ImagePipeline.
func NewPipeline(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		downloader: NewDownloader(cfg.HTTPClient, logger),
		blobs:      cfg.Blobs,
		cache:      newCache(cfg.CacheSize, cfg.CacheTTL),
		logger:     logger,
	}
}

// FetchAndOptimize downloads (or serves from cache), validates, and
// optimizes an image URL. Returns the final bytes and mime type.
func (p *Pipeline) FetchAndOptimize(ctx context.Context, rawURL string) ([]byte, string, error) {
	cleaned := CleanURL(rawURL)
	cacheKey := cacheKeyFor(cleaned)
	if data, mimeType, ok := p.cache.get(cacheKey); ok {
		return data, mimeType, nil
	}

	data, mimeType, err := p.downloader.Download(ctx, cleaned, MaxSizeBytes)
	if err != nil {
		return nil, "", err
	}
	if warn, err := ValidateSize(data); err != nil {
		return nil, "", err
	} else if warn {
		p.logger.Warn("image above warn-size threshold", "url", cleaned, "bytes", len(data))
	}

	format, _, _, err := ValidateFormat(data)
	if err != nil {
		return nil, "", err
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/" + format
	}

	optimized, optMime, err := Optimize(data, mimeType)
	if err != nil {
		// optimization is best-effort; fall back to the original bytes
		p.logger.Warn("image optimization failed, using original bytes", "url", cleaned, "err", err)
		optimized, optMime = data, mimeType
	}

	p.cache.put(cacheKey, optimized, optMime)
	return optimized, optMime, nil
}

// FetchAsDataURL downloads and optimizes an image, returning it as an
// inline data: URL. This is the fetch-and-splice half of the LLM
// client's image-download-error recovery: when the provider cannot
// reach a URL, the worker fetches it and re-offers the bytes inline.
func (p *Pipeline) FetchAsDataURL(ctx context.Context, rawURL string) (string, error) {
	data, mimeType, err := p.FetchAndOptimize(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func cacheKeyFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// UploadBase64 writes base64-encoded image data to the BlobStore under
// images/<ulid>.<ext> and returns its public URL.
func (p *Pipeline) UploadBase64(ctx context.Context, b64, mimeType, tenantID, jobID string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode base64 image: %w", err)
	}
	if p.blobs == nil {
		return "", fmt.Errorf("no blob store configured")
	}

	ext := extensionFor(mimeType)
	id := ulid.MustNew(ulid.Now(), rand.Reader).String()
	key := fmt.Sprintf("images/%s.%s", id, ext)

	publicURL, err := p.blobs.Put(ctx, key, bytes.NewReader(data), blobstore.PutOptions{
		MimeType: mimeType,
		Public:   true,
	})
	if err != nil {
		return "", fmt.Errorf("upload base64 image: %w", err)
	}
	_ = tenantID
	_ = jobID
	return publicURL, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// asset is one entry of a rescued {assets:[...]} JSON document, per the
// base64-image rescue contract.
type asset struct {
	Encoding             string `json:"encoding"`
	ContentType          string `json:"content_type"`
	Data                 string `json:"data"`
	OriginalDataEncoding string `json:"original_data_encoding,omitempty"`
}

type assetDocument struct {
	Assets []asset `json:"assets"`
}

// RescueBase64Assets scans a JSON document for a top-level assets array
// whose entries are {encoding:"base64", content_type:"image/*",
// data:...}, uploads each one, and rewrites the entry in place
// (encoding -> "url", data -> the uploaded URL,
// original_data_encoding -> "base64"). Already-rewritten entries
// (encoding == "url") are left untouched, making a second rescue pass a
// no-op. Returns the rewritten JSON bytes and the
// list of newly uploaded image URLs.
func (p *Pipeline) RescueBase64Assets(ctx context.Context, raw []byte, tenantID, jobID string) ([]byte, []string, error) {
	var doc assetDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw, nil, nil // not a rescuable document; pass through untouched
	}
	if len(doc.Assets) == 0 {
		return raw, nil, nil
	}

	var urls []string
	changed := false
	for i, a := range doc.Assets {
		if a.Encoding != "base64" || !strings.HasPrefix(a.ContentType, "image/") || a.Data == "" {
			continue
		}
		url, err := p.UploadBase64(ctx, a.Data, a.ContentType, tenantID, jobID)
		if err != nil {
			return raw, urls, fmt.Errorf("rescue asset %d: %w", i, err)
		}
		doc.Assets[i].OriginalDataEncoding = "base64"
		doc.Assets[i].Data = url
		doc.Assets[i].Encoding = "url"
		urls = append(urls, url)
		changed = true
	}
	if !changed {
		return raw, nil, nil
	}

	rewritten, err := json.Marshal(doc)
	if err != nil {
		return raw, urls, fmt.Errorf("re-marshal rescued document: %w", err)
	}
	return rewritten, urls, nil
}
