package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"calview/internal/apierr"
	appLog "calview/internal/log"
)

// Feed is one read-only ICS subscription.
type Feed struct {
	ID   string
	Name string
	URL  string
}

// diskMeta holds HTTP cache validators for one feed URL.
type diskMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last body
// on disk so an unreachable feed still yields its previous contents.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher stores per-feed bodies under cacheDir. hc may be nil.
func NewFetcher(cacheDir string, hc *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "calview-ics")
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Fetcher{client: hc, cacheDir: cacheDir}
}

// Fetch returns the feed body. fromDisk reports whether the body came from
// the local copy (304, network failure or non-OK status).
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (body []byte, fromDisk bool, err error) {
	if feed.URL == "" {
		return nil, false, apierr.Validation("ics feed %q has no URL", feed.ID)
	}
	dir := f.dirFor(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if len(cached) > 0 {
			appLog.Warn("ics fetch failed; using disk copy", "feed", feed.ID, "url", redactURL(feed.URL), "err", err.Error())
			return cached, true, nil
		}
		return nil, false, apierr.Network("ics fetch", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, apierr.Network("ics read", err)
		}
		next := diskMeta{URL: feed.URL, ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified")}
		if err := saveDisk(dir, next, data); err != nil {
			appLog.Error("ics disk cache save failed", err, "feed", feed.ID)
		}
		appLog.Debug("ics fetched", "feed", feed.ID, "url", redactURL(feed.URL), "bytes", len(data))
		return data, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("ics: 304 Not Modified without a disk copy")
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("ics fetch non-OK; using disk copy", "feed", feed.ID, "url", redactURL(feed.URL), "status", resp.StatusCode)
			return cached, true, nil
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, false, apierr.Classify(resp.StatusCode, data, "ics fetch")
	}
}

func (f *Fetcher) dirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (diskMeta, error) {
	var meta diskMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// saveDisk writes the body before the metadata so validators never point
// at a missing body.
func saveDisk(dir string, meta diskMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed secrets.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
