package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

const fetchTimeout = 15 * time.Second

// feedMeta is the conditional-request state kept next to a cached body.
type feedMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads ICS subscriptions. Bodies are cached on disk and
// revalidated with ETag / Last-Modified; a cached body is served when the
// origin is unreachable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Import fetches every source and parses it into events. Sources that
// fail are logged and reported in the error slice; the others still
// contribute their events.
func (f *Fetcher) Import(ctx context.Context, sources []Source) ([]*model.Event, []error) {
	var (
		events []*model.Event
		errs   []error
	)
	for _, src := range sources {
		body, _, err := f.Fetch(ctx, src)
		if err == nil {
			var evs []*model.Event
			evs, err = ParseICS(src, body)
			events = append(events, evs...)
		}
		if err != nil {
			appLog.Error("ics import failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
		}
	}
	return events, errs
}

// Fetch returns the body of src. The bool is true when the body came
// from the cache rather than a fresh 200 response.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, bool, error) {
	if src.URL == "" {
		return nil, false, errors.New("source URL is empty")
	}
	dir := f.entryDir(src.URL)
	meta, cached := f.readCache(dir)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(src, cached, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(src, cached, err)
		}
		meta = feedMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := f.writeCache(dir, meta, body); err != nil {
			appLog.Error("ics cache write failed", err, "id", src.ID)
		}
		appLog.Info("ics fetched", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return body, false, nil
	case http.StatusNotModified:
		if cached == nil {
			return nil, false, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "id", src.ID)
		return cached, true, nil
	default:
		return fallback(src, cached, fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func fallback(src Source, cached []byte, cause error) ([]byte, bool, error) {
	if cached == nil {
		return nil, false, cause
	}
	appLog.Error("ics fetch failed, serving cache", cause, "id", src.ID, "url", redactURL(src.URL))
	return cached, true, nil
}

// entryDir is the cache directory of one URL; empty when caching is off.
func (f *Fetcher) entryDir(rawURL string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) readCache(dir string) (feedMeta, []byte) {
	var meta feedMeta
	if dir == "" {
		return meta, nil
	}
	body, err := os.ReadFile(filepath.Join(dir, "body.ics"))
	if err != nil {
		return meta, nil
	}
	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta, body
}

func (f *Fetcher) writeCache(dir string, meta feedMeta, body []byte) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// body first so meta never describes a missing body
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed tokens.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
