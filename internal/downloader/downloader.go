// Package downloader materializes remote media into a directory, one file per
// URL, reusing files fetched earlier.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/mediaparse/internal/artifact"
	"github.com/hyperifyio/mediaparse/internal/fetch"
)

// Fetcher is satisfied by *fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, r fetch.Request) (*fetch.Response, error)
}

// HTTP downloads over a fetch client. Files are named by the SHA-256 of the
// URL plus an extension sniffed from the content.
type HTTP struct {
	Fetcher Fetcher
	Dir     string
	// Profile supplies base headers; per-call headers are set on top.
	Profile fetch.Profile

	mu sync.Mutex
	// inflight dedupes concurrent downloads of the same URL.
	inflight map[string]*call
}

type call struct {
	done chan struct{}
	art  *artifact.Artifact
	err  error
}

// Download returns the local artifact for rawURL, fetching it when no file
// for it exists yet.
func (d *HTTP) Download(ctx context.Context, rawURL string, headers map[string]string) (*artifact.Artifact, error) {
	key := hashURL(rawURL)
	if a, ok := d.existing(key); ok {
		log.Debug().Str("url", rawURL).Str("path", a.Path).Msg("download reused")
		return a, nil
	}

	d.mu.Lock()
	if d.inflight == nil {
		d.inflight = make(map[string]*call)
	}
	if c, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		select {
		case <-c.done:
			return c.art, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a, ok := d.existing(key); ok {
		// finished between the first check and the lock
		d.mu.Unlock()
		return a, nil
	}
	c := &call{done: make(chan struct{})}
	d.inflight[key] = c
	d.mu.Unlock()

	c.art, c.err = d.fetch(ctx, key, rawURL, headers)
	close(c.done)

	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
	return c.art, c.err
}

func (d *HTTP) fetch(ctx context.Context, key, rawURL string, headers map[string]string) (*artifact.Artifact, error) {
	resp, err := d.Fetcher.Fetch(ctx, fetch.Request{URL: rawURL, Profile: d.Profile.With(headers), FollowRedirects: true})
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(resp.Body)
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	path := filepath.Join(d.Dir, key+mt.Extension())
	tmp, err := os.CreateTemp(d.Dir, key+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("rename: %w", err)
	}
	log.Debug().Str("url", rawURL).Str("path", path).Str("mime", mt.String()).Int("bytes", len(resp.Body)).Msg("downloaded")
	return &artifact.Artifact{ID: key, Path: path, Size: int64(len(resp.Body)), MIME: mt.String()}, nil
}

// existing finds a completed file for key, whatever its extension.
func (d *HTTP) existing(key string) (*artifact.Artifact, bool) {
	matches, err := filepath.Glob(filepath.Join(d.Dir, key+"*"))
	if err != nil {
		return nil, false
	}
	for _, p := range matches {
		if filepath.Ext(p) == ".part" {
			continue
		}
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		mt, _ := mimetype.DetectFile(p)
		a := &artifact.Artifact{ID: key, Path: p, Size: fi.Size()}
		if mt != nil {
			a.MIME = mt.String()
		}
		return a, true
	}
	return nil, false
}

func hashURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])
}
