package downloader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/fetch"
)

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("png: %v", err)
	}
	body := buf.Bytes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Referer"); r.URL.Path == "/ref" && got != "https://www.douyin.com/" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload_StoresWithSniffedExtension(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	d := &HTTP{Fetcher: &fetch.Client{PerRequestTimeout: 2 * time.Second}, Dir: t.TempDir()}

	a, err := d.Download(context.Background(), srv.URL+"/img", nil)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Ext(a.Path) != ".png" || a.MIME != "image/png" {
		t.Fatalf("artifact=%+v", a)
	}
	if a.Temporary {
		t.Fatalf("downloads are not temporary")
	}
	if _, err := os.Stat(a.Path); err != nil {
		t.Fatalf("stat: %v", err)
	}

	again, err := d.Download(context.Background(), srv.URL+"/img", nil)
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if again.Path != a.Path || hits.Load() != 1 {
		t.Fatalf("existing file should be reused (hits=%d)", hits.Load())
	}
}

func TestDownload_ConcurrentSameURLFetchesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	d := &HTTP{Fetcher: &fetch.Client{PerRequestTimeout: 2 * time.Second}, Dir: t.TempDir()}

	var wg sync.WaitGroup
	paths := make([]string, 5)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := d.Download(context.Background(), srv.URL+"/same", nil)
			if err != nil {
				t.Errorf("download: %v", err)
				return
			}
			paths[i] = a.Path
		}()
	}
	wg.Wait()
	for _, p := range paths[1:] {
		if p != paths[0] {
			t.Fatalf("paths differ: %v", paths)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1", hits.Load())
	}
}

func TestDownload_HeadersAndErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	d := &HTTP{Fetcher: &fetch.Client{PerRequestTimeout: 2 * time.Second}, Dir: t.TempDir(), Profile: fetch.DefaultProfiles().IOS}

	if _, err := d.Download(context.Background(), srv.URL+"/ref", map[string]string{"Referer": "https://www.douyin.com/"}); err != nil {
		t.Fatalf("download with referer: %v", err)
	}
	_, err := d.Download(context.Background(), srv.URL+"/missing", nil)
	var fe *fetch.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusNotFound {
		t.Fatalf("expected 404 FetchError, got %v", err)
	}
	entries, _ := os.ReadDir(d.Dir)
	if len(entries) != 1 {
		t.Fatalf("failed download must leave no file, dir has %d", len(entries))
	}
}

func TestDownload_MaterializesResult(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	d := &HTTP{Fetcher: &fetch.Client{PerRequestTimeout: 2 * time.Second}, Dir: t.TempDir()}
	r := &content.Result{Contents: []content.Content{
		{Kind: content.KindImage, URL: srv.URL + "/a"},
		{Kind: content.KindDynamic, URL: srv.URL + "/b"},
	}}
	if err := r.Materialize(context.Background(), d, nil, 2); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	for i, c := range r.Contents {
		if !c.Local() {
			t.Fatalf("item %d not materialized", i)
		}
	}
}
