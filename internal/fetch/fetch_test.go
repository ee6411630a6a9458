package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperifyio/mediaparse/internal/cache"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 2, PerRequestTimeout: 2 * time.Second}
	resp, err := c.Fetch(context.Background(), Request{URL: srv.URL, Profile: DefaultProfiles().Desktop, FollowRedirects: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ContentType == "" || resp.Text() == "" {
		t.Fatalf("expected content type and body")
	}
}

func TestFetch_SendsProfileHeaders(t *testing.T) {
	var gotUA, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotOrigin = r.Header.Get("Origin")
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	p := DefaultProfiles().IOS.With(map[string]string{"origin": "https://example.com"})
	c := &Client{PerRequestTimeout: 2 * time.Second}
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL, Profile: p}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotUA != iosUA {
		t.Fatalf("User-Agent=%q, want ios profile", gotUA)
	}
	if gotOrigin != "https://example.com" {
		t.Fatalf("Origin=%q", gotOrigin)
	}
	if DefaultProfiles().IOS.Headers.Get("Origin") != "" {
		t.Fatalf("With must not mutate the base profile")
	}
}

func TestFetch_MergesQuery(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 2 * time.Second}
	q := url.Values{"aweme_ids": {"[42]"}, "request_source": {"200"}}
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL + "/api?x=1", Query: q}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Get("x") != "1" || got.Get("aweme_ids") != "[42]" || got.Get("request_source") != "200" {
		t.Fatalf("unexpected query: %v", got)
	}
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 2 * time.Second}
	_, err := c.Fetch(context.Background(), Request{URL: srv.URL, FollowRedirects: true})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T %v", err, err)
	}
	if fe.Status != http.StatusForbidden || fe.Transport() {
		t.Fatalf("unexpected fetch error: %+v", fe)
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := &Client{PerRequestTimeout: time.Second}
	_, err := c.Fetch(context.Background(), Request{URL: addr})
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Transport() {
		t.Fatalf("expected transport FetchError, got %v", err)
	}
}

func TestFetch_RetryOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(502)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 2, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestFetch_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(404)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 3, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL}); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestFetch_NoFollowSurfacesRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 2 * time.Second}
	_, err := c.Fetch(context.Background(), Request{URL: srv.URL + "/"})
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Redirect() {
		t.Fatalf("expected redirect FetchError, got %v", err)
	}
	if fe.Location != srv.URL+"/next" {
		t.Fatalf("Location=%q", fe.Location)
	}

	resp, err := c.Fetch(context.Background(), Request{URL: srv.URL + "/", FollowRedirects: true})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if resp.URL != srv.URL+"/next" {
		t.Fatalf("final URL=%q", resp.URL)
	}
}

func TestLocation_ReturnsAbsoluteTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://www.douyin.com/video/999")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 2 * time.Second}
	loc, err := c.Location(context.Background(), srv.URL+"/abc123", DefaultProfiles().Desktop)
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc != "https://www.douyin.com/video/999" {
		t.Fatalf("loc=%q", loc)
	}
}

func TestLocation_NonRedirectIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a redirect"))
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 2 * time.Second}
	_, err := c.Location(context.Background(), srv.URL, Profile{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusOK {
		t.Fatalf("expected status FetchError, got %v", err)
	}
}

func TestFetch_Conditional304_UsesCache(t *testing.T) {
	// First return 200 with ETag. Subsequent requests that include If-None-Match should get 304.
	var calls int32
	etag := `"abc123"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		if n == 1 {
			w.Header().Set("ETag", etag)
			_, _ = w.Write([]byte("first"))
			return
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("unexpected"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, Cache: &cache.HTTPCache{Dir: t.TempDir()}}
	req := Request{URL: srv.URL, Profile: DefaultProfiles().Desktop, FollowRedirects: true}

	r1, err := c.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("first fetch error: %v", err)
	}
	if string(r1.Body) != "first" {
		t.Fatalf("unexpected body1: %q", string(r1.Body))
	}

	r2, err := c.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("second fetch error: %v", err)
	}
	if string(r2.Body) != "first" || r2.Status != http.StatusOK {
		t.Fatalf("expected cached body, got %d %q", r2.Status, string(r2.Body))
	}
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	c := &Client{MaxAttempts: 1, PerRequestTimeout: 1 * time.Second}
	if _, err := c.Fetch(context.Background(), Request{URL: "file:///etc/hosts"}); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}

func TestFetch_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 128))
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 2 * time.Second, MaxBodyBytes: 64}
	_, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("expected body limit error, got %v", err)
	}
}

func TestFetch_RedirectLimit(t *testing.T) {
	// First path redirects once to /next; with RedirectMaxHops=1 this should fail immediately
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, RedirectMaxHops: 1}
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL + "/", FollowRedirects: true}); err == nil {
		t.Fatalf("expected redirect limit error")
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := &Client{PerRequestTimeout: 50 * time.Millisecond}
	_, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Transport() {
		t.Fatalf("expected transport timeout, got %v", err)
	}
}

func TestFetch_MaxConcurrent(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if curr <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, curr) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, MaxConcurrent: 2}

	var wg sync.WaitGroup
	start := make(chan struct{})
	num := 6
	wg.Add(num)
	for i := 0; i < num; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.Fetch(context.Background(), Request{URL: srv.URL})
		}()
	}
	close(start)
	wg.Wait()

	if atomic.LoadInt32(&maxObserved) > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", maxObserved)
	}
}

func TestResponseText_DecodesCharset(t *testing.T) {
	// "café" in ISO-8859-1
	r := &Response{ContentType: "text/html; charset=iso-8859-1", Body: []byte{'c', 'a', 'f', 0xe9}}
	if got := r.Text(); got != "café" {
		t.Fatalf("Text()=%q, want café", got)
	}
}
