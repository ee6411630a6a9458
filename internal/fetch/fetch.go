package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hyperifyio/mediaparse/internal/cache"
)

// DefaultMaxBodyBytes caps response bodies when Client.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 32 << 20

var errBodyTooLarge = errors.New("response body exceeds limit")

// Request describes one GET.
type Request struct {
	URL             string
	Query           url.Values
	Profile         Profile
	FollowRedirects bool
}

// Response is a fully read 2xx response.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Text returns the body decoded to UTF-8 according to the declared or
// sniffed charset.
func (r *Response) Text() string {
	rd, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
	if err != nil {
		return string(r.Body)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return string(r.Body)
	}
	return string(b)
}

// Client wraps http.Client and provides header profiles, timeouts, a redirect
// policy and limited retry on transient errors. It holds no per-request state
// and is safe for concurrent use.
type Client struct {
	HTTPClient *http.Client
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Optional on-disk cache for followed GET bodies.
	Cache *cache.HTTPCache
	// If true, skip conditional revalidation but still save fresh responses.
	BypassCache bool

	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// MaxConcurrent limits concurrent in-flight requests per client instance.
	// Zero means unlimited.
	MaxConcurrent int
	// MaxBodyBytes caps the bytes read from a body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	limiter     chan struct{}
	limiterOnce sync.Once
}

func (c *Client) getHTTPClient(follow bool) *http.Client {
	var base http.Client
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base = *c.HTTPClient
	} else {
		base = http.Client{Timeout: c.PerRequestTimeout}
	}
	if follow {
		base.CheckRedirect = c.checkRedirectFunc()
	} else {
		base.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	return &base
}

// Fetch issues a GET with the request's header profile and redirect policy.
// Non-2xx responses and transport failures are returned as *FetchError.
func (c *Client) Fetch(ctx context.Context, r Request) (*Response, error) {
	target, err := buildURL(r.URL, r.Query)
	if err != nil {
		return nil, &FetchError{URL: r.URL, Err: err}
	}

	useCache := c.Cache != nil && r.FollowRedirects
	key := cacheKey(target, r.Profile)
	var etag, lastMod string
	if useCache && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, key); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := c.tryOnce(ctx, target, r, etag, lastMod)
		if err == nil {
			if useCache && resp.Status == http.StatusOK {
				_ = c.Cache.Save(ctx, key, resp.ContentType, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), resp.Body)
			}
			if resp.Status == http.StatusNotModified && useCache {
				cached, err := c.Cache.LoadBody(ctx, key)
				if err != nil {
					return nil, &FetchError{URL: target, Status: resp.Status}
				}
				if meta, err := c.Cache.LoadMeta(ctx, key); err == nil && meta != nil {
					resp.ContentType = meta.ContentType
				}
				resp.Status = http.StatusOK
				resp.Body = cached
			}
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) || i == attempts-1 || ctx.Err() != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, &FetchError{URL: target, Err: ctx.Err()}
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// Location performs a GET without following redirects and returns the
// absolute redirect target. Any non-redirect outcome is a *FetchError.
func (c *Client) Location(ctx context.Context, rawURL string, p Profile) (string, error) {
	resp, err := c.Fetch(ctx, Request{URL: rawURL, Profile: p})
	if err == nil {
		return "", &FetchError{URL: resp.URL, Status: resp.Status}
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Redirect() && fe.Location != "" {
		return fe.Location, nil
	}
	return "", err
}

func (c *Client) tryOnce(ctx context.Context, target string, r Request, etag string, lastMod string) (*Response, error) {
	// Concurrency gate per client instance
	if err := c.acquire(ctx); err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("new request: %w", err)}
	}
	// Reject non-HTTP(S) schemes early
	if !isHTTPScheme(req.URL) {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("unsupported URL scheme: %q", req.URL.Scheme)}
	}
	r.Profile.apply(req)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	httpClient := c.getHTTPClient(r.FollowRedirects)
	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), c.PerRequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	if resp.StatusCode == http.StatusNotModified {
		// 304: no body expected
		return &Response{URL: final, Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Header: resp.Header}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &FetchError{URL: target, Status: resp.StatusCode}
		if loc, err := resp.Location(); err == nil {
			fe.Location = loc.String()
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fe
	}

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(b)) > limit {
		return nil, &FetchError{URL: target, Err: errBodyTooLarge}
	}
	return &Response{
		URL:         final,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        b,
	}, nil
}

// isTransient treats HTTP 5xx and deadline expiry as worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status >= 500 && fe.Status <= 599
}

func buildURL(raw string, q url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(q) > 0 {
		merged := u.Query()
		for k, vs := range q {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func cacheKey(target string, p Profile) string {
	if p.Name == "" {
		return target
	}
	return p.Name + " " + target
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		// Only allow http/https during redirects
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *Client) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
		// should not happen, but avoid blocking
	}
}
