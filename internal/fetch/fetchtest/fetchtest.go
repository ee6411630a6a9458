// Package fetchtest points real platform hosts at a local test server.
package fetchtest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/hyperifyio/mediaparse/internal/fetch"
)

// RewriteTransport sends every request to Target while keeping the original
// Host header, so a test handler can route on r.Host.
type RewriteTransport struct {
	Target *url.URL
	Base   http.RoundTripper
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Host = req.URL.Host
	out.URL.Scheme = t.Target.Scheme
	out.URL.Host = t.Target.Host
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}

// NewClient returns a fetch client whose requests all land on srv.
func NewClient(srv *httptest.Server) *fetch.Client {
	u, _ := url.Parse(srv.URL)
	return &fetch.Client{
		HTTPClient:        &http.Client{Transport: &RewriteTransport{Target: u}, Timeout: 5 * time.Second},
		PerRequestTimeout: 5 * time.Second,
	}
}
