package fetch

import "net/http"

// Profile is a named set of request headers emulating one kind of client.
// Upstream platforms serve different payloads to different fingerprints, so
// every strategy picks the profile it needs.
type Profile struct {
	Name    string
	Headers http.Header
}

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/55.0.2883.87 UBrowser/6.2.4098.3 Safari/537.36"
	iosUA     = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1 Edg/132.0.0.0"
	androidUA = "Mozilla/5.0 (Linux; Android 10; SM-G981B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.162 Mobile Safari/537.36 Edg/132.0.0.0"
)

// Profiles groups the header profiles available to platform resolvers.
type Profiles struct {
	Desktop Profile
	IOS     Profile
	Android Profile
}

// DefaultProfiles returns fresh copies of the built-in profiles.
func DefaultProfiles() Profiles {
	return Profiles{
		Desktop: newProfile("desktop", desktopUA),
		IOS:     newProfile("ios", iosUA),
		Android: newProfile("android", androidUA),
	}
}

func newProfile(name, ua string) Profile {
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept-Language", "zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2")
	return Profile{Name: name, Headers: h}
}

// With returns a copy of p with the given headers set on top.
func (p Profile) With(headers map[string]string) Profile {
	out := Profile{Name: p.Name, Headers: p.Headers.Clone()}
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	for k, v := range headers {
		out.Headers.Set(k, v)
	}
	return out
}

// WithUserAgent returns a copy of p using ua. An empty ua leaves p unchanged.
func (p Profile) WithUserAgent(ua string) Profile {
	if ua == "" {
		return p
	}
	return p.With(map[string]string{"User-Agent": ua})
}

// HeaderMap flattens the profile for collaborators that take plain maps.
func (p Profile) HeaderMap() map[string]string {
	out := make(map[string]string, len(p.Headers))
	for k := range p.Headers {
		out[k] = p.Headers.Get(k)
	}
	return out
}

func (p Profile) apply(req *http.Request) {
	for k, vs := range p.Headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}
