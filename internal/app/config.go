package app

import (
	"time"

	"github.com/hyperifyio/mediaparse/internal/fetch"
)

// Defaults applied by DefaultConfig and used to detect unset values when
// layering file and environment configuration.
const (
	DefaultTimeout          = 15 * time.Second
	DefaultMaxAttempts      = 2
	DefaultRedirectMaxHops  = 5
	DefaultMediaConcurrency = 8
	DefaultJPEGQuality      = 95
)

// Config holds runtime configuration for the application.
type Config struct {
	OutputPath string

	// HTTP
	Timeout         time.Duration
	MaxAttempts     int
	MaxBodyBytes    int64
	RedirectMaxHops int
	// MaxConcurrentRequests caps in-flight requests; zero is unlimited.
	MaxConcurrentRequests int

	// Page and media cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	CacheMaxBytes    int64
	CacheMaxEntries  int

	// Media
	ArtifactDir string
	// MediaConcurrency bounds image conversions per request; zero runs one
	// task per image.
	MediaConcurrency int
	JPEGQuality      int
	// DownloadDir enables materializing remaining remote media.
	DownloadDir string

	// Upstream emulation
	DesktopUA string
	IOSUA     string
	AndroidUA string

	DouyinMirrors   []string
	DouyinSlidesAPI string
	XHSBaseURL      string

	Verbose bool
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		MaxBodyBytes:     fetch.DefaultMaxBodyBytes,
		RedirectMaxHops:  DefaultRedirectMaxHops,
		MediaConcurrency: DefaultMediaConcurrency,
		JPEGQuality:      DefaultJPEGQuality,
	}
}

// Profiles returns the header profiles with any user-agent overrides applied.
func (c Config) Profiles() fetch.Profiles {
	p := fetch.DefaultProfiles()
	p.Desktop = p.Desktop.WithUserAgent(c.DesktopUA)
	p.IOS = p.IOS.WithUserAgent(c.IOSUA)
	p.Android = p.Android.WithUserAgent(c.AndroidUA)
	return p
}
