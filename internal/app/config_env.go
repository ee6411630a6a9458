package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates fields of cfg that are still zero or default
// from environment variables. Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	def := DefaultConfig()

	setStr := func(dst *string, key string) {
		if *dst == "" {
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	setStr(&cfg.OutputPath, "OUTPUT")
	setStr(&cfg.CacheDir, "CACHE_DIR")
	setStr(&cfg.ArtifactDir, "ARTIFACT_DIR")
	setStr(&cfg.DownloadDir, "DOWNLOAD_DIR")
	setStr(&cfg.DesktopUA, "UA_DESKTOP")
	setStr(&cfg.IOSUA, "UA_IOS")
	setStr(&cfg.AndroidUA, "UA_ANDROID")
	setStr(&cfg.DouyinSlidesAPI, "DOUYIN_SLIDES_API")
	setStr(&cfg.XHSBaseURL, "XHS_BASE_URL")

	if len(cfg.DouyinMirrors) == 0 {
		cfg.DouyinMirrors = splitList(os.Getenv("DOUYIN_MIRRORS"))
	}

	setInt := func(dst *int, dflt int, key string) {
		if *dst != dflt && *dst != 0 {
			return
		}
		if n, ok := envInt(key); ok {
			*dst = n
		}
	}
	setInt(&cfg.MaxAttempts, def.MaxAttempts, "HTTP_MAX_ATTEMPTS")
	setInt(&cfg.RedirectMaxHops, def.RedirectMaxHops, "HTTP_MAX_REDIRECTS")
	setInt(&cfg.MaxConcurrentRequests, 0, "HTTP_MAX_CONCURRENT")
	setInt(&cfg.MediaConcurrency, def.MediaConcurrency, "MEDIA_CONCURRENCY")
	setInt(&cfg.JPEGQuality, def.JPEGQuality, "JPEG_QUALITY")
	setInt(&cfg.CacheMaxEntries, 0, "CACHE_MAX_ENTRIES")

	if cfg.MaxBodyBytes == 0 || cfg.MaxBodyBytes == def.MaxBodyBytes {
		if n, ok := envInt64("HTTP_MAX_BODY_BYTES"); ok {
			cfg.MaxBodyBytes = n
		}
	}
	if cfg.CacheMaxBytes == 0 {
		if n, ok := envInt64("CACHE_MAX_BYTES"); ok {
			cfg.CacheMaxBytes = n
		}
	}

	if cfg.Timeout == 0 || cfg.Timeout == def.Timeout {
		if d, ok := envDuration("HTTP_TIMEOUT"); ok {
			cfg.Timeout = d
		}
	}
	if cfg.CacheMaxAge == 0 {
		if d, ok := envDuration("CACHE_MAX_AGE"); ok {
			cfg.CacheMaxAge = d
		}
	}

	setBool := func(dst *bool, key string) {
		if *dst {
			return
		}
		if b, ok := envBool(key); ok && b {
			*dst = true
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment
// variables that are set. Callers apply it after the config file so env
// wins over the file, then re-apply explicit flags.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.OutputPath, "OUTPUT")
	setStr(&cfg.CacheDir, "CACHE_DIR")
	setStr(&cfg.ArtifactDir, "ARTIFACT_DIR")
	setStr(&cfg.DownloadDir, "DOWNLOAD_DIR")
	setStr(&cfg.DesktopUA, "UA_DESKTOP")
	setStr(&cfg.IOSUA, "UA_IOS")
	setStr(&cfg.AndroidUA, "UA_ANDROID")
	setStr(&cfg.DouyinSlidesAPI, "DOUYIN_SLIDES_API")
	setStr(&cfg.XHSBaseURL, "XHS_BASE_URL")
	if l := splitList(os.Getenv("DOUYIN_MIRRORS")); len(l) > 0 {
		cfg.DouyinMirrors = l
	}

	setInt := func(dst *int, key string) {
		if n, ok := envInt(key); ok {
			*dst = n
		}
	}
	setInt(&cfg.MaxAttempts, "HTTP_MAX_ATTEMPTS")
	setInt(&cfg.RedirectMaxHops, "HTTP_MAX_REDIRECTS")
	setInt(&cfg.MaxConcurrentRequests, "HTTP_MAX_CONCURRENT")
	setInt(&cfg.MediaConcurrency, "MEDIA_CONCURRENCY")
	setInt(&cfg.JPEGQuality, "JPEG_QUALITY")
	setInt(&cfg.CacheMaxEntries, "CACHE_MAX_ENTRIES")
	if n, ok := envInt64("HTTP_MAX_BODY_BYTES"); ok {
		cfg.MaxBodyBytes = n
	}
	if n, ok := envInt64("CACHE_MAX_BYTES"); ok {
		cfg.CacheMaxBytes = n
	}
	if d, ok := envDuration("HTTP_TIMEOUT"); ok {
		cfg.Timeout = d
	}
	if d, ok := envDuration("CACHE_MAX_AGE"); ok {
		cfg.CacheMaxAge = d
	}

	// Booleans override in both directions when set
	setBool := func(dst *bool, key string) {
		if b, ok := envBool(key); ok {
			*dst = b
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
}

func envInt(key string) (int, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func envInt64(key string) (int64, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	return d, err == nil
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
