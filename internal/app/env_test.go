package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.env")
	b := filepath.Join(dir, "b.env")
	if err := os.WriteFile(a, []byte("# base\nCACHE_DIR=/tmp/a\nexport UA_IOS=\"ios agent\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("CACHE_DIR=/tmp/b # local\n\nMEDIA_CONCURRENCY='3'\nbogus line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CACHE_DIR", "")
	t.Setenv("UA_IOS", "")
	t.Setenv("MEDIA_CONCURRENCY", "")

	if err := LoadEnvFiles(a, filepath.Join(dir, "missing.env"), b); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("CACHE_DIR"); got != "/tmp/b" {
		t.Fatalf("CACHE_DIR=%q", got)
	}
	if got := os.Getenv("UA_IOS"); got != "ios agent" {
		t.Fatalf("UA_IOS=%q", got)
	}
	if got := os.Getenv("MEDIA_CONCURRENCY"); got != "3" {
		t.Fatalf("MEDIA_CONCURRENCY=%q", got)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{"A=1", "A", "1", true},
		{"  export B = two ", "B", "two", true},
		{`C="x # y"`, "C", "x # y", true},
		{"D=v # note", "D", "v", true},
		{"# comment", "", "", false},
		{"=nokey", "", "", false},
		{"novalue", "", "", false},
	}
	for _, tc := range cases {
		k, v, ok := parseEnvLine(tc.line)
		if ok != tc.ok || k != tc.key || v != tc.val {
			t.Errorf("parseEnvLine(%q) = %q, %q, %v", tc.line, k, v, ok)
		}
	}
}

func TestApplyEnvToConfig_FillsOnlyUnset(t *testing.T) {
	t.Setenv("CACHE_DIR", "/env/cache")
	t.Setenv("ARTIFACT_DIR", "/env/art")
	t.Setenv("HTTP_TIMEOUT", "30s")
	t.Setenv("JPEG_QUALITY", "80")
	t.Setenv("DOUYIN_MIRRORS", "https://a.example/share, ,https://b.example/share")
	t.Setenv("VERBOSE", "yes")

	cfg := DefaultConfig()
	cfg.ArtifactDir = "/flag/art"
	ApplyEnvToConfig(&cfg)

	if cfg.CacheDir != "/env/cache" {
		t.Fatalf("CacheDir=%q", cfg.CacheDir)
	}
	if cfg.ArtifactDir != "/flag/art" {
		t.Fatalf("explicit ArtifactDir overwritten: %q", cfg.ArtifactDir)
	}
	if cfg.Timeout != 30*time.Second || cfg.JPEGQuality != 80 || !cfg.Verbose {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.DouyinMirrors) != 2 || cfg.DouyinMirrors[1] != "https://b.example/share" {
		t.Fatalf("mirrors=%v", cfg.DouyinMirrors)
	}
}

func TestApplyEnvOverrides_Forces(t *testing.T) {
	t.Setenv("CACHE_DIR", "/env/cache")
	t.Setenv("HTTP_MAX_ATTEMPTS", "5")
	t.Setenv("MEDIA_CONCURRENCY", "0")
	t.Setenv("CACHE_STRICT_PERMS", "false")
	t.Setenv("HTTP_TIMEOUT", "not-a-duration")

	cfg := DefaultConfig()
	cfg.CacheDir = "/file/cache"
	cfg.CacheStrictPerms = true
	ApplyEnvOverrides(&cfg)

	if cfg.CacheDir != "/env/cache" || cfg.MaxAttempts != 5 || cfg.MediaConcurrency != 0 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.CacheStrictPerms {
		t.Fatal("false env value should clear the flag")
	}
	if cfg.Timeout != DefaultTimeout {
		t.Fatalf("unparsable duration should be ignored, got %v", cfg.Timeout)
	}
}
