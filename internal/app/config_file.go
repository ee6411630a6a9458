package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
// Nested sections map naturally to flags and env.
type FileConfig struct {
	Output  string `yaml:"output" json:"output"`
	Verbose bool   `yaml:"verbose" json:"verbose"`

	HTTP struct {
		Timeout         time.Duration `yaml:"timeout" json:"timeout"`
		MaxAttempts     int           `yaml:"maxAttempts" json:"maxAttempts"`
		MaxBodyBytes    int64         `yaml:"maxBodyBytes" json:"maxBodyBytes"`
		RedirectMaxHops int           `yaml:"redirectMaxHops" json:"redirectMaxHops"`
		MaxConcurrent   int           `yaml:"maxConcurrent" json:"maxConcurrent"`
	} `yaml:"http" json:"http"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
		MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`
		MaxEntries  int           `yaml:"maxEntries" json:"maxEntries"`
	} `yaml:"cache" json:"cache"`

	Media struct {
		// Concurrency is a pointer so an explicit 0 (unbounded) is kept.
		Concurrency *int   `yaml:"concurrency" json:"concurrency"`
		JPEGQuality int    `yaml:"jpegQuality" json:"jpegQuality"`
		ArtifactDir string `yaml:"artifactDir" json:"artifactDir"`
	} `yaml:"media" json:"media"`

	Download struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"download" json:"download"`

	UserAgents struct {
		Desktop string `yaml:"desktop" json:"desktop"`
		IOS     string `yaml:"ios" json:"ios"`
		Android string `yaml:"android" json:"android"`
	} `yaml:"userAgents" json:"userAgents"`

	Douyin struct {
		Mirrors   []string `yaml:"mirrors" json:"mirrors"`
		SlidesAPI string   `yaml:"slidesAPI" json:"slidesAPI"`
	} `yaml:"douyin" json:"douyin"`

	Xiaohongshu struct {
		BaseURL string `yaml:"baseURL" json:"baseURL"`
	} `yaml:"xiaohongshu" json:"xiaohongshu"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from fc onto fields of cfg that are still
// zero or at their default.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	def := DefaultConfig()

	if cfg.OutputPath == "" && fc.Output != "" {
		cfg.OutputPath = fc.Output
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}

	if (cfg.Timeout == 0 || cfg.Timeout == def.Timeout) && fc.HTTP.Timeout > 0 {
		cfg.Timeout = fc.HTTP.Timeout
	}
	if (cfg.MaxAttempts == 0 || cfg.MaxAttempts == def.MaxAttempts) && fc.HTTP.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.HTTP.MaxAttempts
	}
	if (cfg.MaxBodyBytes == 0 || cfg.MaxBodyBytes == def.MaxBodyBytes) && fc.HTTP.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.HTTP.MaxBodyBytes
	}
	if (cfg.RedirectMaxHops == 0 || cfg.RedirectMaxHops == def.RedirectMaxHops) && fc.HTTP.RedirectMaxHops > 0 {
		cfg.RedirectMaxHops = fc.HTTP.RedirectMaxHops
	}
	if cfg.MaxConcurrentRequests == 0 && fc.HTTP.MaxConcurrent > 0 {
		cfg.MaxConcurrentRequests = fc.HTTP.MaxConcurrent
	}

	if cfg.CacheDir == "" && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
	if cfg.CacheMaxBytes == 0 && fc.Cache.MaxBytes > 0 {
		cfg.CacheMaxBytes = fc.Cache.MaxBytes
	}
	if cfg.CacheMaxEntries == 0 && fc.Cache.MaxEntries > 0 {
		cfg.CacheMaxEntries = fc.Cache.MaxEntries
	}

	if cfg.MediaConcurrency == def.MediaConcurrency && fc.Media.Concurrency != nil {
		cfg.MediaConcurrency = *fc.Media.Concurrency
	}
	if (cfg.JPEGQuality == 0 || cfg.JPEGQuality == def.JPEGQuality) && fc.Media.JPEGQuality > 0 {
		cfg.JPEGQuality = fc.Media.JPEGQuality
	}
	if cfg.ArtifactDir == "" && fc.Media.ArtifactDir != "" {
		cfg.ArtifactDir = fc.Media.ArtifactDir
	}
	if cfg.DownloadDir == "" && fc.Download.Dir != "" {
		cfg.DownloadDir = fc.Download.Dir
	}

	if cfg.DesktopUA == "" && fc.UserAgents.Desktop != "" {
		cfg.DesktopUA = fc.UserAgents.Desktop
	}
	if cfg.IOSUA == "" && fc.UserAgents.IOS != "" {
		cfg.IOSUA = fc.UserAgents.IOS
	}
	if cfg.AndroidUA == "" && fc.UserAgents.Android != "" {
		cfg.AndroidUA = fc.UserAgents.Android
	}

	if len(cfg.DouyinMirrors) == 0 && len(fc.Douyin.Mirrors) > 0 {
		cfg.DouyinMirrors = append([]string{}, fc.Douyin.Mirrors...)
	}
	if cfg.DouyinSlidesAPI == "" && fc.Douyin.SlidesAPI != "" {
		cfg.DouyinSlidesAPI = fc.Douyin.SlidesAPI
	}
	if cfg.XHSBaseURL == "" && fc.Xiaohongshu.BaseURL != "" {
		cfg.XHSBaseURL = fc.Xiaohongshu.BaseURL
	}
}

// ValidateConfig rejects settings the pipeline cannot run with.
func ValidateConfig(cfg Config) error {
	if cfg.Timeout <= 0 {
		return errors.New("config: http timeout must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("config: http max attempts must be at least 1")
	}
	if cfg.MaxBodyBytes < 0 || cfg.RedirectMaxHops < 0 || cfg.MaxConcurrentRequests < 0 ||
		cfg.MediaConcurrency < 0 || cfg.CacheMaxBytes < 0 || cfg.CacheMaxEntries < 0 || cfg.CacheMaxAge < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg quality %d out of range 1-100", cfg.JPEGQuality)
	}
	for _, m := range cfg.DouyinMirrors {
		if err := checkBaseURL(m); err != nil {
			return fmt.Errorf("config: douyin mirror: %w", err)
		}
	}
	if cfg.DouyinSlidesAPI != "" {
		if err := checkBaseURL(cfg.DouyinSlidesAPI); err != nil {
			return fmt.Errorf("config: douyin slides api: %w", err)
		}
	}
	if cfg.XHSBaseURL != "" {
		if err := checkBaseURL(cfg.XHSBaseURL); err != nil {
			return fmt.Errorf("config: xiaohongshu base url: %w", err)
		}
	}
	return nil
}

func checkBaseURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", s)
	}
	return nil
}
