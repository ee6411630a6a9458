package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/mediaparse/internal/app"
	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/dispatch"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitNotMatched = 2
	exitUsage      = 2
)

// maxStdinBytes bounds input read from stdin.
const maxStdinBytes = 1 << 20

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// cliOptions are the settings that only make sense on the command line.
type cliOptions struct {
	configPath string
	envFiles   string
	version    bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	cfg, opts, rest, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		log.Error().Err(err).Msg("invalid arguments")
		return exitUsage
	}
	if opts.version {
		fmt.Fprintln(stdout, app.VersionString())
		return exitOK
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	input := strings.TrimSpace(strings.Join(rest, " "))
	if input == "" {
		b, err := io.ReadAll(io.LimitReader(stdin, maxStdinBytes))
		if err != nil {
			log.Error().Err(err).Msg("read stdin")
			return exitFailure
		}
		input = strings.TrimSpace(string(b))
	}
	if input == "" {
		log.Error().Msg("no input: pass a share link or text as arguments or on stdin")
		return exitUsage
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("init failed")
		return exitFailure
	}
	defer a.Close()
	defer func() {
		log.Debug().Interface("metrics", a.Metrics().Snapshot()).Msg("counters")
	}()

	res, err := a.Parse(ctx, input)
	if err != nil {
		log.Error().Err(err).Msg("parse failed")
		return exitCode(err)
	}
	if err := writeResult(cfg.OutputPath, stdout, res); err != nil {
		log.Error().Err(err).Msg("write result")
		return exitFailure
	}
	return exitOK
}

// exitCode maps a Parse error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, dispatch.ErrNotMatched):
		return exitNotMatched
	default:
		return exitFailure
	}
}

// parseConfig layers defaults, the optional config file, the environment and
// explicitly set flags, in increasing precedence.
func parseConfig(args []string) (app.Config, cliOptions, []string, error) {
	fs := flag.NewFlagSet("mediaparse", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: mediaparse [flags] <share text or link>\n")
		fs.PrintDefaults()
	}

	var opts cliOptions
	fv := app.DefaultConfig()
	fs.StringVar(&opts.configPath, "config", os.Getenv("MEDIAPARSE_CONFIG"), "Path to a YAML or JSON config file")
	fs.StringVar(&opts.envFiles, "env", ".env", "Comma-separated dotenv files loaded before reading the environment")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	fs.StringVar(&fv.OutputPath, "output", "", "Write the JSON result to this file instead of stdout")
	fs.BoolVar(&fv.Verbose, "v", false, "Verbose logging")
	fs.DurationVar(&fv.Timeout, "http.timeout", fv.Timeout, "Timeout for each upstream request")
	fs.IntVar(&fv.MaxAttempts, "http.maxAttempts", fv.MaxAttempts, "Attempts per upstream request on transient errors")
	fs.IntVar(&fv.MaxConcurrentRequests, "http.maxConcurrent", 0, "Maximum in-flight upstream requests (0 = unlimited)")
	fs.StringVar(&fv.CacheDir, "cache.dir", "", "HTTP cache directory (empty disables caching)")
	fs.DurationVar(&fv.CacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this at startup; 0 disables")
	fs.BoolVar(&fv.CacheClear, "cache.clear", false, "Clear the cache directory at startup")
	fs.BoolVar(&fv.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.StringVar(&fv.ArtifactDir, "artifact.dir", "", "Directory for converted images (default: system temp dir)")
	fs.IntVar(&fv.MediaConcurrency, "media.concurrency", fv.MediaConcurrency, "Concurrent image conversions per request (0 = one per image)")
	fs.IntVar(&fv.JPEGQuality, "media.jpegQuality", fv.JPEGQuality, "JPEG quality for converted images")
	fs.StringVar(&fv.DownloadDir, "download.dir", "", "Download remaining remote media into this directory")

	if err := fs.Parse(args); err != nil {
		return app.Config{}, opts, nil, err
	}

	var files []string
	for _, p := range strings.Split(opts.envFiles, ",") {
		if p = strings.TrimSpace(p); p != "" {
			files = append(files, p)
		}
	}
	if err := app.LoadEnvFiles(files...); err != nil {
		return app.Config{}, opts, nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := app.DefaultConfig()
	if opts.configPath != "" {
		fc, err := app.LoadConfigFile(opts.configPath)
		if err != nil {
			return app.Config{}, opts, nil, fmt.Errorf("load config: %w", err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	set := map[string]func(){
		"output":             func() { cfg.OutputPath = fv.OutputPath },
		"v":                  func() { cfg.Verbose = fv.Verbose },
		"http.timeout":       func() { cfg.Timeout = fv.Timeout },
		"http.maxAttempts":   func() { cfg.MaxAttempts = fv.MaxAttempts },
		"http.maxConcurrent": func() { cfg.MaxConcurrentRequests = fv.MaxConcurrentRequests },
		"cache.dir":          func() { cfg.CacheDir = fv.CacheDir },
		"cache.maxAge":       func() { cfg.CacheMaxAge = fv.CacheMaxAge },
		"cache.clear":        func() { cfg.CacheClear = fv.CacheClear },
		"cache.strictPerms":  func() { cfg.CacheStrictPerms = fv.CacheStrictPerms },
		"artifact.dir":       func() { cfg.ArtifactDir = fv.ArtifactDir },
		"media.concurrency":  func() { cfg.MediaConcurrency = fv.MediaConcurrency },
		"media.jpegQuality":  func() { cfg.JPEGQuality = fv.JPEGQuality },
		"download.dir":       func() { cfg.DownloadDir = fv.DownloadDir },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})
	return cfg, opts, fs.Args(), nil
}

// writeResult encodes res as indented JSON to path, or to stdout when path
// is empty.
func writeResult(path string, stdout io.Writer, res *content.Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "" {
		_, err = stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
