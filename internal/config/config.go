// Package config holds the run configuration shared by the cache-nodes and
// resolve tools: flag parsing with environment defaults, size strings and
// validation that runs before any file is opened.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment variable read as a flag default.
const EnvPrefix = "OSMRESOLVE_"

// Defaults
const (
	DefaultRecordWidth = 8
	DefaultBackend     = "mmap"
	DefaultMemory      = "1g"
	DefaultPageSize    = "1g"
	DefaultReportEvery = 60 * time.Second
)

// Config is the resolved configuration of one run.
type Config struct {
	PBFPath      string
	CachePath    string
	Backend      string // "mmap" or "file"
	RecordWidth  int
	MemoryBudget int64 // bytes of cache records resolved per pass
	PageSize     int64 // mmap page size in bytes
	Workers      int
	Advice       []string
	StrictAdvice bool
	ReportEvery  time.Duration
	MetricsAddr  string
	Unbounded    bool
	LogLevel     string
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Env returns the environment value for key (without prefix), or def.
func Env(key, def string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return def
}

// RegisterFlags binds the common flags to fs. The returned function must be
// called after fs.Parse and converts the raw values into a Config.
func RegisterFlags(fs *flag.FlagSet, defaultAdvice string) func() (Config, error) {
	var (
		pbfPath      = fs.String("pbf", Env("PBF", ""), "Path to the OSM PBF container")
		cachePath    = fs.String("cache", Env("CACHE", "./data/nodes.cache"), "Path to the node location cache file")
		backend      = fs.String("backend", Env("BACKEND", DefaultBackend), "Cache backend: mmap or file")
		recordWidth  = fs.Int("record-width", envInt("RECORD_WIDTH", DefaultRecordWidth), "Cache record width in bytes (8 or 12)")
		mem          = fs.String("mem", Env("MEM", DefaultMemory), "Memory budget per pass (e.g., 512m, 4g)")
		pageSize     = fs.String("page-size", Env("PAGE_SIZE", DefaultPageSize), "mmap page size (e.g., 256m, 1g)")
		workers      = fs.Int("workers", envInt("WORKERS", runtime.NumCPU()), "Number of decode workers")
		advice       = fs.String("advice", Env("ADVICE", defaultAdvice), "Comma separated access advice for the cache")
		strictAdvice = fs.Bool("strict-advice", Env("STRICT_ADVICE", "") == "true", "Fail when the platform rejects an advice")
		reportEvery  = fs.Duration("report-every", envDuration("REPORT_EVERY", DefaultReportEvery), "Progress report interval")
		metricsAddr  = fs.String("metrics-addr", Env("METRICS_ADDR", ""), "Listen address for /metrics and /progress (empty = disabled)")
		unbounded    = fs.Bool("unbounded", Env("UNBOUNDED", "") == "true", "Resolve in a single pass regardless of memory budget")
		logLevel     = fs.String("log-level", Env("LOG_LEVEL", "info"), "Log level")
	)

	return func() (Config, error) {
		memBytes, err := ParseSize(*mem)
		if err != nil {
			return Config{}, err
		}
		pageBytes, err := ParseSize(*pageSize)
		if err != nil {
			return Config{}, err
		}
		cfg := Config{
			PBFPath:      *pbfPath,
			CachePath:    *cachePath,
			Backend:      *backend,
			RecordWidth:  *recordWidth,
			MemoryBudget: memBytes,
			PageSize:     pageBytes,
			Workers:      *workers,
			Advice:       splitList(*advice),
			StrictAdvice: *strictAdvice,
			ReportEvery:  *reportEvery,
			MetricsAddr:  *metricsAddr,
			Unbounded:    *unbounded,
			LogLevel:     *logLevel,
		}
		return cfg, cfg.Validate()
	}
}

// Validate rejects configurations that cannot start a run.
func (c Config) Validate() error {
	if c.PBFPath == "" {
		return fmt.Errorf("%w: pbf path is required", ErrInvalidConfig)
	}
	if c.CachePath == "" {
		return fmt.Errorf("%w: cache path is required", ErrInvalidConfig)
	}
	if c.Backend != "mmap" && c.Backend != "file" {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.RecordWidth <= 0 {
		return fmt.Errorf("%w: record width must be positive, got %d", ErrInvalidConfig, c.RecordWidth)
	}
	if c.RecordWidth != 8 && c.RecordWidth != 12 {
		return fmt.Errorf("%w: unsupported record width %d", ErrInvalidConfig, c.RecordWidth)
	}
	if !c.Unbounded && c.MemoryBudget <= 0 {
		return fmt.Errorf("%w: memory budget must be positive, got %d", ErrInvalidConfig, c.MemoryBudget)
	}
	if !c.Unbounded && c.MemoryBudget < int64(c.RecordWidth) {
		return fmt.Errorf("%w: memory budget %d smaller than one record", ErrInvalidConfig, c.MemoryBudget)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidConfig, c.PageSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.ReportEvery <= 0 {
		return fmt.Errorf("%w: report interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChunkSize is the number of node ids covered by one pass.
func (c Config) ChunkSize() int64 {
	return c.MemoryBudget / int64(c.RecordWidth)
}

// ParseSize parses a size string like "512m", "4g", "1024" into bytes.
func ParseSize(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty size", ErrInvalidConfig)
	}
	s = strings.TrimSuffix(s, "b")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "t"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %v", ErrInvalidConfig, orig, err)
	}
	if n > 0 && n > (1<<63-1)/multiplier {
		return 0, fmt.Errorf("%w: size %q overflows", ErrInvalidConfig, orig)
	}
	return n * multiplier, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, def int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
