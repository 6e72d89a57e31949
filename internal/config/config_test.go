package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"4k", 4 * 1024},
		{"512m", 512 * 1024 * 1024},
		{"1g", 1 << 30},
		{"1GB", 1 << 30},
		{" 2g ", 2 << 30},
		{"3t", 3 << 40},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, "ParseSize(%q)", tt.in)
		require.Equal(t, tt.want, got, "ParseSize(%q)", tt.in)
	}

	for _, bad := range []string{"", "abc", "1x", "99999999999t"} {
		_, err := ParseSize(bad)
		require.ErrorIs(t, err, ErrInvalidConfig, "ParseSize(%q)", bad)
	}
}

func validConfig() Config {
	return Config{
		PBFPath:      "planet.osm.pbf",
		CachePath:    "nodes.cache",
		Backend:      "mmap",
		RecordWidth:  8,
		MemoryBudget: 1 << 20,
		PageSize:     1 << 20,
		Workers:      4,
		ReportEvery:  time.Minute,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no pbf", func(c *Config) { c.PBFPath = "" }},
		{"no cache", func(c *Config) { c.CachePath = "" }},
		{"bad backend", func(c *Config) { c.Backend = "rocks" }},
		{"zero width", func(c *Config) { c.RecordWidth = 0 }},
		{"negative width", func(c *Config) { c.RecordWidth = -8 }},
		{"odd width", func(c *Config) { c.RecordWidth = 10 }},
		{"zero memory", func(c *Config) { c.MemoryBudget = 0 }},
		{"negative memory", func(c *Config) { c.MemoryBudget = -1 }},
		{"memory below record", func(c *Config) { c.MemoryBudget = 4 }},
		{"zero page", func(c *Config) { c.PageSize = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero report", func(c *Config) { c.ReportEvery = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateUnboundedIgnoresMemory(t *testing.T) {
	c := validConfig()
	c.Unbounded = true
	c.MemoryBudget = 0
	require.NoError(t, c.Validate())
}

func TestChunkSize(t *testing.T) {
	c := validConfig()
	c.MemoryBudget = 1 << 30
	require.Equal(t, int64((1<<30)/8), c.ChunkSize())
	c.RecordWidth = 12
	c.MemoryBudget = 100
	require.Equal(t, int64(8), c.ChunkSize())
}

func TestRegisterFlags(t *testing.T) {
	t.Setenv(EnvPrefix+"WORKERS", "3")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	load := RegisterFlags(fs, "random")
	require.NoError(t, fs.Parse([]string{"--pbf", "a.pbf", "--mem", "16m", "--advice", "random, willneed"}))
	cfg, err := load()
	require.NoError(t, err)
	require.Equal(t, int64(16<<20), cfg.MemoryBudget)
	require.Equal(t, 3, cfg.Workers, "workers from env")
	require.Equal(t, []string{"random", "willneed"}, cfg.Advice)
}

func TestRegisterFlagsRejectsBadSize(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	load := RegisterFlags(fs, "")
	require.NoError(t, fs.Parse([]string{"--pbf", "a.pbf", "--mem", "lots"}))
	_, err := load()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("OSMRESOLVE_TEST_DOTENV=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv(EnvPrefix + "TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", Env("TEST_DOTENV", "default"))
	require.Equal(t, "default", Env("TEST_UNSET", "default"))
}
