package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/lsmcore")

	if cfg.Version != CurrentManifestVersion {
		t.Errorf("expected version %d, got %d", CurrentManifestVersion, cfg.Version)
	}
	if cfg.DataDir != "/tmp/lsmcore" {
		t.Errorf("expected data dir /tmp/lsmcore, got %s", cfg.DataDir)
	}
	if cfg.PageSize != 4096 {
		t.Errorf("expected page size 4096, got %d", cfg.PageSize)
	}
	if cfg.Compression != CompressionSnappy {
		t.Errorf("expected snappy compression, got %s", cfg.Compression)
	}
	if cfg.MemTableSize != 4*1024*1024 {
		t.Errorf("expected memtable size %d, got %d", 4*1024*1024, cfg.MemTableSize)
	}
	if cfg.Telemetry.Enabled {
		t.Errorf("telemetry should be disabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := NewDefaultConfig("/tmp/lsmcore").Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}

	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name:     "invalid version",
			mutate:   func(c *Config) { c.Version = 0 },
			expected: "invalid configuration: invalid version 0",
		},
		{
			name:     "empty data dir",
			mutate:   func(c *Config) { c.DataDir = "" },
			expected: "invalid configuration: data directory not specified",
		},
		{
			name:     "page too small",
			mutate:   func(c *Config) { c.PageSize = 16 },
			expected: "invalid configuration: page size 16 out of range",
		},
		{
			name:     "unknown compression",
			mutate:   func(c *Config) { c.Compression = "lz4" },
			expected: `invalid configuration: unknown compression "lz4"`,
		},
		{
			name:     "zero memtable size",
			mutate:   func(c *Config) { c.MemTableSize = 0 },
			expected: "invalid configuration: MemTable size must be positive",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.LogLevel = "loud" },
			expected: `invalid configuration: unknown log level "loud"`,
		},
		{
			name:     "bad telemetry",
			mutate:   func(c *Config) { c.Telemetry.SampleRate = 3 },
			expected: "invalid configuration: telemetry: sample_rate must be between 0.0 and 1.0, got 3.000000",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/lsmcore")
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if err.Error() != tc.expected {
				t.Errorf("expected error %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFileName)

	cfg := NewDefaultConfig(dir)
	cfg.PageSize = 8192
	cfg.Compression = CompressionZstd
	cfg.HeightSeed = 42

	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if loaded.PageSize != 8192 || loaded.Compression != CompressionZstd || loaded.HeightSeed != 42 {
		t.Errorf("loaded config differs: page=%d compression=%s seed=%d",
			loaded.PageSize, loaded.Compression, loaded.HeightSeed)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.json")

	// Missing fields keep their defaults and the data dir follows the file
	if err := os.WriteFile(path, []byte(`{"page_size": 1024}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.PageSize != 1024 {
		t.Errorf("expected page size 1024, got %d", cfg.PageSize)
	}
	if cfg.Compression != CompressionSnappy || cfg.DataDir != dir {
		t.Errorf("defaults not applied: compression=%s dir=%s", cfg.Compression, cfg.DataDir)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	garbage := filepath.Join(dir, "garbage.json")
	os.WriteFile(garbage, []byte("{not json"), 0644)
	if _, err := LoadConfig(garbage); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for malformed JSON, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.json")
	os.WriteFile(invalid, []byte(`{"compression": "brotli"}`), 0644)
	if _, err := LoadConfig(invalid); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for invalid values, got %v", err)
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/lsmcore")

	cfg.Update(func(c *Config) {
		c.PageSize = 16384
		c.Compression = CompressionNone
	})

	if cfg.PageSize != 16384 || cfg.Compression != CompressionNone {
		t.Errorf("update not applied: page=%d compression=%s", cfg.PageSize, cfg.Compression)
	}
}
