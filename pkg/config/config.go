package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevoDB/lsmcore/pkg/block"
	"github.com/KevoDB/lsmcore/pkg/common/log"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
)

const (
	DefaultManifestFileName = "MANIFEST"
	DefaultConfigFileName   = "config.json"
	CurrentManifestVersion  = 1

	// MinPageSize leaves room for the page header and a handful of records
	MinPageSize = 64
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// Compression codecs accepted for page files
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
	CompressionS2     = "s2"
)

type Config struct {
	Version int `json:"version"`

	// Directory holding page files and the manifest
	DataDir string `json:"data_dir"`

	// Page configuration
	PageSize    int    `json:"page_size"`
	Compression string `json:"compression"`

	// MemTable configuration
	MemTableSize int64 `json:"memtable_size"`
	HeightSeed   int64 `json:"height_seed"` // 0 seeds from the clock

	LogLevel  string           `json:"log_level"`
	Telemetry telemetry.Config `json:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataDir string) *Config {
	return &Config{
		Version: CurrentManifestVersion,
		DataDir: dataDir,

		PageSize:    4 * 1024, // 4KB
		Compression: CompressionSnappy,

		MemTableSize: 4 * 1024 * 1024, // 4MB

		LogLevel:  "info",
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory not specified", ErrInvalidConfig)
	}

	if c.PageSize < MinPageSize || int64(c.PageSize)-block.HeaderSize > block.MaxCapacity {
		return fmt.Errorf("%w: page size %d out of range", ErrInvalidConfig, c.PageSize)
	}

	switch c.Compression {
	case CompressionNone, CompressionSnappy, CompressionZstd, CompressionS2:
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}

	if c.MemTableSize <= 0 {
		return fmt.Errorf("%w: MemTable size must be positive", ErrInvalidConfig)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
	}

	return nil
}

// LoadConfig reads and validates a JSON configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path through a temporary file
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return writeFileAtomic(path, data)
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// clone returns a deep copy without the lock
func (c *Config) clone() (*Config, error) {
	c.mu.RLock()
	data, err := json.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &out, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	return nil
}
