package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ManifestEntry is one generation of the data directory: the configuration
// in effect and the page files that were live.
type ManifestEntry struct {
	Timestamp int64            `json:"timestamp"`
	Version   int              `json:"version"`
	Config    *Config          `json:"config"`
	Files     map[string]int64 `json:"files,omitempty"` // page file name to page count
}

// Manifest records the page files of a data directory across restarts
type Manifest struct {
	DataDir    string
	Entries    []ManifestEntry
	Current    *ManifestEntry
	LastUpdate time.Time
	mu         sync.RWMutex
}

// NewManifest creates a new manifest for the given data directory
func NewManifest(dataDir string, config *Config) (*Manifest, error) {
	if config == nil {
		config = NewDefaultConfig(dataDir)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    config,
	}

	m := &Manifest{
		DataDir:    dataDir,
		Entries:    []ManifestEntry{entry},
		LastUpdate: time.Now(),
	}
	m.Current = &m.Entries[0]
	return m, nil
}

// LoadManifest loads an existing manifest from the data directory
func LoadManifest(dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, DefaultManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in manifest", ErrInvalidManifest)
	}

	current := &entries[len(entries)-1]
	if current.Config == nil {
		return nil, fmt.Errorf("%w: entry without config", ErrInvalidManifest)
	}
	if err := current.Config.Validate(); err != nil {
		return nil, err
	}

	return &Manifest{
		DataDir:    dataDir,
		Entries:    entries,
		Current:    current,
		LastUpdate: time.Now(),
	}, nil
}

// Save persists the manifest to disk
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Current.Config.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.Entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(m.DataDir, DefaultManifestFileName), data); err != nil {
		return err
	}

	m.LastUpdate = time.Now()
	return nil
}

// UpdateConfig starts a new generation with a modified copy of the
// current configuration. The live file set carries over.
func (m *Manifest) UpdateConfig(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newConfig, err := m.Current.Config.clone()
	if err != nil {
		return err
	}

	fn(newConfig)

	if err := newConfig.Validate(); err != nil {
		return err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    newConfig,
		Files:     copyFiles(m.Current.Files),
	}

	m.Entries = append(m.Entries, entry)
	m.Current = &m.Entries[len(m.Entries)-1]

	return nil
}

// AddFile registers a page file holding pages pages
func (m *Manifest) AddFile(name string, pages int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Current.Files == nil {
		m.Current.Files = make(map[string]int64)
	}
	m.Current.Files[name] = pages
}

// RemoveFile removes a page file from the manifest
func (m *Manifest) RemoveFile(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Current.Files, name)
}

// GetConfig returns the current configuration
func (m *Manifest) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Config
}

// GetFiles returns a copy of the registered page files
func (m *Manifest) GetFiles() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyFiles(m.Current.Files)
}

// FileNames returns the registered page file names in ascending order.
// Page files are named so that this is also their creation order.
func (m *Manifest) FileNames() []string {
	files := m.GetFiles()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyFiles(files map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(files))
	for k, v := range files {
		out[k] = v
	}
	return out
}
