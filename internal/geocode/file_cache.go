package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileCache keeps entries in memory and persists them as one JSON document.
// Writes are buffered until Flush.
type FileCache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	dirty   bool
}

type cacheFile struct {
	Entries   map[string]Entry `json:"entries"`
	UpdatedAt string           `json:"updated_at"` // RFC3339 timestamp
}

// NewFileCache opens (or starts) the cache file at path.
func NewFileCache(path string) (*FileCache, error) {
	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	// Create cache directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &FileCache{path: path, entries: make(map[string]Entry)}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileCache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			// No previous cache, start empty
			return nil
		}
		return fmt.Errorf("reading geocode cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing geocode cache: %w", err)
	}
	if f.Entries != nil {
		c.entries = f.Entries
	}
	return nil
}

// Path returns the resolved location of the cache file
func (c *FileCache) Path() string {
	return c.path
}

func (c *FileCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *FileCache) Set(_ context.Context, key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.dirty = true
	return nil
}

// Flush writes the cache to disk if anything changed since the last flush.
func (c *FileCache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(cacheFile{
		Entries:   c.entries,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding geocode cache: %w", err)
	}

	// Write then rename so a crash never leaves a truncated cache behind
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing geocode cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing geocode cache: %w", err)
	}

	c.dirty = false
	return nil
}

// Close flushes pending entries.
func (c *FileCache) Close() error {
	return c.Flush(context.Background())
}

// Len returns the number of cached entries
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
