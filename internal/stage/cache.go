package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// cacheSchemaVersion guards against decoding a payload written by an
// incompatible earlier version of this tool.
const cacheSchemaVersion uint16 = 1

// CacheKey identifies one (name, version) extraction.
type CacheKey [32]byte

// KeyFor derives a stable cache key from a crate name and version.
func KeyFor(name, version string) CacheKey {
	return sha256.Sum256([]byte(name + "@" + version))
}

// CachePayload records where a crate's source was last unpacked to, so a
// repeat run across dependents sharing the same base-crate version can
// reuse the extraction instead of re-downloading and re-unpacking
// (spec.md §4.4's "reusing cached extractions where present").
type CachePayload struct {
	Schema  uint16
	Name    string
	Version string
	Dir     string
}

// DiskCache persists CachePayload records under the user's cache
// directory, keyed on crate name+version rather than a module content
// hash.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// OpenDiskCache opens (creating if absent) the on-disk extraction cache
// rooted at <XDG_CACHE_HOME or ~/.cache>/copter/stage.
func OpenDiskCache() (*DiskCache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "copter", "stage")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) pathFor(key CacheKey) string {
	return filepath.Join(c.dir, hex.EncodeToString(key[:])+".mp")
}

// Put records that name@version was unpacked to dir.
func (c *DiskCache) Put(key CacheKey, payload *CachePayload) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := msgpack.NewEncoder(f).Encode(payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get looks up a previous extraction. The caller must still verify the
// recorded Dir exists before trusting the cache hit (the staging
// directory may have been cleaned since).
func (c *DiskCache) Get(key CacheKey) (*CachePayload, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var payload CachePayload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, false, err
	}
	if payload.Schema != cacheSchemaVersion {
		return nil, false, nil
	}
	return &payload, true, nil
}

// DropAll invalidates every cached extraction record (the records, not the
// staged directories themselves — see Stager.Clean for that).
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(c.dir)
}
