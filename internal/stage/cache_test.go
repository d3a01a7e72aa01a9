package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"copter/internal/types"
)

func newTestCache(t *testing.T) *DiskCache {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cache, err := OpenDiskCache()
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func TestDiskCachePutGetRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	key := KeyFor("rgb", "1.0.0")

	if _, ok, err := cache.Get(key); err != nil || ok {
		t.Fatalf("expected a cache miss before Put, got ok=%v err=%v", ok, err)
	}

	payload := &CachePayload{Schema: cacheSchemaVersion, Name: "rgb", Version: "1.0.0", Dir: "/tmp/rgb-1.0.0"}
	if err := cache.Put(key, payload); err != nil {
		t.Fatal(err)
	}

	got, ok, err := cache.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a cache hit after Put")
	}
	if *got != *payload {
		t.Errorf("Get = %+v, want %+v", got, payload)
	}
}

func TestDiskCacheRejectsSchemaMismatch(t *testing.T) {
	cache := newTestCache(t)
	key := KeyFor("rgb", "1.0.0")
	if err := cache.Put(key, &CachePayload{Schema: cacheSchemaVersion + 1, Name: "rgb", Version: "1.0.0", Dir: "/tmp/rgb"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cache.Get(key); err != nil || ok {
		t.Errorf("expected a schema-mismatch miss, got ok=%v err=%v", ok, err)
	}
}

func TestDiskCacheDropAll(t *testing.T) {
	cache := newTestCache(t)
	key := KeyFor("rgb", "1.0.0")
	if err := cache.Put(key, &CachePayload{Schema: cacheSchemaVersion, Name: "rgb", Version: "1.0.0", Dir: "/tmp/rgb"}); err != nil {
		t.Fatal(err)
	}
	if err := cache.DropAll(); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cache.Get(key); err != nil || ok {
		t.Errorf("expected a miss after DropAll, got ok=%v err=%v", ok, err)
	}
}

func TestDiskCacheNilReceiverIsNoop(t *testing.T) {
	var cache *DiskCache
	if err := cache.Put(KeyFor("rgb", "1.0.0"), &CachePayload{}); err != nil {
		t.Errorf("nil cache Put should be a no-op, got %v", err)
	}
	if _, ok, err := cache.Get(KeyFor("rgb", "1.0.0")); err != nil || ok {
		t.Errorf("nil cache Get should miss cleanly, got ok=%v err=%v", ok, err)
	}
}

func TestStagerStageDependentUsesLocalSourceDirectly(t *testing.T) {
	localDir := t.TempDir()
	s := &Stager{StagingDir: t.TempDir()}
	crate := types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0"), Source: types.Local(localDir)}
	dir, err := s.StageDependent(context.Background(), crate)
	if err != nil {
		t.Fatal(err)
	}
	if dir != localDir {
		t.Errorf("StageDependent(local) = %q, want %q", dir, localDir)
	}
}

func TestStagerClean(t *testing.T) {
	stagingDir := filepath.Join(t.TempDir(), "staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatal(err)
	}
	s := &Stager{StagingDir: stagingDir}
	if err := s.Clean(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Errorf("expected staging dir to be removed, stat err = %v", err)
	}
}
