package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pyropy/gfs/core/model"
)

func testChunk(handle string, version uint32, ports ...int) model.FileChunkMetadata {
	md := model.FileChunkMetadata{ChunkHandle: handle, Version: version}
	for _, p := range ports {
		md.Locations = append(md.Locations, model.ChunkServerLocation{Hostname: "localhost", Port: p})
	}

	if len(md.Locations) > 0 {
		md.Primary = md.Locations[0]
	}

	return md
}

func TestMetadataCacheStoreAndLookup(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryMetadataCache(time.Minute)

	if _, ok := mc.Lookup(ctx, "/f", 0); ok {
		t.Fatalf("empty cache should miss")
	}

	if err := mc.Store(ctx, "/f", 0, testChunk("0", 2, 7001, 7002)); err != nil {
		t.Fatalf("store: %v", err)
	}

	md, ok := mc.Lookup(ctx, "/f", 0)
	if !ok || md.ChunkHandle != "0" || md.Version != 2 || len(md.Locations) != 2 {
		t.Fatalf("unexpected lookup %+v (%v)", md, ok)
	}

	if _, ok := mc.Lookup(ctx, "/f", 1); ok {
		t.Fatalf("chunk 1 was never stored")
	}

	// an older answer keeps the newer version but takes the locations
	if err := mc.Store(ctx, "/f", 0, testChunk("0", 1, 7003)); err != nil {
		t.Fatalf("store: %v", err)
	}

	md, _ = mc.Lookup(ctx, "/f", 0)
	if md.Version != 2 || len(md.Locations) != 1 || md.Locations[0].Port != 7003 {
		t.Fatalf("unexpected lookup after older store %+v", md)
	}
}

func TestMetadataCacheExpires(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryMetadataCache(time.Minute)

	now := time.Now()
	mc.now = func() time.Time { return now }

	if err := mc.Store(ctx, "/f", 0, testChunk("0", 1, 7001)); err != nil {
		t.Fatalf("store: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := mc.Lookup(ctx, "/f", 0); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestMetadataCacheInvalidateAndForget(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryMetadataCache(time.Minute)

	for i, h := range []string{"0", "1"} {
		if err := mc.Store(ctx, "/f", uint32(i), testChunk(h, 1, 7001)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	if err := mc.Invalidate(ctx, "/f", 0); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if _, ok := mc.Lookup(ctx, "/f", 0); ok {
		t.Fatalf("chunk 0 should be invalidated")
	}

	if _, ok := mc.Lookup(ctx, "/f", 1); !ok {
		t.Fatalf("chunk 1 should still be cached")
	}

	if err := mc.ForgetFile(ctx, "/f"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	if _, ok := mc.Lookup(ctx, "/f", 1); ok {
		t.Fatalf("file should be forgotten")
	}

	if err := mc.ForgetFile(ctx, "/never"); err != nil {
		t.Fatalf("forgetting an unknown file: %v", err)
	}
}

func TestOpenMetadataCache(t *testing.T) {
	ctx := context.Background()

	mc, err := OpenMetadataCache(filepath.Join(t.TempDir(), "cache"), time.Minute)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mc.Close()

	if err := mc.Store(ctx, "/dir/f", 3, testChunk("7", 4, 7001)); err != nil {
		t.Fatalf("store: %v", err)
	}

	md, ok := mc.Lookup(ctx, "/dir/f", 3)
	if !ok || md.ChunkHandle != "7" || md.Version != 4 {
		t.Fatalf("unexpected lookup %+v (%v)", md, ok)
	}
}
