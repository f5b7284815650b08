package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	dslvl "github.com/ipfs/go-ds-leveldb"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/cmap"
)

const filesPrefix = "/files"

// MetadataCache remembers the handle behind each chunk of a file and the
// version and locations last seen for each handle, so reads can skip the
// master. Handles live in a datastore, locations only in memory and for at
// most ttl.
type MetadataCache struct {
	mu     sync.Mutex
	files  ds.Datastore
	chunks *cmap.Map[string, chunkEntry]

	ttl time.Duration
	now func() time.Time
}

type chunkEntry struct {
	version   uint32
	primary   model.ChunkServerLocation
	locations []model.ChunkServerLocation
	cachedAt  time.Time
}

func NewMetadataCache(files ds.Datastore, ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		files:  files,
		chunks: cmap.NewMap[string, chunkEntry](),
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewMemoryMetadataCache returns a cache that is lost with the process.
func NewMemoryMetadataCache(ttl time.Duration) *MetadataCache {
	return NewMetadataCache(dssync.MutexWrap(ds.NewMapDatastore()), ttl)
}

// OpenMetadataCache opens a leveldb backed cache at path.
func OpenMetadataCache(path string, ttl time.Duration) (*MetadataCache, error) {
	store, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return NewMetadataCache(store, ttl), nil
}

func fileKey(path string) ds.Key {
	return ds.NewKey(filesPrefix + path)
}

func (mc *MetadataCache) getFile(ctx context.Context, path string) (*model.FileMetadata, error) {
	b, err := mc.files.Get(ctx, fileKey(path))
	if errors.Is(err, ds.ErrNotFound) {
		f := model.NewFileMetadata(path)
		return f, nil
	}

	if err != nil {
		return nil, err
	}

	var f model.FileMetadata
	err = json.Unmarshal(b, &f)
	if err != nil {
		return nil, err
	}

	if f.ChunkHandles == nil {
		f.ChunkHandles = make(map[uint32]string)
	}

	return &f, nil
}

func (mc *MetadataCache) putFile(ctx context.Context, f *model.FileMetadata) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}

	return mc.files.Put(ctx, fileKey(f.Filename), b)
}

// Lookup returns the cached metadata of chunk index of path. Entries older
// than the ttl are not returned.
func (mc *MetadataCache) Lookup(ctx context.Context, path string, index uint32) (model.FileChunkMetadata, bool) {
	mc.mu.Lock()
	f, err := mc.getFile(ctx, path)
	mc.mu.Unlock()
	if err != nil {
		return model.FileChunkMetadata{}, false
	}

	handle, ok := f.ChunkHandles[index]
	if !ok {
		return model.FileChunkMetadata{}, false
	}

	e, ok := mc.chunks.Get(handle)
	if !ok || mc.now().Sub(e.cachedAt) > mc.ttl {
		return model.FileChunkMetadata{}, false
	}

	return model.FileChunkMetadata{
		ChunkHandle: handle,
		Version:     e.version,
		Primary:     e.primary,
		Locations:   append([]model.ChunkServerLocation(nil), e.locations...),
	}, true
}

// Store records md as chunk index of path. A lower version than the one
// already cached for the handle does not replace it.
func (mc *MetadataCache) Store(ctx context.Context, path string, index uint32, md model.FileChunkMetadata) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	f, err := mc.getFile(ctx, path)
	if err != nil {
		return err
	}

	if f.ChunkHandles[index] != md.ChunkHandle {
		f.ChunkHandles[index] = md.ChunkHandle
		err = mc.putFile(ctx, f)
		if err != nil {
			return err
		}
	}

	version := md.Version
	if e, ok := mc.chunks.Get(md.ChunkHandle); ok && e.version > version {
		version = e.version
	}

	mc.chunks.Set(md.ChunkHandle, chunkEntry{
		version:   version,
		primary:   md.Primary,
		locations: append([]model.ChunkServerLocation(nil), md.Locations...),
		cachedAt:  mc.now(),
	})

	return nil
}

// Invalidate drops chunk index of path.
func (mc *MetadataCache) Invalidate(ctx context.Context, path string, index uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	f, err := mc.getFile(ctx, path)
	if err != nil {
		return err
	}

	handle, ok := f.ChunkHandles[index]
	if !ok {
		return nil
	}

	mc.chunks.Delete(handle)
	delete(f.ChunkHandles, index)

	return mc.putFile(ctx, f)
}

// ForgetFile drops every chunk of path.
func (mc *MetadataCache) ForgetFile(ctx context.Context, path string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	f, err := mc.getFile(ctx, path)
	if err != nil {
		return err
	}

	for _, h := range f.ChunkHandles {
		mc.chunks.Delete(h)
	}

	err = mc.files.Delete(ctx, fileKey(path))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}

	return err
}

func (mc *MetadataCache) Close() error {
	return mc.files.Close()
}
