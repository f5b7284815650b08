package chunkserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/checksum"
)

var (
	ErrChunkDoesNotExist    = errors.New("chunk does not exist")
	ErrChunkAlreadyExists   = errors.New("chunk already exists")
	ErrChunkVersionMismatch = errors.New("chunk version mismatch")
	ErrOutOfRange           = errors.New("offset out of range")
)

const chunkPrefix = "/chunks"

type chunkRecord struct {
	Version  uint32 `json:"version"`
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

// FileChunkManager stores chunks as records in a datastore keyed by handle.
type FileChunkManager struct {
	mu        sync.Mutex
	store     ds.Datastore
	blockSize uint32
}

func NewFileChunkManager(store ds.Datastore, blockSize uint32) *FileChunkManager {
	return &FileChunkManager{
		store:     store,
		blockSize: blockSize,
	}
}

// OpenFileChunkManager opens a leveldb backed store at path.
func OpenFileChunkManager(path string, blockSize uint32) (*FileChunkManager, error) {
	store, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return NewFileChunkManager(store, blockSize), nil
}

func chunkKey(handle string) ds.Key {
	return ds.NewKey(chunkPrefix).ChildString(handle)
}

func (fm *FileChunkManager) get(ctx context.Context, handle string) (chunkRecord, error) {
	b, err := fm.store.Get(ctx, chunkKey(handle))
	if errors.Is(err, ds.ErrNotFound) {
		return chunkRecord{}, ErrChunkDoesNotExist
	}

	if err != nil {
		return chunkRecord{}, err
	}

	var rec chunkRecord
	err = json.Unmarshal(b, &rec)
	return rec, err
}

func (fm *FileChunkManager) put(ctx context.Context, handle string, rec chunkRecord) error {
	rec.Checksum = checksum.CalculateCheckSum(rec.Data)
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return fm.store.Put(ctx, chunkKey(handle), b)
}

func (fm *FileChunkManager) BlockSize() uint32 {
	return fm.blockSize
}

func (fm *FileChunkManager) CreateChunk(ctx context.Context, handle string, version uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	exists, err := fm.store.Has(ctx, chunkKey(handle))
	if err != nil {
		return err
	}

	if exists {
		return ErrChunkAlreadyExists
	}

	return fm.put(ctx, handle, chunkRecord{Version: version})
}

// ReadFromChunk reads up to length bytes at offset. Reads past the end of
// the written data are truncated.
func (fm *FileChunkManager) ReadFromChunk(ctx context.Context, handle string, version, offset, length uint32) ([]byte, error) {
	rec, err := fm.get(ctx, handle)
	if err != nil {
		return nil, err
	}

	if rec.Version != version {
		return nil, ErrChunkVersionMismatch
	}

	size := uint32(len(rec.Data))
	if offset > size {
		return nil, ErrOutOfRange
	}

	end := offset + length
	if end > size || end < offset {
		end = size
	}

	out := make([]byte, end-offset)
	copy(out, rec.Data[offset:end])
	return out, nil
}

// WriteToChunk writes data at offset and returns the number of bytes written.
func (fm *FileChunkManager) WriteToChunk(ctx context.Context, handle string, version, offset uint32, data []byte) (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	rec, err := fm.get(ctx, handle)
	if err != nil {
		return 0, err
	}

	if rec.Version != version {
		return 0, ErrChunkVersionMismatch
	}

	end := uint64(offset) + uint64(len(data))
	if end > uint64(fm.blockSize) {
		return 0, ErrOutOfRange
	}

	if uint64(len(rec.Data)) < end {
		grown := make([]byte, end)
		copy(grown, rec.Data)
		rec.Data = grown
	}

	copy(rec.Data[offset:], data)

	err = fm.put(ctx, handle, rec)
	if err != nil {
		return 0, err
	}

	return uint32(len(data)), nil
}

func (fm *FileChunkManager) GetChunkVersion(ctx context.Context, handle string) (uint32, error) {
	rec, err := fm.get(ctx, handle)
	if err != nil {
		return 0, err
	}

	return rec.Version, nil
}

func (fm *FileChunkManager) SetChunkVersion(ctx context.Context, handle string, version uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	rec, err := fm.get(ctx, handle)
	if err != nil {
		return err
	}

	rec.Version = version
	return fm.put(ctx, handle, rec)
}

// UpdateChunkVersion moves the chunk from one version to another, failing
// with ErrChunkVersionMismatch if it is not at from. The current version is
// returned either way.
func (fm *FileChunkManager) UpdateChunkVersion(ctx context.Context, handle string, from, to uint32) (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	rec, err := fm.get(ctx, handle)
	if err != nil {
		return 0, err
	}

	if rec.Version != from {
		return rec.Version, ErrChunkVersionMismatch
	}

	rec.Version = to
	return to, fm.put(ctx, handle, rec)
}

func (fm *FileChunkManager) DeleteChunk(ctx context.Context, handle string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	return fm.store.Delete(ctx, chunkKey(handle))
}

// GetFileChunk returns the whole chunk.
func (fm *FileChunkManager) GetFileChunk(ctx context.Context, handle string) (model.FileChunk, error) {
	rec, err := fm.get(ctx, handle)
	if err != nil {
		return model.FileChunk{}, err
	}

	return model.FileChunk{Data: rec.Data, Version: rec.Version}, nil
}

// StoreFileChunk stores chunk under handle, replacing anything already there.
func (fm *FileChunkManager) StoreFileChunk(ctx context.Context, handle string, chunk model.FileChunk) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if uint64(len(chunk.Data)) > uint64(fm.blockSize) {
		return ErrOutOfRange
	}

	return fm.put(ctx, handle, chunkRecord{Version: chunk.Version, Data: chunk.Data})
}

// ListChunks returns every stored handle with its version.
func (fm *FileChunkManager) ListChunks(ctx context.Context) (map[string]uint32, error) {
	res, err := fm.store.Query(ctx, dsq.Query{Prefix: chunkPrefix})
	if err != nil {
		return nil, err
	}
	defer res.Close()

	chunks := make(map[string]uint32)
	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		if r.Error != nil {
			return nil, r.Error
		}

		var rec chunkRecord
		err = json.Unmarshal(r.Value, &rec)
		if err != nil {
			return nil, err
		}

		chunks[ds.RawKey(r.Key).BaseNamespace()] = rec.Version
	}

	return chunks, nil
}

func (fm *FileChunkManager) Close() error {
	return fm.store.Close()
}
