package master

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/cmap"
	"github.com/pyropy/gfs/lib/status"
)

// MetadataManager owns the namespace: files, their chunk handles, chunk
// metadata and write leases. The file map, the chunk map and the lease table
// are guarded independently.
type MetadataManager struct {
	*LeaseStore

	log   *zap.SugaredLogger
	locks *LockManager
	opLog *OpLog

	files *cmap.Map[string, *model.FileMetadata]

	chunksMu sync.RWMutex
	chunks   map[string]model.FileChunkMetadata

	// handleCounter holds the number of handles allocated so far.
	handleCounter atomic.Uint64
}

func NewMetadataManager(log *zap.SugaredLogger, opLog *OpLog) *MetadataManager {
	return &MetadataManager{
		LeaseStore: NewLeaseStore(),
		log:        log,
		locks:      NewLockManager(),
		opLog:      opLog,
		files:      cmap.NewMap[string, *model.FileMetadata](),
		chunks:     make(map[string]model.FileChunkMetadata),
	}
}

func (mm *MetadataManager) ExistsFile(name string) bool {
	return mm.files.Has(name)
}

// CreateFile adds an empty file. Every ancestor of name must already exist
// as a path.
func (mm *MetadataManager) CreateFile(ctx context.Context, name string) error {
	plocks, err := mm.locks.AcquireAncestorReadLocks(name)
	if err != nil {
		return status.Errorf(status.ErrNotFound, "parent of %s", name)
	}
	defer plocks.Unlock()

	l := mm.locks.fetchOrCreateLock(name)
	l.Lock()
	defer l.Unlock()

	if !mm.files.SetIfAbsent(name, model.NewFileMetadata(name)) {
		return status.Errorf(status.ErrAlreadyExists, "file %s", name)
	}

	err = mm.opLog.Append(ctx, OpRecord{Type: OpCreateFile, Filename: name})
	if err != nil {
		mm.files.Delete(name)
		return status.Errorf(status.ErrInternal, "log create %s: %v", name, err)
	}

	return nil
}

// lockFile takes the ancestor read locks and the file's own lock, exclusive
// when write is set. The returned func releases all of them.
func (mm *MetadataManager) lockFile(name string, write bool) (func(), error) {
	plocks, err := mm.locks.AcquireAncestorReadLocks(name)
	if err != nil {
		return nil, status.Errorf(status.ErrNotFound, "parent of %s", name)
	}

	l, err := mm.locks.FetchLock(name)
	if err != nil {
		plocks.Unlock()
		return nil, status.Errorf(status.ErrNotFound, "file %s", name)
	}

	if write {
		l.Lock()
		return func() {
			l.Unlock()
			plocks.Unlock()
		}, nil
	}

	l.RLock()
	return func() {
		l.RUnlock()
		plocks.Unlock()
	}, nil
}

func (mm *MetadataManager) getFile(name string) (*model.FileMetadata, error) {
	f, ok := mm.files.Get(name)
	if !ok {
		return nil, status.Errorf(status.ErrNotFound, "file %s", name)
	}

	return *f, nil
}

// GetFileMetadata returns a copy of the file's metadata.
func (mm *MetadataManager) GetFileMetadata(name string) (model.FileMetadata, error) {
	unlock, err := mm.lockFile(name, false)
	if err != nil {
		return model.FileMetadata{}, err
	}
	defer unlock()

	f, err := mm.getFile(name)
	if err != nil {
		return model.FileMetadata{}, err
	}

	return f.Clone(), nil
}

// CreateChunkHandle allocates a new handle for chunk index of file name and
// creates its metadata at the initial version.
func (mm *MetadataManager) CreateChunkHandle(ctx context.Context, name string, index uint32) (string, error) {
	unlock, err := mm.lockFile(name, true)
	if err != nil {
		return "", err
	}
	defer unlock()

	f, err := mm.getFile(name)
	if err != nil {
		return "", err
	}

	if h, exists := f.ChunkHandles[index]; exists {
		return "", status.Errorf(status.ErrAlreadyExists, "chunk %d of %s has handle %s", index, name, h)
	}

	handle := strconv.FormatUint(mm.handleCounter.Inc()-1, 10)
	f.ChunkHandles[index] = handle

	md := model.NewFileChunkMetadata(handle)
	mm.chunksMu.Lock()
	mm.chunks[handle] = md
	mm.chunksMu.Unlock()

	err = mm.opLog.Append(ctx, OpRecord{Type: OpCreateChunk, Filename: name, ChunkIndex: index, Chunk: &md})
	if err != nil {
		mm.log.Errorw("metadata", "status", "failed to log chunk creation", "handle", handle, "ERROR", err)
	}

	return handle, nil
}

// RemoveChunkHandle drops chunk index of file name and its metadata.
func (mm *MetadataManager) RemoveChunkHandle(ctx context.Context, name string, index uint32) error {
	unlock, err := mm.lockFile(name, true)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := mm.getFile(name)
	if err != nil {
		return err
	}

	handle, exists := f.ChunkHandles[index]
	if !exists {
		return status.Errorf(status.ErrNotFound, "chunk %d of %s", index, name)
	}

	delete(f.ChunkHandles, index)

	mm.chunksMu.Lock()
	delete(mm.chunks, handle)
	mm.chunksMu.Unlock()
	mm.RemoveLease(handle)

	err = mm.opLog.Append(ctx, OpRecord{Type: OpRemoveChunk, Filename: name, ChunkIndex: index, Handles: []string{handle}})
	if err != nil {
		mm.log.Errorw("metadata", "status", "failed to log chunk removal", "handle", handle, "ERROR", err)
	}

	return nil
}

func (mm *MetadataManager) GetChunkHandle(name string, index uint32) (string, error) {
	unlock, err := mm.lockFile(name, false)
	if err != nil {
		return "", err
	}
	defer unlock()

	f, err := mm.getFile(name)
	if err != nil {
		return "", err
	}

	h, ok := f.ChunkHandles[index]
	if !ok {
		return "", status.Errorf(status.ErrNotFound, "chunk %d of %s", index, name)
	}

	return h, nil
}

func (mm *MetadataManager) ExistsChunk(handle string) bool {
	mm.chunksMu.RLock()
	defer mm.chunksMu.RUnlock()

	_, ok := mm.chunks[handle]
	return ok
}

func (mm *MetadataManager) GetFileChunkMetadata(handle string) (model.FileChunkMetadata, error) {
	mm.chunksMu.RLock()
	defer mm.chunksMu.RUnlock()

	md, ok := mm.chunks[handle]
	if !ok {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrNotFound, "chunk %s", handle)
	}

	return md.Clone(), nil
}

// IncrementChunkVersion bumps the chunk's version by one and returns the new version.
func (mm *MetadataManager) IncrementChunkVersion(ctx context.Context, handle string) (uint32, error) {
	mm.chunksMu.Lock()
	defer mm.chunksMu.Unlock()

	md, ok := mm.chunks[handle]
	if !ok {
		return 0, status.Errorf(status.ErrNotFound, "chunk %s", handle)
	}

	md.Version++
	mm.chunks[handle] = md

	mm.appendSetChunk(ctx, md)
	return md.Version, nil
}

// SetFileChunkMetadata upserts md by handle.
func (mm *MetadataManager) SetFileChunkMetadata(ctx context.Context, md model.FileChunkMetadata) {
	mm.chunksMu.Lock()
	defer mm.chunksMu.Unlock()

	md = md.Clone()
	mm.chunks[md.ChunkHandle] = md
	mm.appendSetChunk(ctx, md)
}

// UpdateFileChunkMetadata applies fn to the chunk's metadata atomically.
// fn must not call back into the manager.
func (mm *MetadataManager) UpdateFileChunkMetadata(ctx context.Context, handle string, fn func(md *model.FileChunkMetadata)) (model.FileChunkMetadata, error) {
	mm.chunksMu.Lock()
	defer mm.chunksMu.Unlock()

	md, ok := mm.chunks[handle]
	if !ok {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrNotFound, "chunk %s", handle)
	}

	md = md.Clone()
	fn(&md)
	mm.chunks[handle] = md

	mm.appendSetChunk(ctx, md)
	return md.Clone(), nil
}

// appendSetChunk must be called with chunksMu held so records of one handle
// are logged in the order they were applied.
func (mm *MetadataManager) appendSetChunk(ctx context.Context, md model.FileChunkMetadata) {
	err := mm.opLog.Append(ctx, OpRecord{Type: OpSetChunk, Chunk: &md})
	if err != nil {
		mm.log.Errorw("metadata", "status", "failed to log chunk update", "handle", md.ChunkHandle, "ERROR", err)
	}
}

// DeleteFileAndChunks removes the file, every chunk it references and their
// leases. It returns the removed handles.
func (mm *MetadataManager) DeleteFileAndChunks(ctx context.Context, name string) ([]string, error) {
	unlock, err := mm.lockFile(name, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, ok := mm.files.Pop(name)
	if !ok {
		return nil, status.Errorf(status.ErrNotFound, "file %s", name)
	}

	handles := make([]string, 0, len((*f).ChunkHandles))
	for _, h := range (*f).ChunkHandles {
		handles = append(handles, h)
	}

	mm.chunksMu.Lock()
	for _, h := range handles {
		delete(mm.chunks, h)
	}
	mm.chunksMu.Unlock()

	for _, h := range handles {
		mm.RemoveLease(h)
	}

	err = mm.opLog.Append(ctx, OpRecord{Type: OpDeleteFile, Filename: name, Handles: handles})
	if err != nil {
		mm.log.Errorw("metadata", "status", "failed to log file deletion", "file", name, "ERROR", err)
	}

	return handles, nil
}

// Recover rebuilds files, chunks and the handle counter from the op log.
// It must run before the manager serves requests.
func (mm *MetadataManager) Recover(ctx context.Context) error {
	var next uint64
	replayed := 0

	err := mm.opLog.Replay(ctx, func(rec OpRecord) error {
		replayed++

		switch rec.Type {
		case OpCreateFile:
			mm.files.Set(rec.Filename, model.NewFileMetadata(rec.Filename))
			mm.locks.fetchOrCreateLock(rec.Filename)

		case OpCreateChunk:
			if rec.Chunk == nil {
				return nil
			}

			if f, ok := mm.files.Get(rec.Filename); ok {
				(*f).ChunkHandles[rec.ChunkIndex] = rec.Chunk.ChunkHandle
			}

			mm.chunks[rec.Chunk.ChunkHandle] = *rec.Chunk
			if n, err := strconv.ParseUint(rec.Chunk.ChunkHandle, 10, 64); err == nil && n+1 > next {
				next = n + 1
			}

		case OpSetChunk:
			if rec.Chunk == nil {
				return nil
			}

			cur, ok := mm.chunks[rec.Chunk.ChunkHandle]
			if !ok || cur.Version <= rec.Chunk.Version {
				mm.chunks[rec.Chunk.ChunkHandle] = *rec.Chunk
			}

		case OpRemoveChunk:
			if f, ok := mm.files.Get(rec.Filename); ok {
				delete((*f).ChunkHandles, rec.ChunkIndex)
			}

			for _, h := range rec.Handles {
				delete(mm.chunks, h)
			}

		case OpDeleteFile:
			mm.files.Delete(rec.Filename)
			for _, h := range rec.Handles {
				delete(mm.chunks, h)
			}

		default:
			mm.log.Warnw("recover", "status", "skipping unknown record", "type", rec.Type, "seq", rec.Seq)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if next > mm.handleCounter.Load() {
		mm.handleCounter.Store(next)
	}

	mm.log.Infow("recover", "status", "metadata recovered", "records", replayed, "files", mm.files.Len(), "nextHandle", next)
	return nil
}
