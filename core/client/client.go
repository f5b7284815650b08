package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/checksum"
	"github.com/pyropy/gfs/lib/status"
	rpcChunkServer "github.com/pyropy/gfs/rpc/chunkserver"
	rpcMaster "github.com/pyropy/gfs/rpc/master"
)

// Master is the part of the master API the client uses.
type Master interface {
	OpenFile(args *rpcMaster.OpenFileArgs) (*rpcMaster.OpenFileReply, error)
	DeleteFile(args *rpcMaster.DeleteFileArgs) error
	Close() error
}

type Client struct {
	ID string

	master    Master
	dialer    rpcChunkServer.Dialer
	cache     *MetadataCache
	blockSize uint32
	log       *zap.SugaredLogger
}

func NewClient(cfg *Config, master Master, dialer rpcChunkServer.Dialer, cache *MetadataCache, log *zap.SugaredLogger) *Client {
	return &Client{
		ID:        uuid.NewString(),
		master:    master,
		dialer:    dialer,
		cache:     cache,
		blockSize: cfg.Chunks.BlockSize,
		log:       log,
	}
}

// Dial connects to the master at cfg.Master.Addr and opens the metadata
// cache. Chunk servers are dialed over net/rpc as they are needed.
func Dial(cfg *Config, log *zap.SugaredLogger) (*Client, error) {
	cache := NewMemoryMetadataCache(cfg.Cache.TTL)
	if cfg.Cache.Path != "" {
		var err error
		cache, err = OpenMetadataCache(cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
	}

	m, err := rpcMaster.Dial(cfg.Master.Addr)
	if err != nil {
		return nil, multierr.Append(err, cache.Close())
	}

	return NewClient(cfg, m, rpcChunkServer.RPCDialer{}, cache, log), nil
}

func (c *Client) Close() error {
	return multierr.Append(c.master.Close(), c.cache.Close())
}

// open asks the master for chunk index of path and caches the answer.
func (c *Client) open(ctx context.Context, path string, index uint32, mode model.OpenMode, create bool) (model.FileChunkMetadata, error) {
	reply, err := c.master.OpenFile(&rpcMaster.OpenFileArgs{
		Filename:          path,
		Mode:              mode,
		ChunkIndex:        index,
		CreateIfNotExists: create,
		ClientID:          c.ID,
	})
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	err = c.cache.Store(ctx, path, index, reply.Metadata)
	if err != nil {
		c.log.Warnw("cache", "status", "failed to cache chunk metadata", "path", path, "index", index, "ERROR", err)
	}

	return reply.Metadata, nil
}

// Create creates path along with its first chunk.
func (c *Client) Create(ctx context.Context, path string) (model.FileChunkMetadata, error) {
	return c.open(ctx, path, 0, model.OpenModeCreate, false)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	err := c.master.DeleteFile(&rpcMaster.DeleteFileArgs{Filename: path})
	if err != nil {
		return err
	}

	return c.cache.ForgetFile(ctx, path)
}

// Stat returns the metadata of chunk index of path as the master reports it
// for mode.
func (c *Client) Stat(ctx context.Context, path string, index uint32, mode model.OpenMode) (model.FileChunkMetadata, error) {
	return c.open(ctx, path, index, mode, false)
}

// Read reads length bytes at offset of chunk index. Cached metadata is used
// when present; if no replica it names can serve the read the metadata is
// fetched from the master and the read tried once more.
func (c *Client) Read(ctx context.Context, path string, index, offset, length uint32) ([]byte, error) {
	md, cached := c.cache.Lookup(ctx, path, index)
	if cached {
		data, err := c.readChunk(md, offset, length)
		if err == nil || status.Is(err, status.ErrInvalidArgument) {
			return data, err
		}

		c.log.Debugw("read", "status", "cached metadata is stale", "path", path, "index", index, "handle", md.ChunkHandle, "ERROR", err)
		if err := c.cache.Invalidate(ctx, path, index); err != nil {
			c.log.Warnw("cache", "status", "failed to invalidate", "path", path, "index", index, "ERROR", err)
		}
	}

	md, err := c.open(ctx, path, index, model.OpenModeRead, false)
	if err != nil {
		return nil, err
	}

	return c.readChunk(md, offset, length)
}

func (c *Client) readChunk(md model.FileChunkMetadata, offset, length uint32) ([]byte, error) {
	var errs error
	for _, loc := range md.Locations {
		var reply rpcChunkServer.ReadFileChunkReply
		args := &rpcChunkServer.ReadFileChunkArgs{
			ChunkHandle:  md.ChunkHandle,
			ChunkVersion: md.Version,
			Offset:       offset,
			Length:       length,
		}

		err := c.dialer.FileService(loc.Address()).ReadFileChunk(args, &reply)
		if err == nil && reply.Status == rpcChunkServer.ReadOutOfRange {
			return nil, status.Errorf(status.ErrInvalidArgument, "offset %d beyond the end of chunk %s", offset, md.ChunkHandle)
		}

		if err == nil && reply.Status != rpcChunkServer.ReadOK {
			err = fmt.Errorf("%s", reply.Status)
		}

		if err != nil {
			c.log.Warnw("read", "status", "replica read failed", "handle", md.ChunkHandle, "location", loc, "ERROR", err)
			errs = multierr.Append(errs, fmt.Errorf("read chunk %s from %s: %w", md.ChunkHandle, loc, err))
			continue
		}

		return reply.Data, nil
	}

	return nil, status.Errorf(status.ErrUnavailable, "no replica of chunk %s could serve the read: %v", md.ChunkHandle, errs)
}

// Write writes data at offset of chunk index. The data is pushed to every
// replica first and then committed through the primary. With create set a
// missing chunk is created.
func (c *Client) Write(ctx context.Context, path string, index, offset uint32, data []byte, create bool) (uint32, error) {
	md, err := c.open(ctx, path, index, model.OpenModeWrite, create)
	if err != nil {
		return 0, err
	}

	sum := checksum.CalculateCheckSum(data)

	err = c.pushData(md.Locations, data, sum)
	if err != nil {
		return 0, err
	}

	var reply rpcChunkServer.WriteFileChunkReply
	args := &rpcChunkServer.WriteFileChunkArgs{
		Header: rpcChunkServer.WriteHeader{
			ChunkHandle:  md.ChunkHandle,
			ChunkVersion: md.Version,
			Offset:       offset,
			Length:       uint32(len(data)),
			Checksum:     sum,
		},
		Replicas: md.Locations,
	}

	err = c.dialer.FileService(md.Primary.Address()).WriteFileChunk(args, &reply)
	if err != nil {
		return 0, status.Errorf(status.ErrUnavailable, "write chunk %s on primary %s: %v", md.ChunkHandle, md.Primary, err)
	}

	if reply.Status != rpcChunkServer.WriteOK {
		return reply.BytesWritten, status.Errorf(status.ErrInternal, "write chunk %s on primary %s: %s", md.ChunkHandle, md.Primary, reply.Status)
	}

	c.log.Infow("write", "status", "chunk written", "handle", md.ChunkHandle, "version", md.Version, "bytes", reply.BytesWritten)
	return reply.BytesWritten, nil
}

func (c *Client) pushData(locs []model.ChunkServerLocation, data []byte, sum string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	for _, loc := range locs {
		wg.Add(1)
		go func(loc model.ChunkServerLocation) {
			defer wg.Done()

			var reply rpcChunkServer.SendChunkDataReply
			err := c.dialer.FileService(loc.Address()).SendChunkData(&rpcChunkServer.SendChunkDataArgs{Data: data, Checksum: sum}, &reply)
			if err == nil && reply.Status != rpcChunkServer.SendDataOK {
				err = fmt.Errorf("send data status %d", reply.Status)
			}

			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("push data to %s: %w", loc, err))
				mu.Unlock()
			}
		}(loc)
	}

	wg.Wait()

	if errs != nil {
		return status.Errorf(status.ErrUnavailable, "%v", errs)
	}

	return nil
}

// ReadFile reads up to length bytes of path starting at the file offset,
// chunk by chunk. It stops early at the end of the file.
func (c *Client) ReadFile(ctx context.Context, path string, offset uint64, length uint64) ([]byte, error) {
	bs := uint64(c.blockSize)
	out := make([]byte, 0, length)
	chunkOffset := offset % bs

	for index := offset / bs; uint64(len(out)) < length; index++ {
		n := min(length-uint64(len(out)), bs-chunkOffset)

		data, err := c.Read(ctx, path, uint32(index), uint32(chunkOffset), uint32(n))
		if err != nil {
			if len(out) > 0 && status.Is(err, status.ErrNotFound) {
				// past the last chunk
				break
			}

			return out, err
		}

		out = append(out, data...)
		if uint64(len(data)) < n {
			break
		}

		chunkOffset = 0
	}

	return out, nil
}

// WriteFile writes data to path at the file offset, splitting it across
// chunks and creating chunks the file does not have yet. It returns the
// number of bytes written before the first failure.
func (c *Client) WriteFile(ctx context.Context, path string, offset uint64, data []byte) (uint64, error) {
	bs := uint64(c.blockSize)
	var written uint64
	chunkOffset := offset % bs

	for index := offset / bs; written < uint64(len(data)); index++ {
		n := min(uint64(len(data))-written, bs-chunkOffset)

		w, err := c.Write(ctx, path, uint32(index), uint32(chunkOffset), data[written:written+n], true)
		written += uint64(w)
		if err != nil {
			return written, err
		}

		c.log.Debugw("write", "path", path, "index", index, "bytes", w, "remaining", uint64(len(data))-written)
		chunkOffset = 0
	}

	return written, nil
}
