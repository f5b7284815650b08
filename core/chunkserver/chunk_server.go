package chunkserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/cache"
	"github.com/pyropy/gfs/lib/checksum"
	"github.com/pyropy/gfs/lib/cmap"
	rpcChunkServer "github.com/pyropy/gfs/rpc/chunkserver"
)

var (
	ErrDataNotFoundInCache = errors.New("data not found in cache")
	ErrChecksumNotMatching = errors.New("given checksum does not match calculated checksum")
)

type ChunkServer struct {
	*FileChunkManager
	*LeaseStore

	Location model.ChunkServerLocation

	cfg   *Config
	log   *zap.SugaredLogger
	lru   *cache.LRU
	peers rpcChunkServer.Dialer
	conns *cmap.Map[string, rpcChunkServer.FileServiceClient]
	now   func() time.Time
}

func NewChunkServer(cfg *Config, chunks *FileChunkManager, peers rpcChunkServer.Dialer, log *zap.SugaredLogger) *ChunkServer {
	return &ChunkServer{
		FileChunkManager: chunks,
		LeaseStore:       NewLeaseStore(),
		Location: model.ChunkServerLocation{
			Hostname: cfg.Server.Host,
			Port:     cfg.Server.Port,
		},
		cfg:   cfg,
		log:   log,
		lru:   cache.NewLRU(cfg.Cache.Entries),
		peers: peers,
		conns: cmap.NewMap[string, rpcChunkServer.FileServiceClient](),
		now:   time.Now,
	}
}

func (c *ChunkServer) peer(loc model.ChunkServerLocation) rpcChunkServer.FileServiceClient {
	if client, ok := c.conns.Get(loc.Address()); ok {
		return *client
	}

	return c.conns.GetOrSet(loc.Address(), c.peers.FileService(loc.Address()))
}

// InitFileChunk creates an empty chunk at the initial version.
func (c *ChunkServer) InitFileChunk(ctx context.Context, handle string) (rpcChunkServer.InitFileChunkStatus, error) {
	err := c.CreateChunk(ctx, handle, model.InitialChunkVersion)
	if errors.Is(err, ErrChunkAlreadyExists) {
		return rpcChunkServer.InitFileChunkAlreadyExists, nil
	}

	if err != nil {
		return 0, err
	}

	return rpcChunkServer.InitFileChunkCreated, nil
}

// GrantLease makes this server primary for handle until expiration, provided
// the chunk exists at the version the master expects.
func (c *ChunkServer) GrantLease(ctx context.Context, handle string, version uint32, expiration int64) (rpcChunkServer.GrantLeaseStatus, error) {
	current, err := c.GetChunkVersion(ctx, handle)
	if errors.Is(err, ErrChunkDoesNotExist) {
		return rpcChunkServer.GrantLeaseRejectedNotFound, nil
	}

	if err != nil {
		return 0, err
	}

	if current != version {
		return rpcChunkServer.GrantLeaseRejectedVersion, nil
	}

	if expiration <= c.now().Unix() {
		return rpcChunkServer.GrantLeaseRejectedExpired, nil
	}

	c.LeaseStore.GrantLease(handle, expiration)
	return rpcChunkServer.GrantLeaseAccepted, nil
}

// AdjustFileChunkVersion moves the chunk to newVersion. It only succeeds when
// the local copy is exactly one version behind.
func (c *ChunkServer) AdjustFileChunkVersion(ctx context.Context, handle string, newVersion uint32) (rpcChunkServer.AdjustVersionStatus, uint32, error) {
	current, err := c.UpdateChunkVersion(ctx, handle, newVersion-1, newVersion)
	switch {
	case errors.Is(err, ErrChunkDoesNotExist):
		return rpcChunkServer.AdjustVersionFailedNotFound, 0, nil
	case errors.Is(err, ErrChunkVersionMismatch):
		return rpcChunkServer.AdjustVersionFailedNotSync, current, nil
	case err != nil:
		return 0, 0, err
	}

	return rpcChunkServer.AdjustVersionOK, current, nil
}

// ChunkReplicaCopy pushes the local chunk to every target and returns the
// targets that applied it.
func (c *ChunkServer) ChunkReplicaCopy(ctx context.Context, handle string, targets []model.ChunkServerLocation) ([]model.ChunkServerLocation, uint32, error) {
	chunk, err := c.GetFileChunk(ctx, handle)
	if err != nil {
		return nil, 0, err
	}

	applied := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target model.ChunkServerLocation) {
			defer wg.Done()

			args := &rpcChunkServer.ApplyChunkReplicaCopyArgs{ChunkHandle: handle, Chunk: chunk}
			var reply rpcChunkServer.ApplyChunkReplicaCopyReply
			err := c.peer(target).ApplyChunkReplicaCopy(args, &reply)
			if err != nil || reply.Status != rpcChunkServer.ApplyOK {
				c.log.Warnw("replica", "status", "copy failed", "handle", handle, "target", target.String(), "err", err)
				return
			}

			applied[i] = true
		}(i, target)
	}

	wg.Wait()

	var copied []model.ChunkServerLocation
	for i, ok := range applied {
		if ok {
			copied = append(copied, targets[i])
		}
	}

	return copied, chunk.Version, nil
}

func (c *ChunkServer) ApplyChunkReplicaCopy(ctx context.Context, handle string, chunk model.FileChunk) error {
	return c.StoreFileChunk(ctx, handle, chunk)
}

func (c *ChunkServer) ReadFileChunk(ctx context.Context, handle string, version, offset, length uint32) ([]byte, rpcChunkServer.ReadStatus, error) {
	data, err := c.ReadFromChunk(ctx, handle, version, offset, length)
	switch {
	case errors.Is(err, ErrChunkDoesNotExist):
		return nil, rpcChunkServer.ReadNotFound, nil
	case errors.Is(err, ErrChunkVersionMismatch):
		return nil, rpcChunkServer.ReadVersionError, nil
	case errors.Is(err, ErrOutOfRange):
		return nil, rpcChunkServer.ReadOutOfRange, nil
	case err != nil:
		return nil, 0, err
	}

	return data, rpcChunkServer.ReadOK, nil
}

// SendChunkData buffers data in the cache under its checksum until a
// mutation references it.
func (c *ChunkServer) SendChunkData(data []byte, sum string) rpcChunkServer.SendDataStatus {
	if !checksum.Verify(data, sum) {
		return rpcChunkServer.SendDataBadChecksum
	}

	if uint64(len(data)) > uint64(c.BlockSize()) {
		return rpcChunkServer.SendDataTooBig
	}

	c.lru.Put(sum, data)
	return rpcChunkServer.SendDataOK
}

// WriteFileChunk applies the mutation locally as primary and forwards it to
// the other replicas.
func (c *ChunkServer) WriteFileChunk(ctx context.Context, header rpcChunkServer.WriteHeader, replicas []model.ChunkServerLocation) (uint32, rpcChunkServer.WriteStatus, error) {
	if !c.HasWriteLease(header.ChunkHandle, c.now()) {
		return 0, rpcChunkServer.WriteNoLease, nil
	}

	n, st, err := c.ApplyMutation(ctx, header)
	if err != nil || st != rpcChunkServer.WriteOK {
		return n, st, err
	}

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)

	for _, r := range replicas {
		if r == c.Location {
			continue
		}

		wg.Add(1)
		go func(r model.ChunkServerLocation) {
			defer wg.Done()

			var reply rpcChunkServer.ApplyMutationReply
			err := c.peer(r).ApplyMutation(&rpcChunkServer.ApplyMutationArgs{Header: header}, &reply)
			if err == nil && reply.Status != rpcChunkServer.WriteOK {
				err = errors.New(reply.Status.String())
			}

			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(r)
	}

	wg.Wait()

	if errs != nil {
		c.log.Errorw("write", "status", "replication failed", "handle", header.ChunkHandle, "err", errs)
		return n, rpcChunkServer.WriteReplicationFailed, nil
	}

	return n, rpcChunkServer.WriteOK, nil
}

// ApplyMutation writes the cached payload named by header into the chunk.
func (c *ChunkServer) ApplyMutation(ctx context.Context, header rpcChunkServer.WriteHeader) (uint32, rpcChunkServer.WriteStatus, error) {
	data, ok := c.lru.Get(header.Checksum)
	if !ok {
		return 0, rpcChunkServer.WriteDataNotFound, nil
	}

	if header.Length < uint32(len(data)) {
		data = data[:header.Length]
	}

	n, err := c.WriteToChunk(ctx, header.ChunkHandle, header.ChunkVersion, header.Offset, data)
	switch {
	case errors.Is(err, ErrChunkDoesNotExist):
		return 0, rpcChunkServer.WriteNotFound, nil
	case errors.Is(err, ErrChunkVersionMismatch):
		return 0, rpcChunkServer.WriteVersionError, nil
	case errors.Is(err, ErrOutOfRange):
		return 0, rpcChunkServer.WriteOutOfRange, nil
	case err != nil:
		return 0, 0, err
	}

	return n, rpcChunkServer.WriteOK, nil
}

// DeleteChunks removes the given chunks and any leases held on them.
func (c *ChunkServer) DeleteChunks(ctx context.Context, handles []string) error {
	var errs error
	for _, h := range handles {
		c.RevokeLease(h)
		errs = multierr.Append(errs, c.DeleteChunk(ctx, h))
	}

	return errs
}
