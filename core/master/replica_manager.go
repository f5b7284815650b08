package master

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/status"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

// ReplicaManager keeps every chunk at the healthy replica count. A detector
// finds under-replicated chunks and a single worker repairs them, both
// connected by a buffered channel.
type ReplicaManager struct {
	log      *zap.SugaredLogger
	metadata *MetadataManager
	servers  *ChunkServerManager

	target   int
	interval time.Duration
	queue    chan string
}

func NewReplicaManager(log *zap.SugaredLogger, metadata *MetadataManager, servers *ChunkServerManager, target int, interval time.Duration, queueSize int) *ReplicaManager {
	return &ReplicaManager{
		log:      log,
		metadata: metadata,
		servers:  servers,
		target:   target,
		interval: interval,
		queue:    make(chan string, queueSize),
	}
}

// Enqueue schedules handle for repair. It never blocks; when the queue is
// full the handle is dropped and picked up again by the next detection.
func (rm *ReplicaManager) Enqueue(handle string) {
	select {
	case rm.queue <- handle:
	default:
		rm.log.Warnw("replication", "status", "repair queue full, dropping", "handle", handle)
	}
}

// Detect enqueues every under-replicated chunk and returns how many it found.
func (rm *ReplicaManager) Detect() int {
	handles := rm.servers.UnderReplicated(rm.target)
	for _, h := range handles {
		rm.Enqueue(h)
	}

	return len(handles)
}

func (rm *ReplicaManager) StartDetector(ctx context.Context) {
	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	rm.log.Infow("replication", "status", "starting replica detector", "interval", rm.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rm.Detect(); n > 0 {
				rm.log.Infow("replication", "status", "under-replicated chunks found", "count", n)
			}
		}
	}
}

func (rm *ReplicaManager) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case handle := <-rm.queue:
			err := rm.Repair(ctx, handle)
			if err != nil {
				rm.log.Errorw("replication", "status", "repair failed", "handle", handle, "ERROR", err)
			}
		}
	}
}

// RunOnce runs one detection and repairs everything queued.
func (rm *ReplicaManager) RunOnce(ctx context.Context) {
	rm.Detect()

	for {
		select {
		case handle := <-rm.queue:
			err := rm.Repair(ctx, handle)
			if err != nil {
				rm.log.Errorw("replication", "status", "repair failed", "handle", handle, "ERROR", err)
			}
		default:
			return
		}
	}
}

// Repair re-checks handle and, if still under target, has its primary copy
// the chunk to new servers.
func (rm *ReplicaManager) Repair(ctx context.Context, handle string) error {
	md, err := rm.metadata.GetFileChunkMetadata(handle)
	if err != nil {
		// deleted since it was queued
		return nil
	}

	locs := rm.servers.GetChunkLocations(handle)
	if len(locs) >= rm.target {
		return nil
	}

	if len(locs) == 0 {
		return status.Errorf(status.ErrUnavailable, "chunk %s has no replica to copy from", handle)
	}

	targets := rm.servers.AssignServersForReplicaRepair(handle, rm.target)
	if len(targets) == 0 {
		return status.Errorf(status.ErrUnavailable, "no chunk server available for chunk %s", handle)
	}

	source := md.Primary
	if !containsLocation(locs, source) {
		source, _ = rm.servers.SelectPrimary(handle, md.Version)
	}

	rm.log.Infow("replication", "status", "replicating chunk", "handle", handle, "from", source, "to", targets)

	var reply chunkServerRPC.ChunkReplicaCopyReply
	args := &chunkServerRPC.ChunkReplicaCopyArgs{
		ChunkHandle: handle,
		Targets:     targets,
	}

	err = rm.servers.GetOrCreateFileServiceClient(source.Address()).ChunkReplicaCopy(args, &reply)
	if err != nil {
		return status.Errorf(status.ErrInternal, "replica copy of chunk %s from %s: %v", handle, source, err)
	}

	for _, loc := range reply.Copied {
		err := rm.servers.AddChunkLocation(handle, loc, reply.Version)
		if err != nil {
			rm.log.Warnw("replication", "status", "copy target gone", "handle", handle, "location", loc, "ERROR", err)
		}
	}

	if len(reply.Copied) < len(targets) {
		rm.log.Warnw("replication", "status", "partial copy", "handle", handle, "requested", targets, "copied", reply.Copied)
	}

	current := rm.servers.GetChunkLocations(handle)
	_, err = rm.metadata.UpdateFileChunkMetadata(ctx, handle, func(md *model.FileChunkMetadata) {
		md.Locations = current
	})

	return err
}

// HandleServerLoss moves the primary of every chunk loc held to another
// replica when loc was the primary, and schedules the chunks for repair.
func (rm *ReplicaManager) HandleServerLoss(ctx context.Context, loc model.ChunkServerLocation, handles []string) {
	for _, h := range handles {
		md, err := rm.metadata.GetFileChunkMetadata(h)
		if err != nil {
			continue
		}

		current := rm.servers.GetChunkLocations(h)

		var primary model.ChunkServerLocation
		if md.Primary == loc {
			// the lease was granted by the lost primary
			rm.metadata.RemoveLease(h)
			primary, _ = rm.servers.SelectPrimary(h, md.Version)
			rm.log.Infow("replication", "status", "primary lost", "handle", h, "lost", loc, "primary", primary)
		}

		_, err = rm.metadata.UpdateFileChunkMetadata(ctx, h, func(md *model.FileChunkMetadata) {
			md.Locations = current
			if md.Primary == loc {
				md.Primary = primary
			}
		})
		if err != nil {
			rm.log.Warnw("replication", "status", "chunk vanished during failover", "handle", h, "ERROR", err)
		}

		rm.Enqueue(h)
	}
}

func containsLocation(locs []model.ChunkServerLocation, loc model.ChunkServerLocation) bool {
	for _, l := range locs {
		if l == loc {
			return true
		}
	}

	return false
}
