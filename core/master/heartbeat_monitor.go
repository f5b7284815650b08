package master

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/model"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

// HeartbeatMonitor evicts chunk servers that stop answering heartbeats.
type HeartbeatMonitor struct {
	log      *zap.SugaredLogger
	servers  *ChunkServerManager
	replicas *ReplicaManager

	interval time.Duration
	retries  int
}

func NewHeartbeatMonitor(log *zap.SugaredLogger, servers *ChunkServerManager, replicas *ReplicaManager, interval time.Duration, retries int) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		log:      log,
		servers:  servers,
		replicas: replicas,
		interval: interval,
		retries:  retries,
	}
}

func (hm *HeartbeatMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.log.Infow("heartbeat", "status", "starting heartbeat monitor", "interval", hm.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.Sweep(ctx)
		}
	}
}

// Sweep checks every registered server and evicts the ones that failed
// every attempt. It returns the evicted locations.
func (hm *HeartbeatMonitor) Sweep(ctx context.Context) []model.ChunkServerLocation {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []model.ChunkServerLocation
	)

	for _, cs := range hm.servers.Servers() {
		wg.Add(1)
		go func(loc model.ChunkServerLocation) {
			defer wg.Done()

			if hm.alive(loc) {
				return
			}

			mu.Lock()
			failed = append(failed, loc)
			mu.Unlock()
		}(cs.Location)
	}

	wg.Wait()

	for _, loc := range failed {
		handles, ok := hm.servers.Unregister(loc)
		if !ok {
			continue
		}

		hm.servers.Discard(loc.Address())
		hm.log.Warnw("heartbeat", "status", "chunk server unregistered", "location", loc, "chunks", len(handles))

		hm.replicas.HandleServerLoss(ctx, loc, handles)
	}

	return failed
}

func (hm *HeartbeatMonitor) alive(loc model.ChunkServerLocation) bool {
	client := hm.servers.GetOrCreateControlServiceClient(loc.Address())
	echo := uuid.NewString()

	for attempt := 1; attempt <= hm.retries; attempt++ {
		var reply chunkServerRPC.HeartBeatReply
		err := client.SendHeartBeat(&chunkServerRPC.HeartBeatArgs{Echo: echo}, &reply)
		if err == nil && reply.Echo == echo {
			return true
		}

		hm.log.Debugw("heartbeat", "status", "attempt failed", "location", loc, "attempt", attempt, "ERROR", err)
	}

	return false
}
