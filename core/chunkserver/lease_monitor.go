package chunkserver

import (
	"context"
	"time"
)

// StartLeaseMonitor drops expired leases every interval until ctx is done.
func (c *ChunkServer) StartLeaseMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Infow("shutdown", "status", "lease monitor stopped")
			return
		case <-ticker.C:
			for _, h := range c.LeaseStore.RemoveExpired(c.now()) {
				c.log.Debugw("lease", "status", "lease expired", "handle", h)
			}
		}
	}
}
