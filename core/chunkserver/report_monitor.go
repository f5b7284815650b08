package chunkserver

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	rpcMaster "github.com/pyropy/gfs/rpc/master"
)

// MasterReporter is the part of the master the chunk server reports to.
type MasterReporter interface {
	ReportChunkServer(args *rpcMaster.ReportChunkServerArgs) (*rpcMaster.ReportChunkServerReply, error)
}

// StartReporting reports to master every interval until ctx is done.
func (c *ChunkServer) StartReporting(ctx context.Context, master MasterReporter, interval time.Duration) {
	c.reportAndLog(ctx, master)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reportAndLog(ctx, master)
		case <-ctx.Done():
			c.log.Infow("shutdown", "status", "report monitor stopped")
			return
		}
	}
}

func (c *ChunkServer) reportAndLog(ctx context.Context, master MasterReporter) {
	err := c.Report(ctx, master)
	if err != nil {
		c.log.Errorw("report", "status", "failed to report to master", "err", err)
	}
}

// Report sends the stored chunks and free disk to master, then deletes the
// chunks master no longer knows about.
func (c *ChunkServer) Report(ctx context.Context, master MasterReporter) error {
	versions, err := c.ListChunks(ctx)
	if err != nil {
		return err
	}

	handles := make([]string, 0, len(versions))
	for h := range versions {
		handles = append(handles, h)
	}

	args := &rpcMaster.ReportChunkServerArgs{
		ChunkServer: rpcMaster.ChunkServer{
			Location:           c.Location,
			AvailableDiskMB:    c.availableDiskMB(),
			StoredChunkHandles: handles,
			ChunkVersions:      versions,
		},
	}

	reply, err := master.ReportChunkServer(args)
	if err != nil {
		return err
	}

	if len(reply.DeleteChunkHandles) == 0 {
		return nil
	}

	c.log.Infow("report", "status", "deleting stale chunks", "handles", reply.DeleteChunkHandles)
	return c.DeleteChunks(ctx, reply.DeleteChunkHandles)
}

func (c *ChunkServer) availableDiskMB() uint64 {
	path := c.cfg.Chunks.Path
	if path == "" {
		path = "."
	}

	usage, err := disk.Usage(path)
	if err != nil {
		c.log.Warnw("report", "status", "disk usage unavailable", "path", path, "err", err)
		return 0
	}

	return usage.Free / (1 << 20)
}
