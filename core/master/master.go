package master

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/status"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

// Master coordinates the namespace, chunk placement and the write lease
// protocol.
type Master struct {
	cfg *Config
	log *zap.SugaredLogger
	now func() time.Time

	Metadata     *MetadataManager
	ChunkServers *ChunkServerManager
	Replicas     *ReplicaManager
	Heartbeat    *HeartbeatMonitor
}

type Option func(*options)

type options struct {
	now   func() time.Time
	opLog *OpLog
}

// WithClock replaces time.Now for lease bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithOpLog persists metadata mutations to l.
func WithOpLog(l *OpLog) Option {
	return func(o *options) {
		o.opLog = l
	}
}

func NewMaster(cfg *Config, dialer chunkServerRPC.Dialer, log *zap.SugaredLogger, opts ...Option) *Master {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	metadata := NewMetadataManager(log, o.opLog)
	chunkServers := NewChunkServerManager(NewClientPool(dialer))
	replicas := NewReplicaManager(log, metadata, chunkServers, cfg.Replication.HealthyTarget, cfg.Replication.CheckInterval, cfg.Replication.QueueSize)
	heartbeat := NewHeartbeatMonitor(log, chunkServers, replicas, cfg.Heartbeat.Interval, cfg.Heartbeat.Retries)

	return &Master{
		cfg:          cfg,
		log:          log,
		now:          o.now,
		Metadata:     metadata,
		ChunkServers: chunkServers,
		Replicas:     replicas,
		Heartbeat:    heartbeat,
	}
}

// Start runs the background loops until ctx is cancelled.
func (m *Master) Start(ctx context.Context) {
	go m.Replicas.StartDetector(ctx)
	go m.Replicas.StartWorker(ctx)
	go m.Heartbeat.Start(ctx)
}

type OpenFileRequest struct {
	Filename          string
	Mode              model.OpenMode
	ChunkIndex        uint32
	CreateIfNotExists bool
	ClientID          string
}

// OpenFile creates, reads or prepares a write of one chunk of a file and
// returns the chunk's metadata.
func (m *Master) OpenFile(ctx context.Context, req OpenFileRequest) (model.FileChunkMetadata, error) {
	if !validPath(req.Filename) {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrInvalidArgument, "bad filename %q", req.Filename)
	}

	switch req.Mode {
	case model.OpenModeCreate:
		return m.handleFileCreation(ctx, req)
	case model.OpenModeRead:
		return m.handleFileChunkRead(req)
	case model.OpenModeWrite:
		return m.handleFileChunkWrite(ctx, req)
	default:
		return model.FileChunkMetadata{}, status.Errorf(status.ErrInvalidArgument, "unknown open mode %d", req.Mode)
	}
}

func (m *Master) handleFileCreation(ctx context.Context, req OpenFileRequest) (model.FileChunkMetadata, error) {
	err := m.Metadata.CreateFile(ctx, req.Filename)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	md, err := m.createChunk(ctx, req.Filename, req.ChunkIndex)
	if err != nil {
		// a file without its first chunk is not left behind
		if _, derr := m.Metadata.DeleteFileAndChunks(ctx, req.Filename); derr != nil {
			m.log.Errorw("create", "status", "rollback failed", "file", req.Filename, "ERROR", derr)
		}

		return model.FileChunkMetadata{}, err
	}

	m.log.Infow("create", "status", "file created", "file", req.Filename, "handle", md.ChunkHandle, "locations", md.Locations)
	return md, nil
}

// createChunk allocates a handle for chunk index of name, places it and
// initializes every replica. On failure all master side state for the chunk
// is removed; replicas that were initialized are dropped on their next report.
func (m *Master) createChunk(ctx context.Context, name string, index uint32) (model.FileChunkMetadata, error) {
	if !m.Metadata.ExistsFile(name) {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrNotFound, "file %s", name)
	}

	handle, err := m.Metadata.CreateChunkHandle(ctx, name, index)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	locs := m.ChunkServers.AssignChunkServers(handle, m.cfg.Replication.Factor)
	if len(locs) == 0 {
		m.abortChunk(ctx, name, index, handle)
		return model.FileChunkMetadata{}, status.Errorf(status.ErrUnavailable, "no chunk servers for chunk %s", handle)
	}

	var errs error
	for _, loc := range locs {
		var reply chunkServerRPC.InitFileChunkReply
		args := &chunkServerRPC.InitFileChunkArgs{ChunkHandle: handle}

		err := m.ChunkServers.GetOrCreateFileServiceClient(loc.Address()).InitFileChunk(args, &reply)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("init chunk %s on %s: %w", handle, loc, status.FromRPCError(err)))
			continue
		}

		m.ChunkServers.SetReportedVersion(loc, handle, model.InitialChunkVersion)
	}

	if errs != nil {
		m.log.Errorw("create", "status", "chunk init failed", "handle", handle, "ERROR", errs)
		m.abortChunk(ctx, name, index, handle)
		return model.FileChunkMetadata{}, status.Errorf(status.ErrInternal, "%v", errs)
	}

	md, err := m.Metadata.UpdateFileChunkMetadata(ctx, handle, func(md *model.FileChunkMetadata) {
		md.Primary = locs[0]
		md.Locations = locs
	})
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	return md, nil
}

func (m *Master) abortChunk(ctx context.Context, name string, index uint32, handle string) {
	err := m.Metadata.RemoveChunkHandle(ctx, name, index)
	if err != nil && !status.Is(err, status.ErrNotFound) {
		m.log.Errorw("create", "status", "failed to remove chunk handle", "handle", handle, "ERROR", err)
	}

	m.ChunkServers.ForgetChunk(handle)
}

// resolveChunkHandle returns the handle for the requested chunk, creating
// the chunk when the request allows it.
func (m *Master) resolveChunkHandle(ctx context.Context, req OpenFileRequest) (string, error) {
	handle, err := m.Metadata.GetChunkHandle(req.Filename, req.ChunkIndex)
	if err == nil {
		return handle, nil
	}

	if !status.Is(err, status.ErrNotFound) || !req.CreateIfNotExists {
		return "", err
	}

	md, err := m.createChunk(ctx, req.Filename, req.ChunkIndex)
	if status.Is(err, status.ErrAlreadyExists) {
		// lost a race with another creator
		return m.Metadata.GetChunkHandle(req.Filename, req.ChunkIndex)
	}

	if err != nil {
		return "", err
	}

	return md.ChunkHandle, nil
}

func (m *Master) handleFileChunkRead(req OpenFileRequest) (model.FileChunkMetadata, error) {
	handle, err := m.Metadata.GetChunkHandle(req.Filename, req.ChunkIndex)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	md, err := m.Metadata.GetFileChunkMetadata(handle)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	md.Locations = m.ChunkServers.GetChunkLocations(handle)
	if len(md.Locations) == 0 {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrUnavailable, "no replica of chunk %s", handle)
	}

	return md, nil
}

func (m *Master) handleFileChunkWrite(ctx context.Context, req OpenFileRequest) (model.FileChunkMetadata, error) {
	if req.ClientID == "" {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrInvalidArgument, "write requires a client id")
	}

	handle, err := m.resolveChunkHandle(ctx, req)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	md, err := m.ensurePrimary(ctx, handle)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	now := m.now()
	leased := false

	if lease, ok := m.Metadata.GetLease(handle); ok {
		switch {
		case lease.IsExpired(now):
			m.Metadata.RemoveLease(handle)
		case lease.Holder != req.ClientID:
			return model.FileChunkMetadata{}, status.Errorf(status.ErrUnavailable, "chunk %s lease held by another client", handle)
		default:
			leased = true
		}
	}

	if !leased {
		err = m.grantLease(md, req.ClientID, now)
		if err != nil {
			return model.FileChunkMetadata{}, err
		}
	}

	md, err = m.bumpVersion(ctx, md)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	md.Locations = m.ChunkServers.GetChunkLocations(handle)
	m.log.Infow("write", "status", "write granted", "handle", handle, "version", md.Version, "primary", md.Primary, "client", req.ClientID)

	return md, nil
}

// ensurePrimary returns the chunk's metadata, picking a new primary first if
// the recorded one no longer holds a replica.
func (m *Master) ensurePrimary(ctx context.Context, handle string) (model.FileChunkMetadata, error) {
	md, err := m.Metadata.GetFileChunkMetadata(handle)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	locs := m.ChunkServers.GetChunkLocations(handle)
	if len(locs) == 0 {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrUnavailable, "no replica of chunk %s", handle)
	}

	for _, loc := range locs {
		if loc == md.Primary {
			return md, nil
		}
	}

	primary, ok := m.ChunkServers.SelectPrimary(handle, md.Version)
	if !ok {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrUnavailable, "no replica of chunk %s", handle)
	}

	m.log.Infow("write", "status", "primary reassigned", "handle", handle, "from", md.Primary, "to", primary)
	m.Metadata.RemoveLease(handle)
	return m.Metadata.UpdateFileChunkMetadata(ctx, handle, func(md *model.FileChunkMetadata) {
		md.Primary = primary
	})
}

// grantLease asks the primary to honour a write lease at the chunk's current
// version and records holder as its owner.
func (m *Master) grantLease(md model.FileChunkMetadata, holder string, now time.Time) error {
	expiration := now.Add(m.cfg.Lease.Duration).Unix()

	var reply chunkServerRPC.GrantLeaseReply
	args := &chunkServerRPC.GrantLeaseArgs{
		ChunkHandle:  md.ChunkHandle,
		ChunkVersion: md.Version,
		Expiration:   expiration,
	}

	err := m.ChunkServers.GetOrCreateLeaseServiceClient(md.Primary.Address()).GrantLease(args, &reply)
	if err != nil {
		return status.Errorf(status.ErrInternal, "grant lease for chunk %s on %s: %v", md.ChunkHandle, md.Primary, err)
	}

	switch reply.Status {
	case chunkServerRPC.GrantLeaseAccepted:
	case chunkServerRPC.GrantLeaseRejectedNotFound:
		return status.Errorf(status.ErrNotFound, "chunk %s on primary %s", md.ChunkHandle, md.Primary)
	case chunkServerRPC.GrantLeaseRejectedExpired:
		return status.Errorf(status.ErrInvalidArgument, "lease for chunk %s already expired", md.ChunkHandle)
	default:
		return status.Errorf(status.ErrInternal, "primary %s rejected lease for chunk %s: %s", md.Primary, md.ChunkHandle, reply.Status)
	}

	if cur, ok := m.Metadata.AcquireLease(md.ChunkHandle, holder, expiration, now); !ok {
		return status.Errorf(status.ErrUnavailable, "chunk %s lease held by %s", md.ChunkHandle, cur.Holder)
	}

	return nil
}

// bumpVersion advances the primary to version+1 and only then the master.
// Secondaries are advanced best effort.
func (m *Master) bumpVersion(ctx context.Context, md model.FileChunkMetadata) (model.FileChunkMetadata, error) {
	newVersion := md.Version + 1

	reply, err := m.adjustVersion(md.Primary, md.ChunkHandle, newVersion)
	if err != nil {
		return model.FileChunkMetadata{}, status.Errorf(status.ErrInternal, "adjust version of chunk %s on %s: %v", md.ChunkHandle, md.Primary, err)
	}

	switch reply.Status {
	case chunkServerRPC.AdjustVersionOK:
	case chunkServerRPC.AdjustVersionFailedNotFound:
		return model.FileChunkMetadata{}, status.Errorf(status.ErrNotFound, "chunk %s on primary %s", md.ChunkHandle, md.Primary)
	default:
		return model.FileChunkMetadata{}, status.Errorf(status.ErrInternal, "chunk %s version not in sync: master %d, primary %d", md.ChunkHandle, md.Version, reply.ChunkVersion)
	}

	version, err := m.Metadata.IncrementChunkVersion(ctx, md.ChunkHandle)
	if err != nil {
		return model.FileChunkMetadata{}, err
	}

	md.Version = version
	m.ChunkServers.SetReportedVersion(md.Primary, md.ChunkHandle, version)

	for _, loc := range m.ChunkServers.GetChunkLocations(md.ChunkHandle) {
		if loc == md.Primary {
			continue
		}

		reply, err := m.adjustVersion(loc, md.ChunkHandle, version)
		if err != nil || reply.Status != chunkServerRPC.AdjustVersionOK {
			m.log.Warnw("write", "status", "secondary version bump failed, dropping replica", "handle", md.ChunkHandle, "location", loc, "reply", reply, "ERROR", err)

			// a replica behind the master's version rejects every mutation
			m.ChunkServers.RemoveChunkLocation(md.ChunkHandle, loc)
			m.Replicas.Enqueue(md.ChunkHandle)
			continue
		}

		m.ChunkServers.SetReportedVersion(loc, md.ChunkHandle, version)
	}

	return md, nil
}

func (m *Master) adjustVersion(loc model.ChunkServerLocation, handle string, version uint32) (chunkServerRPC.AdjustFileChunkVersionReply, error) {
	var reply chunkServerRPC.AdjustFileChunkVersionReply
	args := &chunkServerRPC.AdjustFileChunkVersionArgs{
		ChunkHandle: handle,
		NewVersion:  version,
	}

	err := m.ChunkServers.GetOrCreateFileServiceClient(loc.Address()).AdjustFileChunkVersion(args, &reply)
	return reply, err
}

// DeleteFile removes the file and its chunks from the namespace. Chunk
// servers drop the data when they next report. Deleting a missing file is
// not an error.
func (m *Master) DeleteFile(ctx context.Context, name string) error {
	handles, err := m.Metadata.DeleteFileAndChunks(ctx, name)
	if status.Is(err, status.ErrNotFound) {
		m.log.Debugw("delete", "status", "file does not exist", "file", name)
		return nil
	}

	if err != nil {
		return err
	}

	for _, h := range handles {
		m.ChunkServers.ForgetChunk(h)
	}

	m.log.Infow("delete", "status", "file deleted", "file", name, "chunks", handles)
	return nil
}

// ReportChunkServer reconciles a chunk server's report with the master's
// view and returns the handles the server should delete. Replicas reported
// below the master's version are stale: they are dropped and the chunk is
// scheduled for repair.
func (m *Master) ReportChunkServer(ctx context.Context, report model.ChunkServer) ([]string, error) {
	loc := report.Location
	if loc.IsZero() {
		return nil, status.Errorf(status.ErrInvalidArgument, "report without location")
	}

	if m.ChunkServers.Register(model.ChunkServer{Location: loc, AvailableDiskMB: report.AvailableDiskMB}) {
		m.log.Infow("report", "status", "registered chunk server", "location", loc)
	}

	reported := make(map[string]struct{}, len(report.StoredChunkHandles))
	var toAdd, toRemove, toDelete, stale []string

	for _, h := range report.StoredChunkHandles {
		reported[h] = struct{}{}

		md, err := m.Metadata.GetFileChunkMetadata(h)
		if err != nil {
			toDelete = append(toDelete, h)
			continue
		}

		if v, ok := report.ChunkVersions[h]; ok && v < md.Version {
			stale = append(stale, h)
			toRemove = append(toRemove, h)
			toDelete = append(toDelete, h)
			continue
		}

		toAdd = append(toAdd, h)
	}

	if cs, ok := m.ChunkServers.GetChunkServer(loc); ok {
		for _, h := range cs.StoredChunkHandles {
			if _, ok := reported[h]; ok {
				continue
			}

			// placed but not initialized yet
			if md, err := m.Metadata.GetFileChunkMetadata(h); err == nil && len(md.Locations) == 0 {
				continue
			}

			toRemove = append(toRemove, h)
		}
	}

	err := m.ChunkServers.UpdateServerReport(loc, report.AvailableDiskMB, toAdd, toRemove, report.ChunkVersions)
	if err != nil {
		return nil, err
	}

	for _, h := range stale {
		m.Replicas.Enqueue(h)
	}

	if len(toDelete) > 0 || len(toRemove) > 0 {
		m.log.Infow("report", "location", loc, "added", len(toAdd), "removed", toRemove, "delete", toDelete, "stale", stale)
	}

	return toDelete, nil
}
