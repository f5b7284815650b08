package chunkserver

import (
	"context"

	rpc "github.com/pyropy/gfs/rpc/chunkserver"
)

// FileService, LeaseService and ControlService are the net/rpc receivers a
// chunk server registers. Each satisfies the matching client interface in
// rpc/chunkserver, so they can also be called in-process.
type FileService struct {
	cs *ChunkServer
}

func NewFileService(cs *ChunkServer) *FileService {
	return &FileService{cs: cs}
}

func (f *FileService) InitFileChunk(args *rpc.InitFileChunkArgs, reply *rpc.InitFileChunkReply) error {
	f.cs.log.Infow("rpc", "event", "InitFileChunk", "handle", args.ChunkHandle)

	st, err := f.cs.InitFileChunk(context.Background(), args.ChunkHandle)
	if err != nil {
		return err
	}

	reply.Status = st
	return nil
}

func (f *FileService) AdjustFileChunkVersion(args *rpc.AdjustFileChunkVersionArgs, reply *rpc.AdjustFileChunkVersionReply) error {
	f.cs.log.Infow("rpc", "event", "AdjustFileChunkVersion", "handle", args.ChunkHandle, "version", args.NewVersion)

	st, version, err := f.cs.AdjustFileChunkVersion(context.Background(), args.ChunkHandle, args.NewVersion)
	if err != nil {
		return err
	}

	reply.Status = st
	reply.ChunkVersion = version
	return nil
}

func (f *FileService) ChunkReplicaCopy(args *rpc.ChunkReplicaCopyArgs, reply *rpc.ChunkReplicaCopyReply) error {
	f.cs.log.Infow("rpc", "event", "ChunkReplicaCopy", "handle", args.ChunkHandle, "targets", len(args.Targets))

	copied, version, err := f.cs.ChunkReplicaCopy(context.Background(), args.ChunkHandle, args.Targets)
	if err != nil {
		return err
	}

	reply.Copied = copied
	reply.Version = version
	return nil
}

func (f *FileService) ApplyChunkReplicaCopy(args *rpc.ApplyChunkReplicaCopyArgs, reply *rpc.ApplyChunkReplicaCopyReply) error {
	f.cs.log.Infow("rpc", "event", "ApplyChunkReplicaCopy", "handle", args.ChunkHandle, "version", args.Chunk.Version)

	err := f.cs.ApplyChunkReplicaCopy(context.Background(), args.ChunkHandle, args.Chunk)
	if err != nil {
		f.cs.log.Errorw("rpc", "event", "ApplyChunkReplicaCopy", "err", err)
		reply.Status = rpc.ApplyFailed
		return nil
	}

	reply.Status = rpc.ApplyOK
	return nil
}

func (f *FileService) ReadFileChunk(args *rpc.ReadFileChunkArgs, reply *rpc.ReadFileChunkReply) error {
	data, st, err := f.cs.ReadFileChunk(context.Background(), args.ChunkHandle, args.ChunkVersion, args.Offset, args.Length)
	if err != nil {
		return err
	}

	reply.Status = st
	reply.Data = data
	reply.BytesRead = uint32(len(data))
	return nil
}

func (f *FileService) SendChunkData(args *rpc.SendChunkDataArgs, reply *rpc.SendChunkDataReply) error {
	reply.Status = f.cs.SendChunkData(args.Data, args.Checksum)
	return nil
}

func (f *FileService) WriteFileChunk(args *rpc.WriteFileChunkArgs, reply *rpc.WriteFileChunkReply) error {
	f.cs.log.Infow("rpc", "event", "WriteFileChunk", "handle", args.Header.ChunkHandle, "offset", args.Header.Offset, "length", args.Header.Length)

	n, st, err := f.cs.WriteFileChunk(context.Background(), args.Header, args.Replicas)
	if err != nil {
		return err
	}

	reply.Status = st
	reply.BytesWritten = n
	return nil
}

func (f *FileService) ApplyMutation(args *rpc.ApplyMutationArgs, reply *rpc.ApplyMutationReply) error {
	n, st, err := f.cs.ApplyMutation(context.Background(), args.Header)
	if err != nil {
		return err
	}

	reply.Status = st
	reply.BytesWritten = n
	return nil
}

type LeaseService struct {
	cs *ChunkServer
}

func NewLeaseService(cs *ChunkServer) *LeaseService {
	return &LeaseService{cs: cs}
}

func (l *LeaseService) GrantLease(args *rpc.GrantLeaseArgs, reply *rpc.GrantLeaseReply) error {
	l.cs.log.Infow("rpc", "event", "GrantLease", "handle", args.ChunkHandle, "version", args.ChunkVersion)

	st, err := l.cs.GrantLease(context.Background(), args.ChunkHandle, args.ChunkVersion, args.Expiration)
	if err != nil {
		return err
	}

	reply.Status = st
	return nil
}

type ControlService struct {
	cs *ChunkServer
}

func NewControlService(cs *ChunkServer) *ControlService {
	return &ControlService{cs: cs}
}

func (c *ControlService) SendHeartBeat(args *rpc.HeartBeatArgs, reply *rpc.HeartBeatReply) error {
	c.cs.log.Debugw("rpc", "event", "SendHeartBeat")
	reply.Echo = args.Echo
	return nil
}
