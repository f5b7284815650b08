package chunkserver

import (
	"github.com/pyropy/gfs/core/model"
)

type InitFileChunkStatus int

const (
	InitFileChunkCreated InitFileChunkStatus = iota
	InitFileChunkAlreadyExists
)

type InitFileChunkArgs struct {
	ChunkHandle string
}

type InitFileChunkReply struct {
	Status InitFileChunkStatus
}

type GrantLeaseStatus int

const (
	GrantLeaseAccepted GrantLeaseStatus = iota
	GrantLeaseRejectedNotFound
	GrantLeaseRejectedVersion
	GrantLeaseRejectedExpired
)

func (s GrantLeaseStatus) String() string {
	switch s {
	case GrantLeaseAccepted:
		return "ACCEPTED"
	case GrantLeaseRejectedNotFound:
		return "REJECTED_NOT_FOUND"
	case GrantLeaseRejectedVersion:
		return "REJECTED_VERSION"
	case GrantLeaseRejectedExpired:
		return "REJECTED_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

type GrantLeaseArgs struct {
	ChunkHandle  string
	ChunkVersion uint32
	// Expiration is in unix seconds.
	Expiration int64
}

type GrantLeaseReply struct {
	Status GrantLeaseStatus
}

type AdjustVersionStatus int

const (
	AdjustVersionOK AdjustVersionStatus = iota
	AdjustVersionFailedNotSync
	AdjustVersionFailedNotFound
)

func (s AdjustVersionStatus) String() string {
	switch s {
	case AdjustVersionOK:
		return "OK"
	case AdjustVersionFailedNotSync:
		return "FAILED_VERSION_NOT_SYNC"
	case AdjustVersionFailedNotFound:
		return "FAILED_NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

type AdjustFileChunkVersionArgs struct {
	ChunkHandle string
	NewVersion  uint32
}

type AdjustFileChunkVersionReply struct {
	Status       AdjustVersionStatus
	ChunkVersion uint32
}

type ChunkReplicaCopyArgs struct {
	ChunkHandle string
	Targets     []model.ChunkServerLocation
}

type ChunkReplicaCopyReply struct {
	// Copied lists the targets that applied the copy.
	Copied  []model.ChunkServerLocation
	Version uint32
}

type ApplyStatus int

const (
	ApplyOK ApplyStatus = iota
	ApplyFailed
)

type ApplyChunkReplicaCopyArgs struct {
	ChunkHandle string
	Chunk       model.FileChunk
}

type ApplyChunkReplicaCopyReply struct {
	Status ApplyStatus
}

type ReadStatus int

const (
	ReadOK ReadStatus = iota
	ReadNotFound
	ReadVersionError
	ReadOutOfRange
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "OK"
	case ReadNotFound:
		return "NOT_FOUND"
	case ReadVersionError:
		return "VERSION_ERROR"
	case ReadOutOfRange:
		return "OUT_OF_RANGE"
	default:
		return "UNKNOWN"
	}
}

type ReadFileChunkArgs struct {
	ChunkHandle  string
	ChunkVersion uint32
	Offset       uint32
	Length       uint32
}

type ReadFileChunkReply struct {
	Status    ReadStatus
	Data      []byte
	BytesRead uint32
}

type SendDataStatus int

const (
	SendDataOK SendDataStatus = iota
	SendDataBadChecksum
	SendDataTooBig
)

type SendChunkDataArgs struct {
	Data     []byte
	Checksum string
}

type SendChunkDataReply struct {
	Status SendDataStatus
}

type WriteStatus int

const (
	WriteOK WriteStatus = iota
	WriteNotFound
	WriteVersionError
	WriteOutOfRange
	WriteNoLease
	WriteDataNotFound
	WriteReplicationFailed
)

func (s WriteStatus) String() string {
	switch s {
	case WriteOK:
		return "OK"
	case WriteNotFound:
		return "NOT_FOUND"
	case WriteVersionError:
		return "VERSION_ERROR"
	case WriteOutOfRange:
		return "OUT_OF_RANGE"
	case WriteNoLease:
		return "NO_LEASE"
	case WriteDataNotFound:
		return "DATA_NOT_FOUND"
	case WriteReplicationFailed:
		return "REPLICATION_FAILED"
	default:
		return "UNKNOWN"
	}
}

// WriteHeader describes a mutation: which chunk, at what version, where, and
// which cached payload (by checksum) to apply.
type WriteHeader struct {
	ChunkHandle  string
	ChunkVersion uint32
	Offset       uint32
	Length       uint32
	Checksum     string
}

type WriteFileChunkArgs struct {
	Header WriteHeader
	// Replicas are the locations the primary forwards the mutation to.
	Replicas []model.ChunkServerLocation
}

type WriteFileChunkReply struct {
	Status       WriteStatus
	BytesWritten uint32
}

type ApplyMutationArgs struct {
	Header WriteHeader
}

type ApplyMutationReply struct {
	Status       WriteStatus
	BytesWritten uint32
}

type HeartBeatArgs struct {
	Echo string
}

type HeartBeatReply struct {
	Echo string
}
