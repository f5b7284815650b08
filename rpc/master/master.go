package master

import (
	"github.com/pyropy/gfs/core/model"
)

type OpenFileArgs struct {
	Filename          string
	Mode              model.OpenMode
	ChunkIndex        uint32
	CreateIfNotExists bool
	// ClientID identifies the writer a lease is granted to.
	ClientID string
}

type OpenFileReply struct {
	Metadata model.FileChunkMetadata
}

type DeleteFileArgs struct {
	Filename string
}

type DeleteFileReply struct {
}

type ChunkServer struct {
	Location           model.ChunkServerLocation
	AvailableDiskMB    uint64
	StoredChunkHandles []string
	ChunkVersions      map[string]uint32
}

type ReportChunkServerArgs struct {
	ChunkServer ChunkServer
}

type ReportChunkServerReply struct {
	DeleteChunkHandles []string
}
