package model

import "github.com/google/uuid"

const InitialChunkVersion uint32 = 1

type FileMetadata struct {
	ID           uuid.UUID
	Filename     string
	ChunkHandles map[uint32]string
}

func NewFileMetadata(filename string) *FileMetadata {
	return &FileMetadata{
		ID:           uuid.New(),
		Filename:     filename,
		ChunkHandles: make(map[uint32]string),
	}
}

func (f *FileMetadata) Clone() FileMetadata {
	c := *f
	c.ChunkHandles = make(map[uint32]string, len(f.ChunkHandles))
	for idx, h := range f.ChunkHandles {
		c.ChunkHandles[idx] = h
	}

	return c
}

// OpenMode selects what OpenFile does with the requested chunk.
type OpenMode int

const (
	OpenModeUnknown OpenMode = iota
	OpenModeCreate
	OpenModeRead
	OpenModeWrite
)

func (m OpenMode) String() string {
	switch m {
	case OpenModeCreate:
		return "create"
	case OpenModeRead:
		return "read"
	case OpenModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

func ParseOpenMode(s string) OpenMode {
	switch s {
	case "create":
		return OpenModeCreate
	case "read":
		return OpenModeRead
	case "write":
		return OpenModeWrite
	default:
		return OpenModeUnknown
	}
}
