package model

import (
	"fmt"
	"net"
	"strconv"
)

// ChunkServerLocation identifies a chunk server. It is compared by value and
// used directly as a map key.
type ChunkServerLocation struct {
	Hostname string
	Port     int
}

func (l ChunkServerLocation) Address() string {
	return net.JoinHostPort(l.Hostname, strconv.Itoa(l.Port))
}

func (l ChunkServerLocation) String() string {
	return l.Address()
}

func (l ChunkServerLocation) IsZero() bool {
	return l == ChunkServerLocation{}
}

// ParseLocation parses a host:port address.
func ParseLocation(addr string) (ChunkServerLocation, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ChunkServerLocation{}, err
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return ChunkServerLocation{}, fmt.Errorf("invalid port %q: %w", port, err)
	}

	return ChunkServerLocation{Hostname: host, Port: p}, nil
}

// FileChunkMetadata is the master's view of a single chunk. Locations is
// informational, the authoritative replica set is kept by the chunk server
// manager.
type FileChunkMetadata struct {
	ChunkHandle string
	Version     uint32
	Primary     ChunkServerLocation
	Locations   []ChunkServerLocation
}

func NewFileChunkMetadata(handle string) FileChunkMetadata {
	return FileChunkMetadata{
		ChunkHandle: handle,
		Version:     InitialChunkVersion,
	}
}

func (m FileChunkMetadata) Clone() FileChunkMetadata {
	c := m
	c.Locations = append([]ChunkServerLocation(nil), m.Locations...)
	return c
}

// ChunkServer is the master's record of a registered chunk server.
type ChunkServer struct {
	Location           ChunkServerLocation
	AvailableDiskMB    uint64
	StoredChunkHandles []string
	// ChunkVersions holds the last version reported by, or confirmed on,
	// the server for each stored handle.
	ChunkVersions map[string]uint32
}

func (c ChunkServer) Clone() ChunkServer {
	cp := c
	cp.StoredChunkHandles = append([]string(nil), c.StoredChunkHandles...)
	cp.ChunkVersions = make(map[string]uint32, len(c.ChunkVersions))
	for h, v := range c.ChunkVersions {
		cp.ChunkVersions[h] = v
	}

	return cp
}

// FileChunk is a chunk's payload as moved between chunk servers.
type FileChunk struct {
	Data    []byte
	Version uint32
}
