// Package chunkservertest runs chunk servers in-process for tests.
package chunkservertest

import (
	"errors"
	"sync"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"go.uber.org/zap/zaptest"

	"github.com/pyropy/gfs/core/chunkserver"
	"github.com/pyropy/gfs/core/model"
	rpc "github.com/pyropy/gfs/rpc/chunkserver"
)

var ErrUnreachable = errors.New("chunk server unreachable")

// Network is a Dialer that routes calls straight to registered chunk
// servers. Servers can be marked down to simulate failures.
type Network struct {
	mu      sync.Mutex
	servers map[string]*chunkserver.ChunkServer
	down    map[string]bool
	failing map[string]int
}

func NewNetwork() *Network {
	return &Network{
		servers: make(map[string]*chunkserver.ChunkServer),
		down:    make(map[string]bool),
		failing: make(map[string]int),
	}
}

// NewServer starts an in-memory chunk server at loc and adds it to n.
func (n *Network) NewServer(tb testing.TB, loc model.ChunkServerLocation) *chunkserver.ChunkServer {
	tb.Helper()

	cfg := chunkserver.DefaultConfig()
	cfg.Server.Host = loc.Hostname
	cfg.Server.Port = loc.Port
	cfg.Chunks.Path = tb.TempDir()

	store := chunkserver.NewFileChunkManager(dssync.MutexWrap(ds.NewMapDatastore()), cfg.Chunks.BlockSize)
	cs := chunkserver.NewChunkServer(cfg, store, n, zaptest.NewLogger(tb).Sugar())
	n.Add(cs)

	return cs
}

func (n *Network) Add(cs *chunkserver.ChunkServer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.servers[cs.Location.Address()] = cs
}

func (n *Network) SetDown(address string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.down[address] = down
}

// FailNext makes the next count calls to address fail as if it were down.
func (n *Network) FailNext(address string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.failing[address] = count
}

func (n *Network) lookup(address string) (*chunkserver.ChunkServer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cs, ok := n.servers[address]
	if !ok || n.down[address] {
		return nil, ErrUnreachable
	}

	if n.failing[address] > 0 {
		n.failing[address]--
		return nil, ErrUnreachable
	}

	return cs, nil
}

func (n *Network) FileService(address string) rpc.FileServiceClient {
	return &fileClient{n: n, address: address}
}

func (n *Network) LeaseService(address string) rpc.LeaseServiceClient {
	return &leaseClient{n: n, address: address}
}

func (n *Network) ControlService(address string) rpc.ControlServiceClient {
	return &controlClient{n: n, address: address}
}

type fileClient struct {
	n       *Network
	address string
}

func (c *fileClient) svc() (*chunkserver.FileService, error) {
	cs, err := c.n.lookup(c.address)
	if err != nil {
		return nil, err
	}

	return chunkserver.NewFileService(cs), nil
}

func (c *fileClient) InitFileChunk(args *rpc.InitFileChunkArgs, reply *rpc.InitFileChunkReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.InitFileChunk(args, reply)
}

func (c *fileClient) AdjustFileChunkVersion(args *rpc.AdjustFileChunkVersionArgs, reply *rpc.AdjustFileChunkVersionReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.AdjustFileChunkVersion(args, reply)
}

func (c *fileClient) ChunkReplicaCopy(args *rpc.ChunkReplicaCopyArgs, reply *rpc.ChunkReplicaCopyReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.ChunkReplicaCopy(args, reply)
}

func (c *fileClient) ApplyChunkReplicaCopy(args *rpc.ApplyChunkReplicaCopyArgs, reply *rpc.ApplyChunkReplicaCopyReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.ApplyChunkReplicaCopy(args, reply)
}

func (c *fileClient) ReadFileChunk(args *rpc.ReadFileChunkArgs, reply *rpc.ReadFileChunkReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.ReadFileChunk(args, reply)
}

func (c *fileClient) SendChunkData(args *rpc.SendChunkDataArgs, reply *rpc.SendChunkDataReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.SendChunkData(args, reply)
}

func (c *fileClient) WriteFileChunk(args *rpc.WriteFileChunkArgs, reply *rpc.WriteFileChunkReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.WriteFileChunk(args, reply)
}

func (c *fileClient) ApplyMutation(args *rpc.ApplyMutationArgs, reply *rpc.ApplyMutationReply) error {
	s, err := c.svc()
	if err != nil {
		return err
	}

	return s.ApplyMutation(args, reply)
}

type leaseClient struct {
	n       *Network
	address string
}

func (c *leaseClient) GrantLease(args *rpc.GrantLeaseArgs, reply *rpc.GrantLeaseReply) error {
	cs, err := c.n.lookup(c.address)
	if err != nil {
		return err
	}

	return chunkserver.NewLeaseService(cs).GrantLease(args, reply)
}

type controlClient struct {
	n       *Network
	address string
}

func (c *controlClient) SendHeartBeat(args *rpc.HeartBeatArgs, reply *rpc.HeartBeatReply) error {
	cs, err := c.n.lookup(c.address)
	if err != nil {
		return err
	}

	return chunkserver.NewControlService(cs).SendHeartBeat(args, reply)
}
