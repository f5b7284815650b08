package chunkserver

import (
	"errors"
	"io"
	"net/rpc"
	"sync"
)

// FileServiceClient is the chunk server's data and chunk management surface.
type FileServiceClient interface {
	InitFileChunk(args *InitFileChunkArgs, reply *InitFileChunkReply) error
	AdjustFileChunkVersion(args *AdjustFileChunkVersionArgs, reply *AdjustFileChunkVersionReply) error
	ChunkReplicaCopy(args *ChunkReplicaCopyArgs, reply *ChunkReplicaCopyReply) error
	ApplyChunkReplicaCopy(args *ApplyChunkReplicaCopyArgs, reply *ApplyChunkReplicaCopyReply) error
	ReadFileChunk(args *ReadFileChunkArgs, reply *ReadFileChunkReply) error
	SendChunkData(args *SendChunkDataArgs, reply *SendChunkDataReply) error
	WriteFileChunk(args *WriteFileChunkArgs, reply *WriteFileChunkReply) error
	ApplyMutation(args *ApplyMutationArgs, reply *ApplyMutationReply) error
}

type LeaseServiceClient interface {
	GrantLease(args *GrantLeaseArgs, reply *GrantLeaseReply) error
}

type ControlServiceClient interface {
	SendHeartBeat(args *HeartBeatArgs, reply *HeartBeatReply) error
}

// Dialer hands out clients for the chunk server at address. Clients may
// connect lazily, so obtaining one never fails.
type Dialer interface {
	FileService(address string) FileServiceClient
	LeaseService(address string) LeaseServiceClient
	ControlService(address string) ControlServiceClient
}

// RPCDialer connects to chunk servers with net/rpc over HTTP.
type RPCDialer struct{}

func (RPCDialer) FileService(address string) FileServiceClient {
	return &fileServiceClient{conn: newConn(address)}
}

func (RPCDialer) LeaseService(address string) LeaseServiceClient {
	return &leaseServiceClient{conn: newConn(address)}
}

func (RPCDialer) ControlService(address string) ControlServiceClient {
	return &controlServiceClient{conn: newConn(address)}
}

// conn dials on first use and redials after the connection breaks.
type conn struct {
	address string

	mu     sync.Mutex
	client *rpc.Client
}

func newConn(address string) *conn {
	return &conn{address: address}
}

func (c *conn) get() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := rpc.DialHTTP("tcp", c.address)
	if err != nil {
		return nil, err
	}

	c.client = client
	return client, nil
}

func (c *conn) reset(broken *rpc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == broken {
		c.client.Close()
		c.client = nil
	}
}

func (c *conn) call(method string, args interface{}, reply interface{}) error {
	client, err := c.get()
	if err != nil {
		return err
	}

	err = client.Call(method, args, reply)
	if errors.Is(err, rpc.ErrShutdown) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.reset(client)
	}

	return err
}

type fileServiceClient struct {
	conn *conn
}

func (f *fileServiceClient) InitFileChunk(args *InitFileChunkArgs, reply *InitFileChunkReply) error {
	return f.conn.call("FileService.InitFileChunk", args, reply)
}

func (f *fileServiceClient) AdjustFileChunkVersion(args *AdjustFileChunkVersionArgs, reply *AdjustFileChunkVersionReply) error {
	return f.conn.call("FileService.AdjustFileChunkVersion", args, reply)
}

func (f *fileServiceClient) ChunkReplicaCopy(args *ChunkReplicaCopyArgs, reply *ChunkReplicaCopyReply) error {
	return f.conn.call("FileService.ChunkReplicaCopy", args, reply)
}

func (f *fileServiceClient) ApplyChunkReplicaCopy(args *ApplyChunkReplicaCopyArgs, reply *ApplyChunkReplicaCopyReply) error {
	return f.conn.call("FileService.ApplyChunkReplicaCopy", args, reply)
}

func (f *fileServiceClient) ReadFileChunk(args *ReadFileChunkArgs, reply *ReadFileChunkReply) error {
	return f.conn.call("FileService.ReadFileChunk", args, reply)
}

func (f *fileServiceClient) SendChunkData(args *SendChunkDataArgs, reply *SendChunkDataReply) error {
	return f.conn.call("FileService.SendChunkData", args, reply)
}

func (f *fileServiceClient) WriteFileChunk(args *WriteFileChunkArgs, reply *WriteFileChunkReply) error {
	return f.conn.call("FileService.WriteFileChunk", args, reply)
}

func (f *fileServiceClient) ApplyMutation(args *ApplyMutationArgs, reply *ApplyMutationReply) error {
	return f.conn.call("FileService.ApplyMutation", args, reply)
}

type leaseServiceClient struct {
	conn *conn
}

func (l *leaseServiceClient) GrantLease(args *GrantLeaseArgs, reply *GrantLeaseReply) error {
	return l.conn.call("LeaseService.GrantLease", args, reply)
}

type controlServiceClient struct {
	conn *conn
}

func (c *controlServiceClient) SendHeartBeat(args *HeartBeatArgs, reply *HeartBeatReply) error {
	return c.conn.call("ControlService.SendHeartBeat", args, reply)
}
