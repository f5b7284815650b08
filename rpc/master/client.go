package master

import (
	"net/rpc"

	"github.com/pyropy/gfs/lib/status"
)

// Client talks to the master's MasterAPI receiver.
type Client struct {
	rpc *rpc.Client
}

func Dial(address string) (*Client, error) {
	c, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, err
	}

	return &Client{rpc: c}, nil
}

func (c *Client) OpenFile(args *OpenFileArgs) (*OpenFileReply, error) {
	var reply OpenFileReply
	err := c.rpc.Call("MasterAPI.OpenFile", args, &reply)
	if err != nil {
		return nil, status.FromRPCError(err)
	}

	return &reply, nil
}

func (c *Client) DeleteFile(args *DeleteFileArgs) error {
	var reply DeleteFileReply
	return status.FromRPCError(c.rpc.Call("MasterAPI.DeleteFile", args, &reply))
}

func (c *Client) ReportChunkServer(args *ReportChunkServerArgs) (*ReportChunkServerReply, error) {
	var reply ReportChunkServerReply
	err := c.rpc.Call("MasterAPI.ReportChunkServer", args, &reply)
	if err != nil {
		return nil, status.FromRPCError(err)
	}

	return &reply, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}
