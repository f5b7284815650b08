package master

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/pyropy/gfs/core/chunkserver"
	"github.com/pyropy/gfs/core/chunkserver/chunkservertest"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/checksum"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
	masterRPC "github.com/pyropy/gfs/rpc/master"
)

type testCluster struct {
	master  *Master
	network *chunkservertest.Network
	servers []*chunkserver.ChunkServer
}

func newTestCluster(t *testing.T, cfg *Config, n int, opts ...Option) *testCluster {
	t.Helper()

	network := chunkservertest.NewNetwork()
	m := NewMaster(cfg, network, zaptest.NewLogger(t).Sugar(), opts...)

	servers := make([]*chunkserver.ChunkServer, n)
	for i := range servers {
		servers[i] = network.NewServer(t, model.ChunkServerLocation{Hostname: "localhost", Port: 7001 + i})

		_, err := m.ReportChunkServer(context.Background(), model.ChunkServer{Location: servers[i].Location})
		if err != nil {
			t.Fatalf("register %s: %v", servers[i].Location, err)
		}
	}

	return &testCluster{master: m, network: network, servers: servers}
}

func (tc *testCluster) setDown(i int, down bool) {
	tc.network.SetDown(tc.servers[i].Location.Address(), down)
}

// reporter lets a chunk server report straight into the master.
type reporter struct {
	m *Master
}

func (r reporter) ReportChunkServer(args *masterRPC.ReportChunkServerArgs) (*masterRPC.ReportChunkServerReply, error) {
	var reply masterRPC.ReportChunkServerReply
	err := NewAPI(r.m).ReportChunkServer(args, &reply)
	if err != nil {
		return nil, err
	}

	return &reply, nil
}

func (tc *testCluster) server(loc model.ChunkServerLocation) *chunkserver.ChunkServer {
	for _, cs := range tc.servers {
		if cs.Location == loc {
			return cs
		}
	}

	return nil
}

// write pushes data to every location of md and has the primary apply it.
func (tc *testCluster) write(t *testing.T, md model.FileChunkMetadata, offset uint32, data []byte) chunkServerRPC.WriteStatus {
	t.Helper()

	sum := checksum.CalculateCheckSum(data)
	for _, loc := range md.Locations {
		if st := tc.server(loc).SendChunkData(data, sum); st != chunkServerRPC.SendDataOK {
			t.Fatalf("send data to %s: %v", loc, st)
		}
	}

	header := chunkServerRPC.WriteHeader{
		ChunkHandle:  md.ChunkHandle,
		ChunkVersion: md.Version,
		Offset:       offset,
		Length:       uint32(len(data)),
		Checksum:     sum,
	}

	_, st, err := tc.server(md.Primary).WriteFileChunk(context.Background(), header, md.Locations)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	return st
}

func createReq(name string) OpenFileRequest {
	return OpenFileRequest{Filename: name, Mode: model.OpenModeCreate}
}

func writeReq(name string, index uint32, client string) OpenFileRequest {
	return OpenFileRequest{Filename: name, Mode: model.OpenModeWrite, ChunkIndex: index, ClientID: client}
}

func readReq(name string, index uint32) OpenFileRequest {
	return OpenFileRequest{Filename: name, Mode: model.OpenModeRead, ChunkIndex: index}
}
