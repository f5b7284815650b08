package master

import (
	"context"

	"github.com/pyropy/gfs/core/model"
	masterRPC "github.com/pyropy/gfs/rpc/master"
)

// API is the net/rpc receiver for the master, registered as "MasterAPI".
type API struct {
	master *Master
}

func NewAPI(m *Master) *API {
	return &API{master: m}
}

func (a *API) OpenFile(args *masterRPC.OpenFileArgs, reply *masterRPC.OpenFileReply) error {
	a.master.log.Infow("rpc", "event", "OpenFile", "file", args.Filename, "mode", args.Mode, "index", args.ChunkIndex)

	md, err := a.master.OpenFile(context.Background(), OpenFileRequest{
		Filename:          args.Filename,
		Mode:              args.Mode,
		ChunkIndex:        args.ChunkIndex,
		CreateIfNotExists: args.CreateIfNotExists,
		ClientID:          args.ClientID,
	})
	if err != nil {
		return err
	}

	reply.Metadata = md
	return nil
}

func (a *API) DeleteFile(args *masterRPC.DeleteFileArgs, _ *masterRPC.DeleteFileReply) error {
	a.master.log.Infow("rpc", "event", "DeleteFile", "file", args.Filename)
	return a.master.DeleteFile(context.Background(), args.Filename)
}

func (a *API) ReportChunkServer(args *masterRPC.ReportChunkServerArgs, reply *masterRPC.ReportChunkServerReply) error {
	cs := args.ChunkServer
	a.master.log.Debugw("rpc", "event", "ReportChunkServer", "location", cs.Location, "chunks", len(cs.StoredChunkHandles))

	deletes, err := a.master.ReportChunkServer(context.Background(), model.ChunkServer{
		Location:           cs.Location,
		AvailableDiskMB:    cs.AvailableDiskMB,
		StoredChunkHandles: cs.StoredChunkHandles,
		ChunkVersions:      cs.ChunkVersions,
	})
	if err != nil {
		return err
	}

	reply.DeleteChunkHandles = deletes
	return nil
}
