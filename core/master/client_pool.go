package master

import (
	"github.com/pyropy/gfs/lib/cmap"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

// ClientPool caches one client per chunk server address and service.
type ClientPool struct {
	dialer chunkServerRPC.Dialer

	files    *cmap.Map[string, chunkServerRPC.FileServiceClient]
	leases   *cmap.Map[string, chunkServerRPC.LeaseServiceClient]
	controls *cmap.Map[string, chunkServerRPC.ControlServiceClient]
}

func NewClientPool(dialer chunkServerRPC.Dialer) *ClientPool {
	return &ClientPool{
		dialer:   dialer,
		files:    cmap.NewMap[string, chunkServerRPC.FileServiceClient](),
		leases:   cmap.NewMap[string, chunkServerRPC.LeaseServiceClient](),
		controls: cmap.NewMap[string, chunkServerRPC.ControlServiceClient](),
	}
}

func getOrCreate[C any](m *cmap.Map[string, C], address string, create func(string) C) C {
	if c, ok := m.Get(address); ok {
		return *c
	}

	return m.GetOrSet(address, create(address))
}

func (p *ClientPool) GetOrCreateFileServiceClient(address string) chunkServerRPC.FileServiceClient {
	return getOrCreate(p.files, address, p.dialer.FileService)
}

func (p *ClientPool) GetOrCreateLeaseServiceClient(address string) chunkServerRPC.LeaseServiceClient {
	return getOrCreate(p.leases, address, p.dialer.LeaseService)
}

func (p *ClientPool) GetOrCreateControlServiceClient(address string) chunkServerRPC.ControlServiceClient {
	return getOrCreate(p.controls, address, p.dialer.ControlService)
}

// Discard drops every cached client for address.
func (p *ClientPool) Discard(address string) {
	p.files.Delete(address)
	p.leases.Delete(address)
	p.controls.Delete(address)
}
