package master

import (
	"slices"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/emirpasic/gods/sets/linkedhashset"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/status"
)

// ChunkServerManager keeps the chunk server registry and the replica index
// (handle -> locations). Both iterate in insertion order, which is the order
// servers are picked for placement.
type ChunkServerManager struct {
	*ClientPool

	mu       sync.RWMutex
	servers  *linkedhashmap.Map // model.ChunkServerLocation -> *model.ChunkServer
	replicas map[string]*linkedhashset.Set
}

func NewChunkServerManager(pool *ClientPool) *ChunkServerManager {
	return &ChunkServerManager{
		ClientPool: pool,
		servers:    linkedhashmap.New(),
		replicas:   make(map[string]*linkedhashset.Set),
	}
}

func (csm *ChunkServerManager) server(loc model.ChunkServerLocation) (*model.ChunkServer, bool) {
	v, ok := csm.servers.Get(loc)
	if !ok {
		return nil, false
	}

	return v.(*model.ChunkServer), true
}

func (csm *ChunkServerManager) replicaSet(handle string) *linkedhashset.Set {
	set, ok := csm.replicas[handle]
	if !ok {
		set = linkedhashset.New()
		csm.replicas[handle] = set
	}

	return set
}

func (csm *ChunkServerManager) addReplica(handle string, cs *model.ChunkServer) {
	csm.replicaSet(handle).Add(cs.Location)
	if !slices.Contains(cs.StoredChunkHandles, handle) {
		cs.StoredChunkHandles = append(cs.StoredChunkHandles, handle)
	}
}

func (csm *ChunkServerManager) removeReplica(handle string, cs *model.ChunkServer) {
	if set, ok := csm.replicas[handle]; ok {
		set.Remove(cs.Location)
	}

	cs.StoredChunkHandles = slices.DeleteFunc(cs.StoredChunkHandles, func(h string) bool { return h == handle })
	delete(cs.ChunkVersions, handle)
}

func locations(set *linkedhashset.Set) []model.ChunkServerLocation {
	if set == nil {
		return nil
	}

	out := make([]model.ChunkServerLocation, 0, set.Size())
	for _, v := range set.Values() {
		out = append(out, v.(model.ChunkServerLocation))
	}

	return out
}

// Register adds server to the registry along with the handles it stores. It
// returns false if the location is already registered.
func (csm *ChunkServerManager) Register(server model.ChunkServer) bool {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	if _, exists := csm.server(server.Location); exists {
		return false
	}

	cs := server.Clone()
	handles := cs.StoredChunkHandles
	cs.StoredChunkHandles = nil
	csm.servers.Put(cs.Location, &cs)

	for _, h := range handles {
		csm.addReplica(h, &cs)
	}

	return true
}

// Unregister removes the server and drops it from every replica set. It
// returns the handles the server held.
func (csm *ChunkServerManager) Unregister(loc model.ChunkServerLocation) ([]string, bool) {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	cs, exists := csm.server(loc)
	if !exists {
		return nil, false
	}

	handles := append([]string(nil), cs.StoredChunkHandles...)
	for _, h := range handles {
		if set, ok := csm.replicas[h]; ok {
			set.Remove(loc)
		}
	}

	csm.servers.Remove(loc)
	return handles, true
}

func (csm *ChunkServerManager) IsRegistered(loc model.ChunkServerLocation) bool {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	_, ok := csm.server(loc)
	return ok
}

func (csm *ChunkServerManager) GetChunkServer(loc model.ChunkServerLocation) (model.ChunkServer, bool) {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	cs, ok := csm.server(loc)
	if !ok {
		return model.ChunkServer{}, false
	}

	return cs.Clone(), true
}

// Servers returns a snapshot of the registry in registration order.
func (csm *ChunkServerManager) Servers() []model.ChunkServer {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	out := make([]model.ChunkServer, 0, csm.servers.Size())
	it := csm.servers.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*model.ChunkServer).Clone())
	}

	return out
}

func (csm *ChunkServerManager) GetChunkLocations(handle string) []model.ChunkServerLocation {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	return locations(csm.replicas[handle])
}

// AssignChunkServers places handle on up to count servers. If the handle
// already has a location the existing set is returned unchanged.
func (csm *ChunkServerManager) AssignChunkServers(handle string, count int) []model.ChunkServerLocation {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	if set, ok := csm.replicas[handle]; ok && set.Size() > 0 {
		return locations(set)
	}

	it := csm.servers.Iterator()
	for assigned := 0; assigned < count && it.Next(); assigned++ {
		csm.addReplica(handle, it.Value().(*model.ChunkServer))
	}

	return locations(csm.replicas[handle])
}

// AssignServersForReplicaRepair picks the servers that would bring handle up
// to target replicas. Nothing is recorded, the copies are added once they
// are confirmed.
func (csm *ChunkServerManager) AssignServersForReplicaRepair(handle string, target int) []model.ChunkServerLocation {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	set, ok := csm.replicas[handle]
	if !ok || set.Size() >= target {
		return nil
	}

	need := target - set.Size()
	var out []model.ChunkServerLocation

	it := csm.servers.Iterator()
	for len(out) < need && it.Next() {
		loc := it.Key().(model.ChunkServerLocation)
		if set.Contains(loc) {
			continue
		}

		out = append(out, loc)
	}

	return out
}

// AddChunkLocation records that loc holds handle at version.
func (csm *ChunkServerManager) AddChunkLocation(handle string, loc model.ChunkServerLocation, version uint32) error {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	cs, ok := csm.server(loc)
	if !ok {
		return status.Errorf(status.ErrNotFound, "chunk server %s", loc)
	}

	csm.addReplica(handle, cs)
	cs.ChunkVersions[handle] = version
	return nil
}

// RemoveChunkLocation drops a single replica of handle.
func (csm *ChunkServerManager) RemoveChunkLocation(handle string, loc model.ChunkServerLocation) {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	if cs, ok := csm.server(loc); ok {
		csm.removeReplica(handle, cs)
	}
}

// ForgetChunk removes handle from the index and from every server record.
func (csm *ChunkServerManager) ForgetChunk(handle string) {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	for _, loc := range locations(csm.replicas[handle]) {
		if cs, ok := csm.server(loc); ok {
			csm.removeReplica(handle, cs)
		}
	}

	delete(csm.replicas, handle)
}

// UpdateServerReport applies a chunk server's report: refreshes its disk
// space and versions and adds or removes handles on both sides of the index.
func (csm *ChunkServerManager) UpdateServerReport(loc model.ChunkServerLocation, availableDiskMB uint64, toAdd, toRemove []string, versions map[string]uint32) error {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	cs, ok := csm.server(loc)
	if !ok {
		return status.Errorf(status.ErrNotFound, "chunk server %s", loc)
	}

	cs.AvailableDiskMB = availableDiskMB

	for _, h := range toAdd {
		csm.addReplica(h, cs)
	}

	for _, h := range toRemove {
		csm.removeReplica(h, cs)
	}

	for h, v := range versions {
		if slices.Contains(cs.StoredChunkHandles, h) {
			cs.ChunkVersions[h] = v
		}
	}

	return nil
}

func (csm *ChunkServerManager) ReportedVersion(loc model.ChunkServerLocation, handle string) (uint32, bool) {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	cs, ok := csm.server(loc)
	if !ok {
		return 0, false
	}

	v, ok := cs.ChunkVersions[handle]
	return v, ok
}

func (csm *ChunkServerManager) SetReportedVersion(loc model.ChunkServerLocation, handle string, version uint32) {
	csm.mu.Lock()
	defer csm.mu.Unlock()

	if cs, ok := csm.server(loc); ok {
		cs.ChunkVersions[handle] = version
	}
}

// UnderReplicated lists the handles with fewer than target replicas.
func (csm *ChunkServerManager) UnderReplicated(target int) []string {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	var out []string
	for h, set := range csm.replicas {
		if set.Size() < target {
			out = append(out, h)
		}
	}

	return out
}

// SelectPrimary picks the replica to serialise writes for handle: the first
// location whose last known version equals version, otherwise the first
// location. It reports false when the chunk has no replica.
func (csm *ChunkServerManager) SelectPrimary(handle string, version uint32) (model.ChunkServerLocation, bool) {
	csm.mu.RLock()
	defer csm.mu.RUnlock()

	locs := locations(csm.replicas[handle])
	if len(locs) == 0 {
		return model.ChunkServerLocation{}, false
	}

	for _, loc := range locs {
		cs, ok := csm.server(loc)
		if !ok {
			continue
		}

		if v, ok := cs.ChunkVersions[handle]; ok && v == version {
			return loc, true
		}
	}

	return locs[0], true
}
