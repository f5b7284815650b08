package master

import (
	"sync"
	"time"

	"github.com/pyropy/gfs/core/model"
)

// LeaseStore tracks which client holds the write lease of each chunk.
// Chunk servers only know a lease's expiration, the holder lives here.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]model.Lease
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		leases: make(map[string]model.Lease),
	}
}

func (ls *LeaseStore) SetLease(handle, holder string, expiration int64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.leases[handle] = model.Lease{
		ChunkHandle: handle,
		Holder:      holder,
		Expiration:  expiration,
	}
}

func (ls *LeaseStore) RemoveLease(handle string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	delete(ls.leases, handle)
}

func (ls *LeaseStore) GetLease(handle string) (model.Lease, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	l, ok := ls.leases[handle]
	return l, ok
}

// AcquireLease records holder's lease unless another holder has a live one.
// It returns the lease in force afterwards and whether holder owns it.
func (ls *LeaseStore) AcquireLease(handle, holder string, expiration int64, now time.Time) (model.Lease, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	cur, ok := ls.leases[handle]
	if ok && cur.Holder != holder && !cur.IsExpired(now) {
		return cur, false
	}

	lease := model.Lease{
		ChunkHandle: handle,
		Holder:      holder,
		Expiration:  expiration,
	}
	ls.leases[handle] = lease

	return lease, true
}
