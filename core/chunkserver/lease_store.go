package chunkserver

import (
	"time"

	"github.com/pyropy/gfs/lib/cmap"
)

// LeaseStore holds the expiration (unix seconds) of every write lease this
// server currently honours as primary. It does not know who the writer is.
type LeaseStore struct {
	Leases *cmap.Map[string, int64]
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		Leases: cmap.NewMap[string, int64](),
	}
}

func (ls *LeaseStore) GrantLease(handle string, expiration int64) {
	ls.Leases.Set(handle, expiration)
}

func (ls *LeaseStore) RevokeLease(handle string) {
	ls.Leases.Delete(handle)
}

// HasWriteLease reports whether a lease on handle is live at now.
func (ls *LeaseStore) HasWriteLease(handle string, now time.Time) bool {
	exp, ok := ls.Leases.Get(handle)
	if !ok {
		return false
	}

	return now.Unix() < *exp
}

// RemoveExpired drops every lease expired at now and returns their handles.
func (ls *LeaseStore) RemoveExpired(now time.Time) []string {
	var expired []string
	ls.Leases.Range(func(handle string, exp int64) bool {
		if now.Unix() >= exp {
			expired = append(expired, handle)
		}

		return true
	})

	for _, h := range expired {
		ls.Leases.Delete(h)
	}

	return expired
}
