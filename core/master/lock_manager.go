package master

import (
	"strings"
	"sync"

	"github.com/pyropy/gfs/lib/status"
)

// LockManager hands out one reader/writer lock per absolute path. Locks are
// created once and never removed.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.RWMutex),
	}
}

func (lm *LockManager) ExistsLock(path string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	_, ok := lm.locks[path]
	return ok
}

func (lm *LockManager) CreateLock(path string) (*sync.RWMutex, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.locks[path]; ok {
		return nil, status.Errorf(status.ErrAlreadyExists, "lock for %s", path)
	}

	l := &sync.RWMutex{}
	lm.locks[path] = l
	return l, nil
}

// fetchOrCreateLock returns the path's lock, creating it if needed.
func (lm *LockManager) fetchOrCreateLock(path string) *sync.RWMutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[path]
	if !ok {
		l = &sync.RWMutex{}
		lm.locks[path] = l
	}

	return l
}

func (lm *LockManager) FetchLock(path string) (*sync.RWMutex, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[path]
	if !ok {
		return nil, status.Errorf(status.ErrNotFound, "lock for %s", path)
	}

	return l, nil
}

// ParentLocks holds read locks on every ancestor of a path.
type ParentLocks struct {
	held []*sync.RWMutex
}

func (p *ParentLocks) Len() int {
	return len(p.held)
}

// Unlock releases the ancestors, deepest first.
func (p *ParentLocks) Unlock() {
	for i := len(p.held) - 1; i >= 0; i-- {
		p.held[i].RUnlock()
	}
	p.held = nil
}

// AcquireAncestorReadLocks read-locks "/a" and "/a/b" for "/a/b/c". Fails
// with not found if any ancestor has no lock, releasing what it already took.
func (lm *LockManager) AcquireAncestorReadLocks(path string) (*ParentLocks, error) {
	p := &ParentLocks{}

	for _, ancestor := range ancestors(path) {
		l, err := lm.FetchLock(ancestor)
		if err != nil {
			p.Unlock()
			return nil, err
		}

		l.RLock()
		p.held = append(p.held, l)
	}

	return p, nil
}

// ancestors lists the prefixes AcquireAncestorReadLocks would lock.
func ancestors(path string) []string {
	var out []string
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[:i])
		}
	}

	return out
}

func validPath(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.HasSuffix(path, "/") && !strings.Contains(path, "//")
}
