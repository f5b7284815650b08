package master

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"go.uber.org/zap/zaptest"

	"github.com/pyropy/gfs/lib/status"
)

func newTestMetadataManager(t *testing.T) *MetadataManager {
	return NewMetadataManager(zaptest.NewLogger(t).Sugar(), nil)
}

func TestCreateFileMetadata(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)

	if mm.ExistsFile("/foo") {
		t.Fatalf("/foo should not exist")
	}

	if err := mm.CreateFile(ctx, "/foo"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if !mm.ExistsFile("/foo") {
		t.Fatalf("/foo should exist")
	}

	f, err := mm.GetFileMetadata("/foo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if f.Filename != "/foo" {
		t.Fatalf("unexpected filename %s", f.Filename)
	}

	handle, err := mm.CreateChunkHandle(ctx, "/foo", 0)
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}

	if handle != "0" {
		t.Fatalf("first handle should be \"0\", got %q", handle)
	}

	md, err := mm.GetFileChunkMetadata(handle)
	if err != nil {
		t.Fatalf("chunk metadata: %v", err)
	}

	if md.Version != 1 {
		t.Fatalf("new chunk should start at version 1, got %d", md.Version)
	}

	_, err = mm.CreateChunkHandle(ctx, "/foo", 0)
	if !status.Is(err, status.ErrAlreadyExists) {
		t.Fatalf("expected already exists for reused index, got %v", err)
	}
}

func TestCreateFileHierarchy(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)

	err := mm.CreateFile(ctx, "/a/b/c")
	if !status.Is(err, status.ErrNotFound) {
		t.Fatalf("expected not found without parents, got %v", err)
	}

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if err := mm.CreateFile(ctx, p); err != nil {
			t.Fatalf("create %s: %v", p, err)
		}
	}

	plocks, err := mm.locks.AcquireAncestorReadLocks("/a/b/c")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer plocks.Unlock()

	if plocks.Len() != 2 {
		t.Fatalf("expected 2 ancestor locks, got %d", plocks.Len())
	}
}

func TestCreateFileMetadataInParallel(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)
	n := 50

	handles := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "/file" + strconv.Itoa(i)
			if err := mm.CreateFile(ctx, name); err != nil {
				t.Errorf("create %s: %v", name, err)
				return
			}

			h, err := mm.CreateChunkHandle(ctx, name, 0)
			if err != nil {
				t.Errorf("create chunk %s: %v", name, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	unique := map[string]struct{}{}
	for i, h := range handles {
		name := "/file" + strconv.Itoa(i)
		got, err := mm.GetChunkHandle(name, 0)
		if err != nil || got != h {
			t.Fatalf("%s: expected handle %s, got %s (%v)", name, h, got, err)
		}
		unique[h] = struct{}{}
	}

	if len(unique) != n {
		t.Fatalf("expected %d distinct handles, got %d", n, len(unique))
	}
}

func TestCreateSameFileMetadataInParallel(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, exists := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mm.CreateFile(ctx, "/x")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case status.Is(err, status.ErrAlreadyExists):
				exists++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || exists != 19 {
		t.Fatalf("expected 1 create and 19 already exists, got %d and %d", created, exists)
	}
}

func TestCreateChunkHandlesForSameFileInParallel(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)
	mm.CreateFile(ctx, "/big")

	n := 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := mm.CreateChunkHandle(ctx, "/big", uint32(i)); err != nil {
				t.Errorf("chunk %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	f, err := mm.GetFileMetadata("/big")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if len(f.ChunkHandles) != n {
		t.Fatalf("expected %d chunks, got %d", n, len(f.ChunkHandles))
	}
}

func TestIncrementChunkVersion(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)
	mm.CreateFile(ctx, "/v")
	h, _ := mm.CreateChunkHandle(ctx, "/v", 0)

	v, err := mm.IncrementChunkVersion(ctx, h)
	if err != nil || v != 2 {
		t.Fatalf("expected version 2, got %d (%v)", v, err)
	}

	_, err = mm.IncrementChunkVersion(ctx, "missing")
	if !status.Is(err, status.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteFileAndChunks(t *testing.T) {
	ctx := context.Background()
	mm := newTestMetadataManager(t)
	mm.CreateFile(ctx, "/d")
	h0, _ := mm.CreateChunkHandle(ctx, "/d", 0)
	h1, _ := mm.CreateChunkHandle(ctx, "/d", 1)
	mm.SetLease(h0, "client", time.Now().Add(time.Minute).Unix())

	handles, err := mm.DeleteFileAndChunks(ctx, "/d")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(handles) != 2 {
		t.Fatalf("expected 2 removed handles, got %v", handles)
	}

	if mm.ExistsFile("/d") {
		t.Fatalf("file should be gone")
	}

	for _, h := range []string{h0, h1} {
		if _, err := mm.GetFileChunkMetadata(h); !status.Is(err, status.ErrNotFound) {
			t.Fatalf("chunk %s should be gone, got %v", h, err)
		}
	}

	if _, ok := mm.GetLease(h0); ok {
		t.Fatalf("lease should be dropped with the chunk")
	}

	// the path lock survives, so the name can be reused
	if err := mm.CreateFile(ctx, "/d"); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestAcquireLease(t *testing.T) {
	mm := newTestMetadataManager(t)
	now := time.Unix(1000, 0)

	if _, ok := mm.AcquireLease("0", "alice", 1060, now); !ok {
		t.Fatalf("first acquire should win")
	}

	cur, ok := mm.AcquireLease("0", "bob", 1070, now)
	if ok || cur.Holder != "alice" {
		t.Fatalf("bob must not take a live lease, got %+v", cur)
	}

	if _, ok := mm.AcquireLease("0", "bob", 1130, time.Unix(1060, 0)); !ok {
		t.Fatalf("bob should take an expired lease")
	}
}

func TestRecoverFromOpLog(t *testing.T) {
	ctx := context.Background()
	store := dssync.MutexWrap(ds.NewMapDatastore())
	log := zaptest.NewLogger(t).Sugar()

	mm := NewMetadataManager(log, NewOpLog(store))
	mm.CreateFile(ctx, "/keep")
	mm.CreateFile(ctx, "/keep/child")
	h, _ := mm.CreateChunkHandle(ctx, "/keep", 0)
	mm.IncrementChunkVersion(ctx, h)
	mm.IncrementChunkVersion(ctx, h)
	mm.CreateFile(ctx, "/gone")
	gone, _ := mm.CreateChunkHandle(ctx, "/gone", 0)
	mm.DeleteFileAndChunks(ctx, "/gone")

	restored := NewMetadataManager(log, NewOpLog(store))
	if err := restored.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if !restored.ExistsFile("/keep") || !restored.ExistsFile("/keep/child") {
		t.Fatalf("files lost on recover")
	}

	if restored.ExistsFile("/gone") {
		t.Fatalf("deleted file came back")
	}

	got, err := restored.GetChunkHandle("/keep", 0)
	if err != nil || got != h {
		t.Fatalf("expected handle %s, got %s (%v)", h, got, err)
	}

	md, err := restored.GetFileChunkMetadata(h)
	if err != nil || md.Version != 3 {
		t.Fatalf("expected version 3, got %+v (%v)", md, err)
	}

	if _, err := restored.GetFileChunkMetadata(gone); !status.Is(err, status.ErrNotFound) {
		t.Fatalf("deleted chunk came back: %v", err)
	}

	// numbering continues after the highest handle ever issued
	restored.CreateFile(ctx, "/next")
	next, _ := restored.CreateChunkHandle(ctx, "/next", 0)
	if next != "2" {
		t.Fatalf("expected handle \"2\" after recovery, got %q", next)
	}

	// appends after recovery continue the sequence
	again := NewMetadataManager(log, NewOpLog(store))
	if err := again.Recover(ctx); err != nil {
		t.Fatalf("second recover: %v", err)
	}

	if h, err := again.GetChunkHandle("/next", 0); err != nil || h != "2" {
		t.Fatalf("record appended after recovery lost: %s %v", h, err)
	}
}
