package master

import (
	"testing"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/status"
)

func loc(port int) model.ChunkServerLocation {
	return model.ChunkServerLocation{Hostname: "localhost", Port: port}
}

func newTestChunkServerManager(t *testing.T, n int) *ChunkServerManager {
	csm := NewChunkServerManager(NewClientPool(nil))
	for i := 0; i < n; i++ {
		if !csm.Register(model.ChunkServer{Location: loc(7001 + i)}) {
			t.Fatalf("register %d", i)
		}
	}

	return csm
}

func TestRegisterChunkServer(t *testing.T) {
	csm := newTestChunkServerManager(t, 1)

	if csm.Register(model.ChunkServer{Location: loc(7001)}) {
		t.Fatalf("second registration should be rejected")
	}

	if !csm.IsRegistered(loc(7001)) {
		t.Fatalf("expected server to be registered")
	}

	if !csm.Register(model.ChunkServer{Location: loc(7002), StoredChunkHandles: []string{"0"}}) {
		t.Fatalf("register with handles")
	}

	locs := csm.GetChunkLocations("0")
	if len(locs) != 1 || locs[0] != loc(7002) {
		t.Fatalf("expected 0 on 7002, got %v", locs)
	}
}

func TestAssignChunkServers(t *testing.T) {
	csm := newTestChunkServerManager(t, 3)

	first := csm.AssignChunkServers("0", 2)
	if len(first) != 2 || first[0] != loc(7001) || first[1] != loc(7002) {
		t.Fatalf("unexpected placement %v", first)
	}

	second := csm.AssignChunkServers("0", 3)
	if len(second) != 2 {
		t.Fatalf("assignment should be idempotent, got %v", second)
	}

	cs, _ := csm.GetChunkServer(loc(7001))
	if len(cs.StoredChunkHandles) != 1 || cs.StoredChunkHandles[0] != "0" {
		t.Fatalf("server record not updated: %v", cs.StoredChunkHandles)
	}

	if got := csm.AssignChunkServers("1", 5); len(got) != 3 {
		t.Fatalf("expected all 3 servers, got %v", got)
	}
}

func TestAssignServersForReplicaRepair(t *testing.T) {
	csm := newTestChunkServerManager(t, 3)
	csm.AssignChunkServers("0", 1)

	targets := csm.AssignServersForReplicaRepair("0", 3)
	if len(targets) != 2 || targets[0] != loc(7002) || targets[1] != loc(7003) {
		t.Fatalf("unexpected repair targets %v", targets)
	}

	if locs := csm.GetChunkLocations("0"); len(locs) != 1 {
		t.Fatalf("repair assignment must not record locations, got %v", locs)
	}

	if under := csm.UnderReplicated(3); len(under) != 1 || under[0] != "0" {
		t.Fatalf("expected 0 to be under-replicated, got %v", under)
	}

	for _, l := range targets {
		if err := csm.AddChunkLocation("0", l, 1); err != nil {
			t.Fatalf("add location: %v", err)
		}
	}

	if under := csm.UnderReplicated(3); len(under) != 0 {
		t.Fatalf("expected no under-replicated chunks, got %v", under)
	}

	if targets := csm.AssignServersForReplicaRepair("0", 3); len(targets) != 0 {
		t.Fatalf("healthy chunk needs no targets, got %v", targets)
	}

	if err := csm.AddChunkLocation("0", loc(9999), 1); !status.Is(err, status.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown server, got %v", err)
	}
}

func TestUpdateServerReport(t *testing.T) {
	csm := newTestChunkServerManager(t, 2)
	csm.AssignChunkServers("0", 2)

	err := csm.UpdateServerReport(loc(7002), 512, []string{"1"}, []string{"0"}, map[string]uint32{"1": 4})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if locs := csm.GetChunkLocations("0"); len(locs) != 1 || locs[0] != loc(7001) {
		t.Fatalf("expected 0 only on 7001, got %v", locs)
	}

	cs, _ := csm.GetChunkServer(loc(7002))
	if cs.AvailableDiskMB != 512 || len(cs.StoredChunkHandles) != 1 || cs.StoredChunkHandles[0] != "1" {
		t.Fatalf("unexpected server record %+v", cs)
	}

	if v, ok := csm.ReportedVersion(loc(7002), "1"); !ok || v != 4 {
		t.Fatalf("expected reported version 4, got %d", v)
	}

	err = csm.UpdateServerReport(loc(9999), 0, nil, nil, nil)
	if !status.Is(err, status.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUnregisterChunkServer(t *testing.T) {
	csm := newTestChunkServerManager(t, 2)
	csm.AssignChunkServers("0", 2)
	csm.AssignChunkServers("1", 2)

	handles, ok := csm.Unregister(loc(7001))
	if !ok || len(handles) != 2 {
		t.Fatalf("expected 2 handles, got %v", handles)
	}

	for _, h := range []string{"0", "1"} {
		if locs := csm.GetChunkLocations(h); len(locs) != 1 || locs[0] != loc(7002) {
			t.Fatalf("expected %s only on 7002, got %v", h, locs)
		}
	}

	if _, ok := csm.Unregister(loc(7001)); ok {
		t.Fatalf("second unregister should report false")
	}
}

func TestSelectPrimary(t *testing.T) {
	csm := newTestChunkServerManager(t, 3)
	csm.AssignChunkServers("0", 3)

	csm.SetReportedVersion(loc(7001), "0", 1)
	csm.SetReportedVersion(loc(7002), "0", 1)
	csm.SetReportedVersion(loc(7003), "0", 2)

	if p, ok := csm.SelectPrimary("0", 2); !ok || p != loc(7003) {
		t.Fatalf("expected 7003 as primary, got %v", p)
	}

	if p, ok := csm.SelectPrimary("0", 5); !ok || p != loc(7001) {
		t.Fatalf("expected first location as fallback, got %v", p)
	}

	if _, ok := csm.SelectPrimary("unknown", 1); ok {
		t.Fatalf("expected no primary for unknown chunk")
	}

	csm.ForgetChunk("0")
	if locs := csm.GetChunkLocations("0"); len(locs) != 0 {
		t.Fatalf("expected chunk to be forgotten, got %v", locs)
	}
}
