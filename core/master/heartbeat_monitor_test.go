package master

import (
	"context"
	"testing"
)

func TestSweepKeepsLiveServers(t *testing.T) {
	tc := newTestCluster(t, DefaultConfig(), 3)

	if failed := tc.master.Heartbeat.Sweep(context.Background()); len(failed) != 0 {
		t.Fatalf("expected no evictions, got %v", failed)
	}

	if n := len(tc.master.ChunkServers.Servers()); n != 3 {
		t.Fatalf("expected 3 servers, got %d", n)
	}
}

func TestSweepEvictsDeadPrimary(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, DefaultConfig(), 3)
	m := tc.master

	if _, err := m.OpenFile(ctx, createReq("/f")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// servers[1] misses the version bump and is dropped
	tc.setDown(1, true)
	if _, err := m.OpenFile(ctx, writeReq("/f", 0, "client-a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	tc.setDown(1, false)

	dead := tc.servers[0].Location
	tc.setDown(0, true)

	failed := m.Heartbeat.Sweep(ctx)
	if len(failed) != 1 || failed[0] != dead {
		t.Fatalf("expected %v to be evicted, got %v", dead, failed)
	}

	if m.ChunkServers.IsRegistered(dead) {
		t.Fatalf("%v should be unregistered", dead)
	}

	md, err := m.Metadata.GetFileChunkMetadata("0")
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}

	if md.Primary != tc.servers[2].Location {
		t.Fatalf("expected up to date replica %v as primary, got %v", tc.servers[2].Location, md.Primary)
	}

	if len(md.Locations) != 1 {
		t.Fatalf("expected only the up to date replica to remain, got %v", md.Locations)
	}

	if _, ok := m.Metadata.GetLease("0"); ok {
		t.Fatalf("lease from the lost primary should be dropped")
	}

	md, err = m.OpenFile(ctx, writeReq("/f", 0, "client-b"))
	if err != nil {
		t.Fatalf("write after failover: %v", err)
	}

	if md.Primary != tc.servers[2].Location || md.Version != 3 {
		t.Fatalf("unexpected chunk after failover %+v", md)
	}
}

func TestSweepKeepsServerThatAnswersAfterRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Heartbeat.Retries = 3
	tc := newTestCluster(t, cfg, 3)

	flaky := tc.servers[1].Location
	tc.network.FailNext(flaky.Address(), 2)

	if failed := tc.master.Heartbeat.Sweep(context.Background()); len(failed) != 0 {
		t.Fatalf("server answering the third attempt should be kept, evicted %v", failed)
	}

	if !tc.master.ChunkServers.IsRegistered(flaky) {
		t.Fatalf("%v should still be registered", flaky)
	}

	tc.network.FailNext(flaky.Address(), 3)

	failed := tc.master.Heartbeat.Sweep(context.Background())
	if len(failed) != 1 || failed[0] != flaky {
		t.Fatalf("expected %v evicted after failing every attempt, got %v", flaky, failed)
	}
}
