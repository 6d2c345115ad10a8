package checkpoint

import (
	"testing"
	"time"
)

type fakeRegion struct {
	Cursor int      `json:"cursor"`
	Hosts  []string `json:"hosts"`
}

func TestSyncThenLoadRoundTrips(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	want := fakeRegion{Cursor: 3, Hosts: []string{"nc-0", "nc-1"}}
	if err := s.Sync(RegionConfig, &want); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var got fakeRegion
	deadline := time.Now().Add(time.Second)
	for {
		if err := s.Load(RegionConfig, &got); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Cursor == want.Cursor {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Sync never became visible to Load: got %+v, want %+v", got, want)
		}
		time.Sleep(time.Millisecond)
	}
	if len(got.Hosts) != 2 || got.Hosts[0] != "nc-0" || got.Hosts[1] != "nc-1" {
		t.Fatalf("unexpected hosts: %+v", got.Hosts)
	}
}

func TestLoadOnEmptyRegionLeavesValueUntouched(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got := fakeRegion{Cursor: 99}
	if err := s.Load(RegionInstances, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Cursor != 99 {
		t.Fatal("Load on an empty region must not touch v")
	}
}

func TestRegionsAreIndependent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Sync(RegionResources, &fakeRegion{Cursor: 1}); err != nil {
		t.Fatalf("Sync resources: %v", err)
	}
	if err := s.Sync(RegionVNet, &fakeRegion{Cursor: 2}); err != nil {
		t.Fatalf("Sync vnet: %v", err)
	}

	var resources, vnet fakeRegion
	deadline := time.Now().Add(time.Second)
	for {
		s.Load(RegionResources, &resources)
		s.Load(RegionVNet, &vnet)
		if resources.Cursor == 1 && vnet.Cursor == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("regions did not converge independently: resources=%+v vnet=%+v", resources, vnet)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenCreatesStateDir(t *testing.T) {
	dir := t.TempDir() + "/nested/state"
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Sync(RegionConfig, &fakeRegion{Cursor: 1}); err != nil {
		t.Fatalf("Sync into a freshly created state dir: %v", err)
	}
}

func TestCloseAfterSyncSucceeds(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Sync(RegionConfig, &fakeRegion{Cursor: 1}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
