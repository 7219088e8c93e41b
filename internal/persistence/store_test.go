package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rangekeeper/rangekeeper/internal/engine"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, found, err := store.GetPoolState("pool1"); err != nil || found {
		t.Fatalf("expected no state yet, found=%v err=%v", found, err)
	}

	want := engine.PersistedPoolState{
		BandTickWidth:       42,
		LastRebalanceTimeMs: 1000,
		Bands: []engine.PersistedBand{
			{TokenID: "1", TickLower: -21, TickUpper: 21},
		},
	}
	if err := store.UpdatePoolState("pool1", want); err != nil {
		t.Fatalf("UpdatePoolState: %v", err)
	}
	if err := store.SaveOrThrow(); err != nil {
		t.Fatalf("SaveOrThrow: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	got, found, err := reopened.GetPoolState("pool1")
	if err != nil || !found {
		t.Fatalf("expected persisted state after reopen, found=%v err=%v", found, err)
	}
	if got.BandTickWidth != want.BandTickWidth || len(got.Bands) != len(want.Bands) {
		t.Fatalf("got = %+v, want %+v", got, want)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	var envelope struct {
		Version   int    `json:"version"`
		StartedAt string `json:"startedAt"`
		Pools     map[string]json.RawMessage
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Version != diskStateVersion {
		t.Fatalf("version = %d, want %d", envelope.Version, diskStateVersion)
	}
	if envelope.StartedAt == "" {
		t.Fatalf("expected startedAt to be stamped")
	}
	if _, ok := envelope.Pools["pool1"]; !ok {
		t.Fatalf("expected pool1 in pools map")
	}
}

func TestFileStoreUpdateWithoutSaveDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.UpdatePoolState("pool1", engine.PersistedPoolState{BandTickWidth: 1}); err != nil {
		t.Fatalf("UpdatePoolState: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	if _, found, _ := reopened.GetPoolState("pool1"); found {
		t.Fatalf("expected unsaved update to be absent from disk")
	}
}
