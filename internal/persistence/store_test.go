package persistence

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aott.db")
	s, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenInitializesSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	if err := s.checkSchema(); err != nil {
		t.Fatalf("expected a freshly opened store to pass schema check: %v", err)
	}
}

func TestPutAndGetSuccessStat(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutSuccessStat("TypeCheck", SuccessStat{Successes: 9, Total: 10}); err != nil {
		t.Fatalf("PutSuccessStat: %v", err)
	}
	stat, found, err := s.GetSuccessStat("TypeCheck")
	if err != nil || !found {
		t.Fatalf("expected to find the stat, err=%v found=%v", err, found)
	}
	if stat.SuccessRate() != 0.9 {
		t.Fatalf("expected success rate 0.9, got %v", stat.SuccessRate())
	}
}

func TestGetSuccessStatMissingIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetSuccessStat("NeverWritten")
	if err != nil {
		t.Fatalf("absence must not be an error, got %v", err)
	}
	if found {
		t.Fatalf("expected found=false for a key never written")
	}
}

func TestPutAndGetModelSnapshot(t *testing.T) {
	s := openTestStore(t)
	params, _ := json.Marshal(map[string]float64{"w0": 0.5})
	err := s.PutModelSnapshot("linear", ModelSnapshot{Version: 1, Params: params})
	if err != nil {
		t.Fatalf("PutModelSnapshot: %v", err)
	}
	snap, found, err := s.GetModelSnapshot("linear")
	if err != nil || !found {
		t.Fatalf("expected to find the snapshot, err=%v found=%v", err, found)
	}
	if snap.Version != 1 {
		t.Fatalf("expected version 1, got %d", snap.Version)
	}
}

func TestAppendAndReadLedgerPreservesOrder(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.AppendLedger(LedgerEntry{Timestamp: base.Add(time.Duration(i) * time.Second), Kind: "promotion"})
		if err != nil {
			t.Fatalf("AppendLedger: %v", err)
		}
	}
	entries, err := s.ReadLedger()
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("expected chronological order, got %v before %v", entries[i].Timestamp, entries[i-1].Timestamp)
		}
	}
}

func TestPruneOldLedgerEntriesRemovesOnlyStaleOnes(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -5)
	recent := time.Now().UTC()
	s.AppendLedger(LedgerEntry{Timestamp: old, Kind: "deoptimization"})
	s.AppendLedger(LedgerEntry{Timestamp: recent, Kind: "deoptimization"})

	deleted, err := s.PruneOldLedgerEntries()
	if err != nil {
		t.Fatalf("PruneOldLedgerEntries: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 stale entry pruned, got %d", deleted)
	}
	entries, _ := s.ReadLedger()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", len(entries))
	}
}

func TestOpenRejectsMismatchedSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aott.db")
	s, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(metaSchemaKey), []byte("999"))
	})
	if err != nil {
		t.Fatalf("failed to corrupt schema version for the test: %v", err)
	}
	s.Close()

	_, err = Open(path, 1)
	if err == nil {
		t.Fatalf("expected Open to reject a mismatched schema version")
	}
	var mismatch *ErrSchemaMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected an *ErrSchemaMismatch, got %T: %v", err, err)
	}
	if mismatch.OnDisk != "999" {
		t.Fatalf("expected OnDisk to report the corrupted version, got %q", mismatch.OnDisk)
	}
}
