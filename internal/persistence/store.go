// Package persistence implements the Persistence Layer (spec §4.N,
// component N): the optional on-disk cache directory holding
// per-optimization success-rate statistics, serialized model
// parameters, and the audit ledger of promotion/deoptimization events
// (spec §6 "Persisted state").
//
// Directly grounded on storage/bolt.go's BoltDB-backed schema: typed
// bucket accessors, JSON-encoded values, a versioned schema-check on
// open, and a sortable timestamp+sequence ledger key. Persistence here
// is explicitly optional (spec §7: "persistence load failure → start
// with empty models") — every Get method reports an absent key as
// found=false with no error, so a caller can start from an empty model;
// decode failures, and failures of Open itself, are returned as errors.
package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// SchemaVersion is the current on-disk schema version (spec §6:
	// "must be versioned; unknown versions are ignored, never
	// misinterpreted").
	SchemaVersion = "1"

	bucketStats   = "optimization_stats"
	bucketModels  = "model_params"
	bucketLedger  = "ledger"
	bucketMeta    = "meta"

	metaSchemaKey = "schema_version"
)

// ErrSchemaMismatch is returned by Open when the on-disk schema version
// does not match SchemaVersion. Per spec §6 this must never be silently
// misinterpreted as compatible.
type ErrSchemaMismatch struct {
	OnDisk   string
	Expected string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("persistence: schema version mismatch: on disk %q, this build requires %q", e.OnDisk, e.Expected)
}

// SuccessStat is the persisted success-rate statistic for one
// optimization identity (spec §6: "key→{successes,total,updated_at}").
type SuccessStat struct {
	Successes uint64    `json:"successes"`
	Total     uint64    `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns Successes/Total, or 0 if Total is 0.
func (s SuccessStat) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total)
}

// ModelSnapshot is a versioned, opaque serialized model (spec §6
// "serialized model parameters"); the Benefit Predictor plugin owns the
// actual encoding of Params, this layer only persists the bytes
// alongside a schema-independent model-format Version so a future
// format change can be detected and ignored rather than misparsed.
type ModelSnapshot struct {
	Version   int             `json:"version"`
	Params    json.RawMessage `json:"params"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LedgerEntry is one audit record: either a PromotionEvent or a
// DeoptimizationEvent, tagged by Kind, stored as JSON. Grounded on
// storage.LedgerEntry's flat-record-per-transition shape.
type LedgerEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"` // "promotion" or "deoptimization"
	NodeID    string          `json:"node_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Store wraps a BoltDB instance with typed accessors for AOTT's
// persisted state.
type Store struct {
	db            *bolt.DB
	retentionDays int
	seq           uint64
}

// Open opens (or creates) the BoltDB database at path, initializing all
// buckets and the schema-version record. If the file does not yet
// exist, a fresh schema is written. retentionDays <= 0 uses a 30-day
// default for ledger pruning.
func Open(path string, retentionDays int) (*Store, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("persistence: bolt.Open(%q): %w", path, err)
	}

	s := &Store{db: bdb, retentionDays: retentionDays}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketStats, bucketModels, bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte(metaSchemaKey)) == nil {
			return meta.Put([]byte(metaSchemaKey), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("persistence: initialization failed: %w", err)
	}

	if err := s.checkSchema(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkSchema() error {
	return s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte(metaSchemaKey))
		if string(v) != SchemaVersion {
			return &ErrSchemaMismatch{OnDisk: string(v), Expected: SchemaVersion}
		}
		return nil
	})
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// PutSuccessStat writes or updates the success-rate statistic for key
// (typically a GuardKind or OptimizationKind identity string).
func (s *Store) PutSuccessStat(key string, stat SuccessStat) error {
	stat.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("persistence: marshal success stat: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketStats)).Put([]byte(key), data)
	})
}

// GetSuccessStat reads the success-rate statistic for key. Returns
// (SuccessStat{}, false, nil) if no stat is persisted — the caller
// should start from an empty statistic, per spec §7's graceful
// load-failure/absence degradation, not treat this as an error.
func (s *Store) GetSuccessStat(key string) (SuccessStat, bool, error) {
	var stat SuccessStat
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketStats)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &stat)
	})
	if err != nil {
		return SuccessStat{}, false, fmt.Errorf("persistence: read success stat %q: %w", key, err)
	}
	return stat, found, nil
}

// PutModelSnapshot writes or updates a named model's serialized
// parameters (e.g. a Benefit Predictor plugin's weights).
func (s *Store) PutModelSnapshot(name string, snap ModelSnapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistence: marshal model snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketModels)).Put([]byte(name), data)
	})
}

// GetModelSnapshot reads the named model's serialized parameters.
// Returns (ModelSnapshot{}, false, nil) if absent.
func (s *Store) GetModelSnapshot(name string) (ModelSnapshot, bool, error) {
	var snap ModelSnapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketModels)).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return ModelSnapshot{}, false, fmt.Errorf("persistence: read model snapshot %q: %w", name, err)
	}
	return snap, found, nil
}

// ledgerKey builds a sortable key from a fixed-width UTC timestamp
// (nanoseconds always written as nine digits) and a monotonic
// in-process sequence number, so same-nanosecond entries never collide
// (grounded on storage.ledgerKey's timestamp+pid sortable-key idiom,
// generalized since this ledger has no PID to disambiguate with).
func ledgerKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format("2006-01-02T15:04:05.000000000Z"), seq))
}

// AppendLedger writes one audit ledger entry.
func (s *Store) AppendLedger(entry LedgerEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("persistence: marshal ledger entry: %w", err)
	}
	s.seq++
	key := ledgerKey(entry.Timestamp, s.seq)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedger)).Put(key, data)
	})
}

// ReadLedger returns every ledger entry in chronological order.
func (s *Store) ReadLedger() ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedger)).ForEach(func(_, v []byte) error {
			var e LedgerEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// PruneOldLedgerEntries deletes ledger entries older than the
// configured retention window, returning the count removed.
func (s *Store) PruneOldLedgerEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	cutoffKey := ledgerKey(cutoff, 0)

	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			kc := make([]byte, len(k))
			copy(kc, k)
			toDelete = append(toDelete, kc)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
