// Package dhtstore persists bootstrap-worthy DHT endpoints across restarts,
// so a process doesn't have to cold-start from its configured seeds every
// time. It is a bbolt-backed implementation of dht.CandidateStore.
package dhtstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bNodes = "nodes"
	bMeta  = "meta"
	kSaves = "save_count"

	defaultTimeout = 2 * time.Second

	// maxConsecutiveFailures is how many NoteFailure calls in a row before a
	// candidate is dropped from future bootstrap attempts.
	maxConsecutiveFailures = 5
)

// record is the persisted shape of one candidate endpoint.
type record struct {
	NodeIDHex   string    `json:"node_id_hex"`
	Addr        string    `json:"addr"`
	LastSuccess time.Time `json:"last_success"`
	Failures    int       `json:"failures"`
}

// Store is a BoltDB-backed cache of DHT bootstrap candidates.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the candidate database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("dhtstore: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bNodes)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bMeta)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// NoteSuccess records that nodeIDHex answered at addr just now, resetting
// its failure streak.
func (s *Store) NoteSuccess(nodeIDHex, addr string) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		nodes := tx.Bucket([]byte(bNodes))
		meta := tx.Bucket([]byte(bMeta))

		rec := record{NodeIDHex: nodeIDHex, Addr: addr, LastSuccess: time.Now()}
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := nodes.Put([]byte(addr), val); err != nil {
			return err
		}
		return bumpSaveCount(meta)
	})
}

// NoteFailure increments addr's failure streak, evicting it once the streak
// reaches maxConsecutiveFailures.
func (s *Store) NoteFailure(addr string) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		nodes := tx.Bucket([]byte(bNodes))
		raw := nodes.Get([]byte(addr))
		if raw == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nodes.Delete([]byte(addr))
		}
		rec.Failures++
		if rec.Failures >= maxConsecutiveFailures {
			return nodes.Delete([]byte(addr))
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return nodes.Put([]byte(addr), val)
	})
}

// Candidates returns up to limit endpoints, most-recently-successful first.
func (s *Store) Candidates(limit int) []string {
	if limit <= 0 {
		return nil
	}
	var recs []record
	_ = s.db.View(func(tx *bolt.Tx) error {
		nodes := tx.Bucket([]byte(bNodes))
		return nodes.ForEach(func(_, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupt entries, don't fail the whole scan
			}
			recs = append(recs, rec)
			return nil
		})
	})

	sort.Slice(recs, func(i, j int) bool { return recs[i].LastSuccess.After(recs[j].LastSuccess) })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Addr
	}
	return out
}

func bumpSaveCount(meta *bolt.Bucket) error {
	cur := decodeI64(meta.Get([]byte(kSaves)))
	return meta.Put([]byte(kSaves), encodeI64(cur+1))
}

func encodeI64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeI64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
