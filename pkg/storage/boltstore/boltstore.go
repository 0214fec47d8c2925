// Package boltstore persists the replicated log and the node's stable
// state in a single BoltDB file. It backs both storage interfaces the
// consensus engine needs, so one fsync'd B+tree file per node carries
// everything that must survive a restart.
package boltstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/boltdb/bolt"

	"github.com/amirimatin/go-raft/pkg/raft"
)

var (
	bucketLogs = []byte("logs")
	bucketConf = []byte("conf")

	// ErrKeyNotFound is returned by Get for missing stable-store keys.
	ErrKeyNotFound = errors.New("boltstore: key not found")
)

// Store is a BoltDB-backed raft.LogStore and raft.StableStore.
type Store struct {
	db   *bolt.DB
	path string
}

// Options configure a Store beyond its file path.
type Options struct {
	// Path is the BoltDB file. The file is created if absent.
	Path string

	// BoltOptions are passed through to bolt.Open. Nil means defaults.
	BoltOptions *bolt.Options

	// NoSync disables fsync on every commit. Only safe for tests; the
	// engine's durability rules assume synchronous writes.
	NoSync bool
}

// New opens a store at path with default options.
func New(path string) (*Store, error) {
	return NewWithOptions(Options{Path: path})
}

// NewWithOptions opens a store, creating the buckets on first use.
func NewWithOptions(opts Options) (*Store, error) {
	db, err := bolt.Open(opts.Path, 0600, opts.BoltOptions)
	if err != nil {
		return nil, err
	}
	db.NoSync = opts.NoSync
	s := &Store{db: db, path: opts.Path}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLogs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketConf)
		return err
	})
}

// Close releases the underlying file.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the BoltDB file path.
func (s *Store) Path() string { return s.path }

// FirstIndex returns the lowest retained log index, 0 when empty.
func (s *Store) FirstIndex() (uint64, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	k, _ := tx.Bucket(bucketLogs).Cursor().First()
	if k == nil {
		return 0, nil
	}
	return bytesToUint64(k), nil
}

// LastIndex returns the highest retained log index, 0 when empty.
func (s *Store) LastIndex() (uint64, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	k, _ := tx.Bucket(bucketLogs).Cursor().Last()
	if k == nil {
		return 0, nil
	}
	return bytesToUint64(k), nil
}

// GetLog reads one entry by index.
func (s *Store) GetLog(index uint64) (*raft.LogEntry, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	val := tx.Bucket(bucketLogs).Get(uint64ToBytes(index))
	if val == nil {
		return nil, raft.ErrLogNotFound
	}
	var e raft.LogEntry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetRange reads entries [min, max] inclusive. Every index in the range
// must be present.
func (s *Store) GetRange(min, max uint64) ([]*raft.LogEntry, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	out := make([]*raft.LogEntry, 0, max-min+1)
	bucket := tx.Bucket(bucketLogs)
	for idx := min; idx <= max; idx++ {
		val := bucket.Get(uint64ToBytes(idx))
		if val == nil {
			return nil, raft.ErrLogNotFound
		}
		var e raft.LogEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, nil
}

// StoreLogs appends entries in one transaction; the write is durable
// when it returns.
func (s *Store) StoreLogs(entries []*raft.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLogs)
		for _, e := range entries {
			val, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := bucket.Put(uint64ToBytes(e.Index), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRange removes entries [min, max] inclusive.
func (s *Store) DeleteRange(min, max uint64) error {
	minKey := uint64ToBytes(min)
	return s.db.Update(func(tx *bolt.Tx) error {
		curs := tx.Bucket(bucketLogs).Cursor()
		for k, _ := curs.Seek(minKey); k != nil; k, _ = curs.Next() {
			if bytesToUint64(k) > max {
				break
			}
			if err := curs.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Set writes a stable-store key.
func (s *Store) Set(key, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConf).Put(key, val)
	})
}

// Get reads a stable-store key. Missing keys return ErrKeyNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	val := tx.Bucket(bucketConf).Get(key)
	if val == nil {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), val...), nil
}

// SetUint64 writes a uint64 stable-store key.
func (s *Store) SetUint64(key []byte, val uint64) error {
	return s.Set(key, uint64ToBytes(val))
}

// GetUint64 reads a uint64 stable-store key; missing keys read as 0.
func (s *Store) GetUint64(key []byte) (uint64, error) {
	val, err := s.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bytesToUint64(val), nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
