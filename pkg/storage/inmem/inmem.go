// Package inmem provides in-memory log and stable stores for tests and
// throwaway nodes. Nothing survives a restart.
package inmem

import (
	"errors"
	"sync"

	"github.com/amirimatin/go-raft/pkg/raft"
)

// Store implements raft.LogStore and raft.StableStore in memory.
type Store struct {
	mu      sync.RWMutex
	low     uint64
	high    uint64
	logs    map[uint64]*raft.LogEntry
	kv      map[string][]byte
	kvInt   map[string]uint64
	failSet error // injected write failure for durability tests
}

// New returns an empty store.
func New() *Store {
	return &Store{
		logs:  make(map[uint64]*raft.LogEntry),
		kv:    make(map[string][]byte),
		kvInt: make(map[string]uint64),
	}
}

// FailWrites makes every subsequent write return err. Used by tests to
// exercise the engine's durability failure path.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSet = err
}

func (s *Store) FirstIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.low, nil
}

func (s *Store) LastIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.high, nil
}

func (s *Store) GetLog(index uint64) (*raft.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.logs[index]
	if !ok {
		return nil, raft.ErrLogNotFound
	}
	return e, nil
}

func (s *Store) GetRange(min, max uint64) ([]*raft.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*raft.LogEntry, 0, max-min+1)
	for idx := min; idx <= max; idx++ {
		e, ok := s.logs[idx]
		if !ok {
			return nil, raft.ErrLogNotFound
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) StoreLogs(entries []*raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	for _, e := range entries {
		s.logs[e.Index] = e
		if s.low == 0 || e.Index < s.low {
			s.low = e.Index
		}
		if e.Index > s.high {
			s.high = e.Index
		}
	}
	return nil
}

func (s *Store) DeleteRange(min, max uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	for idx := min; idx <= max; idx++ {
		delete(s.logs, idx)
	}
	if len(s.logs) == 0 {
		s.low, s.high = 0, 0
		return nil
	}
	s.low, s.high = 0, 0
	for idx := range s.logs {
		if s.low == 0 || idx < s.low {
			s.low = idx
		}
		if idx > s.high {
			s.high = idx
		}
	}
	return nil
}

func (s *Store) Set(key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	s.kv[string(key)] = append([]byte(nil), val...)
	return nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.kv[string(key)]
	if !ok {
		return nil, errors.New("inmem: key not found")
	}
	return val, nil
}

func (s *Store) SetUint64(key []byte, val uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	s.kvInt[string(key)] = val
	return nil
}

func (s *Store) GetUint64(key []byte) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kvInt[string(key)], nil
}
