package raft

import "testing"

// sliceLog is a minimal LogStore over a map, enough to exercise the
// engine's log bookkeeping helpers in isolation.
type sliceLog struct {
	entries map[uint64]*LogEntry
	first   uint64
	last    uint64
}

func newSliceLog(entries ...*LogEntry) *sliceLog {
	s := &sliceLog{entries: make(map[uint64]*LogEntry)}
	for _, e := range entries {
		s.entries[e.Index] = e
		if s.first == 0 || e.Index < s.first {
			s.first = e.Index
		}
		if e.Index > s.last {
			s.last = e.Index
		}
	}
	return s
}

func (s *sliceLog) FirstIndex() (uint64, error) { return s.first, nil }
func (s *sliceLog) LastIndex() (uint64, error)  { return s.last, nil }

func (s *sliceLog) GetLog(index uint64) (*LogEntry, error) {
	e, ok := s.entries[index]
	if !ok {
		return nil, ErrLogNotFound
	}
	return e, nil
}

func (s *sliceLog) GetRange(min, max uint64) ([]*LogEntry, error) {
	out := make([]*LogEntry, 0, max-min+1)
	for i := min; i <= max; i++ {
		e, err := s.GetLog(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *sliceLog) StoreLogs(entries []*LogEntry) error {
	for _, e := range entries {
		s.entries[e.Index] = e
		if s.first == 0 || e.Index < s.first {
			s.first = e.Index
		}
		if e.Index > s.last {
			s.last = e.Index
		}
	}
	return nil
}

func (s *sliceLog) DeleteRange(min, max uint64) error {
	for i := min; i <= max; i++ {
		delete(s.entries, i)
	}
	if min <= s.first {
		s.first = max + 1
		if len(s.entries) == 0 {
			s.first, s.last = 0, 0
		}
	}
	if max >= s.last && len(s.entries) > 0 {
		s.last = min - 1
	}
	return nil
}

func TestTruncateSuffixRestoresTailTerm(t *testing.T) {
	logs := newSliceLog(
		&LogEntry{Index: 1, Term: 1, Kind: EntryNoop},
		&LogEntry{Index: 2, Term: 1, Kind: EntryCommand},
		&LogEntry{Index: 3, Term: 3, Kind: EntryCommand},
	)
	n := &Node{logs: logs, firstIndex: 1, lastIndex: 3, lastTerm: 3}

	if err := n.truncateSuffixLocked(3); err != nil {
		t.Fatal(err)
	}
	if n.lastIndex != 2 {
		t.Fatalf("lastIndex = %d, want 2", n.lastIndex)
	}
	// The surviving tail is the term-1 entry at index 2, not the term of
	// the entry just removed.
	if n.lastTerm != 1 {
		t.Fatalf("lastTerm = %d, want 1", n.lastTerm)
	}
	if _, err := logs.GetLog(3); err == nil {
		t.Fatal("truncated entry still stored")
	}
}

func TestTruncateSuffixToSnapshotBoundary(t *testing.T) {
	logs := newSliceLog(
		&LogEntry{Index: 6, Term: 4, Kind: EntryCommand},
		&LogEntry{Index: 7, Term: 4, Kind: EntryCommand},
	)
	n := &Node{logs: logs, firstIndex: 6, lastIndex: 7, lastTerm: 4, snapshotIndex: 5, snapshotTerm: 2}

	if err := n.truncateSuffixLocked(6); err != nil {
		t.Fatal(err)
	}
	if n.lastIndex != 5 || n.lastTerm != 2 {
		t.Fatalf("tail = (%d, %d), want snapshot boundary (5, 2)", n.lastIndex, n.lastTerm)
	}
}
