package raft

// EntryKind discriminates what a log entry carries.
type EntryKind uint8

const (
	// EntryCommand is an opaque application command destined for the
	// host state machine.
	EntryCommand EntryKind = iota
	// EntryConfiguration carries a serialized cluster Configuration.
	// Membership changes take effect only once the entry commits.
	EntryConfiguration
	// EntryNoop is appended by a freshly elected leader so it can
	// establish commit-safety of prior-term entries immediately.
	EntryNoop
)

// LogEntry is a single replicated log record. Entries are immutable once
// appended; only an uncommitted suffix may ever be truncated.
type LogEntry struct {
	Index uint64    `json:"index"`
	Term  uint64    `json:"term"`
	Kind  EntryKind `json:"kind"`
	Data  []byte    `json:"data,omitempty"`
}

// LogStore is the durable, append-only log collaborator. Implementations
// must make StoreLogs durable before returning; the engine replies to
// AppendEntries only after the write succeeded.
type LogStore interface {
	// FirstIndex returns the first retained index (0 for an empty log).
	FirstIndex() (uint64, error)
	// LastIndex returns the highest stored index (0 for an empty log).
	LastIndex() (uint64, error)
	// GetLog fetches the entry at index, or ErrLogNotFound.
	GetLog(index uint64) (*LogEntry, error)
	// GetRange fetches entries in [min, max] inclusive, in index order.
	GetRange(min, max uint64) ([]*LogEntry, error)
	// StoreLogs durably appends the given entries.
	StoreLogs(entries []*LogEntry) error
	// DeleteRange removes entries in [min, max] inclusive. Used for
	// suffix truncation on conflict and prefix compaction after a
	// snapshot restore.
	DeleteRange(min, max uint64) error
}

// termAtLocked resolves the term of the entry at index, consulting the
// snapshot boundary for compacted prefixes. Index 0 has term 0 by
// definition. Callers hold n.mu.
func (n *Node) termAtLocked(index uint64) (uint64, error) {
	switch {
	case index == 0:
		return 0, nil
	case index == n.snapshotIndex:
		return n.snapshotTerm, nil
	case index == n.lastIndex:
		return n.lastTerm, nil
	}
	e, err := n.logs.GetLog(index)
	if err != nil {
		return 0, err
	}
	return e.Term, nil
}

// logUpToDateLocked reports whether a candidate whose log ends at
// (lastTerm, lastIndex) is at least as up to date as ours. Comparison is
// lexicographic on (term, index) per the election restriction.
func (n *Node) logUpToDateLocked(lastIndex, lastTerm uint64) bool {
	if lastTerm != n.lastTerm {
		return lastTerm > n.lastTerm
	}
	return lastIndex >= n.lastIndex
}
