package raft

import (
	"fmt"
)

// Role is the node's position in the protocol. Exactly one role is active
// at any instant; all transitions happen inside the single-writer region.
type Role uint32

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// StableStore is the durable term/vote collaborator. Writes must be
// fsync-durable before returning: the engine persists term and vote
// before replying to any RPC that references them.
type StableStore interface {
	Set(key, val []byte) error
	Get(key []byte) ([]byte, error)
	SetUint64(key []byte, val uint64) error
	GetUint64(key []byte) (uint64, error)
}

// Stable store keys.
var (
	keyCurrentTerm   = []byte("CurrentTerm")
	keyVotedFor      = []byte("VotedFor")
	keyLastApplied   = []byte("LastApplied")
	keySnapshotIndex = []byte("SnapshotIndex")
	keySnapshotTerm  = []byte("SnapshotTerm")
	keySnapshotData  = []byte("SnapshotData")
	keySnapshotConf  = []byte("SnapshotConf")
)

// persistTermVoteLocked makes (currentTerm, votedFor) durable. Any failure
// is a DurabilityFailure: the node must stop participating rather than
// risk double voting after a restart.
func (n *Node) persistTermVoteLocked() error {
	if err := n.stable.SetUint64(keyCurrentTerm, n.currentTerm); err != nil {
		return fmt.Errorf("raft: persist term: %w", err)
	}
	if err := n.stable.Set(keyVotedFor, []byte(n.votedFor)); err != nil {
		return fmt.Errorf("raft: persist vote: %w", err)
	}
	return nil
}

// restoreState loads persisted term/vote/apply-cursor state on startup.
func (n *Node) restoreState() error {
	term, err := n.stable.GetUint64(keyCurrentTerm)
	if err != nil {
		return fmt.Errorf("raft: load term: %w", err)
	}
	n.currentTerm = term

	if v, err := n.stable.Get(keyVotedFor); err == nil {
		n.votedFor = string(v)
	}

	if idx, err := n.stable.GetUint64(keySnapshotIndex); err == nil {
		n.snapshotIndex = idx
	}
	if t, err := n.stable.GetUint64(keySnapshotTerm); err == nil {
		n.snapshotTerm = t
	}
	if n.snapshotIndex > 0 && n.fsm != nil {
		blob, err := n.stable.Get(keySnapshotData)
		if err != nil {
			return fmt.Errorf("raft: load snapshot: %w", err)
		}
		if len(blob) > 0 {
			if err := n.fsm.Restore(blob); err != nil {
				return fmt.Errorf("raft: restore snapshot: %w", err)
			}
		}
	}

	first, err := n.logs.FirstIndex()
	if err != nil {
		return fmt.Errorf("raft: load first index: %w", err)
	}
	last, err := n.logs.LastIndex()
	if err != nil {
		return fmt.Errorf("raft: load last index: %w", err)
	}
	n.firstIndex = first
	n.lastIndex = last
	if last < n.snapshotIndex {
		n.lastIndex = n.snapshotIndex
		n.lastTerm = n.snapshotTerm
	} else if last > 0 {
		e, err := n.logs.GetLog(last)
		if err != nil {
			return fmt.Errorf("raft: load last entry: %w", err)
		}
		n.lastTerm = e.Term
	}

	// The apply cursor restarts at the snapshot boundary. The checkpoint
	// only proves those entries committed; they are replayed into the
	// state machine so a volatile host recovers its state from the
	// retained log. Apply is at-least-once.
	n.lastApplied = n.snapshotIndex
	n.commitIndex = n.snapshotIndex
	if applied, err := n.stable.GetUint64(keyLastApplied); err == nil && applied > n.commitIndex {
		n.commitIndex = applied
	}
	if n.commitIndex > n.lastIndex {
		n.commitIndex = n.lastIndex
	}

	// Recover the newest configuration: the initial seed, then the one the
	// snapshot carried, then the newest entry in the retained log. The
	// scan walks backward so the latest entry wins.
	n.config.set(Configuration{Servers: n.opts.Servers}, 0)
	n.config.committed = n.config.latest
	n.config.committedIndex = 0
	if n.snapshotIndex > 0 {
		if b, err := n.stable.Get(keySnapshotConf); err == nil && len(b) > 0 {
			if cfg, err := decodeConfiguration(b); err == nil {
				n.config.set(cfg, n.snapshotIndex)
				n.config.commitTo(n.snapshotIndex)
			}
		}
	}
	start := first
	if start == 0 {
		start = 1
	}
	latestSet := false
	for idx := n.lastIndex; idx >= start && idx > n.snapshotIndex; idx-- {
		e, err := n.logs.GetLog(idx)
		if err != nil {
			return fmt.Errorf("raft: scan configuration: %w", err)
		}
		if e.Kind != EntryConfiguration {
			continue
		}
		cfg, err := decodeConfiguration(e.Data)
		if err != nil {
			return err
		}
		if !latestSet {
			n.config.set(cfg, idx)
			latestSet = true
		}
		// Keep scanning until the newest committed entry is found too,
		// so truncation can roll the view back correctly.
		if idx <= n.commitIndex {
			n.config.committed = cfg
			n.config.committedIndex = idx
			break
		}
	}
	return nil
}

// checkpointAppliedLocked persists the apply cursor. Best effort: losing
// it only costs replay time, never correctness.
func (n *Node) checkpointAppliedLocked() {
	_ = n.stable.SetUint64(keyLastApplied, n.lastApplied)
}
