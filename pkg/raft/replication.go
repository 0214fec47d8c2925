package raft

import (
	"context"
	"time"

	"github.com/amirimatin/go-raft/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-raft/pkg/observability/metrics"
)

// replication is the leader-side state for one peer. nextIndex and
// matchIndex are guarded by the node mutex; the loop goroutine owns
// nothing but its channels.
type replication struct {
	srv        Server
	nextIndex  uint64
	matchIndex uint64

	trigger chan struct{}
	stopCh  chan struct{}
}

func (r *replication) notify() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// syncReplicationLocked reconciles the replication set with the latest
// configuration: new peers get a loop seeded at lastIndex+1, departed
// peers have theirs stopped. Leader only.
func (n *Node) syncReplicationLocked() {
	if n.role != Leader {
		return
	}
	want := make(map[string]Server)
	for _, s := range n.config.latest.Servers {
		if s.ID != n.opts.ID {
			want[s.ID] = s
		}
	}
	for _, s := range n.config.latest.Joint {
		if s.ID != n.opts.ID {
			if _, ok := want[s.ID]; !ok {
				want[s.ID] = s
			}
		}
	}
	for id, r := range n.repl {
		if _, ok := want[id]; !ok {
			close(r.stopCh)
			delete(n.repl, id)
			obsmetrics.ReplicationLag.DeleteLabelValues(id)
		}
	}
	for id, s := range want {
		if r, ok := n.repl[id]; ok {
			r.srv = s
			continue
		}
		r := &replication{
			srv:       s,
			nextIndex: n.lastIndex + 1,
			trigger:   make(chan struct{}, 1),
			stopCh:    make(chan struct{}),
		}
		n.repl[id] = r
		n.wg.Add(1)
		go n.replicate(r)
	}
}

func (n *Node) stopReplicationLocked() {
	for id, r := range n.repl {
		close(r.stopCh)
		delete(n.repl, id)
		obsmetrics.ReplicationLag.DeleteLabelValues(id)
	}
}

// notifyReplicators wakes every peer loop; called after new entries are
// appended so replication does not wait for the next heartbeat tick.
func (n *Node) notifyReplicators() {
	n.mu.Lock()
	for _, r := range n.repl {
		r.notify()
	}
	n.mu.Unlock()
}

// replicate drives one peer: heartbeats on a ticker, immediate rounds on
// trigger, and repeated rounds while the peer is behind. Conflict
// responses move nextIndex back a whole term at a time; peers behind the
// compacted prefix get a snapshot instead.
func (n *Node) replicate(r *replication) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		for n.replicateOnce(r) {
			select {
			case <-r.stopCh:
				return
			case <-n.stopCh:
				return
			default:
			}
		}
	}
}

// replicateOnce performs one AppendEntries (or InstallSnapshot) round
// trip. It returns true when the peer is still behind and another round
// should follow immediately.
func (n *Node) replicateOnce(r *replication) bool {
	n.mu.Lock()
	if n.role != Leader || n.operationalLocked() != nil {
		n.mu.Unlock()
		return false
	}
	term := n.currentTerm

	// Peer needs entries we have compacted away: fall back to a snapshot.
	if r.nextIndex <= n.snapshotIndex {
		return n.sendSnapshot(r, term)
	}

	prevIndex := r.nextIndex - 1
	prevTerm, err := n.termAtLocked(prevIndex)
	if err != nil {
		return n.sendSnapshot(r, term)
	}

	req := &AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.opts.ID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		LeaderCommit: n.commitIndex,
	}
	if n.lastIndex >= r.nextIndex {
		hi := r.nextIndex + uint64(n.opts.MaxAppendEntries) - 1
		if hi > n.lastIndex {
			hi = n.lastIndex
		}
		entries, err := n.logs.GetRange(r.nextIndex, hi)
		if err != nil {
			n.logf("replicate %s: read range [%d,%d]: %v", r.srv.ID, r.nextIndex, hi, err)
			n.mu.Unlock()
			return false
		}
		req.Entries = entries
	}
	target := r.srv
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.RPCTimeout)
	resp, err := n.trans.AppendEntries(ctx, target, req)
	cancel()
	if err != nil {
		obsmetrics.AppendsSent.WithLabelValues("unreachable").Inc()
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != Leader || n.currentTerm != term {
		return false
	}
	if resp.Term > term {
		_ = n.becomeFollowerLocked(resp.Term)
		return false
	}
	if !resp.Success {
		obsmetrics.AppendsSent.WithLabelValues("rejected").Inc()
		next := n.backoffNextIndexLocked(req, resp)
		// No backoff movement means the peer refuses outright (stopped,
		// failed store); wait for the next tick instead of spinning.
		progress := next < r.nextIndex || next <= n.snapshotIndex
		r.nextIndex = next
		return progress
	}

	obsmetrics.AppendsSent.WithLabelValues("success").Inc()
	if len(req.Entries) > 0 {
		tail := req.Entries[len(req.Entries)-1].Index
		if tail > r.matchIndex {
			r.matchIndex = tail
		}
		r.nextIndex = tail + 1
		n.advanceLeaderCommitLocked()
	}
	obsmetrics.ReplicationLag.WithLabelValues(r.srv.ID).Set(float64(n.lastIndex - r.matchIndex))
	return r.nextIndex <= n.lastIndex
}

// backoffNextIndexLocked interprets a rejection's conflict hints. When
// the follower names a conflicting term we jump past our last entry of
// that term, or to the term's first index if we never held it; otherwise
// we jump to the follower's stated conflict index.
func (n *Node) backoffNextIndexLocked(req *AppendEntriesRequest, resp *AppendEntriesResponse) uint64 {
	next := req.PrevLogIndex // plain decrement fallback
	if resp.ConflictTerm > 0 {
		for idx := req.PrevLogIndex; idx > n.snapshotIndex && idx >= n.firstIndex && idx > 0; idx-- {
			t, err := n.termAtLocked(idx)
			if err != nil {
				break
			}
			if t == resp.ConflictTerm {
				return idx + 1
			}
			if t < resp.ConflictTerm {
				break
			}
		}
		if resp.ConflictIndex > 0 {
			next = resp.ConflictIndex
		}
	} else if resp.ConflictIndex > 0 {
		next = resp.ConflictIndex
	}
	if next < 1 {
		next = 1
	}
	return next
}

// sendSnapshot ships the state machine's current snapshot to a peer that
// is behind the compacted prefix. Called with the mutex held; it releases
// the lock for the capture and the RPC and returns with it released.
func (n *Node) sendSnapshot(r *replication, term uint64) bool {
	// The blob captures state through lastApplied, so that is the
	// boundary the follower resumes from. Apply is at-least-once; the
	// capture racing a little ahead of the label is tolerated.
	snapIndex := n.lastApplied
	snapTerm, err := n.termAtLocked(snapIndex)
	if err != nil {
		snapIndex = n.snapshotIndex
		snapTerm = n.snapshotTerm
	}
	cfg := n.config.committed.Clone()
	target := r.srv
	n.mu.Unlock()

	if n.fsm == nil {
		return false
	}
	data, err := n.fsm.Snapshot()
	if err != nil {
		n.logf("snapshot capture for %s: %v", target.ID, err)
		return false
	}
	req := &InstallSnapshotRequest{
		Term:              term,
		LeaderID:          n.opts.ID,
		LastIncludedIndex: snapIndex,
		LastIncludedTerm:  snapTerm,
		Data:              data,
		Configuration:     encodeConfiguration(cfg),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*n.opts.RPCTimeout)
	resp, err := n.trans.InstallSnapshot(ctx, target, req)
	cancel()
	if err != nil {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != Leader || n.currentTerm != term {
		return false
	}
	if resp.Term > term {
		_ = n.becomeFollowerLocked(resp.Term)
		return false
	}
	if snapIndex > r.matchIndex {
		r.matchIndex = snapIndex
	}
	r.nextIndex = snapIndex + 1
	obsmetrics.SnapshotsSent.Inc()
	logutil.Infof(n.logger, "raft node %s sent snapshot to %s (index=%d)", n.opts.ID, target.ID, snapIndex)
	return r.nextIndex <= n.lastIndex
}

// advanceLeaderCommitLocked finds the highest index replicated on a
// quorum and commits it. Only entries from the current term advance the
// commit index directly; older entries commit transitively beneath them.
func (n *Node) advanceLeaderCommitLocked() {
	if n.role != Leader {
		return
	}
	cfg := n.config.latest
	for idx := n.lastIndex; idx > n.commitIndex; idx-- {
		t, err := n.termAtLocked(idx)
		if err != nil {
			return
		}
		if t != n.currentTerm {
			return
		}
		acked := func(id string) bool {
			if id == n.opts.ID {
				return n.lastIndex >= idx
			}
			r, ok := n.repl[id]
			return ok && r.matchIndex >= idx
		}
		if cfg.quorumMet(acked) {
			n.setCommitIndexLocked(idx)
			return
		}
	}
}
