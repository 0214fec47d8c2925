package raft

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/amirimatin/go-raft/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-raft/pkg/observability/metrics"
)

// LeaderInfo describes the current known leader.
type LeaderInfo struct {
	ID   string
	Addr string
	Term uint64
}

// Node is a single member of the consensus group. All protocol state
// (term, vote, role, log tail) is mutated under one mutex — the
// single-writer region. RPC completions and timer callbacks re-enter
// through that region; they never mutate state from arbitrary
// goroutines.
type Node struct {
	opts   Options
	logger *log.Logger

	fsm    StateMachine
	logs   LogStore
	stable StableStore
	trans  Transport

	mu          sync.Mutex
	role        Role
	currentTerm uint64
	votedFor    string
	leaderID    string

	commitIndex uint64
	lastApplied uint64

	// Log tail cache; the stores remain authoritative.
	firstIndex    uint64
	lastIndex     uint64
	lastTerm      uint64
	snapshotIndex uint64
	snapshotTerm  uint64

	config configTracker

	// Leader-tenure state, rebuilt on every election win.
	repl    map[string]*replication
	pending map[uint64]*pendingProposal

	// Candidate-tenure state.
	votes        map[string]bool
	electionCfg  Configuration
	electionTerm uint64

	timer    *electionTimer
	applyCh  chan struct{}
	leaderCh chan LeaderInfo
	stopCh   chan struct{}
	wg       sync.WaitGroup

	started bool
	stopped bool
	failure error
}

// NewNode wires a node from its collaborators without starting it. The
// stores may already contain state from a previous run; it is restored
// here.
func NewNode(opts Options, fsm StateMachine, logs LogStore, stable StableStore, trans Transport) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		opts:     opts,
		logger:   opts.Logger,
		fsm:      fsm,
		logs:     logs,
		stable:   stable,
		trans:    trans,
		role:     Follower,
		repl:     make(map[string]*replication),
		pending:  make(map[uint64]*pendingProposal),
		applyCh:  make(chan struct{}, 1),
		leaderCh: make(chan LeaderInfo, 16),
		stopCh:   make(chan struct{}),
	}
	n.timer = newElectionTimer(opts.ElectionTimeoutMin, opts.ElectionTimeoutMax, n.onElectionTimeout)
	if err := n.restoreState(); err != nil {
		return nil, err
	}
	return n, nil
}

// Start begins serving RPCs and arms the election timer. The node shuts
// down when ctx is canceled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	if n.trans != nil {
		if err := n.trans.Serve(n); err != nil {
			return err
		}
	}
	n.wg.Add(1)
	go n.applyLoop()
	// Replay committed-but-unapplied entries recovered from the stores.
	n.signalApply()
	n.timer.Reset()

	go func() {
		<-ctx.Done()
		_ = n.Stop()
	}()
	logutil.Infof(n.logger, "raft node %s started (term=%d lastIndex=%d)", n.opts.ID, n.Term(), n.LastIndex())
	return nil
}

// Stop halts the node. In-flight durability writes complete before the
// stores are released; pending proposals fail with ErrNodeStopped.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	n.stopReplicationLocked()
	n.cancelProposalsLocked(ErrNodeStopped)
	n.mu.Unlock()

	n.timer.Close()
	close(n.stopCh)
	if n.trans != nil {
		_ = n.trans.Close()
	}
	n.wg.Wait()
	close(n.leaderCh)
	return nil
}

// ID returns this node's identifier.
func (n *Node) ID() string { return n.opts.ID }

// Role returns the current role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// IsLeader reports whether this node currently leads.
func (n *Node) IsLeader() bool { return n.Role() == Leader }

// Term returns the current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// Leader returns the known leader's identity and raft address.
func (n *Node) Leader() (id, addr string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.leaderID == "" {
		return "", "", false
	}
	if s, found := n.config.latest.Server(n.leaderID); found {
		return n.leaderID, s.Addr, true
	}
	return n.leaderID, "", true
}

// CommitIndex returns the highest index known committed.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// LastApplied returns the highest index applied to the state machine.
func (n *Node) LastApplied() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastApplied
}

// LastIndex returns the highest index in the log.
func (n *Node) LastIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastIndex
}

// Configuration returns the latest membership snapshot.
func (n *Node) Configuration() Configuration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.config.latest.Clone()
}

// LeaderCh delivers leadership updates. Messages are dropped rather than
// blocking the engine when the consumer lags.
func (n *Node) LeaderCh() <-chan LeaderInfo { return n.leaderCh }

func (n *Node) emitLeaderLocked() {
	li := LeaderInfo{ID: n.leaderID, Term: n.currentTerm}
	if s, ok := n.config.latest.Server(n.leaderID); ok {
		li.Addr = s.Addr
	}
	select {
	case n.leaderCh <- li:
	default:
	}
}

// Propose replicates an opaque command. It blocks until the entry
// commits and applies, returning its log index and the state machine's
// result-bearing error, if any. Only the leader accepts proposals.
func (n *Node) Propose(ctx context.Context, data []byte) (uint64, error) {
	n.mu.Lock()
	if err := n.operationalLocked(); err != nil {
		n.mu.Unlock()
		return 0, err
	}
	if n.role != Leader {
		n.mu.Unlock()
		obsmetrics.ProposalsTotal.WithLabelValues("rejected").Inc()
		return 0, ErrNotLeader
	}
	entry := &LogEntry{
		Index: n.lastIndex + 1,
		Term:  n.currentTerm,
		Kind:  EntryCommand,
		Data:  data,
	}
	if err := n.appendLocked(entry); err != nil {
		n.mu.Unlock()
		return 0, err
	}
	p := n.trackProposalLocked(entry.Index)
	n.advanceLeaderCommitLocked()
	n.mu.Unlock()

	obsmetrics.ProposalsTotal.WithLabelValues("accepted").Inc()
	n.notifyReplicators()

	select {
	case res := <-p.ch:
		return entry.Index, res.err
	case <-ctx.Done():
		return entry.Index, ctx.Err()
	case <-n.stopCh:
		return 0, ErrNodeStopped
	}
}

// --- proposal tracking -------------------------------------------------

type proposalResult struct {
	result interface{}
	err    error
}

type pendingProposal struct {
	index uint64
	ch    chan proposalResult
}

func (p *pendingProposal) resolve(result interface{}, err error) {
	select {
	case p.ch <- proposalResult{result: result, err: err}:
	default:
	}
}

func (n *Node) trackProposalLocked(index uint64) *pendingProposal {
	p := &pendingProposal{index: index, ch: make(chan proposalResult, 1)}
	n.pending[index] = p
	return p
}

func (n *Node) waitProposal(p *pendingProposal, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res := <-p.ch:
		return res.err
	case <-t.C:
		return context.DeadlineExceeded
	case <-n.stopCh:
		return ErrNodeStopped
	}
}

func (n *Node) cancelProposalsLocked(err error) {
	for index, p := range n.pending {
		p.resolve(nil, err)
		delete(n.pending, index)
	}
}

// cancelUncommittedProposalsLocked fails only proposals above the commit
// index. Committed entries still apply locally after a step-down, so
// their proposals resolve with the apply result.
func (n *Node) cancelUncommittedProposalsLocked(err error) {
	for index, p := range n.pending {
		if index <= n.commitIndex {
			continue
		}
		p.resolve(nil, err)
		delete(n.pending, index)
	}
}

// --- single-writer helpers ---------------------------------------------

func (n *Node) operationalLocked() error {
	if n.failure != nil {
		return ErrNodeFailed
	}
	if n.stopped {
		return ErrNodeStopped
	}
	return nil
}

// failLocked takes the node out of the consensus group after a failed
// durability write. Continuing would risk re-voting or re-appending
// inconsistently after a restart.
func (n *Node) failLocked(err error) {
	if n.failure != nil {
		return
	}
	n.failure = err
	n.role = Follower
	n.stopReplicationLocked()
	n.cancelProposalsLocked(ErrNodeFailed)
	n.timer.Close()
	logutil.Errorf(n.logger, "raft node %s: fatal durability failure, leaving consensus: %v", n.opts.ID, err)
}

// appendLocked durably appends entries originated by this node and
// updates the tail cache. A store failure is fatal.
func (n *Node) appendLocked(entries ...*LogEntry) error {
	if err := n.logs.StoreLogs(entries); err != nil {
		n.failLocked(err)
		return err
	}
	tail := entries[len(entries)-1]
	if n.firstIndex == 0 {
		n.firstIndex = entries[0].Index
	}
	n.lastIndex = tail.Index
	n.lastTerm = tail.Term
	return nil
}

// truncateSuffixLocked removes entries from index onward. Only the
// follower conflict path calls this, and never at or below commitIndex.
func (n *Node) truncateSuffixLocked(from uint64) error {
	if err := n.logs.DeleteRange(from, n.lastIndex); err != nil {
		return err
	}
	// Resolve the new tail term before moving lastIndex: with lastIndex
	// already updated, termAtLocked would answer from the cached lastTerm,
	// which still belongs to the truncated tail.
	term, err := n.termAtLocked(from - 1)
	if err != nil {
		return err
	}
	n.lastIndex = from - 1
	n.lastTerm = term
	// Roll the membership view back with the log: any configuration entry
	// in the truncated suffix was uncommitted by definition.
	if n.config.latestIndex >= from {
		n.config.latest = n.config.committed
		n.config.latestIndex = n.config.committedIndex
	}
	return nil
}

// becomeFollowerLocked downgrades the role, adopting term if it is
// newer. A newer term clears the vote and is persisted before any reply
// referencing it leaves the node.
func (n *Node) becomeFollowerLocked(term uint64) error {
	wasLeader := n.role == Leader
	n.role = Follower
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = ""
		n.leaderID = ""
		if err := n.persistTermVoteLocked(); err != nil {
			n.failLocked(err)
			return err
		}
		obsmetrics.CurrentTerm.Set(float64(n.currentTerm))
	}
	if wasLeader {
		n.stopReplicationLocked()
		n.cancelUncommittedProposalsLocked(ErrLeadershipLost)
		obsmetrics.IsLeader.Set(0)
		logutil.Infof(n.logger, "raft node %s stepped down (term=%d)", n.opts.ID, n.currentTerm)
	}
	n.timer.Reset()
	return nil
}

func (n *Node) setCommitIndexLocked(index uint64) {
	if index <= n.commitIndex {
		return
	}
	n.commitIndex = index
	obsmetrics.CommitIndex.Set(float64(index))
	n.commitEffectsLocked()
	n.signalApply()
}

// commitEffectsLocked runs membership side effects once a configuration
// entry commits: leaving joint consensus and stepping down when this
// node was removed.
func (n *Node) commitEffectsLocked() {
	if !n.config.commitTo(n.commitIndex) {
		return
	}
	cfg := n.config.committed
	if n.role == Leader && cfg.InJoint() {
		final := Configuration{Servers: append([]Server(nil), cfg.Servers...)}
		entry := &LogEntry{
			Index: n.lastIndex + 1,
			Term:  n.currentTerm,
			Kind:  EntryConfiguration,
			Data:  encodeConfiguration(final),
		}
		if err := n.appendLocked(entry); err != nil {
			return
		}
		n.config.set(final, entry.Index)
		logutil.Infof(n.logger, "raft node %s leaving joint consensus at index %d", n.opts.ID, entry.Index)
	}
	if n.role == Leader {
		n.syncReplicationLocked()
	}
	if !cfg.IsVoter(n.opts.ID) && !cfg.InJoint() {
		if n.role == Leader {
			logutil.Infof(n.logger, "raft node %s removed from configuration, stepping down", n.opts.ID)
			_ = n.becomeFollowerLocked(n.currentTerm)
		}
	}
}

func (n *Node) signalApply() {
	select {
	case n.applyCh <- struct{}{}:
	default:
	}
}

func (n *Node) observeApplied(index uint64) {
	obsmetrics.LastApplied.Set(float64(index))
}

func (n *Node) logf(format string, args ...interface{}) {
	logutil.Warnf(n.logger, "raft node %s: "+format, append([]interface{}{n.opts.ID}, args...)...)
}

// --- election ----------------------------------------------------------

// onElectionTimeout fires on the timer goroutine when no valid leader
// contact arrived within the randomized timeout.
func (n *Node) onElectionTimeout() {
	n.mu.Lock()
	if n.stopped || n.failure != nil || n.role == Leader {
		n.mu.Unlock()
		return
	}
	// Nonvoters never campaign; they wait to hear from a leader.
	if !n.campaignEligibleLocked() {
		n.timer.Reset()
		n.mu.Unlock()
		return
	}

	n.role = Candidate
	n.currentTerm++
	n.votedFor = n.opts.ID
	n.leaderID = ""
	if err := n.persistTermVoteLocked(); err != nil {
		n.failLocked(err)
		n.mu.Unlock()
		return
	}
	obsmetrics.CurrentTerm.Set(float64(n.currentTerm))

	term := n.currentTerm
	cfg := n.config.latest.Clone()
	n.votes = map[string]bool{n.opts.ID: true}
	n.electionCfg = cfg
	n.electionTerm = term
	req := &RequestVoteRequest{
		Term:         term,
		CandidateID:  n.opts.ID,
		LastLogIndex: n.lastIndex,
		LastLogTerm:  n.lastTerm,
	}
	n.timer.Reset()

	logutil.Infof(n.logger, "raft node %s starting election (term=%d)", n.opts.ID, term)
	obsmetrics.ElectionsStarted.Inc()

	// A single-voter configuration wins instantly.
	if cfg.quorumMet(func(id string) bool { return n.votes[id] }) {
		n.becomeLeaderLocked()
		n.mu.Unlock()
		n.notifyReplicators()
		return
	}
	n.mu.Unlock()

	for _, s := range electionTargets(cfg, n.opts.ID) {
		go func(target Server) {
			ctx, cancel := context.WithTimeout(context.Background(), n.opts.RPCTimeout)
			defer cancel()
			resp, err := n.trans.RequestVote(ctx, target, req)
			if err != nil {
				// Unreachable peer; the next timeout retries.
				return
			}
			n.onVoteResponse(term, target.ID, resp)
		}(s)
	}
}

// electionTargets returns every distinct voter in the configuration
// (both sets while joint) except self.
func electionTargets(cfg Configuration, self string) []Server {
	seen := map[string]bool{self: true}
	var out []Server
	for _, s := range append(voters(cfg.Servers), voters(cfg.Joint)...) {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

func (n *Node) campaignEligibleLocked() bool {
	if n.config.latest.IsVoter(n.opts.ID) {
		return true
	}
	for _, s := range voters(n.config.latest.Joint) {
		if s.ID == n.opts.ID {
			return true
		}
	}
	return false
}

func (n *Node) onVoteResponse(term uint64, from string, resp *RequestVoteResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || n.failure != nil {
		return
	}
	if resp.Term > n.currentTerm {
		_ = n.becomeFollowerLocked(resp.Term)
		return
	}
	if n.role != Candidate || n.currentTerm != term {
		// Stale reply from an abandoned campaign.
		return
	}
	if !resp.VoteGranted {
		return
	}
	n.votes[from] = true
	if n.electionCfg.quorumMet(func(id string) bool { return n.votes[id] }) {
		n.becomeLeaderLocked()
		go n.notifyReplicators()
	}
}

// becomeLeaderLocked starts a leader tenure: per-peer replication state
// is created fresh with nextIndex = lastIndex+1, and a no-op entry for
// the new term is appended so prior-term entries can commit transitively.
func (n *Node) becomeLeaderLocked() {
	n.role = Leader
	n.leaderID = n.opts.ID
	n.votes = nil
	n.timer.Stop()

	n.repl = make(map[string]*replication)
	noop := &LogEntry{Index: n.lastIndex + 1, Term: n.currentTerm, Kind: EntryNoop}
	if err := n.appendLocked(noop); err != nil {
		return
	}
	n.syncReplicationLocked()
	n.advanceLeaderCommitLocked()

	obsmetrics.IsLeader.Set(1)
	obsmetrics.LeaderChanges.Inc()
	logutil.Infof(n.logger, "raft node %s became leader (term=%d lastIndex=%d)", n.opts.ID, n.currentTerm, n.lastIndex)
	n.emitLeaderLocked()
}

// --- inbound RPCs (RPCHandler) ------------------------------------------

// RequestVote grants a vote iff the candidate's term is current, the
// vote for this term is unused (or already theirs), and the candidate's
// log is at least as up to date. The vote is durable before the reply.
func (n *Node) RequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := &RequestVoteResponse{Term: n.currentTerm}
	if n.operationalLocked() != nil {
		return resp
	}
	if req.Term < n.currentTerm {
		obsmetrics.VotesHandled.WithLabelValues("rejected").Inc()
		return resp
	}
	if req.Term > n.currentTerm {
		if n.becomeFollowerLocked(req.Term) != nil {
			return resp
		}
		resp.Term = n.currentTerm
	}
	if (n.votedFor == "" || n.votedFor == req.CandidateID) &&
		n.logUpToDateLocked(req.LastLogIndex, req.LastLogTerm) {
		n.votedFor = req.CandidateID
		if err := n.persistTermVoteLocked(); err != nil {
			n.failLocked(err)
			return resp
		}
		resp.VoteGranted = true
		n.timer.Reset()
		obsmetrics.VotesHandled.WithLabelValues("granted").Inc()
	} else {
		obsmetrics.VotesHandled.WithLabelValues("rejected").Inc()
	}
	return resp
}

// AppendEntries recognizes the leader, verifies the log-matching
// property at prevLogIndex, resolves conflicts by truncating the
// uncommitted suffix, durably appends new entries, and advances the
// commit index. Entries are durable before the reply.
func (n *Node) AppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := &AppendEntriesResponse{Term: n.currentTerm}
	if n.operationalLocked() != nil {
		return resp
	}
	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm || n.role != Follower {
		if n.becomeFollowerLocked(req.Term) != nil {
			return resp
		}
		resp.Term = n.currentTerm
	}
	n.timer.Reset()
	if n.leaderID != req.LeaderID {
		n.leaderID = req.LeaderID
		n.emitLeaderLocked()
	}

	// Log-matching check at (prevLogIndex, prevLogTerm).
	if req.PrevLogIndex > 0 && req.PrevLogIndex != n.snapshotIndex {
		if req.PrevLogIndex > n.lastIndex {
			resp.ConflictIndex = n.lastIndex + 1
			return resp
		}
		if req.PrevLogIndex < n.firstIndex && req.PrevLogIndex > n.snapshotIndex {
			// Gap below our retained log; ask for a snapshot-era resend.
			resp.ConflictIndex = n.firstIndex
			return resp
		}
		if req.PrevLogIndex > n.snapshotIndex {
			prevTerm, err := n.termAtLocked(req.PrevLogIndex)
			if err != nil {
				resp.ConflictIndex = n.lastIndex + 1
				return resp
			}
			if prevTerm != req.PrevLogTerm {
				// Report the whole conflicting term so the leader can
				// skip past it in one round trip.
				resp.ConflictTerm = prevTerm
				ci := req.PrevLogIndex
				for ci > n.firstIndex && ci-1 > n.snapshotIndex {
					t, err := n.termAtLocked(ci - 1)
					if err != nil || t != prevTerm {
						break
					}
					ci--
				}
				resp.ConflictIndex = ci
				return resp
			}
		}
	}

	// Skip entries we already hold; truncate at the first conflict.
	start := 0
	for ; start < len(req.Entries); start++ {
		e := req.Entries[start]
		if e.Index <= n.snapshotIndex {
			continue
		}
		if e.Index > n.lastIndex {
			break
		}
		t, err := n.termAtLocked(e.Index)
		if err != nil {
			break
		}
		if t != e.Term {
			if e.Index <= n.commitIndex {
				// A conflicting committed entry means a protocol
				// violation upstream; refuse rather than truncate.
				n.logf("refusing conflicting entry at committed index %d", e.Index)
				return resp
			}
			if err := n.truncateSuffixLocked(e.Index); err != nil {
				n.failLocked(err)
				return resp
			}
			break
		}
	}
	if start < len(req.Entries) {
		toStore := req.Entries[start:]
		if err := n.logs.StoreLogs(toStore); err != nil {
			n.failLocked(err)
			return resp
		}
		tail := toStore[len(toStore)-1]
		if n.firstIndex == 0 {
			n.firstIndex = toStore[0].Index
		}
		n.lastIndex = tail.Index
		n.lastTerm = tail.Term
		for _, e := range toStore {
			if e.Kind != EntryConfiguration {
				continue
			}
			if cfg, err := decodeConfiguration(e.Data); err == nil {
				n.config.set(cfg, e.Index)
			}
		}
	}

	lastNew := req.PrevLogIndex + uint64(len(req.Entries))
	if req.LeaderCommit > n.commitIndex {
		next := req.LeaderCommit
		if lastNew < next {
			next = lastNew
		}
		n.setCommitIndexLocked(next)
	}

	resp.Success = true
	resp.MatchIndex = lastNew
	return resp
}

// InstallSnapshot replaces far-behind state wholesale: the state machine
// restores from the blob, the retained log prefix is compacted, and the
// apply cursor jumps to the snapshot boundary.
func (n *Node) InstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := &InstallSnapshotResponse{Term: n.currentTerm}
	if n.operationalLocked() != nil {
		return resp
	}
	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm || n.role != Follower {
		if n.becomeFollowerLocked(req.Term) != nil {
			return resp
		}
		resp.Term = n.currentTerm
	}
	n.timer.Reset()
	n.leaderID = req.LeaderID

	if req.LastIncludedIndex <= n.snapshotIndex {
		return resp
	}
	// A snapshot at or below commitIndex carries nothing the log does not
	// already cover; installing it would roll the commit and apply
	// cursors backwards.
	if req.LastIncludedIndex <= n.commitIndex {
		return resp
	}
	if n.fsm != nil {
		if err := n.fsm.Restore(req.Data); err != nil {
			n.logf("snapshot restore failed: %v", err)
			return resp
		}
	}
	if len(req.Configuration) > 0 {
		if cfg, err := decodeConfiguration(req.Configuration); err == nil {
			n.config.set(cfg, req.LastIncludedIndex)
			n.config.commitTo(req.LastIncludedIndex)
		}
	}

	n.snapshotIndex = req.LastIncludedIndex
	n.snapshotTerm = req.LastIncludedTerm
	if err := n.stable.Set(keySnapshotData, req.Data); err != nil {
		n.failLocked(err)
		return resp
	}
	if len(req.Configuration) > 0 {
		if err := n.stable.Set(keySnapshotConf, req.Configuration); err != nil {
			n.failLocked(err)
			return resp
		}
	}
	if err := n.stable.SetUint64(keySnapshotIndex, n.snapshotIndex); err != nil {
		n.failLocked(err)
		return resp
	}
	if err := n.stable.SetUint64(keySnapshotTerm, n.snapshotTerm); err != nil {
		n.failLocked(err)
		return resp
	}

	// Compact everything the snapshot covers. A divergent suffix beyond
	// the snapshot is dropped too; the leader will resend it.
	if n.lastIndex > 0 {
		lo := n.firstIndex
		if lo == 0 {
			lo = 1
		}
		if err := n.logs.DeleteRange(lo, n.lastIndex); err != nil {
			n.failLocked(err)
			return resp
		}
	}
	n.firstIndex = 0
	n.lastIndex = req.LastIncludedIndex
	n.lastTerm = req.LastIncludedTerm
	n.commitIndex = req.LastIncludedIndex
	n.lastApplied = req.LastIncludedIndex
	n.checkpointAppliedLocked()
	obsmetrics.SnapshotsInstalled.Inc()
	logutil.Infof(n.logger, "raft node %s restored snapshot (index=%d term=%d)", n.opts.ID, req.LastIncludedIndex, req.LastIncludedTerm)
	return resp
}
