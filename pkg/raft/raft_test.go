package raft_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/amirimatin/go-raft/pkg/kvstate"
	"github.com/amirimatin/go-raft/pkg/raft"
	storeinmem "github.com/amirimatin/go-raft/pkg/storage/inmem"
	netinmem "github.com/amirimatin/go-raft/pkg/transport/inmem"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func addrOf(id string) string { return "addr-" + id }

type testNode struct {
	id    string
	node  *raft.Node
	store *storeinmem.Store
	fsm   *kvstate.Store
}

type testCluster struct {
	t     *testing.T
	net   *netinmem.Network
	nodes map[string]*testNode
}

func testOptions(id string, servers []raft.Server) raft.Options {
	return raft.Options{
		ID:                 id,
		Servers:            servers,
		HeartbeatInterval:  15 * time.Millisecond,
		ElectionTimeoutMin: 60 * time.Millisecond,
		ElectionTimeoutMax: 120 * time.Millisecond,
		Logger:             quietLogger(),
	}
}

func newCluster(t *testing.T, ids ...string) *testCluster {
	t.Helper()
	servers := make([]raft.Server, 0, len(ids))
	for _, id := range ids {
		servers = append(servers, raft.Server{ID: id, Addr: addrOf(id), Suffrage: raft.Voter})
	}
	c := &testCluster{t: t, net: netinmem.NewNetwork(), nodes: make(map[string]*testNode)}
	for _, id := range ids {
		c.addNode(id, servers)
	}
	t.Cleanup(c.stopAll)
	return c
}

// addNode starts a node attached to the shared network. An empty servers
// slice makes a blank node that waits to be configured by a leader.
func (c *testCluster) addNode(id string, servers []raft.Server) *testNode {
	c.t.Helper()
	store := storeinmem.New()
	fsm := kvstate.New()
	tr := c.net.Transport(addrOf(id))
	n, err := raft.NewNode(testOptions(id, servers), fsm, store, store, tr)
	if err != nil { c.t.Fatalf("new node %s: %v", id, err) }
	if err := n.Start(context.Background()); err != nil { c.t.Fatalf("start node %s: %v", id, err) }
	tn := &testNode{id: id, node: n, store: store, fsm: fsm}
	c.nodes[id] = tn
	return tn
}

// restartNode stops a node and brings a replacement up on the same stores
// with a fresh state machine, as a process restart would.
func (c *testCluster) restartNode(id string) *testNode {
	c.t.Helper()
	old, ok := c.nodes[id]
	if !ok { c.t.Fatalf("restart: unknown node %s", id) }
	if err := old.node.Stop(); err != nil { c.t.Fatalf("stop %s: %v", id, err) }

	fsm := kvstate.New()
	tr := c.net.Transport(addrOf(id))
	n, err := raft.NewNode(testOptions(id, nil), fsm, old.store, old.store, tr)
	if err != nil { c.t.Fatalf("recreate node %s: %v", id, err) }
	if err := n.Start(context.Background()); err != nil { c.t.Fatalf("restart node %s: %v", id, err) }
	tn := &testNode{id: id, node: n, store: old.store, fsm: fsm}
	c.nodes[id] = tn
	return tn
}

func (c *testCluster) stopAll() {
	for _, tn := range c.nodes {
		_ = tn.node.Stop()
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() { return }
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (c *testCluster) waitLeader(ids ...string) *testNode {
	c.t.Helper()
	if len(ids) == 0 {
		for id := range c.nodes {
			ids = append(ids, id)
		}
	}
	var leader *testNode
	waitFor(c.t, 5*time.Second, "leader election", func() bool {
		for _, id := range ids {
			if tn := c.nodes[id]; tn != nil && tn.node.IsLeader() {
				leader = tn
				return true
			}
		}
		return false
	})
	return leader
}

func (c *testCluster) set(tn *testNode, key, value string) uint64 {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	idx, err := tn.node.Propose(ctx, kvstate.Encode(kvstate.Command{Op: "set", Key: key, Value: value}))
	if err != nil { c.t.Fatalf("propose set %s=%s on %s: %v", key, value, tn.id, err) }
	return idx
}

func TestSingleNodeCommitsAndApplies(t *testing.T) {
	c := newCluster(t, "n1")
	leader := c.waitLeader()

	idx := c.set(leader, "color", "green")
	if got := leader.node.CommitIndex(); got < idx {
		t.Fatalf("commit index %d below proposal index %d", got, idx)
	}
	if v, ok := leader.fsm.Get("color"); !ok || v != "green" {
		t.Fatalf("state machine missed the command: %q %v", v, ok)
	}
}

func TestElectionProducesOneLeaderPerTerm(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	c.waitLeader()

	waitFor(t, 5*time.Second, "stable single leader", func() bool {
		leaders := 0
		var term uint64
		for _, tn := range c.nodes {
			if tn.node.IsLeader() { leaders++ }
			if tn.node.Term() > term { term = tn.node.Term() }
		}
		if leaders != 1 { return false }
		for _, tn := range c.nodes {
			if tn.node.Term() != term { return false }
		}
		return true
	})
}

func TestReplicationAppliesEverywhereInOrder(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()

	var last uint64
	for i := 0; i < 5; i++ {
		last = c.set(leader, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}
	waitFor(t, 5*time.Second, "followers apply all entries", func() bool {
		for _, tn := range c.nodes {
			if tn.node.LastApplied() < last { return false }
		}
		return true
	})
	for _, tn := range c.nodes {
		for i := 0; i < 5; i++ {
			k, want := fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)
			if v, ok := tn.fsm.Get(k); !ok || v != want {
				t.Fatalf("node %s: %s = %q, want %q", tn.id, k, v, want)
			}
		}
	}
}

func TestProposeOnFollowerRejected(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()

	for _, tn := range c.nodes {
		if tn == leader { continue }
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := tn.node.Propose(ctx, kvstate.Encode(kvstate.Command{Op: "set", Key: "x", Value: "y"}))
		cancel()
		if !errors.Is(err, raft.ErrNotLeader) {
			t.Fatalf("follower %s accepted a proposal: %v", tn.id, err)
		}
	}
}

func TestLeaderPartitionFailoverAndLogRepair(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	oldLeader := c.waitLeader()
	c.set(oldLeader, "stable", "yes")

	c.net.Isolate(addrOf(oldLeader.id))

	// A proposal on the cut-off leader cannot reach quorum.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	_, err := oldLeader.node.Propose(ctx, kvstate.Encode(kvstate.Command{Op: "set", Key: "orphan", Value: "1"}))
	cancel()
	if err == nil { t.Fatal("proposal committed without quorum") }

	var rest []string
	for id := range c.nodes {
		if id != oldLeader.id { rest = append(rest, id) }
	}
	newLeader := c.waitLeader(rest...)
	if newLeader.id == oldLeader.id { t.Fatal("partitioned leader re-elected") }
	last := c.set(newLeader, "after", "failover")

	c.net.Heal()

	waitFor(t, 5*time.Second, "old leader steps down and converges", func() bool {
		if oldLeader.node.IsLeader() { return false }
		return oldLeader.node.LastApplied() >= last
	})
	if v, ok := oldLeader.fsm.Get("after"); !ok || v != "failover" {
		t.Fatalf("old leader missing post-failover write: %q %v", v, ok)
	}
	// The orphaned uncommitted entry must not have been applied anywhere.
	for _, tn := range c.nodes {
		if _, ok := tn.fsm.Get("orphan"); ok {
			t.Fatalf("node %s applied an uncommitted entry", tn.id)
		}
	}
}

// bareOptions suit unstarted nodes that are driven through their RPC
// handlers directly: election timeouts are long enough never to fire.
func bareOptions(id string, servers []raft.Server) raft.Options {
	o := testOptions(id, servers)
	o.ElectionTimeoutMin = 5 * time.Second
	o.ElectionTimeoutMax = 10 * time.Second
	return o
}

func TestVoteRules(t *testing.T) {
	net := netinmem.NewNetwork()
	store := storeinmem.New()
	servers := []raft.Server{
		{ID: "f1", Addr: addrOf("f1"), Suffrage: raft.Voter},
		{ID: "c1", Addr: addrOf("c1"), Suffrage: raft.Voter},
		{ID: "c2", Addr: addrOf("c2"), Suffrage: raft.Voter},
	}
	n, err := raft.NewNode(bareOptions("f1", servers), kvstate.New(), store, store, net.Transport(addrOf("f1")))
	if err != nil { t.Fatal(err) }
	defer n.Stop()

	// Seed a log: three entries from a term-1 leader.
	entries := []*raft.LogEntry{
		{Index: 1, Term: 1, Kind: raft.EntryNoop},
		{Index: 2, Term: 1, Kind: raft.EntryCommand, Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "a", Value: "1"})},
		{Index: 3, Term: 1, Kind: raft.EntryCommand, Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "b", Value: "2"})},
	}
	ae := n.AppendEntries(&raft.AppendEntriesRequest{Term: 1, LeaderID: "l1", Entries: entries})
	if !ae.Success { t.Fatalf("seed append rejected: %+v", ae) }

	// A candidate with a shorter log is refused despite the newer term.
	resp := n.RequestVote(&raft.RequestVoteRequest{Term: 4, CandidateID: "c1", LastLogIndex: 2, LastLogTerm: 1})
	if resp.VoteGranted { t.Fatal("granted vote to candidate with stale log") }
	if resp.Term != 4 { t.Fatalf("term not adopted: %d", resp.Term) }

	// An up-to-date candidate gets the vote.
	resp = n.RequestVote(&raft.RequestVoteRequest{Term: 5, CandidateID: "c1", LastLogIndex: 3, LastLogTerm: 1})
	if !resp.VoteGranted { t.Fatal("refused vote to up-to-date candidate") }

	// Same term, different candidate: the vote is spent.
	resp = n.RequestVote(&raft.RequestVoteRequest{Term: 5, CandidateID: "c2", LastLogIndex: 3, LastLogTerm: 1})
	if resp.VoteGranted { t.Fatal("double vote within one term") }

	// Same term, same candidate: granting again is idempotent.
	resp = n.RequestVote(&raft.RequestVoteRequest{Term: 5, CandidateID: "c1", LastLogIndex: 3, LastLogTerm: 1})
	if !resp.VoteGranted { t.Fatal("re-request by voted-for candidate refused") }

	// A stale-term candidate is refused outright.
	resp = n.RequestVote(&raft.RequestVoteRequest{Term: 2, CandidateID: "c2", LastLogIndex: 9, LastLogTerm: 2})
	if resp.VoteGranted || resp.Term != 5 { t.Fatalf("stale-term vote mishandled: %+v", resp) }
}

func TestAppendEntriesConflictHints(t *testing.T) {
	net := netinmem.NewNetwork()
	store := storeinmem.New()
	servers := []raft.Server{{ID: "f1", Addr: addrOf("f1"), Suffrage: raft.Voter}}
	n, err := raft.NewNode(bareOptions("f1", servers), kvstate.New(), store, store, net.Transport(addrOf("f1")))
	if err != nil { t.Fatal(err) }
	defer n.Stop()

	entries := []*raft.LogEntry{
		{Index: 1, Term: 1, Kind: raft.EntryNoop},
		{Index: 2, Term: 1, Kind: raft.EntryNoop},
		{Index: 3, Term: 1, Kind: raft.EntryNoop},
	}
	if resp := n.AppendEntries(&raft.AppendEntriesRequest{Term: 1, LeaderID: "l1", Entries: entries}); !resp.Success {
		t.Fatalf("seed append rejected: %+v", resp)
	}

	// Probe beyond the end of the log: the hint is lastIndex+1.
	resp := n.AppendEntries(&raft.AppendEntriesRequest{Term: 3, LeaderID: "l2", PrevLogIndex: 5, PrevLogTerm: 2})
	if resp.Success || resp.ConflictIndex != 4 {
		t.Fatalf("short-log hint wrong: %+v", resp)
	}

	// Term mismatch at prevLogIndex: the hint names our conflicting term
	// and its first index, so the leader can skip it in one round.
	resp = n.AppendEntries(&raft.AppendEntriesRequest{Term: 3, LeaderID: "l2", PrevLogIndex: 3, PrevLogTerm: 2})
	if resp.Success || resp.ConflictTerm != 1 || resp.ConflictIndex != 1 {
		t.Fatalf("conflict-term hint wrong: %+v", resp)
	}

	// A matching prefix with a conflicting suffix truncates and replaces.
	repl := []*raft.LogEntry{
		{Index: 2, Term: 3, Kind: raft.EntryNoop},
		{Index: 3, Term: 3, Kind: raft.EntryNoop},
		{Index: 4, Term: 3, Kind: raft.EntryNoop},
	}
	resp = n.AppendEntries(&raft.AppendEntriesRequest{Term: 3, LeaderID: "l2", PrevLogIndex: 1, PrevLogTerm: 1, Entries: repl})
	if !resp.Success || resp.MatchIndex != 4 {
		t.Fatalf("conflict replacement failed: %+v", resp)
	}
	if n.LastIndex() != 4 { t.Fatalf("lastIndex = %d, want 4", n.LastIndex()) }
	if got, err := store.GetLog(3); err != nil || got.Term != 3 {
		t.Fatalf("entry 3 not replaced: %+v %v", got, err)
	}
}

func TestJointConsensusAddsAndPromotes(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()
	c.set(leader, "before", "change")

	// Blank nodes that wait to be configured.
	c.addNode("n4", nil)
	c.addNode("n5", nil)

	add := []raft.Server{
		{ID: "n4", Addr: addrOf("n4"), Suffrage: raft.Voter},
		{ID: "n5", Addr: addrOf("n5"), Suffrage: raft.Voter},
	}
	if err := leader.node.ChangeMembers(add, nil, 5*time.Second); err != nil {
		t.Fatalf("change members: %v", err)
	}

	waitFor(t, 5*time.Second, "final configuration leaves joint", func() bool {
		cfg := leader.node.Configuration()
		return !cfg.InJoint() && cfg.IsVoter("n4") && cfg.IsVoter("n5")
	})

	last := c.set(leader, "after", "change")
	waitFor(t, 5*time.Second, "new members catch up", func() bool {
		return c.nodes["n4"].node.LastApplied() >= last && c.nodes["n5"].node.LastApplied() >= last
	})
	for _, id := range []string{"n4", "n5"} {
		if v, ok := c.nodes[id].fsm.Get("before"); !ok || v != "change" {
			t.Fatalf("node %s missing pre-change entry", id)
		}
	}
}

func TestRemoveServerDropsMember(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()

	var victim string
	for id := range c.nodes {
		if id != leader.id {
			victim = id
			break
		}
	}
	if err := leader.node.RemoveServer(victim, 5*time.Second); err != nil {
		t.Fatalf("remove %s: %v", victim, err)
	}
	// Quiet the removed node before its stale configuration lets it
	// disturb the remaining pair with elections.
	_ = c.nodes[victim].node.Stop()

	cfg := leader.node.Configuration()
	if _, ok := cfg.Server(victim); ok { t.Fatalf("%s still in configuration", victim) }

	c.set(leader, "post-remove", "ok")
	if err := leader.node.RemoveServer(victim, time.Second); !errors.Is(err, raft.ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", err)
	}
}

func TestLeaderSelfRemovalStepsDown(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()

	if err := leader.node.RemoveServer(leader.id, 5*time.Second); err != nil {
		t.Fatalf("self-removal: %v", err)
	}
	waitFor(t, 5*time.Second, "removed leader steps down", func() bool {
		return !leader.node.IsLeader()
	})

	var rest []string
	for id := range c.nodes {
		if id != leader.id { rest = append(rest, id) }
	}
	newLeader := c.waitLeader(rest...)
	cfg := newLeader.node.Configuration()
	if _, ok := cfg.Server(leader.id); ok {
		t.Fatalf("removed leader %s still configured on %s", leader.id, newLeader.id)
	}
}

func TestOnlyOneConfigChangeInFlight(t *testing.T) {
	c := newCluster(t, "n1")
	leader := c.waitLeader()

	// Adding an unreachable voter leaves the change uncommittable: the new
	// two-member quorum needs the absent node's ack.
	err := leader.node.AddVoter("n9", addrOf("n9"), 300*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline on uncommittable change, got %v", err)
	}
	if err := leader.node.AddVoter("n10", addrOf("n10"), time.Second); !errors.Is(err, raft.ErrConfigInFlight) {
		t.Fatalf("overlapping change accepted: %v", err)
	}
}

func TestNonvoterReceivesLogThenPromotes(t *testing.T) {
	net := netinmem.NewNetwork()
	servers := []raft.Server{
		{ID: "n1", Addr: addrOf("n1"), Suffrage: raft.Voter},
		{ID: "n2", Addr: addrOf("n2"), Suffrage: raft.Nonvoter},
	}
	c := &testCluster{t: t, net: net, nodes: make(map[string]*testNode)}
	t.Cleanup(c.stopAll)
	c.addNode("n1", servers)
	c.addNode("n2", servers)

	// Quorum is the lone voter; the leader appears without n2's help.
	leader := c.waitLeader("n1")
	last := c.set(leader, "warm", "up")

	waitFor(t, 5*time.Second, "nonvoter receives the log", func() bool {
		return c.nodes["n2"].node.LastApplied() >= last
	})
	if c.nodes["n2"].node.IsLeader() { t.Fatal("nonvoter became leader") }

	if err := leader.node.AddVoter("n2", addrOf("n2"), 5*time.Second); err != nil {
		t.Fatalf("promote n2: %v", err)
	}
	waitFor(t, 5*time.Second, "promotion commits", func() bool {
		return leader.node.Configuration().IsVoter("n2")
	})
}

func TestDurabilityFailureRemovesNodeFromGroup(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()
	c.set(leader, "pre", "fail")

	injected := errors.New("disk gone")
	leader.store.FailWrites(injected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := leader.node.Propose(ctx, kvstate.Encode(kvstate.Command{Op: "set", Key: "x", Value: "y"}))
	cancel()
	if !errors.Is(err, injected) { t.Fatalf("expected injected write error, got %v", err) }

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	_, err = leader.node.Propose(ctx, kvstate.Encode(kvstate.Command{Op: "set", Key: "x", Value: "y"}))
	cancel()
	if !errors.Is(err, raft.ErrNodeFailed) { t.Fatalf("expected ErrNodeFailed, got %v", err) }

	var rest []string
	for id := range c.nodes {
		if id != leader.id { rest = append(rest, id) }
	}
	newLeader := c.waitLeader(rest...)
	c.set(newLeader, "post", "fail")
}

func TestSnapshotShipsToFarBehindFollower(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	leader := c.waitLeader()
	c.set(leader, "seed", "0")

	var behind string
	for id := range c.nodes {
		if id != leader.id {
			behind = id
			break
		}
	}
	// Take one follower down, move the log past it, compact, then bring it
	// back: the retained log no longer reaches it, forcing a snapshot.
	if err := c.nodes[behind].node.Stop(); err != nil { t.Fatalf("stop %s: %v", behind, err) }

	for i := 0; i < 10; i++ {
		c.set(leader, fmt.Sprintf("bulk%d", i), fmt.Sprintf("%d", i))
	}
	if err := leader.node.Snapshot(); err != nil { t.Fatalf("snapshot: %v", err) }

	lagging := c.restartNode(behind)
	waitFor(t, 5*time.Second, "snapshot install catches follower up", func() bool {
		return lagging.node.LastApplied() >= leader.node.LastApplied()
	})
	for i := 0; i < 10; i++ {
		k, want := fmt.Sprintf("bulk%d", i), fmt.Sprintf("%d", i)
		if v, ok := lagging.fsm.Get(k); !ok || v != want {
			t.Fatalf("follower %s: %s = %q, want %q", behind, k, v, want)
		}
	}

	// Normal replication resumes past the snapshot boundary.
	last := c.set(leader, "resumed", "yes")
	waitFor(t, 5*time.Second, "post-snapshot append replicates", func() bool {
		return lagging.node.LastApplied() >= last
	})
}

func TestRestartRecoversSnapshotAndTail(t *testing.T) {
	c := newCluster(t, "n1")
	leader := c.waitLeader()

	for i := 0; i < 3; i++ {
		c.set(leader, fmt.Sprintf("snap%d", i), "s")
	}
	if err := leader.node.Snapshot(); err != nil { t.Fatalf("snapshot: %v", err) }
	for i := 0; i < 2; i++ {
		c.set(leader, fmt.Sprintf("tail%d", i), "t")
	}
	lastIndex := leader.node.LastIndex()
	term := leader.node.Term()

	reborn := c.restartNode("n1")
	if got := reborn.node.LastIndex(); got != lastIndex {
		t.Fatalf("lastIndex after restart = %d, want %d", got, lastIndex)
	}
	if got := reborn.node.Term(); got < term {
		t.Fatalf("term went backward: %d < %d", got, term)
	}

	// Snapshot restore plus tail replay rebuilds the state machine.
	waitFor(t, 5*time.Second, "restart replays committed tail", func() bool {
		return reborn.node.LastApplied() >= lastIndex
	})
	for i := 0; i < 3; i++ {
		if _, ok := reborn.fsm.Get(fmt.Sprintf("snap%d", i)); !ok {
			t.Fatalf("snapshot key snap%d lost on restart", i)
		}
	}
	for i := 0; i < 2; i++ {
		if _, ok := reborn.fsm.Get(fmt.Sprintf("tail%d", i)); !ok {
			t.Fatalf("tail key tail%d lost on restart", i)
		}
	}

	c.waitLeader("n1")
	c.set(c.nodes["n1"], "fresh", "write")
}

func TestInstallSnapshotNeverRegressesCommit(t *testing.T) {
	net := netinmem.NewNetwork()
	store := storeinmem.New()
	servers := []raft.Server{
		{ID: "s1", Addr: addrOf("s1"), Suffrage: raft.Voter},
		{ID: "s2", Addr: addrOf("s2"), Suffrage: raft.Voter},
		{ID: "s3", Addr: addrOf("s3"), Suffrage: raft.Voter},
	}
	n, err := raft.NewNode(bareOptions("s1", servers), kvstate.New(), store, store, net.Transport(addrOf("s1")))
	if err != nil { t.Fatal(err) }
	defer n.Stop()

	entries := []*raft.LogEntry{
		{Index: 1, Term: 1, Kind: raft.EntryNoop},
		{Index: 2, Term: 1, Kind: raft.EntryCommand, Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "a", Value: "1"})},
		{Index: 3, Term: 1, Kind: raft.EntryCommand, Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "b", Value: "2"})},
	}
	ae := n.AppendEntries(&raft.AppendEntriesRequest{Term: 1, LeaderID: "l1", Entries: entries, LeaderCommit: 3})
	if !ae.Success { t.Fatalf("seed append rejected: %+v", ae) }
	if n.CommitIndex() != 3 { t.Fatalf("commitIndex = %d, want 3", n.CommitIndex()) }

	// A snapshot labeled below what is already committed must be refused:
	// the log covers it, and installing it would move commit backwards.
	stale := kvstate.New()
	stale.Apply(&raft.LogEntry{Index: 2, Term: 1, Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "a", Value: "1"})})
	blob, err := stale.Snapshot()
	if err != nil { t.Fatal(err) }
	resp := n.InstallSnapshot(&raft.InstallSnapshotRequest{Term: 1, LeaderID: "l1", LastIncludedIndex: 2, LastIncludedTerm: 1, Data: blob})
	if resp.Term != 1 { t.Fatalf("term = %d", resp.Term) }
	if n.CommitIndex() != 3 || n.LastIndex() != 3 {
		t.Fatalf("stale snapshot regressed state: commit=%d last=%d", n.CommitIndex(), n.LastIndex())
	}

	// A snapshot beyond the log still installs.
	fresh := kvstate.New()
	fresh.Apply(&raft.LogEntry{Index: 6, Term: 1, Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "c", Value: "3"})})
	fblob, err := fresh.Snapshot()
	if err != nil { t.Fatal(err) }
	n.InstallSnapshot(&raft.InstallSnapshotRequest{Term: 1, LeaderID: "l1", LastIncludedIndex: 6, LastIncludedTerm: 1, Data: fblob})
	if n.LastIndex() != 6 || n.CommitIndex() != 6 {
		t.Fatalf("valid snapshot refused: commit=%d last=%d", n.CommitIndex(), n.LastIndex())
	}
}
