package raft

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerSuffrage says whether a server counts toward quorum.
type ServerSuffrage uint8

const (
	// Voter participates in elections and commit quorums.
	Voter ServerSuffrage = iota
	// Nonvoter receives the log but never counts toward quorum; used to
	// warm up a server before promoting it.
	Nonvoter
)

// Server identifies one member of the cluster configuration.
type Server struct {
	ID       string         `json:"id"`
	Addr     string         `json:"addr"`
	Suffrage ServerSuffrage `json:"suffrage"`
}

// Configuration is the replicated member set. It is immutable once built;
// the engine swaps whole snapshots atomically so replication loops can
// read a captured copy per round. During a joint-consensus transition
// Joint carries the outgoing voter set, and quorum must be met in both
// sets independently.
type Configuration struct {
	Servers []Server `json:"servers"`
	Joint   []Server `json:"joint,omitempty"`
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	out := Configuration{
		Servers: append([]Server(nil), c.Servers...),
	}
	if c.Joint != nil {
		out.Joint = append([]Server(nil), c.Joint...)
	}
	return out
}

// Server returns the named server, if present.
func (c Configuration) Server(id string) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// IsVoter reports whether id is a voting member of the incoming set.
func (c Configuration) IsVoter(id string) bool {
	s, ok := c.Server(id)
	return ok && s.Suffrage == Voter
}

// InJoint reports whether a joint transition is in progress.
func (c Configuration) InJoint() bool { return len(c.Joint) > 0 }

// voters filters a server list down to voting members.
func voters(servers []Server) []Server {
	out := make([]Server, 0, len(servers))
	for _, s := range servers {
		if s.Suffrage == Voter {
			out = append(out, s)
		}
	}
	return out
}

// quorumMet evaluates acked over every quorum the configuration requires:
// the incoming voter set, and additionally the outgoing set while joint.
func (c Configuration) quorumMet(acked func(id string) bool) bool {
	if !majority(voters(c.Servers), acked) {
		return false
	}
	if c.InJoint() && !majority(voters(c.Joint), acked) {
		return false
	}
	return true
}

func majority(vs []Server, acked func(id string) bool) bool {
	if len(vs) == 0 {
		return true
	}
	count := 0
	for _, s := range vs {
		if acked(s.ID) {
			count++
		}
	}
	return count >= len(vs)/2+1
}

func encodeConfiguration(c Configuration) []byte {
	b, _ := json.Marshal(c)
	return b
}

func decodeConfiguration(data []byte) (Configuration, error) {
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return Configuration{}, fmt.Errorf("raft: decode configuration: %w", err)
	}
	return c, nil
}

// configTracker pins the latest and latest-committed configurations to
// the log indexes that produced them, so a truncated suffix can roll the
// membership view back too.
type configTracker struct {
	latest         Configuration
	latestIndex    uint64
	committed      Configuration
	committedIndex uint64
}

func (t *configTracker) set(c Configuration, index uint64) {
	t.latest = c
	t.latestIndex = index
}

func (t *configTracker) commitTo(index uint64) bool {
	if t.latestIndex > t.committedIndex && index >= t.latestIndex {
		t.committed = t.latest
		t.committedIndex = t.latestIndex
		return true
	}
	return false
}

// changePending reports whether an uncommitted configuration entry is in
// the log. Only one change may be in flight at a time.
func (t *configTracker) changePending() bool {
	return t.latestIndex > t.committedIndex
}

// AddVoter proposes a single-server configuration change adding (or
// promoting) a voting member. It returns once the entry is appended; the
// change takes effect when it commits.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	return n.changeConfig(func(cfg Configuration) (Configuration, error) {
		return addServer(cfg, Server{ID: id, Addr: addr, Suffrage: Voter})
	}, timeout)
}

// AddNonvoter proposes adding a non-voting member that receives the log
// but does not count toward quorum.
func (n *Node) AddNonvoter(id, addr string, timeout time.Duration) error {
	return n.changeConfig(func(cfg Configuration) (Configuration, error) {
		return addServer(cfg, Server{ID: id, Addr: addr, Suffrage: Nonvoter})
	}, timeout)
}

// RemoveServer proposes removing a member. Removing the leader itself is
// legal: it keeps leading until the entry commits, then steps down.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	return n.changeConfig(func(cfg Configuration) (Configuration, error) {
		next := Configuration{}
		found := false
		for _, s := range cfg.Servers {
			if s.ID == id {
				found = true
				continue
			}
			next.Servers = append(next.Servers, s)
		}
		if !found {
			return Configuration{}, ErrUnknownServer
		}
		return next, nil
	}, timeout)
}

// ChangeMembers applies several additions and removals atomically using
// joint consensus: the transitional entry requires majorities from both
// the old and new voter sets, which prevents two disjoint majorities from
// forming while the change propagates. Once the transitional entry
// commits the leader automatically appends the final configuration.
func (n *Node) ChangeMembers(add []Server, remove []string, timeout time.Duration) error {
	return n.changeConfig(func(cfg Configuration) (Configuration, error) {
		next := Configuration{Joint: voters(cfg.Servers)}
		removed := make(map[string]bool, len(remove))
		for _, id := range remove {
			removed[id] = true
		}
		for _, s := range cfg.Servers {
			if !removed[s.ID] {
				next.Servers = append(next.Servers, s)
			}
		}
		for _, s := range add {
			if _, ok := cfg.Server(s.ID); ok {
				return Configuration{}, fmt.Errorf("raft: server %s already in configuration", s.ID)
			}
			next.Servers = append(next.Servers, s)
		}
		return next, nil
	}, timeout)
}

func addServer(cfg Configuration, srv Server) (Configuration, error) {
	next := Configuration{}
	for _, s := range cfg.Servers {
		if s.ID == srv.ID {
			if s.Addr == srv.Addr && s.Suffrage == srv.Suffrage {
				// Idempotent re-add.
				return cfg.Clone(), nil
			}
			continue
		}
		next.Servers = append(next.Servers, s)
	}
	next.Servers = append(next.Servers, srv)
	return next, nil
}

func (n *Node) changeConfig(mutate func(Configuration) (Configuration, error), timeout time.Duration) error {
	n.mu.Lock()
	if err := n.operationalLocked(); err != nil {
		n.mu.Unlock()
		return err
	}
	if n.role != Leader {
		n.mu.Unlock()
		return ErrNotLeader
	}
	if n.config.changePending() {
		n.mu.Unlock()
		return ErrConfigInFlight
	}
	next, err := mutate(n.config.latest.Clone())
	if err != nil {
		n.mu.Unlock()
		return err
	}
	entry := &LogEntry{
		Index: n.lastIndex + 1,
		Term:  n.currentTerm,
		Kind:  EntryConfiguration,
		Data:  encodeConfiguration(next),
	}
	if err := n.appendLocked(entry); err != nil {
		n.mu.Unlock()
		return err
	}
	// New configuration is used for replication and quorum as soon as it
	// is appended; it becomes effective (committed) once replicated.
	n.config.set(next, entry.Index)
	n.syncReplicationLocked()
	pending := n.trackProposalLocked(entry.Index)
	n.advanceLeaderCommitLocked()
	n.mu.Unlock()

	n.notifyReplicators()
	return n.waitProposal(pending, timeout)
}
