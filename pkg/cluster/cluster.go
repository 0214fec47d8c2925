package cluster

import (
    "context"
    "encoding/json"
    "errors"
    "sync"
    "time"

    "github.com/amirimatin/go-raft/pkg/membership"
    obsmetrics "github.com/amirimatin/go-raft/pkg/observability/metrics"
    "github.com/amirimatin/go-raft/pkg/observability/tracing"
    "github.com/amirimatin/go-raft/pkg/internal/logutil"
    "github.com/amirimatin/go-raft/pkg/raft"
    "github.com/amirimatin/go-raft/pkg/transport"
)

// Facade exposes the high-level API for consumers.
type Facade interface {
    Start(ctx context.Context) error
    Join(ctx context.Context, seedLeader string) error
    Propose(ctx context.Context, data []byte) (uint64, error)
    Status(ctx context.Context) (*ClusterStatus, error)
    Stop(ctx context.Context) error
    LeaderCh() <-chan raft.LeaderInfo
}

// Cluster is the concrete implementation of the Facade. It wires together
// gossip membership, the consensus engine, and the management RPC surface
// into a small, embeddable replicated-log runtime.
type Cluster struct {
    opts Options
    mu   sync.RWMutex
    run  struct {
        started bool
        closed  bool
    }
    node *raft.Node
    mem  membership.Membership
    rpcS transport.RPCServer
    rpcC transport.RPCClient
    eb   eventBus
    el   struct {
        mu         sync.Mutex
        hadLeader  bool
        inProgress bool
    }
}

// New constructs a new Cluster instance from validated options. It performs no
// network activity; call Start to launch the node.
func New(ctx context.Context, opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    c := &Cluster{opts: opts, node: opts.Node, mem: opts.Membership, rpcS: opts.RPCServer, rpcC: opts.RPCClient}
    return c, nil
}

// Close is a convenience alias for Stop with a background context.
func (c *Cluster) Close() error {
    return c.Stop(context.Background())
}

// Start launches membership, the consensus engine and the management
// endpoint, then begins the reconciliation loops.
func (c *Cluster) Start(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.started {
        return nil
    }
    c.run.started = true
    // Register metrics once
    obsmetrics.Register()
    // Start membership and join seeds
    if c.mem != nil {
        if err := c.mem.Start(ctx); err != nil { return err }
        if seeds := c.opts.Discovery.Seeds(); len(seeds) > 0 {
            logutil.Infof(c.opts.Logger, "joining membership seeds: %v", seeds)
            _ = c.mem.Join(seeds)
        }
    }
    // Start consensus engine in background lifecycle.
    if c.node != nil {
        if err := c.node.Start(ctx); err != nil { return err }
        go c.membershipEventsLoop(ctx)
        go c.electionWatchLoop(ctx)
        go c.leaderWatchLoop()
    }

    // Start management RPC server (if configured)
    if c.rpcS != nil {
        statusFn := func(ctx context.Context) ([]byte, error) { return c.statusLocalJSON(ctx) }
        joinFn := func(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) { return c.handleJoin(ctx, req) }
        leaveFn := func(ctx context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) { return c.handleLeave(ctx, req) }
        proposeFn := func(ctx context.Context, req transport.ProposeRequest) (transport.ProposeResponse, error) { return c.handlePropose(ctx, req) }
        if err := c.rpcS.Start(ctx, statusFn, joinFn, leaveFn, proposeFn); err != nil { return err }
        logutil.Infof(c.opts.Logger, "management endpoint listening at %s (status/metrics/healthz)", c.rpcS.Addr())
    }
    return nil
}

// leaderWatchLoop forwards engine leadership updates to subscribers and
// the optional callbacks.
func (c *Cluster) leaderWatchLoop() {
    for li := range c.node.LeaderCh() {
        logutil.Infof(c.opts.Logger, "leader change observed: id=%s term=%d", li.ID, li.Term)
        liCopy := li
        c.eb.publish(Event{Type: EventLeaderChanged, At: time.Now(), Leader: &liCopy, Term: li.Term})
        if c.opts.OnLeaderChange != nil { c.opts.OnLeaderChange(liCopy) }
        if c.opts.OnElectionEnd != nil { c.opts.OnElectionEnd(liCopy) }
        c.el.mu.Lock()
        c.el.inProgress = false
        c.el.hadLeader = true
        c.el.mu.Unlock()
    }
}

// Join requests to add this node as a voter via the current leader's
// management endpoint. When seedLeader is empty, the method attempts to
// resolve the leader using consensus and membership metadata.
func (c *Cluster) Join(ctx context.Context, seedLeader string) error {
    if c.rpcC == nil {
        return errors.New("cluster: no RPC client configured")
    }
    // Discover leader management address
    leaderMgmt := seedLeader
    if leaderMgmt == "" {
        if c.node == nil { return errors.New("cluster: no consensus to discover leader") }
        if id, _, ok := c.node.Leader(); ok {
            leaderMgmt = c.lookupMemberAddr(id)
        }
    } else {
        // Resolve leader via seed's status endpoint to ensure we target the actual leader
        if data, err := c.rpcC.GetStatus(ctx, leaderMgmt); err == nil {
            var st ClusterStatus
            if json.Unmarshal(data, &st) == nil && st.LeaderAddr != "" {
                leaderMgmt = st.LeaderAddr
            }
        }
    }
    if leaderMgmt == "" {
        return errors.New("cluster: cannot resolve leader management address")
    }
    req := transport.JoinRequest{ID: string(c.opts.NodeID), RaftAddr: c.opts.Transport.Addr(), Nonvoter: c.opts.JoinAsNonvoter}
    resp, err := c.rpcC.PostJoin(ctx, leaderMgmt, req)
    if err != nil {
        return err
    }
    if !resp.Accepted {
        if resp.Error == "not leader" {
            return ErrNotLeader
        }
        if resp.Error != "" {
            return errors.New(resp.Error)
        }
        return errors.New("cluster: join rejected")
    }
    return nil
}

// Propose submits a command to the replicated log. On followers the
// request is forwarded to the leader's management endpoint. It returns
// the assigned log index once the command committed and applied.
func (c *Cluster) Propose(ctx context.Context, data []byte) (uint64, error) {
    if c.node != nil && c.node.IsLeader() {
        return c.node.Propose(ctx, data)
    }
    if c.rpcC == nil { return 0, errors.New("cluster: no RPC client configured") }
    leaderMgmt := c.leaderMgmtAddr(ctx)
    if leaderMgmt == "" { return 0, ErrNotLeader }
    resp, err := c.rpcC.PostPropose(ctx, leaderMgmt, transport.ProposeRequest{Data: data})
    if err != nil { return 0, err }
    if resp.Error != "" { return 0, errors.New(resp.Error) }
    return resp.Index, nil
}

// leaderMgmtAddr resolves the leader's management address via membership
// metadata, falling back to our own status endpoint which proxies to the
// leader and reports LeaderAddr.
func (c *Cluster) leaderMgmtAddr(ctx context.Context) string {
    if c.node != nil {
        if id, _, ok := c.node.Leader(); ok {
            if a := c.lookupMemberAddr(id); a != "" { return a }
        }
    }
    if c.rpcC != nil && c.rpcS != nil {
        if data, err := c.rpcC.GetStatus(ctx, c.rpcS.Addr()); err == nil {
            var st ClusterStatus
            if json.Unmarshal(data, &st) == nil && st.LeaderAddr != "" {
                return st.LeaderAddr
            }
        }
    }
    return ""
}

// Status returns a synthesized snapshot including consensus term/leader,
// log progress and the membership view. When called on a follower, it
// proxies to the leader to obtain a canonical view (including
// LeaderAddr), when possible.
func (c *Cluster) Status(ctx context.Context) (*ClusterStatus, error) {
    s := &ClusterStatus{}
    if c.node != nil {
        s.Term = c.node.Term()
        s.CommitIndex = c.node.CommitIndex()
        s.LastApplied = c.node.LastApplied()
        for _, srv := range c.node.Configuration().Servers {
            s.Servers = append(s.Servers, ServerStatus{ID: srv.ID, Addr: srv.Addr, Voter: srv.Suffrage == raft.Voter})
        }
        if id, _, ok := c.node.Leader(); ok {
            s.LeaderID = id
            s.Healthy = true
            // If leader locally, expose management address as LeaderAddr
            if c.node.IsLeader() && c.rpcS != nil {
                s.LeaderAddr = c.rpcS.Addr()
            } else if c.rpcC != nil && c.mem != nil {
                // Not leader: proxy to leader to get canonical view (including mgmt address)
                if la := c.lookupMemberAddr(id); la != "" {
                    if data, err := c.rpcC.GetStatus(ctx, la); err == nil {
                        var rs ClusterStatus
                        if json.Unmarshal(data, &rs) == nil {
                            return &rs, nil
                        }
                    }
                }
            }
        }
    }
    if c.mem != nil {
        s.Members = c.mem.Members()
        // Update metrics with current view
        obsmetrics.ClusterMembers.Set(float64(len(s.Members)))
    }
    return s, nil
}

// Stop gracefully shuts down consensus, membership and the management server.
func (c *Cluster) Stop(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed {
        return nil
    }
    c.run.closed = true
    if c.node != nil {
        _ = c.node.Stop()
    }
    if c.mem != nil {
        _ = c.mem.Leave()
        _ = c.mem.Stop()
    }
    if c.rpcS != nil {
        _ = c.rpcS.Stop(ctx)
    }
    return nil
}

// membershipEventsLoop translates gossip visibility changes into
// configuration changes when this node leads: newly visible members are
// added as voters (their consensus address rides in gossip metadata) and
// departed or failed members are removed.
func (c *Cluster) membershipEventsLoop(ctx context.Context) {
    if c.mem == nil { return }
    evch := c.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok { return }
            m := e.Member
            switch e.Type {
            case membership.EventJoin:
                if c.opts.AutoReconfigure && c.node != nil && c.node.IsLeader() {
                    c.addVoterFromGossip(m)
                }
                if c.mem != nil { obsmetrics.ClusterMembers.Set(float64(len(c.mem.Members()))) }
                c.eb.publish(Event{Type: EventMemberJoin, At: e.At, Member: &m})
            case membership.EventLeave, membership.EventFailed:
                if c.opts.AutoReconfigure && c.node != nil && c.node.IsLeader() {
                    c.removeServer(m.ID)
                }
                if c.mem != nil { obsmetrics.ClusterMembers.Set(float64(len(c.mem.Members()))) }
                et := EventMemberLeave
                if e.Type == membership.EventFailed { et = EventMemberFailed }
                c.eb.publish(Event{Type: et, At: e.At, Member: &m})
            }
        }
    }
}

// addVoterFromGossip adds a gossip-visible member as a voter using the
// consensus address from its metadata. Members without the meta entry are
// skipped; they must join explicitly.
func (c *Cluster) addVoterFromGossip(m membership.MemberInfo) {
    if m.ID == string(c.opts.NodeID) { return }
    raftAddr := ""
    if m.Meta != nil { raftAddr = m.Meta["raft"] }
    if raftAddr == "" { return }
    if err := c.node.AddVoter(m.ID, raftAddr, 3*time.Second); err != nil {
        if !errors.Is(err, raft.ErrConfigInFlight) {
            logutil.Warnf(c.opts.Logger, "add voter from gossip failed: id=%s err=%v", m.ID, err)
        }
        return
    }
    logutil.Infof(c.opts.Logger, "added voter from gossip: id=%s addr=%s", m.ID, raftAddr)
}

func (c *Cluster) statusLocalJSON(ctx context.Context) ([]byte, error) {
    st, err := c.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

// lookupMemberAddr returns the target management address for a given member ID.
// It prefers membership Meta["mgmt"] when available; otherwise falls back to
// the membership gossip address (which may not serve management APIs).
func (c *Cluster) lookupMemberAddr(id string) string {
    if c.mem == nil { return "" }
    ms := c.mem.Members()
    for _, m := range ms {
        if m.ID == id {
            if m.Meta != nil {
                if mgmt := m.Meta["mgmt"]; mgmt != "" { return mgmt }
            }
            return m.Addr
        }
    }
    return ""
}

func (c *Cluster) handleJoin(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "cluster.handleJoin")
    defer end()
    // Only leader accepts join requests
    if c.node == nil || !c.node.IsLeader() {
        // Try to hint the leader management address to client
        var leaderMgmt string
        if c.node != nil {
            if id, _, ok := c.node.Leader(); ok {
                leaderMgmt = c.lookupMemberAddr(id)
            }
        }
        obsmetrics.JoinRequests.WithLabelValues("rejected").Inc()
        logutil.Warnf(c.opts.Logger, "join rejected (not leader): id=%s", req.ID)
        return transport.JoinResponse{Accepted: false, Leader: leaderMgmt, Error: "not leader"}, nil
    }
    var err error
    if req.Nonvoter {
        err = c.node.AddNonvoter(req.ID, req.RaftAddr, 3*time.Second)
    } else {
        err = c.node.AddVoter(req.ID, req.RaftAddr, 3*time.Second)
    }
    if err != nil {
        logutil.Errorf(c.opts.Logger, "add server failed: id=%s addr=%s err=%v", req.ID, req.RaftAddr, err)
        obsmetrics.JoinRequests.WithLabelValues("rejected").Inc()
        return transport.JoinResponse{Accepted: false, Error: err.Error()}, nil
    }
    obsmetrics.JoinRequests.WithLabelValues("accepted").Inc()
    logutil.Infof(c.opts.Logger, "join accepted: id=%s addr=%s", req.ID, req.RaftAddr)
    return transport.JoinResponse{Accepted: true}, nil
}

func (c *Cluster) removeServer(id string) {
    if c.node == nil || !c.node.IsLeader() { return }
    if err := c.node.RemoveServer(id, 3*time.Second); err != nil {
        if !errors.Is(err, raft.ErrUnknownServer) && !errors.Is(err, raft.ErrConfigInFlight) {
            logutil.Warnf(c.opts.Logger, "remove server failed: id=%s err=%v", id, err)
        }
    } else {
        logutil.Infof(c.opts.Logger, "removed server: id=%s", id)
    }
}

func (c *Cluster) handleLeave(ctx context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "cluster.handleLeave")
    defer end()
    // Only leader processes leave/removal
    if c.node == nil || !c.node.IsLeader() {
        logutil.Warnf(c.opts.Logger, "leave rejected (not leader): id=%s", req.ID)
        return transport.LeaveResponse{Accepted: false, Error: "not leader"}, nil
    }
    if err := c.node.RemoveServer(req.ID, 3*time.Second); err != nil {
        logutil.Warnf(c.opts.Logger, "leave failed: id=%s err=%v", req.ID, err)
        return transport.LeaveResponse{Accepted: false, Error: err.Error()}, nil
    }
    logutil.Infof(c.opts.Logger, "leave accepted: id=%s", req.ID)
    return transport.LeaveResponse{Accepted: true}, nil
}

func (c *Cluster) handlePropose(ctx context.Context, req transport.ProposeRequest) (transport.ProposeResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "cluster.handlePropose")
    defer end()
    if c.node == nil || !c.node.IsLeader() {
        return transport.ProposeResponse{Leader: c.leaderMgmtAddr(ctx), Error: "not leader"}, nil
    }
    index, err := c.node.Propose(ctx, req.Data)
    if err != nil {
        return transport.ProposeResponse{Error: err.Error()}, nil
    }
    return transport.ProposeResponse{Index: index}, nil
}

// LeaderCh exposes leadership change events from the consensus engine.
func (c *Cluster) LeaderCh() <-chan raft.LeaderInfo {
    if c.node == nil { return nil }
    return c.node.LeaderCh()
}

// electionWatchLoop emits election start events based on leader
// availability; election end is emitted from leaderWatchLoop.
func (c *Cluster) electionWatchLoop(ctx context.Context) {
    ticker := time.NewTicker(200 * time.Millisecond)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if c.node == nil { continue }
            _, _, ok := c.node.Leader()
            c.el.mu.Lock()
            had := c.el.hadLeader
            inProg := c.el.inProgress
            if had && !ok && !inProg {
                // leader lost → election start
                c.el.inProgress = true
                c.el.mu.Unlock()
                c.eb.publish(Event{Type: EventElectionStart, At: time.Now()})
                if c.opts.OnElectionStart != nil { c.opts.OnElectionStart() }
            } else {
                c.el.mu.Unlock()
            }
        }
    }
}
