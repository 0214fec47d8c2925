package cluster

import (
    "errors"
    "log"

    "github.com/amirimatin/go-raft/pkg/discovery"
    "github.com/amirimatin/go-raft/pkg/membership"
    "github.com/amirimatin/go-raft/pkg/raft"
    "github.com/amirimatin/go-raft/pkg/transport"
)

type NodeID string

// Options carries dependency-injected components and runtime configuration used
// to assemble the cluster facade. Instances are typically produced from
// bootstrap.Config.
type Options struct {
    // NodeID is the unique identifier of this node within the cluster.
    NodeID NodeID
    // Transport is a minimal transport used to expose the local consensus address.
    Transport transport.Transport
    // Discovery provides seed nodes for membership join.
    Discovery discovery.Discovery
    // Logger is used by cluster to report operational messages.
    Logger *log.Logger

    // Node is the consensus engine (required).
    Node *raft.Node

    // Membership implementation (required)
    Membership membership.Membership

    // Optional management RPC (for Status proxy and forwarding)
    RPCServer transport.RPCServer
    RPCClient transport.RPCClient

    // AutoReconfigure lets the leader translate gossip join/leave events
    // into voter additions and removals. Members advertise their consensus
    // address in gossip Meta["raft"].
    AutoReconfigure bool

    // JoinAsNonvoter requests non-voting membership on Join, to warm the
    // node up before promotion.
    JoinAsNonvoter bool

    // Optional callbacks for app-level hooks
    OnLeaderChange  func(info raft.LeaderInfo)
    OnElectionStart func()
    OnElectionEnd   func(info raft.LeaderInfo)
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("cluster: empty NodeID")
    }
    if o.Transport == nil {
        return errors.New("cluster: nil Transport")
    }
    if o.Discovery == nil {
        return errors.New("cluster: nil Discovery")
    }
    if o.Logger == nil {
        return errors.New("cluster: nil Logger")
    }
    if o.Node == nil {
        return errors.New("cluster: nil Node")
    }
    if o.Membership == nil {
        return errors.New("cluster: nil Membership")
    }
    return nil
}
