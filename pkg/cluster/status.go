package cluster

import (
    "github.com/amirimatin/go-raft/pkg/membership"
)

// ServerStatus describes one member of the committed consensus
// configuration as seen by this node.
type ServerStatus struct {
    ID    string `json:"id"`
    Addr  string `json:"addr"`
    Voter bool   `json:"voter"`
}

// ClusterStatus is a high-level, JSON-serializable snapshot of the cluster
// suitable for external status endpoints and tooling.
type ClusterStatus struct {
    // Healthy indicates whether a leader is known and basic subsystems are running.
    Healthy bool
    // Term is the current consensus term as observed by this node.
    Term uint64
    // CommitIndex is the highest log index known committed locally.
    CommitIndex uint64
    // LastApplied is the highest log index applied to the state machine.
    LastApplied uint64
    // LeaderID is the identifier of the current leader, if any.
    LeaderID string
    // LeaderAddr is the management address of the current leader, if known.
    LeaderAddr string
    // Servers lists the consensus configuration (voters and nonvoters).
    Servers []ServerStatus
    // Members lists the membership view (gossip) including node IDs and addresses.
    Members []membership.MemberInfo
    // Warnings contains any non-fatal observations (e.g., degraded states).
    Warnings []string
}
