package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on cluster types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// JoinRequest describes a join intent from a node and carries the raft
// address that should be added as a voter to the cluster.
type JoinRequest struct {
    ID       string `json:"id"`
    RaftAddr string `json:"raftAddr"`
    // Nonvoter requests a non-voting membership, used to warm a node up
    // before promotion.
    Nonvoter bool `json:"nonvoter,omitempty"`
}

// JoinResponse indicates acceptance and optionally leader address or error.
type JoinResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

// JoinFunc handles node join requests (leader-only).
type JoinFunc func(ctx context.Context, req JoinRequest) (JoinResponse, error)

// LeaveRequest requests removal of a node from the cluster.
type LeaveRequest struct {
    ID string `json:"id"`
}

// LeaveResponse indicates whether the leave/remove was accepted.
type LeaveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// LeaveFunc handles node leave requests (leader-only).
type LeaveFunc func(ctx context.Context, req LeaveRequest) (LeaveResponse, error)

// ProposeRequest carries an opaque state machine command. Followers
// forward it to the leader.
type ProposeRequest struct {
    Data []byte `json:"data"`
}

// ProposeResponse reports the assigned log index once the command
// committed, or the leader's management address for redirects.
type ProposeResponse struct {
    Index  uint64 `json:"index,omitempty"`
    Leader string `json:"leader,omitempty"`
    Error  string `json:"error,omitempty"`
}

// ProposeFunc handles command proposals (leader-only; followers redirect).
type ProposeFunc func(ctx context.Context, req ProposeRequest) (ProposeResponse, error)

// RPCServer exposes management endpoints (/status, /join, /leave,
// /propose) for intra-cluster and operator calls.
type RPCServer interface {
    Start(ctx context.Context, status StatusFunc, join JoinFunc, leave LeaveFunc, propose ProposeFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs intra-cluster calls to other nodes using the chosen
// management protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostJoin(ctx context.Context, addr string, req JoinRequest) (JoinResponse, error)
    PostLeave(ctx context.Context, addr string, req LeaveRequest) (LeaveResponse, error)
    PostPropose(ctx context.Context, addr string, req ProposeRequest) (ProposeResponse, error)
}
