package raft

import "context"

// RequestVoteRequest is sent by candidates to gather votes.
type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidateId"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
}

// RequestVoteResponse is the reply to RequestVote.
type RequestVoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"voteGranted"`
}

// AppendEntriesRequest replicates log entries and doubles as the leader
// heartbeat when Entries is empty.
type AppendEntriesRequest struct {
	Term         uint64      `json:"term"`
	LeaderID     string      `json:"leaderId"`
	PrevLogIndex uint64      `json:"prevLogIndex"`
	PrevLogTerm  uint64      `json:"prevLogTerm"`
	Entries      []*LogEntry `json:"entries,omitempty"`
	LeaderCommit uint64      `json:"leaderCommit"`
}

// AppendEntriesResponse is the reply to AppendEntries. On rejection the
// conflict fields let the leader skip back over whole terms instead of
// probing one index at a time.
type AppendEntriesResponse struct {
	Term          uint64 `json:"term"`
	Success       bool   `json:"success"`
	MatchIndex    uint64 `json:"matchIndex"`
	ConflictIndex uint64 `json:"conflictIndex,omitempty"`
	ConflictTerm  uint64 `json:"conflictTerm,omitempty"`
}

// InstallSnapshotRequest transfers a full state machine image to a
// follower whose log is behind the leader's first retained entry.
type InstallSnapshotRequest struct {
	Term              uint64 `json:"term"`
	LeaderID          string `json:"leaderId"`
	LastIncludedIndex uint64 `json:"lastIncludedIndex"`
	LastIncludedTerm  uint64 `json:"lastIncludedTerm"`
	Configuration     []byte `json:"configuration,omitempty"`
	Data              []byte `json:"data"`
}

// InstallSnapshotResponse is the reply to InstallSnapshot.
type InstallSnapshotResponse struct {
	Term uint64 `json:"term"`
}

// RPCHandler is the inbound side of the transport contract: the engine
// registers itself so the transport can dispatch decoded RPCs. Handlers
// are safe for concurrent use; the engine serializes internally.
type RPCHandler interface {
	RequestVote(req *RequestVoteRequest) *RequestVoteResponse
	AppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse
	InstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse
}

// Transport is the outbound RPC collaborator. Sends are synchronous with
// the supplied context's deadline; an unreachable peer surfaces as an
// error which the replication layer retries, never as a protocol failure.
type Transport interface {
	RequestVote(ctx context.Context, target Server, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target Server, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, target Server, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)

	// Serve registers the handler for inbound RPCs and starts listening.
	Serve(h RPCHandler) error
	// Addr returns the local advertised address.
	Addr() string
	// Close shuts the transport down.
	Close() error
}
