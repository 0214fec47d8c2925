package raft

import "errors"

var (
	// ErrNotLeader is returned when a write is attempted on a node that is
	// not the current leader. Callers should redirect to the leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrLeadershipLost is returned for proposals that were appended but
	// lost their leader before the entry committed. The entry may still
	// commit under a future leader.
	ErrLeadershipLost = errors.New("raft: leadership lost before commit")

	// ErrNodeStopped is returned when an operation is attempted on a
	// stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrNodeFailed is returned after a durability failure has taken the
	// node out of the consensus group.
	ErrNodeFailed = errors.New("raft: node failed (durability)")

	// ErrConfigInFlight is returned when a membership change is requested
	// while a previous configuration entry has not committed yet.
	ErrConfigInFlight = errors.New("raft: configuration change in flight")

	// ErrUnknownServer is returned when removing a server that is not part
	// of the current configuration.
	ErrUnknownServer = errors.New("raft: server not in configuration")

	// ErrLogNotFound is returned by LogStore implementations when the
	// requested index is not retained.
	ErrLogNotFound = errors.New("raft: log entry not found")

	// ErrInvalidOptions is returned when node options fail validation.
	ErrInvalidOptions = errors.New("raft: invalid options")
)
