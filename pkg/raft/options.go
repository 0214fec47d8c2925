package raft

import (
	"log"
	"time"
)

// Options configure a Node. Collaborators (stores, transport, state
// machine) are passed to NewNode directly; Options carries identity and
// tunables only.
type Options struct {
	// ID is the unique identifier of this node within the cluster.
	ID string

	// Servers is the initial configuration, including this node. It is
	// only used when the log contains no configuration entry yet; after
	// that, membership flows exclusively through committed Configuration
	// entries.
	Servers []Server

	// HeartbeatInterval is the leader's replication tick. Zero means 50ms.
	HeartbeatInterval time.Duration

	// ElectionTimeoutMin/Max bound the randomized election timeout. Zero
	// means 150ms/300ms. Jitter between the bounds avoids split votes.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// MaxAppendEntries caps entries per AppendEntries RPC. Zero means 64.
	MaxAppendEntries int

	// RPCTimeout bounds a single outbound RPC. Zero means 3x heartbeat.
	RPCTimeout time.Duration

	// Logger is used for operational messages. If nil, log.Default().
	Logger *log.Logger
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.ID == "" {
		return ErrInvalidOptions
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 50 * time.Millisecond
	}
	if o.ElectionTimeoutMin == 0 {
		o.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if o.ElectionTimeoutMax == 0 {
		o.ElectionTimeoutMax = 2 * o.ElectionTimeoutMin
	}
	if o.ElectionTimeoutMin <= o.HeartbeatInterval {
		return ErrInvalidOptions
	}
	if o.ElectionTimeoutMax < o.ElectionTimeoutMin {
		return ErrInvalidOptions
	}
	if o.MaxAppendEntries == 0 {
		o.MaxAppendEntries = 64
	}
	if o.MaxAppendEntries < 0 {
		return ErrInvalidOptions
	}
	if o.RPCTimeout == 0 {
		o.RPCTimeout = 3 * o.HeartbeatInterval
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}
