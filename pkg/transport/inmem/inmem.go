// Package inmem provides an in-process consensus transport for tests.
// A Network routes RPCs between registered nodes and can partition or
// isolate members to exercise election and replication edge cases.
package inmem

import (
	"context"
	"errors"
	"sync"

	"github.com/amirimatin/go-raft/pkg/raft"
)

// ErrUnreachable is returned when the target is absent, stopped, or cut
// off by an injected partition.
var ErrUnreachable = errors.New("inmem: peer unreachable")

// Network routes RPCs between in-process transports.
type Network struct {
	mu       sync.RWMutex
	nodes    map[string]*Transport // keyed by address
	cut      map[[2]string]bool    // directional links severed
	isolated map[string]bool
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		nodes:    make(map[string]*Transport),
		cut:      make(map[[2]string]bool),
		isolated: make(map[string]bool),
	}
}

// Transport returns a transport attached to this network at addr.
func (n *Network) Transport(addr string) *Transport {
	t := &Transport{net: n, addr: addr}
	n.mu.Lock()
	n.nodes[addr] = t
	n.mu.Unlock()
	return t
}

// Disconnect severs both directions between a and b.
func (n *Network) Disconnect(a, b string) {
	n.mu.Lock()
	n.cut[[2]string{a, b}] = true
	n.cut[[2]string{b, a}] = true
	n.mu.Unlock()
}

// Connect restores both directions between a and b.
func (n *Network) Connect(a, b string) {
	n.mu.Lock()
	delete(n.cut, [2]string{a, b})
	delete(n.cut, [2]string{b, a})
	n.mu.Unlock()
}

// Isolate cuts addr off from every peer.
func (n *Network) Isolate(addr string) {
	n.mu.Lock()
	n.isolated[addr] = true
	n.mu.Unlock()
}

// Heal removes every injected fault.
func (n *Network) Heal() {
	n.mu.Lock()
	n.cut = make(map[[2]string]bool)
	n.isolated = make(map[string]bool)
	n.mu.Unlock()
}

func (n *Network) route(from, to string) (raft.RPCHandler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.isolated[from] || n.isolated[to] || n.cut[[2]string{from, to}] {
		return nil, ErrUnreachable
	}
	t, ok := n.nodes[to]
	if !ok || t.handler() == nil {
		return nil, ErrUnreachable
	}
	return t.handler(), nil
}

// Transport implements raft.Transport against a Network.
type Transport struct {
	net  *Network
	addr string

	mu     sync.RWMutex
	h      raft.RPCHandler
	closed bool
}

func (t *Transport) handler() raft.RPCHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil
	}
	return t.h
}

func (t *Transport) Serve(h raft.RPCHandler) error {
	t.mu.Lock()
	t.h = h
	t.mu.Unlock()
	return nil
}

func (t *Transport) Addr() string { return t.addr }

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) RequestVote(ctx context.Context, target raft.Server, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	h, err := t.net.route(t.addr, target.Addr)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.RequestVote(req), nil
}

func (t *Transport) AppendEntries(ctx context.Context, target raft.Server, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	h, err := t.net.route(t.addr, target.Addr)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.AppendEntries(req), nil
}

func (t *Transport) InstallSnapshot(ctx context.Context, target raft.Server, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	h, err := t.net.route(t.addr, target.Addr)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.InstallSnapshot(req), nil
}

var _ raft.Transport = (*Transport)(nil)
