package grpc

import (
    "crypto/tls"
    "context"
    "net"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-raft/pkg/raft"
)

// RaftTransport carries the consensus RPCs (RequestVote, AppendEntries,
// InstallSnapshot) between nodes over gRPC with the JSON codec. It
// implements raft.Transport: one listening server per node plus a cached
// client connection per peer via ConnManager.
type RaftTransport struct {
    bind    string
    timeout time.Duration
    srvTLS  *tls.Config
    cliTLS  *tls.Config

    lis net.Listener
    srv *grpc.Server
    cm  *ConnManager
}

// NewRaftTransport creates a transport bound to bind. timeout caps a
// single dial; per-RPC deadlines come from the caller's context.
func NewRaftTransport(bind string, timeout time.Duration) *RaftTransport {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &RaftTransport{bind: bind, timeout: timeout}
}

// UseServerTLS sets the credentials presented on the listening side.
// Server and client configs differ (GetCertificate vs GetClientCertificate
// with hot reload), so each side gets its own.
func (t *RaftTransport) UseServerTLS(cfg *tls.Config) *RaftTransport { t.srvTLS = cfg; return t }

// UseClientTLS sets the config used when dialing peers.
func (t *RaftTransport) UseClientTLS(cfg *tls.Config) *RaftTransport { t.cliTLS = cfg; return t }

// raftServer defines the methods exposed to peers.
type raftServer interface{
    RequestVote(ctx context.Context, in *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
    AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
    InstallSnapshot(ctx context.Context, in *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error)
}

type raftImpl struct{ h raft.RPCHandler }

func (r *raftImpl) RequestVote(_ context.Context, in *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
    if in == nil { in = &raft.RequestVoteRequest{} }
    return r.h.RequestVote(in), nil
}

func (r *raftImpl) AppendEntries(_ context.Context, in *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
    if in == nil { in = &raft.AppendEntriesRequest{} }
    return r.h.AppendEntries(in), nil
}

func (r *raftImpl) InstallSnapshot(_ context.Context, in *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
    if in == nil { in = &raft.InstallSnapshotRequest{} }
    return r.h.InstallSnapshot(in), nil
}

var _Raft_serviceDesc = grpc.ServiceDesc{
    ServiceName: "raft.v1.Raft",
    HandlerType: (*raftServer)(nil),
    Methods: []grpc.MethodDesc{
        { MethodName: "RequestVote", Handler: _Raft_RequestVote_Handler },
        { MethodName: "AppendEntries", Handler: _Raft_AppendEntries_Handler },
        { MethodName: "InstallSnapshot", Handler: _Raft_InstallSnapshot_Handler },
    },
}

func _Raft_RequestVote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(raft.RequestVoteRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).RequestVote(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.v1.Raft/RequestVote"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).RequestVote(ctx, req.(*raft.RequestVoteRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Raft_AppendEntries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(raft.AppendEntriesRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).AppendEntries(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.v1.Raft/AppendEntries"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).AppendEntries(ctx, req.(*raft.AppendEntriesRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Raft_InstallSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(raft.InstallSnapshotRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).InstallSnapshot(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.v1.Raft/InstallSnapshot"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).InstallSnapshot(ctx, req.(*raft.InstallSnapshotRequest))
    }
    return interceptor(ctx, in, info, handler)
}

// Serve starts listening and dispatches inbound consensus RPCs to h.
func (t *RaftTransport) Serve(h raft.RPCHandler) error {
    lis, err := net.Listen("tcp", t.bind)
    if err != nil { return err }
    t.lis = lis
    var opts []grpc.ServerOption
    opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 1 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if t.srvTLS != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(t.srvTLS))) }
    srv := grpc.NewServer(opts...)
    t.srv = srv
    srv.RegisterService(&_Raft_serviceDesc, &raftImpl{h: h})
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the actual listen address once serving, else the bind.
func (t *RaftTransport) Addr() string {
    if t.lis != nil { return t.lis.Addr().String() }
    return t.bind
}

// Close stops the server and all cached peer connections.
func (t *RaftTransport) Close() error {
    if t.srv != nil {
        t.srv.Stop()
        t.srv = nil
    }
    if t.lis != nil { _ = t.lis.Close(); t.lis = nil }
    if t.cm != nil { t.cm.Close(); t.cm = nil }
    return nil
}

func (t *RaftTransport) RequestVote(ctx context.Context, target raft.Server, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
    out := new(raft.RequestVoteResponse)
    if err := t.invoke(ctx, target.Addr, "/raft.v1.Raft/RequestVote", req, out); err != nil { return nil, err }
    return out, nil
}

func (t *RaftTransport) AppendEntries(ctx context.Context, target raft.Server, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
    out := new(raft.AppendEntriesResponse)
    if err := t.invoke(ctx, target.Addr, "/raft.v1.Raft/AppendEntries", req, out); err != nil { return nil, err }
    return out, nil
}

func (t *RaftTransport) InstallSnapshot(ctx context.Context, target raft.Server, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
    out := new(raft.InstallSnapshotResponse)
    if err := t.invoke(ctx, target.Addr, "/raft.v1.Raft/InstallSnapshot", req, out); err != nil { return nil, err }
    return out, nil
}

func (t *RaftTransport) invoke(ctx context.Context, addr, method string, in, out interface{}) error {
    if t.cm == nil {
        t.cm = NewConnManager(30*time.Second, t.dialCtx)
    }
    cc, rel, err := t.cm.Get(ctx, addr)
    if err != nil { return err }
    defer rel()
    return cc.Invoke(ctx, method, in, out)
}

func (t *RaftTransport) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    c := &Client{timeout: t.timeout, tlsCfg: t.cliTLS}
    return c.dialCtx(ctx, target)
}

var _ raft.Transport = (*RaftTransport)(nil)
