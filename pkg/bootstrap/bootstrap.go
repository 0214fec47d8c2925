package bootstrap

import (
    "context"
    "crypto/tls"
    "log"
    "os"
    "path/filepath"
    "time"

    "github.com/amirimatin/go-raft/pkg/cluster"
    "github.com/amirimatin/go-raft/pkg/discovery"
    dDNS "github.com/amirimatin/go-raft/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-raft/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-raft/pkg/discovery/static"
    "github.com/amirimatin/go-raft/pkg/kvstate"
    ml "github.com/amirimatin/go-raft/pkg/membership/memberlist"
    "github.com/amirimatin/go-raft/pkg/raft"
    tlsx "github.com/amirimatin/go-raft/pkg/security/tlsconfig"
    "github.com/amirimatin/go-raft/pkg/storage/boltstore"
    "github.com/amirimatin/go-raft/pkg/storage/inmem"
    "github.com/amirimatin/go-raft/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-raft/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-raft/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a cluster node with sensible
// defaults. Applications embed the node by providing this structure and
// calling Build/Run.
type Config struct {
    // Identity and addresses
    NodeID   string
    RaftAddr string // consensus RPC bind/advertise, e.g. "host:9521"
    MemBind  string // membership bind host:port
    MemAdv   string // optional advertise host:port

    // Management API (status/join/leave/propose/metrics)
    MgmtAddr  string // host:port for management API (HTTP or gRPC)
    MgmtProto string // "http" (default) or "grpc"

    // Discovery settings
    DiscoveryKind string        // "static" (default), "dns", or "file"
    SeedsCSV      string        // used when DiscoveryKind=static
    DNSNamesCSV   string        // used when kind=dns
    DNSPort       int           // used when kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file

    // Persistence and bootstrap
    DataDir   string // empty → in-memory stores
    Bootstrap bool   // single-node bootstrap: seed the configuration with self

    // Consensus tuning (optional, zero → engine defaults)
    HeartbeatInterval  time.Duration
    ElectionTimeoutMin time.Duration
    ElectionTimeoutMax time.Duration

    // AutoReconfigure lets the leader add/remove voters from gossip events.
    AutoReconfigure bool
    // JoinAsNonvoter requests non-voting membership on Join.
    JoinAsNonvoter bool

    // TLS (optional) for management API and consensus RPC
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger

    // StateMachine hosts the replicated log. If nil, an in-memory
    // key/value store is used.
    StateMachine raft.StateMachine

    // Optional callbacks
    OnLeaderChange  func(info raft.LeaderInfo)
    OnElectionStart func()
    OnElectionEnd   func(info raft.LeaderInfo)
}

// Build assembles a cluster.Cluster from Config without starting it.
func Build(cfg Config) (*cluster.Cluster, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }

    // TLS materials are shared by management and consensus transports.
    var srvTLS, cliTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
        // Prefer hot-reload configs to allow manual rotation by replacing files
        if s, err := topts.ServerHotReload(); err == nil { srvTLS = s } else { return nil, err }
        if c, err := topts.ClientHotReload(); err == nil { cliTLS = c } else { return nil, err }
    }

    // Consensus transport
    tr := mgmtgrpc.NewRaftTransport(cfg.RaftAddr, 3*time.Second)
    if srvTLS != nil { tr.UseServerTLS(srvTLS) }
    if cliTLS != nil { tr.UseClientTLS(cliTLS) }

    // Storage: durable BoltDB when DataDir is set, in-memory otherwise.
    var logs raft.LogStore
    var stable raft.StableStore
    if cfg.DataDir != "" {
        if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil { return nil, err }
        bs, err := boltstore.New(filepath.Join(cfg.DataDir, "raft.db"))
        if err != nil { return nil, err }
        logs, stable = bs, bs
    } else {
        ms := inmem.New()
        logs, stable = ms, ms
    }

    fsm := cfg.StateMachine
    if fsm == nil { fsm = kvstate.New() }

    var servers []raft.Server
    if cfg.Bootstrap {
        servers = []raft.Server{{ID: cfg.NodeID, Addr: cfg.RaftAddr, Suffrage: raft.Voter}}
    }
    node, err := raft.NewNode(raft.Options{
        ID:                 cfg.NodeID,
        Servers:            servers,
        HeartbeatInterval:  cfg.HeartbeatInterval,
        ElectionTimeoutMin: cfg.ElectionTimeoutMin,
        ElectionTimeoutMax: cfg.ElectionTimeoutMax,
        Logger:             cfg.Logger,
    }, fsm, logs, stable, tr)
    if err != nil { return nil, err }

    // Discovery backend
    var disc discovery.Discovery
    switch cfg.DiscoveryKind {
    case "dns":
        names := dStatic.Parse(cfg.DNSNamesCSV)
        opts := dDNS.Options{Names: names, Port: cfg.DNSPort}
        if cfg.DiscRefresh > 0 { opts.Refresh = cfg.DiscRefresh }
        disc = dDNS.New(opts)
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
        if cfg.DiscRefresh > 0 { opts.Refresh = cfg.DiscRefresh }
        disc = dFile.New(opts)
    default:
        seeds := dStatic.Parse(cfg.SeedsCSV)
        disc = dStatic.New(seeds...)
    }

    // Membership (memberlist)
    // Metadata carries the management and consensus addresses so peers can
    // proxy to the leader and reconfigure from gossip.
    memMeta := map[string]string{}
    if cfg.MgmtAddr != "" { memMeta["mgmt"] = cfg.MgmtAddr }
    if cfg.RaftAddr != "" { memMeta["raft"] = cfg.RaftAddr }
    mem, err := ml.New(ml.Options{NodeID: cfg.NodeID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Logger: cfg.Logger, Meta: memMeta})
    if err != nil { return nil, err }

    // Management API
    var srv transport.RPCServer
    var cli transport.RPCClient
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        c := mgmtgrpc.NewClient(3 * time.Second)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        srv, cli = s, c
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        c := httpjson.NewClient(3 * time.Second)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        srv, cli = s, c
    }

    opts := cluster.Options{
        NodeID:          cluster.NodeID(cfg.NodeID),
        Transport:       tr,
        Discovery:       disc,
        Logger:          cfg.Logger,
        Node:            node,
        Membership:      mem,
        RPCServer:       srv,
        RPCClient:       cli,
        AutoReconfigure: cfg.AutoReconfigure,
        JoinAsNonvoter:  cfg.JoinAsNonvoter,
        OnLeaderChange:  cfg.OnLeaderChange,
        OnElectionStart: cfg.OnElectionStart,
        OnElectionEnd:   cfg.OnElectionEnd,
    }
    return cluster.New(context.Background(), opts)
}

// Run builds and starts the cluster, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
    cl, err := Build(cfg)
    if err != nil { return nil, err }
    if err := cl.Start(ctx); err != nil { return nil, err }
    return cl, nil
}
