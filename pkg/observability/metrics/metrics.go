package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Name:      "members_total",
        Help:      "Current number of known cluster members",
    })

    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Name:      "is_leader",
        Help:      "1 if this node is the leader, else 0",
    })

    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Name:      "leader_changes_total",
        Help:      "Total number of leadership acquisitions by this node",
    })

    CurrentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Name:      "current_term",
        Help:      "Current consensus term",
    })

    CommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Name:      "commit_index",
        Help:      "Highest log index known committed",
    })

    LastApplied = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Name:      "last_applied",
        Help:      "Highest log index applied to the state machine",
    })

    ElectionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Name:      "elections_started_total",
        Help:      "Total elections started by this node",
    })

    VotesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_raft",
        Name:      "votes_handled_total",
        Help:      "Vote requests handled by this node, by result",
    }, []string{"result"})

    ProposalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_raft",
        Name:      "proposals_total",
        Help:      "Command proposals received, by result",
    }, []string{"result"})

    JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_raft",
        Name:      "join_requests_total",
        Help:      "Total join requests handled by this node",
    }, []string{"result"})

    // Replication metrics (leader side)
    AppendsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_raft",
        Subsystem: "repl",
        Name:      "appends_sent_total",
        Help:      "AppendEntries rounds sent, by result",
    }, []string{"result"})
    ReplicationLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Subsystem: "repl",
        Name:      "lag",
        Help:      "Log entries not yet replicated, per peer",
    }, []string{"peer"})
    SnapshotsSent = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Subsystem: "repl",
        Name:      "snapshots_sent_total",
        Help:      "Snapshots shipped to lagging peers",
    })
    SnapshotsInstalled = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Subsystem: "repl",
        Name:      "snapshots_installed_total",
        Help:      "Snapshots restored from a leader",
    })
    SnapshotsTaken = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Name:      "snapshots_taken_total",
        Help:      "Local log compactions performed",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_raft",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_raft",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ClusterMembers)
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(CurrentTerm)
        prometheus.MustRegister(CommitIndex)
        prometheus.MustRegister(LastApplied)
        prometheus.MustRegister(ElectionsStarted)
        prometheus.MustRegister(VotesHandled)
        prometheus.MustRegister(ProposalsTotal)
        prometheus.MustRegister(JoinRequests)
        prometheus.MustRegister(AppendsSent)
        prometheus.MustRegister(ReplicationLag)
        prometheus.MustRegister(SnapshotsSent)
        prometheus.MustRegister(SnapshotsInstalled)
        prometheus.MustRegister(SnapshotsTaken)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
