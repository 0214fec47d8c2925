//go:build integration

package integration

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-raft/pkg/kvstate"
    httpjson "github.com/amirimatin/go-raft/pkg/transport/httpjson"
    "github.com/amirimatin/go-raft/pkg/transport"
)

func TestPropose_ForwardToLeader(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()

    n1, n2, n3 := mustStartThreeNodes(t, ctx)
    defer n3.Close(); defer n2.Close(); defer n1.Close()

    cli := httpjson.NewClient(3 * time.Second)
    // Wait until leader n1 is ready
    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, "127.0.0.1:17946")
        if err != nil { return err }
        if !s.Healthy || s.LeaderID != "n1" { return errNotYet }
        return nil
    })

    // Join voters via leader mgmt (n1)
    joinCtx, cancelJoin := context.WithTimeout(ctx, 5*time.Second)
    if _, err := cli.PostJoin(joinCtx, "127.0.0.1:17946", transport.JoinRequest{ID: "n2", RaftAddr: "127.0.0.1:9522"}); err != nil { cancelJoin(); t.Fatalf("join n2: %v", err) }
    if _, err := cli.PostJoin(joinCtx, "127.0.0.1:17946", transport.JoinRequest{ID: "n3", RaftAddr: "127.0.0.1:9523"}); err != nil { cancelJoin(); t.Fatalf("join n3: %v", err) }
    cancelJoin()

    // Propose through a follower's management endpoint; it must forward
    // to the leader and come back with a committed index.
    cmd := kvstate.Encode(kvstate.Command{Op: "set", Key: "greeting", Value: "hello"})
    var index uint64
    waitUntil(t, 20*time.Second, func() error {
        pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
        defer pcancel()
        resp, err := cli.PostPropose(pctx, "127.0.0.1:18946", transport.ProposeRequest{Data: cmd})
        if err != nil || resp.Index == 0 { return errNotYet }
        index = resp.Index
        return nil
    })
    if index == 0 { t.Fatal("propose returned no index") }

    // A second write through the leader directly also commits, at a
    // higher index.
    resp, err := cli.PostPropose(ctx, "127.0.0.1:17946", transport.ProposeRequest{Data: kvstate.Encode(kvstate.Command{Op: "set", Key: "greeting", Value: "again"})})
    if err != nil { t.Fatalf("propose via leader: %v", err) }
    if resp.Index <= index { t.Fatalf("index did not advance: %d <= %d", resp.Index, index) }
}
