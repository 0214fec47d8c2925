package main

import (
    "log"

    "github.com/spf13/cobra"

    clustercli "github.com/amirimatin/go-raft/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "raftctl",
        Short:         "go-raft node and cluster management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all cluster commands from pkg/cli for reuse in services
    clustercli.AddAll(root)
    return root
}
