package raft

import (
	"github.com/amirimatin/go-raft/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-raft/pkg/observability/metrics"
)

// Snapshot captures the state machine at lastApplied and compacts the
// log prefix it covers. The capture happens outside the serialization
// point; only the cutover back in does. Safe on any role.
func (n *Node) Snapshot() error {
	n.mu.Lock()
	if err := n.operationalLocked(); err != nil {
		n.mu.Unlock()
		return err
	}
	if n.fsm == nil || n.lastApplied == 0 || n.lastApplied <= n.snapshotIndex {
		n.mu.Unlock()
		return nil
	}
	cut := n.lastApplied
	cutTerm, err := n.termAtLocked(cut)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	n.mu.Unlock()

	// The apply loop may advance past cut while we capture; that only
	// makes the snapshot conservative, never wrong.
	data, err := n.fsm.Snapshot()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.operationalLocked(); err != nil {
		return err
	}
	if cut <= n.snapshotIndex {
		return nil
	}
	// Blob first, markers after: a crash between the two leaves the old
	// markers pointing at a newer blob, which restore tolerates.
	if err := n.stable.Set(keySnapshotData, data); err != nil {
		n.failLocked(err)
		return err
	}
	if err := n.stable.Set(keySnapshotConf, encodeConfiguration(n.config.committed)); err != nil {
		n.failLocked(err)
		return err
	}
	if err := n.stable.SetUint64(keySnapshotIndex, cut); err != nil {
		n.failLocked(err)
		return err
	}
	if err := n.stable.SetUint64(keySnapshotTerm, cutTerm); err != nil {
		n.failLocked(err)
		return err
	}
	n.snapshotIndex = cut
	n.snapshotTerm = cutTerm

	lo := n.firstIndex
	if lo == 0 {
		lo = 1
	}
	if lo <= cut {
		if err := n.logs.DeleteRange(lo, cut); err != nil {
			n.failLocked(err)
			return err
		}
	}
	if cut >= n.lastIndex {
		n.firstIndex = 0
	} else {
		n.firstIndex = cut + 1
	}
	obsmetrics.SnapshotsTaken.Inc()
	logutil.Infof(n.logger, "raft node %s compacted log through index %d (term=%d)", n.opts.ID, cut, cutTerm)
	return nil
}
