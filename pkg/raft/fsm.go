package raft

// StateMachine is the host-supplied application state. Apply is invoked
// strictly in commit order, at-least-once: after a restart the engine
// replays committed entries above the snapshot boundary, so hosts must be
// idempotent or track applied indexes themselves.
type StateMachine interface {
	// Apply executes a committed EntryCommand and returns an opaque
	// result delivered to the proposer (leader side only).
	Apply(entry *LogEntry) interface{}

	// Snapshot captures the current state as an opaque blob used to
	// bring far-behind followers up to date.
	Snapshot() ([]byte, error)

	// Restore replaces the current state with a snapshot blob.
	Restore(data []byte) error
}

// applyLoop drains committed entries into the state machine. It is the
// only goroutine that advances lastApplied, which keeps application
// strictly ordered even while commitIndex moves concurrently.
func (n *Node) applyLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.applyCh:
		}
		n.applyCommitted()
	}
}

func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		index := n.lastApplied + 1
		entry, err := n.logs.GetLog(index)
		if err != nil {
			// A compacted prefix means a snapshot already covered this
			// range; skip the cursor forward.
			if index <= n.snapshotIndex {
				n.lastApplied = n.snapshotIndex
				n.checkpointAppliedLocked()
				n.mu.Unlock()
				continue
			}
			n.logf("apply: read entry %d: %v", index, err)
			n.mu.Unlock()
			return
		}
		pending := n.pending[index]
		delete(n.pending, index)
		n.mu.Unlock()

		var result interface{}
		if entry.Kind == EntryCommand && n.fsm != nil {
			result = n.fsm.Apply(entry)
		}

		n.mu.Lock()
		n.lastApplied = index
		n.checkpointAppliedLocked()
		n.mu.Unlock()
		n.observeApplied(index)

		if pending != nil {
			pending.resolve(result, nil)
		}
	}
}
