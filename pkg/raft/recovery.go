package raft

// recover implements §4.8: load snapshot metadata (if any), hand its state
// to the state machine, load persistent term/vote, then replay the log
// file into memory. Absence of a state file or snapshot is fine for a
// fresh node; a corrupt one is fatal — the node refuses to start.
func (n *Node) recover() error {
	lastIndex, lastTerm, found, err := n.store.LoadSnapshotMeta()
	if err != nil {
		return err
	}

	if found {
		n.log.resetToSnapshot(lastIndex, lastTerm)
		n.commitIndex = lastIndex
		n.lastApplied = lastIndex

		if n.cfg.RestoreFn != nil {
			data, err := n.store.LoadSnapshotData()
			if err != nil {
				return err
			}
			n.cfg.RestoreFn(data)
		}
	}

	term, votedFor, found, err := n.store.LoadState()
	if err != nil {
		return err
	}
	if found {
		n.currentTerm = term
		n.votedFor = votedFor
	}

	baseIndex, _ := n.store.LogHeader()
	expected := baseIndex + 1

	err = n.store.IterateLog(func(e Entry) error {
		if e.Index != expected {
			return newError(StatusCorruption, "log replay expected index %d, got %d", expected, e.Index)
		}
		n.log.appendExisting(e)
		expected++
		return nil
	})
	if err != nil {
		return err
	}

	return nil
}
