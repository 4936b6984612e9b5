package raft

// createSnapshot captures state up to lastApplied via the registered
// snapshot callback (the per-node field that replaces the original
// source's g_snapshot_cb global), writes it atomically, and compacts the
// in-memory and on-disk log prefixes.
func (n *Node) createSnapshot() error {
	if n.cfg.SnapshotFn == nil || n.lastApplied == 0 {
		return nil
	}

	index := n.lastApplied
	term := n.log.TermAt(index)

	data, err := n.cfg.SnapshotFn(index)
	if err != nil {
		return wrapError(StatusIoError, err, "snapshot callback failed at index %d", index)
	}

	if err := n.store.SaveSnapshot(index, term, data); err != nil {
		return wrapError(StatusIoError, err, "cannot persist snapshot at index %d", index)
	}

	n.log.TruncateBefore(index + 1)
	if err := n.store.TruncateLogBefore(index+1, index, term); err != nil {
		return wrapError(StatusIoError, err, "cannot compact on-disk log before %d", index+1)
	}

	n.entriesSinceSnapshot = 0
	n.logger.Info("node %d created snapshot at index %d (term %d)", n.cfg.NodeID, index, term)

	return nil
}

// maybeAutoCompact fires a snapshot once enough entries have accumulated
// since the last one; a no-op when no callback is registered.
func (n *Node) maybeAutoCompact() {
	if n.cfg.SnapshotFn == nil {
		return
	}

	if n.entriesSinceSnapshot <= n.cfg.AutoCompactionThreshold {
		return
	}

	if err := n.createSnapshot(); err != nil {
		n.logger.Error("auto-compaction failed on node %d: %v", n.cfg.NodeID, err)
	}
}

func (n *Node) sendInstallSnapshotTo(peer NodeID) {
	data, err := n.store.LoadSnapshotData()
	if err != nil {
		n.logger.Error("node %d cannot load snapshot to replicate to %d: %v", n.cfg.NodeID, peer, err)
		return
	}

	req := &InstallSnapshotRequest{
		Term:      n.currentTerm,
		LeaderID:  n.cfg.NodeID,
		LastIndex: n.log.BaseIndex(),
		LastTerm:  n.log.BaseTerm(),
		Offset:    0,
		Done:      true,
		Data:      data,
	}

	n.send(peer, req)
}

// handleInstallSnapshot implements §4.7's InstallSnapshot acceptance path.
// Simplified to a single chunk (Offset always 0, Done always true), as
// spec.md explicitly allows.
func (n *Node) handleInstallSnapshot(req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	if req.Term > n.currentTerm {
		if err := n.stepDown(req.Term); err != nil {
			return nil, err
		}
	}

	if req.Term < n.currentTerm {
		return &InstallSnapshotResponse{Term: n.currentTerm, Success: false}, nil
	}

	n.resetElectionTimer()
	n.leaderID = req.LeaderID
	n.role = RoleFollower

	if err := n.store.SaveSnapshot(req.LastIndex, req.LastTerm, req.Data); err != nil {
		return nil, wrapError(StatusIoError, err, "cannot persist installed snapshot at index %d", req.LastIndex)
	}

	n.log.resetToSnapshot(req.LastIndex, req.LastTerm)
	if err := n.store.ResetLogToSnapshot(req.LastIndex, req.LastTerm); err != nil {
		return nil, wrapError(StatusIoError, err, "cannot reset on-disk log to snapshot at index %d", req.LastIndex)
	}

	if req.LastIndex > n.commitIndex {
		n.commitIndex = req.LastIndex
	}
	if req.LastIndex > n.lastApplied {
		n.lastApplied = req.LastIndex
	}

	if n.cfg.RestoreFn != nil {
		n.cfg.RestoreFn(req.Data)
	}

	n.logger.Info("node %d installed snapshot at index %d (term %d)", n.cfg.NodeID, req.LastIndex, req.LastTerm)

	return &InstallSnapshotResponse{Term: n.currentTerm, Success: true}, nil
}

func (n *Node) handleInstallSnapshotResponse(from NodeID, resp *InstallSnapshotResponse) error {
	if resp.Term > n.currentTerm {
		return n.stepDown(resp.Term)
	}

	if n.role != RoleLeader || resp.Term != n.currentTerm || !resp.Success {
		return nil
	}

	n.matchIndex[from] = n.log.BaseIndex()
	n.nextIndex[from] = n.log.BaseIndex() + 1

	if n.log.BaseIndex() < n.log.LastIndex() {
		n.sendAppendEntriesTo(from)
	}

	return nil
}
