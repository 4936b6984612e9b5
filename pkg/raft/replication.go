package raft

// appendAndReplicate is the shared leader-side path for both client
// proposals and internally generated Config entries: append to the log,
// persist it, then fan out AppendEntries immediately rather than waiting
// for the next heartbeat.
func (n *Node) appendAndReplicate(kind EntryKind, payload []byte) (LogIndex, error) {
	if n.role != RoleLeader {
		return 0, ErrNotLeader
	}

	index := n.log.Append(n.currentTerm, kind, payload)

	entry, _ := n.log.Get(index)
	if err := n.store.AppendLogEntry(entry); err != nil {
		n.log.TruncateAfter(index - 1)
		return 0, wrapError(StatusIoError, err, "cannot persist entry %d", index)
	}

	n.matchIndex[n.cfg.NodeID] = index

	for _, p := range n.config.Peers(n.cfg.NodeID) {
		n.sendAppendEntriesTo(p)
	}

	if len(n.config.Peers(n.cfg.NodeID)) == 0 {
		if err := n.advanceCommitIndex(); err != nil {
			return index, err
		}
		if _, err := n.pumpApply(1 << 30); err != nil {
			return index, err
		}
	}

	return index, nil
}

func (n *Node) sendHeartbeats() {
	for _, p := range n.config.Peers(n.cfg.NodeID) {
		n.sendAppendEntriesTo(p)
	}
}

// sendAppendEntriesTo replicates to a single peer, diverting to
// InstallSnapshot when the peer has fallen behind the in-memory log's base.
func (n *Node) sendAppendEntriesTo(peer NodeID) {
	next := n.nextIndex[peer]
	if next <= n.log.BaseIndex() {
		n.sendInstallSnapshotTo(peer)
		return
	}

	prev := next - 1
	prevTerm := n.log.TermAt(prev)

	entries := n.entriesFrom(next)

	req := &AppendEntriesRequest{
		Term:         n.currentTerm,
		LeaderID:     n.cfg.NodeID,
		PrevLogIndex: prev,
		PrevLogTerm:  prevTerm,
		LeaderCommit: n.commitIndex,
		Entries:      entries,
	}

	n.send(peer, req)
}

func (n *Node) entriesFrom(next LogIndex) []Entry {
	last := n.log.LastIndex()
	if next > last {
		return nil
	}

	var entries []Entry
	count := 0
	for i := next; i <= last; i++ {
		if n.cfg.MaxEntriesPerAppend > 0 && count >= n.cfg.MaxEntriesPerAppend {
			break
		}
		entry, ok := n.log.Get(i)
		if !ok {
			break
		}
		entries = append(entries, entry)
		count++
	}

	return entries
}

// handleAppendEntries is the single unified receiver path used for both
// heartbeats and log-carrying requests (§9, OQ-2): it always runs the
// consistency check and always updates commit_index from leader_commit.
func (n *Node) handleAppendEntries(req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	if req.Term > n.currentTerm {
		if err := n.stepDown(req.Term); err != nil {
			return nil, err
		}
	}

	if req.Term < n.currentTerm {
		return &AppendEntriesResponse{Term: n.currentTerm, Success: false, MatchIndex: n.log.LastIndex()}, nil
	}

	n.resetElectionTimer()
	n.leaderID = req.LeaderID
	if n.role == RoleCandidate || n.role == RolePreCandidate {
		n.becomeFollower(req.LeaderID)
	}
	n.role = RoleFollower

	if req.PrevLogIndex > 0 && n.log.TermAt(req.PrevLogIndex) != req.PrevLogTerm {
		return &AppendEntriesResponse{Term: n.currentTerm, Success: false, MatchIndex: n.log.LastIndex()}, nil
	}

	lastNew := req.PrevLogIndex

	for _, e := range req.Entries {
		existing, found := n.log.Get(e.Index)
		if found && existing.Term != e.Term {
			n.log.TruncateAfter(e.Index - 1)
			if err := n.store.TruncateLogAfter(e.Index - 1); err != nil {
				return nil, wrapError(StatusIoError, err, "cannot truncate log after %d", e.Index-1)
			}
			found = false
		}

		if !found {
			n.log.appendExisting(e)
			if err := n.store.AppendLogEntry(e); err != nil {
				return nil, wrapError(StatusIoError, err, "cannot persist entry %d", e.Index)
			}
		}

		lastNew = e.Index
	}

	if req.LeaderCommit > n.commitIndex {
		newCommit := req.LeaderCommit
		if lastNew < newCommit {
			newCommit = lastNew
		}
		if newCommit > n.log.LastIndex() {
			newCommit = n.log.LastIndex()
		}
		if newCommit > n.commitIndex {
			n.commitIndex = newCommit
		}
	}

	if _, err := n.pumpApply(1 << 30); err != nil {
		return nil, err
	}

	return &AppendEntriesResponse{Term: n.currentTerm, Success: true, MatchIndex: n.log.LastIndex()}, nil
}

func (n *Node) handleAppendEntriesResponse(from NodeID, resp *AppendEntriesResponse) error {
	if resp.Term > n.currentTerm {
		return n.stepDown(resp.Term)
	}

	if n.role != RoleLeader || resp.Term != n.currentTerm {
		return nil
	}

	n.ackRead(from)

	if !resp.Success {
		if n.nextIndex[from] > 1 {
			n.nextIndex[from]--
		}
		n.sendAppendEntriesTo(from)
		return nil
	}

	if resp.MatchIndex > n.matchIndex[from] {
		n.matchIndex[from] = resp.MatchIndex
	}
	n.nextIndex[from] = n.matchIndex[from] + 1

	if err := n.advanceCommitIndex(); err != nil {
		return err
	}

	if _, err := n.pumpApply(1 << 30); err != nil {
		return err
	}

	if n.transfer != nil && n.transfer.target == from {
		n.checkTransferProgress()
	}

	if n.matchIndex[from] < n.log.LastIndex() {
		n.sendAppendEntriesTo(from)
	}

	return nil
}
