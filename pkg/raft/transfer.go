package raft

// transferState is the per-node owned leadership-transfer bookkeeping,
// replacing the original source's global transfer state/target statics.
type transferState struct {
	target    NodeID
	elapsedMS int
}

// TransferLeadership implements §4.11. A target of NoNode picks the peer
// with the highest match_index. Returns once the transfer is initiated;
// completion is asynchronous, observed by callers via RoleFollower after
// the higher term is adopted.
func (n *Node) TransferLeadership(target NodeID) error {
	if n.stopped {
		return ErrStopped
	}

	if n.role != RoleLeader {
		return ErrNotLeader
	}

	if target == NoNode {
		target = n.bestTransferTarget()
		if target == NoNode {
			return newError(StatusInvalidArg, "no eligible transfer target")
		}
	} else if !n.config.IsVoter(target) {
		return newError(StatusInvalidArg, "node %d is not a voter", target)
	}

	n.transfer = &transferState{target: target}
	n.logger.Info("node %d begins leadership transfer to %d", n.cfg.NodeID, target)

	n.sendAppendEntriesTo(target)
	n.checkTransferProgress()

	return nil
}

func (n *Node) bestTransferTarget() NodeID {
	best := NoNode
	var bestMatch LogIndex

	for _, p := range n.config.Peers(n.cfg.NodeID) {
		if m := n.matchIndex[p]; best == NoNode || m > bestMatch {
			bestMatch = m
			best = p
		}
	}

	return best
}

// checkTransferProgress is driven by Tick and by AppendEntries responses
// from the transfer target; it fires TimeoutNow once the target has fully
// caught up, and aborts after one election timeout without progress.
func (n *Node) checkTransferProgress() {
	if n.transfer == nil || n.role != RoleLeader {
		return
	}

	target := n.transfer.target

	if n.matchIndex[target] >= n.log.LastIndex() {
		n.send(target, &TimeoutNow{Term: n.currentTerm, LeaderID: n.cfg.NodeID})
		n.logger.Info("node %d sends TimeoutNow to %d", n.cfg.NodeID, target)
		n.transfer = nil
		return
	}

	if n.transfer.elapsedMS >= n.electionTimeoutMS {
		n.logger.Info("node %d aborts leadership transfer to %d (no progress)", n.cfg.NodeID, target)
		n.transfer = nil
	}
}

// handleTimeoutNow implements the target side of §4.11 step 4: start an
// election immediately, skipping the randomized wait and any PreVote
// round, since the current leader has already vouched for this node.
func (n *Node) handleTimeoutNow(req *TimeoutNow) error {
	if req.Term < n.currentTerm {
		return nil
	}

	if req.Term > n.currentTerm {
		n.currentTerm = req.Term
		n.votedFor = NoNode
	}

	n.logger.Info("node %d received TimeoutNow from %d, starting election immediately", n.cfg.NodeID, req.LeaderID)

	return n.becomeCandidate()
}
