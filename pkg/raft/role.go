package raft

// Role is the replica's position in the Raft state machine.
type Role uint8

const (
	RoleFollower Role = iota
	RolePreCandidate
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RolePreCandidate:
		return "pre-candidate"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// NoNode is the sentinel NodeID meaning "no node" (an unset voted_for or
// leader_id, or a leadership transfer with no explicit target).
const NoNode NodeID = -1

// becomeFollower drops to Follower without touching term or vote; used when
// a Candidate sees an AppendEntries from a legitimate leader at its own term.
func (n *Node) becomeFollower(leader NodeID) {
	n.role = RoleFollower
	n.leaderID = leader
	n.votesGranted = nil
	n.preVotesGranted = nil
	n.resetElectionTimer()
	n.logger.Debug(1, "node %d becomes follower at term %d (leader %d)", n.cfg.NodeID, n.currentTerm, leader)
}

// stepDown implements the term-comparison rule from §4.4: any RPC carrying
// a higher term forces adoption of that term, clears the vote, and reverts
// to Follower, persisted before any reply can disclose the new term.
func (n *Node) stepDown(term Term) error {
	wasLeader := n.role == RoleLeader

	n.currentTerm = term
	n.votedFor = NoNode
	n.role = RoleFollower
	n.leaderID = NoNode
	n.votesGranted = nil
	n.preVotesGranted = nil

	if err := n.persistState(); err != nil {
		return err
	}

	n.resetElectionTimer()

	if wasLeader {
		n.cancelPendingReads(ErrNotLeader)
		n.transfer = nil
		n.logger.Info("node %d steps down from leader at term %d", n.cfg.NodeID, term)
	}

	return nil
}

func (n *Node) becomePreCandidate() {
	n.role = RolePreCandidate
	n.leaderID = NoNode
	n.preVotesGranted = map[NodeID]bool{n.cfg.NodeID: true}
	n.resetElectionTimer()
	n.logger.Debug(1, "node %d becomes pre-candidate for term %d", n.cfg.NodeID, n.currentTerm+1)
	n.sendPreVoteToAll()
}

func (n *Node) becomeCandidate() error {
	n.role = RoleCandidate
	n.leaderID = NoNode
	n.currentTerm++
	n.votedFor = n.cfg.NodeID
	n.votesGranted = map[NodeID]bool{n.cfg.NodeID: true}
	n.preVotesGranted = nil

	if err := n.persistState(); err != nil {
		return err
	}

	n.resetElectionTimer()
	n.logger.Info("node %d becomes candidate for term %d", n.cfg.NodeID, n.currentTerm)
	n.sendRequestVoteToAll()

	return n.maybeWinElection()
}

func (n *Node) becomeLeader() error {
	n.role = RoleLeader
	n.leaderID = n.cfg.NodeID
	n.votesGranted = nil
	n.preVotesGranted = nil

	last := n.log.LastIndex()
	n.nextIndex = make(map[NodeID]LogIndex)
	n.matchIndex = make(map[NodeID]LogIndex)
	for _, p := range n.config.Peers(n.cfg.NodeID) {
		n.nextIndex[p] = last + 1
		n.matchIndex[p] = 0
	}

	n.logger.Info("node %d becomes leader at term %d", n.cfg.NodeID, n.currentTerm)

	index := n.log.Append(n.currentTerm, EntryNoop, nil)
	entry, _ := n.log.Get(index)
	if err := n.store.AppendLogEntry(entry); err != nil {
		n.log.TruncateAfter(index - 1)
		return wrapError(StatusIoError, err, "cannot persist no-op entry %d", index)
	}
	n.matchIndex[n.cfg.NodeID] = index

	n.resetHeartbeatTimer()
	n.sendHeartbeats()

	return nil
}

// maybeWinElection handles the single-node-cluster case where a candidate's
// own vote is already a majority.
func (n *Node) maybeWinElection() error {
	if n.role != RoleCandidate {
		return nil
	}

	if len(n.votesGranted) >= n.config.QuorumSize() {
		return n.becomeLeader()
	}

	return nil
}
