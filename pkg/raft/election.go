package raft

// isUpToDate implements the §4.5 up-to-date check: a candidate's log is at
// least as up-to-date as the receiver's iff its last entry has a strictly
// higher term, or an equal term with an index at least as large.
func isUpToDate(candidateTerm Term, candidateIndex LogIndex, myTerm Term, myIndex LogIndex) bool {
	if candidateTerm != myTerm {
		return candidateTerm > myTerm
	}
	return candidateIndex >= myIndex
}

func (n *Node) sendRequestVoteToAll() {
	req := &RequestVoteRequest{
		Term:         n.currentTerm,
		CandidateID:  n.cfg.NodeID,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}

	for _, p := range n.config.Peers(n.cfg.NodeID) {
		n.send(p, req)
	}
}

func (n *Node) sendPreVoteToAll() {
	req := &PreVoteRequest{
		Term:         n.currentTerm + 1,
		CandidateID:  n.cfg.NodeID,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}

	for _, p := range n.config.Peers(n.cfg.NodeID) {
		n.send(p, req)
	}
}

// handleRequestVote implements the §4.5 grant rules.
func (n *Node) handleRequestVote(req *RequestVoteRequest) (*RequestVoteResponse, error) {
	if req.Term > n.currentTerm {
		if err := n.stepDown(req.Term); err != nil {
			return nil, err
		}
	}

	if req.Term < n.currentTerm {
		return &RequestVoteResponse{Term: n.currentTerm, VoteGranted: false}, nil
	}

	candidateUpToDate := isUpToDate(req.LastLogTerm, req.LastLogIndex, n.log.LastTerm(), n.log.LastIndex())

	if (n.votedFor == NoNode || n.votedFor == req.CandidateID) && candidateUpToDate {
		n.votedFor = req.CandidateID
		if err := n.persistState(); err != nil {
			return nil, err
		}
		n.resetElectionTimer()
		n.logger.Debug(1, "node %d grants vote to %d for term %d", n.cfg.NodeID, req.CandidateID, req.Term)
		return &RequestVoteResponse{Term: n.currentTerm, VoteGranted: true}, nil
	}

	return &RequestVoteResponse{Term: n.currentTerm, VoteGranted: false}, nil
}

func (n *Node) handleRequestVoteResponse(from NodeID, resp *RequestVoteResponse) error {
	if resp.Term > n.currentTerm {
		return n.stepDown(resp.Term)
	}

	if n.role != RoleCandidate || resp.Term != n.currentTerm || !resp.VoteGranted {
		return nil
	}

	n.votesGranted[from] = true

	return n.maybeWinElection()
}

// handlePreVote grants without ever mutating term or voted_for, so a
// partitioned node probing with PreVote cannot disrupt a healthy leader.
func (n *Node) handlePreVote(req *PreVoteRequest) *PreVoteResponse {
	wouldVote := n.leaderID == NoNode || n.electionElapsedMS >= n.electionTimeoutMS
	candidateUpToDate := isUpToDate(req.LastLogTerm, req.LastLogIndex, n.log.LastTerm(), n.log.LastIndex())
	termWinnable := req.Term >= n.currentTerm+1

	granted := wouldVote && candidateUpToDate && termWinnable

	return &PreVoteResponse{Term: n.currentTerm, VoteGranted: granted}
}

func (n *Node) handlePreVoteResponse(from NodeID, resp *PreVoteResponse) error {
	if resp.Term > n.currentTerm {
		return n.stepDown(resp.Term)
	}

	if n.role != RolePreCandidate || !resp.VoteGranted {
		return nil
	}

	n.preVotesGranted[from] = true

	if len(n.preVotesGranted) >= n.config.QuorumSize() {
		return n.becomeCandidate()
	}

	return nil
}
