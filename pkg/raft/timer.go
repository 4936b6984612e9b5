package raft

import "math/rand"

// Tick advances the node's virtual clock by elapsedMS, the only source of
// timeout-driven behavior inside the core; timeouts never read the wall
// clock (NewNode only uses it to seed the RNG when Config.RandSource is nil).
func (n *Node) Tick(elapsedMS int) error {
	if n.stopped {
		return ErrStopped
	}

	if elapsedMS < 0 {
		return newError(StatusInvalidArg, "negative tick duration %d", elapsedMS)
	}

	switch n.role {
	case RoleFollower, RolePreCandidate, RoleCandidate:
		n.electionElapsedMS += elapsedMS
		if n.electionElapsedMS >= n.electionTimeoutMS {
			if err := n.onElectionTimeout(); err != nil {
				return err
			}
		}

	case RoleLeader:
		n.heartbeatElapsedMS += elapsedMS
		if n.heartbeatElapsedMS >= n.cfg.HeartbeatIntervalMS {
			n.resetHeartbeatTimer()
			n.sendHeartbeats()
		}

		if n.transfer != nil {
			n.transfer.elapsedMS += elapsedMS
			n.checkTransferProgress()
		}
	}

	return nil
}

func (n *Node) onElectionTimeout() error {
	n.logger.Debug(1, "node %d election timer expired in role %s", n.cfg.NodeID, n.role)

	if n.role == RolePreCandidate {
		// §4.4: PreCandidate | rejection or timeout | Follower | reset timer.
		// A timed-out PreCandidate retries PreVote next time around rather
		// than bumping its term straight into a real election — otherwise a
		// partitioned node would still disrupt the cluster every other
		// timeout, defeating PreVote's purpose.
		n.becomeFollower(NoNode)
		return nil
	}

	if n.cfg.PreVoteEnabled {
		n.becomePreCandidate()
		return nil
	}

	return n.becomeCandidate()
}

func (n *Node) resetElectionTimer() {
	n.electionElapsedMS = 0
	n.electionTimeoutMS = randomizedTimeout(n.rng, n.cfg.MinElectionTimeoutMS, n.cfg.MaxElectionTimeoutMS)
}

func (n *Node) resetHeartbeatTimer() {
	n.heartbeatElapsedMS = 0
}

func randomizedTimeout(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}

	return min + rng.Intn(max-min)
}
