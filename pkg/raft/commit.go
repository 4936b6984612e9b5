package raft

import "sort"

// advanceCommitIndex implements the leader commit rule from §4.6: the
// current-term restriction is essential for Leader Completeness, so an
// older-term entry below a majority-matched current-term entry commits
// only transitively, never on its own.
func (n *Node) advanceCommitIndex() error {
	if n.role != RoleLeader {
		return nil
	}

	voters := n.config.VotingSet()
	matches := make([]LogIndex, 0, len(voters))
	for _, v := range voters {
		if v == n.cfg.NodeID {
			matches = append(matches, n.log.LastIndex())
			continue
		}
		matches = append(matches, n.matchIndex[v])
	}

	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	quorum := n.config.QuorumSize()
	if quorum > len(matches) {
		quorum = len(matches)
	}

	candidate := matches[quorum-1]

	if candidate > n.commitIndex && n.log.TermAt(candidate) == n.currentTerm {
		n.commitIndex = candidate
		n.logger.Debug(1, "node %d advances commit index to %d", n.cfg.NodeID, candidate)
	}

	return nil
}

// pumpApply invokes the apply callback for every committed-but-unapplied
// entry, in index order, at most once per index.
func (n *Node) pumpApply(max int) (int, error) {
	applied := 0

	for n.lastApplied < n.commitIndex && applied < max {
		index := n.lastApplied + 1
		entry, found := n.log.Get(index)
		if !found {
			break
		}

		switch entry.Kind {
		case EntryConfig:
			if err := n.applyConfigEntry(entry); err != nil {
				return applied, err
			}
		case EntryCommand:
			if n.cfg.ApplyFn != nil {
				n.cfg.ApplyFn(entry)
			}
		case EntryNoop:
			// no state-machine effect; exists only to commit prior-term entries.
		}

		n.lastApplied = index
		n.entriesSinceSnapshot++
		applied++
	}

	if applied > 0 {
		n.maybeAutoCompact()
	}

	return applied, nil
}

// ApplyBatch applies at most max committed entries and reports how many
// were applied, the public counterpart used by hosts that want to bound
// how much apply work happens per call instead of draining fully inline.
func (n *Node) ApplyBatch(max int) (int, error) {
	if n.stopped {
		return 0, ErrStopped
	}

	if max <= 0 {
		return 0, newError(StatusInvalidArg, "apply batch size must be positive, got %d", max)
	}

	return n.pumpApply(max)
}
