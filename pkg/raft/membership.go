package raft

import (
	"encoding/binary"
)

// ConfigChangeKind distinguishes the two single-step membership operations.
type ConfigChangeKind uint8

const (
	ConfigAdd ConfigChangeKind = iota
	ConfigRemove
)

// PendingChange is the at-most-one in-flight membership change; observable
// for quorum purposes as soon as the Config entry carrying it is appended,
// cleared when that entry is applied.
type PendingChange struct {
	Kind   ConfigChangeKind
	NodeID NodeID
}

// ClusterConfig is the per-node owned voting membership; this replaces the
// file-scope static membership table from the original source with a field
// of Node, per the design note on global singletons.
type ClusterConfig struct {
	Voters  []NodeID
	Pending *PendingChange
}

// VotingSet returns the set used for quorum computation: a pending add is
// included as soon as its entry is appended, while a pending remove keeps
// counting until its entry is applied (apply then drops it from Voters).
func (c *ClusterConfig) VotingSet() []NodeID {
	set := make([]NodeID, 0, len(c.Voters)+1)

	set = append(set, c.Voters...)

	if c.Pending != nil && c.Pending.Kind == ConfigAdd {
		set = append(set, c.Pending.NodeID)
	}

	return set
}

func (c *ClusterConfig) QuorumSize() int {
	return len(c.VotingSet())/2 + 1
}

func (c *ClusterConfig) IsVoter(id NodeID) bool {
	for _, v := range c.VotingSet() {
		if v == id {
			return true
		}
	}
	return false
}

// Peers returns the voting set minus self, the set replication fans out to.
func (c *ClusterConfig) Peers(self NodeID) []NodeID {
	set := c.VotingSet()
	peers := make([]NodeID, 0, len(set))
	for _, v := range set {
		if v != self {
			peers = append(peers, v)
		}
	}
	return peers
}

// apply mutates the durable voter list once a Config entry is applied,
// clearing the pending slot.
func (c *ClusterConfig) apply(change PendingChange) {
	switch change.Kind {
	case ConfigAdd:
		if !c.hasVoter(change.NodeID) {
			c.Voters = append(c.Voters, change.NodeID)
		}
	case ConfigRemove:
		filtered := c.Voters[:0]
		for _, v := range c.Voters {
			if v != change.NodeID {
				filtered = append(filtered, v)
			}
		}
		c.Voters = filtered
	}

	c.Pending = nil
}

func (c *ClusterConfig) hasVoter(id NodeID) bool {
	for _, v := range c.Voters {
		if v == id {
			return true
		}
	}
	return false
}

func encodeConfigEntry(change PendingChange) []byte {
	buf := make([]byte, 5)
	buf[0] = uint8(change.Kind)
	binary.LittleEndian.PutUint32(buf[1:], uint32(change.NodeID))
	return buf
}

func decodeConfigEntry(payload []byte) (PendingChange, error) {
	if len(payload) < 5 {
		return PendingChange{}, newError(StatusCorruption, "truncated config entry payload (%d bytes)", len(payload))
	}

	return PendingChange{
		Kind:   ConfigChangeKind(payload[0]),
		NodeID: NodeID(binary.LittleEndian.Uint32(payload[1:])),
	}, nil
}

// AddNode proposes adding id to the voting set. Leader-only; rejects if a
// change is already pending.
func (n *Node) AddNode(id NodeID) (LogIndex, error) {
	return n.proposeConfigChange(PendingChange{Kind: ConfigAdd, NodeID: id})
}

// RemoveNode proposes removing id from the voting set. If the leader
// removes itself, it steps down once the entry is applied; callers are
// encouraged to transfer leadership first.
func (n *Node) RemoveNode(id NodeID) (LogIndex, error) {
	return n.proposeConfigChange(PendingChange{Kind: ConfigRemove, NodeID: id})
}

func (n *Node) proposeConfigChange(change PendingChange) (LogIndex, error) {
	if n.stopped {
		return 0, ErrStopped
	}

	if n.role != RoleLeader {
		return 0, ErrNotLeader
	}

	if n.config.Pending != nil {
		return 0, newError(StatusInvalidArg, "a membership change is already pending")
	}

	if change.Kind == ConfigAdd && n.config.hasVoter(change.NodeID) {
		return 0, newError(StatusInvalidArg, "node %d is already a voter", change.NodeID)
	}

	if change.Kind == ConfigRemove && !n.config.hasVoter(change.NodeID) {
		return 0, newError(StatusInvalidArg, "node %d is not a voter", change.NodeID)
	}

	index, err := n.appendAndReplicate(EntryConfig, encodeConfigEntry(change))
	if err != nil {
		return 0, err
	}

	n.config.Pending = &change

	return index, nil
}

// applyConfigEntry is invoked from the apply pump for every committed
// Config entry; it mutates the durable voter list and, if the leader just
// removed itself, steps it down to Follower.
func (n *Node) applyConfigEntry(entry Entry) error {
	change, err := decodeConfigEntry(entry.Payload)
	if err != nil {
		return err
	}

	n.config.apply(change)

	if n.role == RoleLeader && change.Kind == ConfigAdd && change.NodeID != n.cfg.NodeID {
		// Mirror becomeLeader's initialization for a peer that wasn't
		// known when leader bookkeeping was first set up; otherwise
		// nextIndex/matchIndex read as the zero value and
		// sendAppendEntriesTo wrongly diverts to InstallSnapshot.
		if _, found := n.nextIndex[change.NodeID]; !found {
			n.nextIndex[change.NodeID] = n.log.LastIndex() + 1
			n.matchIndex[change.NodeID] = 0
		}
	}

	if n.role == RoleLeader && change.Kind == ConfigRemove && change.NodeID == n.cfg.NodeID {
		n.logger.Info("node %d removed itself from the cluster, stepping down", n.cfg.NodeID)
		return n.stepDown(n.currentTerm)
	}

	return nil
}
