package raft

// pendingRead is an outstanding linearizable read pinned to a commit
// index, driven by incoming AppendEntries acks rather than captured as a
// callback-on-the-heap closure (per the design note favoring explicit
// state for coroutine-like flows). It replaces the original source's
// g_pending_reads linked list with a slice owned by Node.
type pendingRead struct {
	index    LogIndex
	acked    map[NodeID]bool
	callback func(error)
}

// ReadIndex implements §4.10: record the current commit index, confirm a
// quorum is still following this leader via a heartbeat round, then invoke
// the callback once confirmed. Single-node clusters complete immediately.
func (n *Node) ReadIndex(callback func(error)) error {
	if n.stopped {
		return ErrStopped
	}

	if n.role != RoleLeader {
		return ErrNotLeader
	}

	r := &pendingRead{
		index:    n.commitIndex,
		acked:    map[NodeID]bool{n.cfg.NodeID: true},
		callback: callback,
	}

	if len(n.config.Peers(n.cfg.NodeID)) == 0 {
		n.completeRead(r, nil)
		return nil
	}

	n.pendingReads = append(n.pendingReads, r)

	n.sendHeartbeats()

	return nil
}

// ackRead records a liveness ack from a peer's AppendEntries response and
// completes any pending read that has now reached quorum.
func (n *Node) ackRead(from NodeID) {
	if len(n.pendingReads) == 0 {
		return
	}

	remaining := n.pendingReads[:0]
	for _, r := range n.pendingReads {
		r.acked[from] = true
		if len(r.acked) >= n.config.QuorumSize() {
			n.completeRead(r, nil)
			continue
		}
		remaining = append(remaining, r)
	}
	n.pendingReads = remaining
}

func (n *Node) completeRead(r *pendingRead, err error) {
	if r.callback != nil {
		r.callback(err)
	}
}

// cancelPendingReads fails every outstanding read with err: ErrNotLeader
// on step-down or on observing a higher term, ErrStopped from Stop.
func (n *Node) cancelPendingReads(err error) {
	for _, r := range n.pendingReads {
		n.completeRead(r, err)
	}
	n.pendingReads = nil
}
