package raft

import (
	"math/rand"
	"os"
	"testing"
)

func newRoleTestNode(t *testing.T, id NodeID, voters []NodeID) *Node {
	t.Helper()

	dir, err := os.MkdirTemp("", "raft-node-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := Config{
		NodeID:     id,
		Voters:     voters,
		DataDir:    dir,
		RandSource: rand.NewSource(7),
	}

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(func() { n.Stop() })

	return n
}

func TestSingleNodeClusterBecomesLeaderOnStart(t *testing.T) {
	n := newRoleTestNode(t, 1, []NodeID{1})

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n.Role() != RoleLeader {
		t.Fatalf("Role() = %v, want Leader", n.Role())
	}
	if n.Term() != 1 {
		t.Fatalf("Term() = %d, want 1", n.Term())
	}
}

func TestSingleNodeProposeCommitsBeforeReturning(t *testing.T) {
	n := newRoleTestNode(t, 1, []NodeID{1})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var applied []Entry
	n.cfg.ApplyFn = func(e Entry) { applied = append(applied, e) }

	index, err := n.Propose([]byte("cmd1"))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if n.CommitIndex() < index {
		t.Fatalf("CommitIndex() = %d, want >= %d (single-node cluster commits before Propose returns)", n.CommitIndex(), index)
	}
	if n.LastApplied() < index {
		t.Fatalf("LastApplied() = %d, want >= %d", n.LastApplied(), index)
	}

	found := false
	for _, e := range applied {
		if e.Index == index && string(e.Payload) == "cmd1" {
			found = true
		}
	}
	if !found {
		t.Fatal("ApplyFn was never invoked with the proposed command")
	}
}

func TestProposeRejectedWhenNotLeader(t *testing.T) {
	n := newRoleTestNode(t, 1, []NodeID{1, 2})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n.Role() != RoleFollower {
		t.Fatalf("a two-node cluster must not auto-elect on Start, got role %v", n.Role())
	}

	if _, err := n.Propose([]byte("x")); err != ErrNotLeader {
		t.Fatalf("Propose on a follower: err = %v, want ErrNotLeader", err)
	}
}

func TestStepDownClearsVoteAndPersists(t *testing.T) {
	n := newRoleTestNode(t, 1, []NodeID{1, 2, 3})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := n.becomeCandidate(); err != nil {
		t.Fatalf("becomeCandidate: %v", err)
	}
	if n.votedFor != 1 {
		t.Fatalf("votedFor after becoming candidate = %d, want 1 (self)", n.votedFor)
	}

	if err := n.stepDown(5); err != nil {
		t.Fatalf("stepDown: %v", err)
	}

	if n.Role() != RoleFollower {
		t.Fatalf("Role() after stepDown = %v, want Follower", n.Role())
	}
	if n.votedFor != NoNode {
		t.Fatalf("votedFor after stepDown = %d, want NoNode", n.votedFor)
	}
	if n.Term() != 5 {
		t.Fatalf("Term() after stepDown = %d, want 5", n.Term())
	}

	term, votedFor, found, err := n.store.LoadState()
	if err != nil || !found {
		t.Fatalf("LoadState after stepDown: found=%v err=%v", found, err)
	}
	if term != 5 || votedFor != NoNode {
		t.Fatalf("persisted state = (%d, %d), want (5, NoNode)", term, votedFor)
	}
}

func TestCandidateDoesNotGrantSecondVoteInSameTerm(t *testing.T) {
	n := newRoleTestNode(t, 1, []NodeID{1, 2, 3})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := n.becomeCandidate(); err != nil {
		t.Fatalf("becomeCandidate: %v", err)
	}

	resp, err := n.handleRequestVote(&RequestVoteRequest{
		Term: n.currentTerm, CandidateID: 2, LastLogIndex: n.log.LastIndex(), LastLogTerm: n.log.LastTerm(),
	})
	if err != nil {
		t.Fatalf("handleRequestVote: %v", err)
	}

	// Node 1 already voted for itself this term; it must not also grant
	// node 2 a vote in the same term (vote uniqueness, §8 property 7).
	if resp.VoteGranted {
		t.Fatal("a node that already voted for itself must not grant a second vote in the same term")
	}
}
