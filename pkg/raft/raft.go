package raft

import (
	"math/rand"
	"time"
)

// Config configures a Node at creation time; zero-valued timing fields are
// replaced with the teacher's defaults (see NewNode), the same pattern
// ServerCfg uses for its heartbeat/election intervals.
type Config struct {
	NodeID NodeID
	Voters []NodeID

	DataDir    string
	SyncWrites bool

	Logger Logger

	ApplyFn    func(Entry)
	SendFn     func(to NodeID, payload []byte)
	SnapshotFn func(upTo LogIndex) ([]byte, error)
	RestoreFn  func(data []byte)

	MinElectionTimeoutMS    int
	MaxElectionTimeoutMS    int
	HeartbeatIntervalMS     int
	MaxEntriesPerAppend     int
	AutoCompactionThreshold int
	PreVoteEnabled          bool

	RandSource rand.Source
}

func (c *Config) setDefaults() {
	if c.MinElectionTimeoutMS == 0 {
		c.MinElectionTimeoutMS = 150
	}
	if c.MaxElectionTimeoutMS == 0 {
		c.MaxElectionTimeoutMS = 300
	}
	if c.HeartbeatIntervalMS == 0 {
		c.HeartbeatIntervalMS = 50
	}
	if c.MaxEntriesPerAppend == 0 {
		c.MaxEntriesPerAppend = 64
	}
	if c.AutoCompactionThreshold == 0 {
		c.AutoCompactionThreshold = 1000
	}
}

// Node is a single replica: the owned state struct driven by Tick,
// Receive, and the local client API, under a single-writer discipline
// enforced by the caller (§5) — there are no goroutines, channels, or
// mutexes anywhere in this type.
type Node struct {
	cfg    Config
	logger Logger

	log   *Log
	store *Store

	config ClusterConfig

	role        Role
	currentTerm Term
	votedFor    NodeID
	leaderID    NodeID

	commitIndex LogIndex
	lastApplied LogIndex

	nextIndex  map[NodeID]LogIndex
	matchIndex map[NodeID]LogIndex

	votesGranted    map[NodeID]bool
	preVotesGranted map[NodeID]bool

	electionElapsedMS  int
	electionTimeoutMS  int
	heartbeatElapsedMS int

	rng *rand.Rand

	pendingReads []*pendingRead
	transfer     *transferState

	entriesSinceSnapshot int

	started bool
	stopped bool
}

// NewNode creates a Node and runs recovery (§4.8) against DataDir: loads
// any snapshot, persistent term/vote, and replays the log file. It does
// not yet run the clock or accept client operations — call Start for that.
func NewNode(cfg Config) (*Node, error) {
	if cfg.DataDir == "" {
		return nil, newError(StatusInvalidArg, "Config.DataDir is required")
	}

	found := false
	for _, v := range cfg.Voters {
		if v == cfg.NodeID {
			found = true
			break
		}
	}
	if !found {
		return nil, newError(StatusInvalidArg, "Config.NodeID %d is not in Config.Voters", cfg.NodeID)
	}

	cfg.setDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	store, err := OpenStore(cfg.DataDir, cfg.SyncWrites)
	if err != nil {
		return nil, err
	}

	source := cfg.RandSource
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano() + int64(cfg.NodeID))
	}

	voters := make([]NodeID, len(cfg.Voters))
	copy(voters, cfg.Voters)

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		log:      NewLog(),
		store:    store,
		config:   ClusterConfig{Voters: voters},
		role:     RoleFollower,
		leaderID: NoNode,
		votedFor: NoNode,
		rng:      rand.New(source),
	}

	if err := n.recover(); err != nil {
		store.Close()
		return nil, err
	}

	return n, nil
}

// Start begins normal operation. A single-node cluster becomes Leader
// immediately, per §4.4's initial-state rule.
func (n *Node) Start() error {
	if n.started {
		return nil
	}
	n.started = true

	n.resetElectionTimer()

	if len(n.config.Peers(n.cfg.NodeID)) == 0 {
		return n.becomeCandidate()
	}

	return nil
}

// Stop releases the durable store and cancels outstanding reads; further
// calls to mutating entry points return ErrStopped.
func (n *Node) Stop() error {
	if n.stopped {
		return nil
	}
	n.stopped = true

	n.cancelPendingReads(ErrStopped)

	return n.store.Close()
}

// Propose appends cmd to the log if this node is the Leader and begins
// replicating it; returns the assigned index without waiting for peers.
// With peers, the entry is not yet committed when Propose returns —
// ApplyBatch/the apply callback observes that later. A single-node
// cluster commits and applies the entry before Propose returns.
func (n *Node) Propose(cmd []byte) (LogIndex, error) {
	if n.stopped {
		return 0, ErrStopped
	}

	return n.appendAndReplicate(EntryCommand, cmd)
}

// ProposeBatch appends every command as one contiguous run of entries and
// replicates once, rolling the whole batch back to first_index-1 if any
// entry fails to persist (§7's NoMemory recovery rule, generalized to any
// mid-batch IoError).
func (n *Node) ProposeBatch(cmds [][]byte) ([]LogIndex, error) {
	if n.stopped {
		return nil, ErrStopped
	}

	if n.role != RoleLeader {
		return nil, ErrNotLeader
	}

	if len(cmds) == 0 {
		return nil, newError(StatusInvalidArg, "empty batch")
	}

	indices := make([]LogIndex, 0, len(cmds))
	firstIndex := LogIndex(0)

	for i, cmd := range cmds {
		index := n.log.Append(n.currentTerm, EntryCommand, cmd)
		if i == 0 {
			firstIndex = index
		}

		entry, _ := n.log.Get(index)
		if err := n.store.AppendLogEntry(entry); err != nil {
			n.log.TruncateAfter(firstIndex - 1)
			return nil, wrapError(StatusIoError, err, "cannot persist entry %d", index)
		}

		indices = append(indices, index)
	}

	n.matchIndex[n.cfg.NodeID] = indices[len(indices)-1]

	peers := n.config.Peers(n.cfg.NodeID)
	for _, p := range peers {
		n.sendAppendEntriesTo(p)
	}

	if len(peers) == 0 {
		if err := n.advanceCommitIndex(); err != nil {
			return indices, err
		}
		if _, err := n.pumpApply(1 << 30); err != nil {
			return indices, err
		}
	}

	return indices, nil
}

// Receive decodes and dispatches one wire message from a peer, replying
// through SendFn when the message expects a response.
func (n *Node) Receive(from NodeID, data []byte) error {
	if n.stopped {
		return ErrStopped
	}

	msg, err := DecodeMsg(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *RequestVoteRequest:
		resp, err := n.handleRequestVote(m)
		if err != nil {
			return err
		}
		n.send(from, resp)

	case *RequestVoteResponse:
		return n.handleRequestVoteResponse(from, m)

	case *PreVoteRequest:
		n.send(from, n.handlePreVote(m))

	case *PreVoteResponse:
		return n.handlePreVoteResponse(from, m)

	case *AppendEntriesRequest:
		resp, err := n.handleAppendEntries(m)
		if err != nil {
			return err
		}
		n.send(from, resp)

	case *AppendEntriesResponse:
		return n.handleAppendEntriesResponse(from, m)

	case *InstallSnapshotRequest:
		resp, err := n.handleInstallSnapshot(m)
		if err != nil {
			return err
		}
		n.send(from, resp)

	case *InstallSnapshotResponse:
		return n.handleInstallSnapshotResponse(from, m)

	case *TimeoutNow:
		return n.handleTimeoutNow(m)

	default:
		return newError(StatusInvalidArg, "unhandled message type %T", msg)
	}

	return nil
}

func (n *Node) send(to NodeID, msg Msg) {
	if n.cfg.SendFn == nil {
		return
	}
	n.cfg.SendFn(to, EncodeMsg(msg))
}

func (n *Node) persistState() error {
	return n.store.SaveState(n.currentTerm, n.votedFor)
}

// ID returns this replica's configured node id.
func (n *Node) ID() NodeID { return n.cfg.NodeID }

func (n *Node) Role() Role { return n.role }

func (n *Node) Term() Term { return n.currentTerm }

func (n *Node) LeaderID() NodeID { return n.leaderID }

func (n *Node) CommitIndex() LogIndex { return n.commitIndex }

func (n *Node) LastApplied() LogIndex { return n.lastApplied }

// Voters returns the current voting set (a pending add is included; a
// pending remove is still included until its entry is applied).
func (n *Node) Voters() []NodeID { return n.config.VotingSet() }
