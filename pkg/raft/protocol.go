package raft

import (
	"encoding/binary"
	"fmt"
)

// NodeID identifies a replica within a cluster.
type NodeID int32

// MsgType tags every wire message with a one-byte discriminator, decoded
// before anything else so a corrupt or truncated message can be rejected
// without guessing its shape.
type MsgType uint8

const (
	MsgRequestVote MsgType = iota + 1
	MsgRequestVoteResp
	MsgAppendEntries
	MsgAppendEntriesResp
	MsgInstallSnapshot
	MsgInstallSnapshotResp
	MsgPreVote
	MsgPreVoteResp
	MsgTimeoutNow
)

func (t MsgType) String() string {
	switch t {
	case MsgRequestVote:
		return "RequestVote"
	case MsgRequestVoteResp:
		return "RequestVoteResp"
	case MsgAppendEntries:
		return "AppendEntries"
	case MsgAppendEntriesResp:
		return "AppendEntriesResp"
	case MsgInstallSnapshot:
		return "InstallSnapshot"
	case MsgInstallSnapshotResp:
		return "InstallSnapshotResp"
	case MsgPreVote:
		return "PreVote"
	case MsgPreVoteResp:
		return "PreVoteResp"
	case MsgTimeoutNow:
		return "TimeoutNow"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Msg is satisfied by every RPC message; GetTerm lets the dispatcher apply
// the term-comparison step-down rule uniformly before type-specific
// handling.
type Msg interface {
	Type() MsgType
	GetTerm() Term
	fmt.Stringer
}

type RequestVoteRequest struct {
	Term         Term
	CandidateID  NodeID
	LastLogIndex LogIndex
	LastLogTerm  Term
}

func (m *RequestVoteRequest) Type() MsgType { return MsgRequestVote }
func (m *RequestVoteRequest) GetTerm() Term  { return m.Term }
func (m *RequestVoteRequest) String() string {
	return fmt.Sprintf("RequestVote{term: %d, candidate: %d, lastLogIndex: %d, lastLogTerm: %d}",
		m.Term, m.CandidateID, m.LastLogIndex, m.LastLogTerm)
}

type RequestVoteResponse struct {
	Term        Term
	VoteGranted bool
}

func (m *RequestVoteResponse) Type() MsgType { return MsgRequestVoteResp }
func (m *RequestVoteResponse) GetTerm() Term  { return m.Term }
func (m *RequestVoteResponse) String() string {
	return fmt.Sprintf("RequestVoteResp{term: %d, granted: %v}", m.Term, m.VoteGranted)
}

type PreVoteRequest struct {
	Term         Term
	CandidateID  NodeID
	LastLogIndex LogIndex
	LastLogTerm  Term
}

func (m *PreVoteRequest) Type() MsgType { return MsgPreVote }
func (m *PreVoteRequest) GetTerm() Term  { return m.Term }
func (m *PreVoteRequest) String() string {
	return fmt.Sprintf("PreVote{term: %d, candidate: %d, lastLogIndex: %d, lastLogTerm: %d}",
		m.Term, m.CandidateID, m.LastLogIndex, m.LastLogTerm)
}

type PreVoteResponse struct {
	Term        Term
	VoteGranted bool
}

func (m *PreVoteResponse) Type() MsgType { return MsgPreVoteResp }
func (m *PreVoteResponse) GetTerm() Term  { return m.Term }
func (m *PreVoteResponse) String() string {
	return fmt.Sprintf("PreVoteResp{term: %d, granted: %v}", m.Term, m.VoteGranted)
}

type AppendEntriesRequest struct {
	Term         Term
	LeaderID     NodeID
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	LeaderCommit LogIndex
	Entries      []Entry
}

func (m *AppendEntriesRequest) Type() MsgType { return MsgAppendEntries }
func (m *AppendEntriesRequest) GetTerm() Term  { return m.Term }
func (m *AppendEntriesRequest) String() string {
	return fmt.Sprintf("AppendEntries{term: %d, leader: %d, prevLogIndex: %d, prevLogTerm: %d, %d entries, leaderCommit: %d}",
		m.Term, m.LeaderID, m.PrevLogIndex, m.PrevLogTerm, len(m.Entries), m.LeaderCommit)
}

type AppendEntriesResponse struct {
	Term       Term
	Success    bool
	MatchIndex LogIndex
}

func (m *AppendEntriesResponse) Type() MsgType { return MsgAppendEntriesResp }
func (m *AppendEntriesResponse) GetTerm() Term  { return m.Term }
func (m *AppendEntriesResponse) String() string {
	return fmt.Sprintf("AppendEntriesResp{term: %d, success: %v, matchIndex: %d}",
		m.Term, m.Success, m.MatchIndex)
}

type InstallSnapshotRequest struct {
	Term      Term
	LeaderID  NodeID
	LastIndex LogIndex
	LastTerm  Term
	Offset    uint64
	Done      bool
	Data      []byte
}

func (m *InstallSnapshotRequest) Type() MsgType { return MsgInstallSnapshot }
func (m *InstallSnapshotRequest) GetTerm() Term  { return m.Term }
func (m *InstallSnapshotRequest) String() string {
	return fmt.Sprintf("InstallSnapshot{term: %d, leader: %d, lastIndex: %d, lastTerm: %d, offset: %d, done: %v, %d bytes}",
		m.Term, m.LeaderID, m.LastIndex, m.LastTerm, m.Offset, m.Done, len(m.Data))
}

type InstallSnapshotResponse struct {
	Term    Term
	Success bool
}

func (m *InstallSnapshotResponse) Type() MsgType { return MsgInstallSnapshotResp }
func (m *InstallSnapshotResponse) GetTerm() Term  { return m.Term }
func (m *InstallSnapshotResponse) String() string {
	return fmt.Sprintf("InstallSnapshotResp{term: %d, success: %v}", m.Term, m.Success)
}

type TimeoutNow struct {
	Term     Term
	LeaderID NodeID
}

func (m *TimeoutNow) Type() MsgType { return MsgTimeoutNow }
func (m *TimeoutNow) GetTerm() Term  { return m.Term }
func (m *TimeoutNow) String() string {
	return fmt.Sprintf("TimeoutNow{term: %d, leader: %d}", m.Term, m.LeaderID)
}

// byteWriter accumulates a message body with fixed-width helpers;
// EncodeMsg prefixes the final buffer with the one-byte tag.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *byteWriter) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *byteWriter) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) bytes(v []byte) {
	w.u32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// byteReader decodes a message body, bounds-checking every length before
// reading it; once a read fails every subsequent read is a no-op and the
// first error sticks.
type byteReader struct {
	buf []byte
	pos int
	err error
}

func (r *byteReader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = newError(StatusInvalidArg, format, args...)
	}
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}

	if n < 0 || r.pos+n > len(r.buf) {
		r.fail("truncated message: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
		return false
	}

	return true
}

func (r *byteReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}

	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *byteReader) boolean() bool {
	return r.u8() != 0
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}

	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}

	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *byteReader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}

	if !r.need(int(n)) {
		return nil
	}

	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v
}

// EncodeMsg serializes a message to its wire form: a one-byte type tag
// followed by the type-specific body. AppendEntries entries are encoded
// inline as term++kind++cmd_len++cmd_bytes sequences after the fixed
// header, per spec.md §4.12.
func EncodeMsg(msg Msg) []byte {
	w := &byteWriter{}
	w.u8(uint8(msg.Type()))

	switch m := msg.(type) {
	case *RequestVoteRequest:
		w.u64(uint64(m.Term))
		w.u32(uint32(m.CandidateID))
		w.u64(uint64(m.LastLogIndex))
		w.u64(uint64(m.LastLogTerm))

	case *RequestVoteResponse:
		w.u64(uint64(m.Term))
		w.boolean(m.VoteGranted)

	case *PreVoteRequest:
		w.u64(uint64(m.Term))
		w.u32(uint32(m.CandidateID))
		w.u64(uint64(m.LastLogIndex))
		w.u64(uint64(m.LastLogTerm))

	case *PreVoteResponse:
		w.u64(uint64(m.Term))
		w.boolean(m.VoteGranted)

	case *AppendEntriesRequest:
		w.u64(uint64(m.Term))
		w.u32(uint32(m.LeaderID))
		w.u64(uint64(m.PrevLogIndex))
		w.u64(uint64(m.PrevLogTerm))
		w.u64(uint64(m.LeaderCommit))
		w.u32(uint32(len(m.Entries)))
		for _, e := range m.Entries {
			w.u64(uint64(e.Term))
			w.u8(uint8(e.Kind))
			w.bytes(e.Payload)
		}

	case *AppendEntriesResponse:
		w.u64(uint64(m.Term))
		w.boolean(m.Success)
		w.u64(uint64(m.MatchIndex))

	case *InstallSnapshotRequest:
		w.u64(uint64(m.Term))
		w.u32(uint32(m.LeaderID))
		w.u64(uint64(m.LastIndex))
		w.u64(uint64(m.LastTerm))
		w.u64(m.Offset)
		w.boolean(m.Done)
		w.bytes(m.Data)

	case *InstallSnapshotResponse:
		w.u64(uint64(m.Term))
		w.boolean(m.Success)

	case *TimeoutNow:
		w.u64(uint64(m.Term))
		w.u32(uint32(m.LeaderID))

	default:
		Panicf("unknown message type %T", msg)
	}

	return w.buf
}

// DecodeMsg parses a wire message, bounds-checking every length before
// reading it. Returns a *Error with StatusInvalidArg on a malformed or
// truncated message.
func DecodeMsg(data []byte) (Msg, error) {
	if len(data) < 1 {
		return nil, newError(StatusInvalidArg, "empty message")
	}

	r := &byteReader{buf: data[1:]}
	tag := MsgType(data[0])

	var msg Msg

	switch tag {
	case MsgRequestVote:
		msg = &RequestVoteRequest{
			Term:         Term(r.u64()),
			CandidateID:  NodeID(r.u32()),
			LastLogIndex: LogIndex(r.u64()),
			LastLogTerm:  Term(r.u64()),
		}

	case MsgRequestVoteResp:
		msg = &RequestVoteResponse{
			Term:        Term(r.u64()),
			VoteGranted: r.boolean(),
		}

	case MsgPreVote:
		msg = &PreVoteRequest{
			Term:         Term(r.u64()),
			CandidateID:  NodeID(r.u32()),
			LastLogIndex: LogIndex(r.u64()),
			LastLogTerm:  Term(r.u64()),
		}

	case MsgPreVoteResp:
		msg = &PreVoteResponse{
			Term:        Term(r.u64()),
			VoteGranted: r.boolean(),
		}

	case MsgAppendEntries:
		m := &AppendEntriesRequest{
			Term:         Term(r.u64()),
			LeaderID:     NodeID(r.u32()),
			PrevLogIndex: LogIndex(r.u64()),
			PrevLogTerm:  Term(r.u64()),
			LeaderCommit: LogIndex(r.u64()),
		}
		count := r.u32()
		if r.err == nil && count > 0 {
			m.Entries = make([]Entry, 0, count)
			for i := uint32(0); i < count && r.err == nil; i++ {
				term := Term(r.u64())
				kind := EntryKind(r.u8())
				payload := r.bytes()
				index := m.PrevLogIndex + 1 + LogIndex(i)
				m.Entries = append(m.Entries, Entry{Term: term, Index: index, Kind: kind, Payload: payload})
			}
		}
		msg = m

	case MsgAppendEntriesResp:
		msg = &AppendEntriesResponse{
			Term:       Term(r.u64()),
			Success:    r.boolean(),
			MatchIndex: LogIndex(r.u64()),
		}

	case MsgInstallSnapshot:
		m := &InstallSnapshotRequest{
			Term:      Term(r.u64()),
			LeaderID:  NodeID(r.u32()),
			LastIndex: LogIndex(r.u64()),
			LastTerm:  Term(r.u64()),
			Offset:    r.u64(),
			Done:      r.boolean(),
		}
		m.Data = r.bytes()
		msg = m

	case MsgInstallSnapshotResp:
		msg = &InstallSnapshotResponse{
			Term:    Term(r.u64()),
			Success: r.boolean(),
		}

	case MsgTimeoutNow:
		msg = &TimeoutNow{
			Term:     Term(r.u64()),
			LeaderID: NodeID(r.u32()),
		}

	default:
		return nil, newError(StatusInvalidArg, "unknown message tag %d", tag)
	}

	if r.err != nil {
		return nil, r.err
	}

	return msg, nil
}
