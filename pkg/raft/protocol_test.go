package raft

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeMsgRoundTrip(t *testing.T) {
	cases := []Msg{
		&RequestVoteRequest{Term: 3, CandidateID: 1, LastLogIndex: 7, LastLogTerm: 2},
		&RequestVoteResponse{Term: 3, VoteGranted: true},
		&PreVoteRequest{Term: 4, CandidateID: 2, LastLogIndex: 9, LastLogTerm: 3},
		&PreVoteResponse{Term: 4, VoteGranted: false},
		&AppendEntriesResponse{Term: 5, Success: true, MatchIndex: 11},
		&InstallSnapshotResponse{Term: 6, Success: true},
		&TimeoutNow{Term: 7, LeaderID: 3},
	}

	for _, want := range cases {
		data := EncodeMsg(want)

		got, err := DecodeMsg(data)
		if err != nil {
			t.Fatalf("DecodeMsg(%v): %v", want, err)
		}

		if got.String() != want.String() {
			t.Fatalf("round trip mismatch: sent %v, got %v", want, got)
		}
	}
}

func TestEncodeDecodeAppendEntriesRequestPreservesIndex(t *testing.T) {
	req := &AppendEntriesRequest{
		Term:         9,
		LeaderID:     1,
		PrevLogIndex: 10,
		PrevLogTerm:  8,
		LeaderCommit: 10,
		Entries: []Entry{
			{Term: 9, Index: 11, Kind: EntryCommand, Payload: []byte("one")},
			{Term: 9, Index: 12, Kind: EntryConfig, Payload: []byte("two")},
			{Term: 9, Index: 13, Kind: EntryNoop, Payload: nil},
		},
	}

	data := EncodeMsg(req)

	decoded, err := DecodeMsg(data)
	if err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}

	got, ok := decoded.(*AppendEntriesRequest)
	if !ok {
		t.Fatalf("decoded message has type %T, want *AppendEntriesRequest", decoded)
	}

	if len(got.Entries) != len(req.Entries) {
		t.Fatalf("got %d entries, want %d", len(got.Entries), len(req.Entries))
	}

	for i, want := range req.Entries {
		e := got.Entries[i]
		if e.Index != want.Index {
			t.Fatalf("entry %d: Index = %d, want %d (lost on the wire)", i, e.Index, want.Index)
		}
		if e.Term != want.Term {
			t.Fatalf("entry %d: Term = %d, want %d", i, e.Term, want.Term)
		}
		if e.Kind != want.Kind {
			t.Fatalf("entry %d: Kind = %d, want %d", i, e.Kind, want.Kind)
		}
		if !bytes.Equal(e.Payload, want.Payload) {
			t.Fatalf("entry %d: Payload = %q, want %q", i, e.Payload, want.Payload)
		}
	}
}

func TestEncodeDecodeInstallSnapshotRequest(t *testing.T) {
	req := &InstallSnapshotRequest{
		Term:      2,
		LeaderID:  1,
		LastIndex: 100,
		LastTerm:  2,
		Offset:    0,
		Done:      true,
		Data:      []byte("snapshot-bytes"),
	}

	data := EncodeMsg(req)

	decoded, err := DecodeMsg(data)
	if err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}

	got := decoded.(*InstallSnapshotRequest)
	if !bytes.Equal(got.Data, req.Data) {
		t.Fatalf("Data = %q, want %q", got.Data, req.Data)
	}
	if got.LastIndex != req.LastIndex || got.LastTerm != req.LastTerm {
		t.Fatalf("LastIndex/LastTerm mismatch: got %d/%d, want %d/%d",
			got.LastIndex, got.LastTerm, req.LastIndex, req.LastTerm)
	}
}

func TestDecodeMsgRejectsEmptyMessage(t *testing.T) {
	if _, err := DecodeMsg(nil); err == nil {
		t.Fatal("expected an error decoding an empty message")
	}
}

func TestDecodeMsgRejectsUnknownTag(t *testing.T) {
	if _, err := DecodeMsg([]byte{0xff}); err == nil {
		t.Fatal("expected an error decoding an unknown message tag")
	}
}

func TestDecodeMsgRejectsTruncatedBody(t *testing.T) {
	full := EncodeMsg(&RequestVoteRequest{Term: 1, CandidateID: 1, LastLogIndex: 1, LastLogTerm: 1})

	if _, err := DecodeMsg(full[:3]); err == nil {
		t.Fatal("expected an error decoding a truncated message body")
	}
}

func TestDecodeMsgRejectsTruncatedByteSlice(t *testing.T) {
	req := &InstallSnapshotRequest{Term: 1, LeaderID: 1, Data: []byte("abcdef")}
	full := EncodeMsg(req)

	if _, err := DecodeMsg(full[:len(full)-2]); err == nil {
		t.Fatal("expected an error decoding a message with a truncated length-prefixed field")
	}
}
