package raft

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "raft-store-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := OpenStore(dir, false)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s, dir
}

func TestStoreStateRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	if _, _, found, err := s.LoadState(); err != nil || found {
		t.Fatalf("LoadState on a fresh store: found=%v err=%v, want found=false err=nil", found, err)
	}

	if err := s.SaveState(42, 7); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	term, votedFor, found, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !found {
		t.Fatal("expected state to be found after SaveState")
	}
	if term != 42 || votedFor != 7 {
		t.Fatalf("LoadState = (%d, %d), want (42, 7)", term, votedFor)
	}
}

func TestStoreStateDetectsCorruption(t *testing.T) {
	s, dir := openTestStore(t)

	if err := s.SaveState(1, 1); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	s.Close()

	path := filepath.Join(dir, stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[12] ^= 0xff // flip a bit inside the CRC-covered term field
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s2, err := OpenStore(dir, false)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s2.Close()

	if _, _, _, err := s2.LoadState(); err == nil {
		t.Fatal("expected a CRC error after corrupting the state file")
	}
}

func TestStoreLogAppendAndIterate(t *testing.T) {
	s, _ := openTestStore(t)

	entries := []Entry{
		{Term: 1, Index: 1, Kind: EntryCommand, Payload: []byte("a")},
		{Term: 1, Index: 2, Kind: EntryConfig, Payload: []byte("b")},
		{Term: 2, Index: 3, Kind: EntryNoop, Payload: nil},
	}

	for _, e := range entries {
		if err := s.AppendLogEntry(e); err != nil {
			t.Fatalf("AppendLogEntry(%v): %v", e, err)
		}
	}

	var got []Entry
	err := s.IterateLog(func(e Entry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateLog: %v", err)
	}

	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, want := range entries {
		if got[i].Term != want.Term || got[i].Index != want.Index || got[i].Kind != want.Kind {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want)
		}
	}
}

func TestStoreLogDetectsRecordCorruption(t *testing.T) {
	s, dir := openTestStore(t)

	if err := s.AppendLogEntry(Entry{Term: 1, Index: 1, Kind: EntryCommand, Payload: []byte("hello")}); err != nil {
		t.Fatalf("AppendLogEntry: %v", err)
	}
	s.Close()

	path := filepath.Join(dir, logFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte inside the record body, past the header and length/crc prefix.
	data[logHeaderSize+8+4] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s2, err := OpenStore(dir, false)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s2.Close()

	err = s2.IterateLog(func(Entry) error { return nil })
	if err == nil {
		t.Fatal("expected a CRC error iterating a corrupted log record")
	}
}

func TestStoreTruncateLogAfter(t *testing.T) {
	s, _ := openTestStore(t)

	for i := LogIndex(1); i <= 5; i++ {
		if err := s.AppendLogEntry(Entry{Term: 1, Index: i}); err != nil {
			t.Fatalf("AppendLogEntry: %v", err)
		}
	}

	if err := s.TruncateLogAfter(3); err != nil {
		t.Fatalf("TruncateLogAfter: %v", err)
	}

	var got []Entry
	if err := s.IterateLog(func(e Entry) error { got = append(got, e); return nil }); err != nil {
		t.Fatalf("IterateLog: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries after truncate, want 3", len(got))
	}
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	if _, _, found, err := s.LoadSnapshotMeta(); err != nil || found {
		t.Fatalf("LoadSnapshotMeta on a fresh store: found=%v err=%v", found, err)
	}

	payload := []byte("the entire state machine, serialized")
	if err := s.SaveSnapshot(50, 3, payload); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	lastIndex, lastTerm, found, err := s.LoadSnapshotMeta()
	if err != nil || !found {
		t.Fatalf("LoadSnapshotMeta: found=%v err=%v", found, err)
	}
	if lastIndex != 50 || lastTerm != 3 {
		t.Fatalf("LoadSnapshotMeta = (%d, %d), want (50, 3)", lastIndex, lastTerm)
	}

	data, err := s.LoadSnapshotData()
	if err != nil {
		t.Fatalf("LoadSnapshotData: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("LoadSnapshotData = %q, want %q", data, payload)
	}
}

func TestStoreReopenPreservesLogHeader(t *testing.T) {
	dir, err := os.MkdirTemp("", "raft-store-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s1, err := OpenStore(dir, false)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := s1.AppendLogEntry(Entry{Term: 1, Index: 1}); err != nil {
		t.Fatalf("AppendLogEntry: %v", err)
	}
	if err := s1.AppendLogEntry(Entry{Term: 1, Index: 2}); err != nil {
		t.Fatalf("AppendLogEntry: %v", err)
	}
	if err := s1.TruncateLogBefore(2, 1, 1); err != nil {
		t.Fatalf("TruncateLogBefore: %v", err)
	}
	s1.Close()

	s2, err := OpenStore(dir, false)
	if err != nil {
		t.Fatalf("OpenStore (reopen): %v", err)
	}
	defer s2.Close()

	base, term := s2.LogHeader()
	if base != 1 || term != 1 {
		t.Fatalf("LogHeader after reopen = (%d, %d), want (1, 1)", base, term)
	}
}
