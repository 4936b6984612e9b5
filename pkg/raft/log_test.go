package raft

import "testing"

func TestLogAppendAssignsSequentialIndices(t *testing.T) {
	l := NewLog()

	i1 := l.Append(1, EntryCommand, []byte("a"))
	i2 := l.Append(1, EntryCommand, []byte("b"))
	i3 := l.Append(2, EntryCommand, []byte("c"))

	if i1 != 1 || i2 != 2 || i3 != 3 {
		t.Fatalf("expected indices 1,2,3, got %d,%d,%d", i1, i2, i3)
	}

	if l.LastIndex() != 3 {
		t.Fatalf("LastIndex = %d, want 3", l.LastIndex())
	}
	if l.LastTerm() != 2 {
		t.Fatalf("LastTerm = %d, want 2", l.LastTerm())
	}
}

func TestLogGetReturnsCopy(t *testing.T) {
	l := NewLog()
	payload := []byte("hello")
	l.Append(1, EntryCommand, payload)

	e, ok := l.Get(1)
	if !ok {
		t.Fatal("expected entry to be found")
	}

	e.Payload[0] = 'X'
	e2, _ := l.Get(1)
	if e2.Payload[0] == 'X' {
		t.Fatal("mutating a returned entry must not affect the log")
	}
}

func TestLogGetOutOfRange(t *testing.T) {
	l := NewLog()
	l.Append(1, EntryCommand, nil)

	if _, ok := l.Get(0); ok {
		t.Fatal("index 0 must never be found")
	}
	if _, ok := l.Get(2); ok {
		t.Fatal("index beyond LastIndex must not be found")
	}
}

func TestLogTermAtBoundaries(t *testing.T) {
	l := NewLog()
	if l.TermAt(0) != 0 {
		t.Fatalf("TermAt(0) = %d, want 0", l.TermAt(0))
	}

	l.Append(5, EntryCommand, nil)
	l.Append(5, EntryCommand, nil)

	if l.TermAt(1) != 5 {
		t.Fatalf("TermAt(1) = %d, want 5", l.TermAt(1))
	}
	if l.TermAt(3) != 0 {
		t.Fatalf("TermAt(3) (not yet appended) = %d, want 0", l.TermAt(3))
	}
}

func TestLogTruncateAfter(t *testing.T) {
	l := NewLog()
	l.Append(1, EntryCommand, nil)
	l.Append(1, EntryCommand, nil)
	l.Append(2, EntryCommand, nil)

	l.TruncateAfter(1)

	if l.LastIndex() != 1 {
		t.Fatalf("LastIndex after truncate = %d, want 1", l.LastIndex())
	}
	if _, ok := l.Get(2); ok {
		t.Fatal("index 2 should have been truncated away")
	}
}

func TestLogTruncateAfterNoOpWhenAlreadyShort(t *testing.T) {
	l := NewLog()
	l.Append(1, EntryCommand, nil)

	l.TruncateAfter(5)

	if l.LastIndex() != 1 {
		t.Fatalf("TruncateAfter beyond the end must be a no-op, LastIndex = %d", l.LastIndex())
	}
}

func TestLogTruncateBeforeCompactsPrefix(t *testing.T) {
	l := NewLog()
	l.Append(1, EntryCommand, nil)
	l.Append(2, EntryCommand, nil)
	l.Append(3, EntryCommand, nil)

	l.TruncateBefore(3)

	if l.BaseIndex() != 2 {
		t.Fatalf("BaseIndex = %d, want 2", l.BaseIndex())
	}
	if l.BaseTerm() != 2 {
		t.Fatalf("BaseTerm = %d, want 2", l.BaseTerm())
	}
	if _, ok := l.Get(2); ok {
		t.Fatal("index 2 should be compacted away")
	}
	if e, ok := l.Get(3); !ok || e.Term != 3 {
		t.Fatal("index 3 should still be present")
	}
}

func TestLogResetToSnapshot(t *testing.T) {
	l := NewLog()
	l.Append(1, EntryCommand, nil)
	l.Append(2, EntryCommand, nil)

	l.resetToSnapshot(10, 4)

	if l.LastIndex() != 10 || l.LastTerm() != 4 {
		t.Fatalf("after reset: LastIndex=%d LastTerm=%d, want 10,4", l.LastIndex(), l.LastTerm())
	}
	if l.Count() != 0 {
		t.Fatalf("expected an empty entry slice after reset, got %d entries", l.Count())
	}
}
