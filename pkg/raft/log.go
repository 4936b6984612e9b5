package raft

// Term is a monotonically increasing election epoch.
type Term uint64

// LogIndex is a 1-based position in the replicated log.
type LogIndex uint64

// EntryKind distinguishes opaque commands from internal bookkeeping entries.
type EntryKind uint8

const (
	EntryCommand EntryKind = iota
	EntryConfig
	EntryNoop
)

// Entry is a single record in the replicated log. Immutable once persisted
// on a majority; readers must treat an Entry handed out by Log as read-only
// and as invalid after any mutating call on the Log it came from.
type Entry struct {
	Term    Term
	Index   LogIndex
	Kind    EntryKind
	Payload []byte
}

// Log is the in-memory ordered sequence of entries, with a virtual prefix
// (BaseIndex, BaseTerm) representing the point up to which the log has been
// compacted into a snapshot.
type Log struct {
	entries   []Entry
	baseIndex LogIndex
	baseTerm  Term
}

func NewLog() *Log {
	return &Log{}
}

// Append assigns the next sequential index and copies the payload.
func (l *Log) Append(term Term, kind EntryKind, payload []byte) LogIndex {
	index := l.baseIndex + LogIndex(len(l.entries)) + 1

	var stored []byte
	if len(payload) > 0 {
		stored = make([]byte, len(payload))
		copy(stored, payload)
	}

	l.entries = append(l.entries, Entry{
		Term:    term,
		Index:   index,
		Kind:    kind,
		Payload: stored,
	})

	return index
}

// appendExisting re-inserts an entry at a specific index during recovery or
// replication; callers must have already verified index == LastIndex()+1.
func (l *Log) appendExisting(entry Entry) {
	var stored []byte
	if len(entry.Payload) > 0 {
		stored = make([]byte, len(entry.Payload))
		copy(stored, entry.Payload)
	}

	l.entries = append(l.entries, Entry{
		Term:    entry.Term,
		Index:   entry.Index,
		Kind:    entry.Kind,
		Payload: stored,
	})
}

// Get returns the entry at index, or (Entry{}, false) if it has been
// compacted away or does not exist yet. The returned Entry is a copy of the
// struct, but its Payload shares the log's backing array: callers must not
// modify it.
func (l *Log) Get(index LogIndex) (Entry, bool) {
	if index <= l.baseIndex || index > l.LastIndex() {
		return Entry{}, false
	}

	return l.entries[index-l.baseIndex-1], true
}

// TermAt returns the term of the entry at index, BaseTerm if index is
// exactly the compaction point, or 0 (meaning "unknown") otherwise.
func (l *Log) TermAt(index LogIndex) Term {
	if index == 0 {
		return 0
	}

	if index == l.baseIndex {
		return l.baseTerm
	}

	entry, found := l.Get(index)
	if !found {
		return 0
	}

	return entry.Term
}

func (l *Log) LastIndex() LogIndex {
	return l.baseIndex + LogIndex(len(l.entries))
}

func (l *Log) LastTerm() Term {
	if len(l.entries) == 0 {
		return l.baseTerm
	}

	return l.entries[len(l.entries)-1].Term
}

func (l *Log) BaseIndex() LogIndex {
	return l.baseIndex
}

func (l *Log) BaseTerm() Term {
	return l.baseTerm
}

func (l *Log) Count() int {
	return len(l.entries)
}

// TruncateAfter removes every entry with Index > after. A no-op if after is
// already at or beyond the end of the log.
func (l *Log) TruncateAfter(after LogIndex) {
	last := l.LastIndex()
	if after >= last {
		return
	}

	if after <= l.baseIndex {
		l.entries = l.entries[:0]
		return
	}

	keep := after - l.baseIndex
	l.entries = l.entries[:keep]
}

// TruncateBefore discards entries with Index < before and moves the base
// forward, used once a snapshot has been installed up to before-1.
func (l *Log) TruncateBefore(before LogIndex) {
	if before <= l.baseIndex+1 {
		return
	}

	last := l.LastIndex()
	if before > last+1 {
		before = last + 1
	}

	newBaseTerm := l.baseTerm
	if prev, found := l.Get(before - 1); found {
		newBaseTerm = prev.Term
	}

	remove := before - l.baseIndex - 1
	remaining := make([]Entry, len(l.entries)-int(remove))
	copy(remaining, l.entries[remove:])

	l.entries = remaining
	l.baseIndex = before - 1
	l.baseTerm = newBaseTerm
}

// resetToSnapshot discards the entire log and sets the base to the
// snapshot's (lastIndex, lastTerm); used by InstallSnapshot.
func (l *Log) resetToSnapshot(lastIndex LogIndex, lastTerm Term) {
	l.entries = nil
	l.baseIndex = lastIndex
	l.baseTerm = lastTerm
}
