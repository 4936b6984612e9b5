package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/galdor/go-raft/pkg/raft"
)

// Store is the replicated state machine: every node's Store ends up with
// the same contents because every node applies the same committed
// EntryCommand payloads in the same order.
type Store struct {
	Entries map[string]string

	mu sync.RWMutex
}

func NewStore() *Store {
	return &Store{Entries: make(map[string]string)}
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, found := s.Entries[key]
	return value, found
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func (s *Store) Put(key, value string) {
	s.mu.Lock()
	s.Entries[key] = value
	s.mu.Unlock()
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.Entries, key)
	s.mu.Unlock()
}

// ApplyOp mutates the map according to an already-decoded command; the raft
// apply callback (Service.applyCommand) decodes the payload and calls it.
// Invoked in log index order, exactly once per index, never reentering the
// raft node.
func (s *Store) ApplyOp(op Op) {
	switch o := op.(type) {
	case *OpPut:
		s.Put(o.Key, o.Value)
	case *OpDelete:
		s.Delete(o.Key)
	}
}

// Snapshot serializes the whole map for raft.Config.SnapshotFn. upTo (the
// index the snapshot will be attributed to) is irrelevant here since the
// store only ever holds the fully-applied state, not per-index history.
func (s *Store) Snapshot(upTo raft.LogIndex) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.Entries)
	if err != nil {
		return nil, fmt.Errorf("cannot encode store snapshot: %w", err)
	}

	return data, nil
}

// Restore replaces the map wholesale from InstallSnapshot/recovery data,
// raft.Config.RestoreFn's entry point.
func (s *Store) Restore(data []byte) error {
	entries := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("cannot decode store snapshot: %w", err)
		}
	}

	s.mu.Lock()
	s.Entries = entries
	s.mu.Unlock()

	return nil
}
