package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/galdor/go-raft/pkg/raft"
)

// PeerCfg is one cluster member's address pair, named after the teacher's
// original ServerData: a local bind address for the raft transport and a
// public address peers dial.
type PeerCfg struct {
	LocalAddress  string `json:"localAddress"`
	PublicAddress string `json:"publicAddress"`
}

// PeerSet is keyed by the decimal string form of a raft.NodeID, since JSON
// object keys must be strings; parseNodeID converts back when building the
// routing table.
type PeerSet map[string]PeerCfg

func DefaultPeerSet() PeerSet {
	return make(PeerSet)
}

func (peers PeerSet) LoadFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, &peers); err != nil {
		return fmt.Errorf("cannot decode json data: %w", err)
	}

	return nil
}

func parseNodeID(s string) (raft.NodeID, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}

	return raft.NodeID(v), nil
}

// Voters returns the cluster's voting set, derived from the peer table's
// keys so the two never drift apart.
func (peers PeerSet) Voters() ([]raft.NodeID, error) {
	voters := make([]raft.NodeID, 0, len(peers))

	for key := range peers {
		id, err := parseNodeID(key)
		if err != nil {
			return nil, err
		}
		voters = append(voters, id)
	}

	return voters, nil
}
