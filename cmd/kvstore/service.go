package main

import (
	"fmt"
	"net"
	"path"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-raft/pkg/raft"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Raft    RaftCfg            `json:"raft"`
}

type RaftCfg struct {
	Peers         PeerSet `json:"peers"`
	DataDirectory string  `json:"dataDirectory"`

	PreVoteEnabled      bool `json:"preVoteEnabled"`
	SnapshotThreshold   int  `json:"snapshotThreshold"`
	MaxEntriesPerAppend int  `json:"maxEntriesPerAppend"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	store     *Store
	node      *raft.Node
	transport *Transport
	apiServer *APIServer
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)
	v.CheckObject("raft", &cfg.Raft)
}

func (cfg *RaftCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.WithChild("peers", func() {
		for _, peer := range cfg.Peers {
			v.CheckStringNotEmpty("localAddress", peer.LocalAddress)
			v.CheckStringNotEmpty("publicAddress", peer.PublicAddress)
		}
	})

	v.CheckStringNotEmpty("dataDirectory", cfg.DataDirectory)
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddArgument("id", "this node's identifier within the peers table")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	idString := s.Program.ArgumentValue("id")

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	peer := s.Cfg.Raft.Peers[idString]
	host, _, _ := net.SplitHostPort(peer.LocalAddress)

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               net.JoinHostPort(host, "8081"),
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	s.store = NewStore()

	if err := s.initRaftNode(); err != nil {
		return err
	}

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initRaftNode() error {
	idString := s.Service.Program.ArgumentValue("id")

	selfId, err := parseNodeID(idString)
	if err != nil {
		return fmt.Errorf("invalid node id %q: %w", idString, err)
	}

	self, found := s.Cfg.Raft.Peers[idString]
	if !found {
		return fmt.Errorf("unknown node id %q in peers table", idString)
	}

	voters, err := s.Cfg.Raft.Peers.Voters()
	if err != nil {
		return err
	}

	addresses := make(map[raft.NodeID]string)
	for key, peer := range s.Cfg.Raft.Peers {
		id, err := parseNodeID(key)
		if err != nil {
			return err
		}
		if id == selfId {
			continue
		}
		addresses[id] = peer.PublicAddress
	}

	logger := s.Log.Child("raft", log.Data{
		"node": idString,
	})

	transport := NewTransport(selfId, self.LocalAddress, addresses, logger)

	dataDir := path.Join(s.Cfg.Raft.DataDirectory, idString)

	cfg := raft.Config{
		NodeID: selfId,
		Voters: voters,

		DataDir:    dataDir,
		SyncWrites: true,

		Logger: logger,

		ApplyFn:    s.applyCommand,
		SendFn:     transport.send,
		SnapshotFn: s.store.Snapshot,
		RestoreFn:  s.restoreStore,

		PreVoteEnabled:          s.Cfg.Raft.PreVoteEnabled,
		AutoCompactionThreshold: s.Cfg.Raft.SnapshotThreshold,
		MaxEntriesPerAppend:     s.Cfg.Raft.MaxEntriesPerAppend,
	}

	node, err := raft.NewNode(cfg)
	if err != nil {
		return fmt.Errorf("cannot create raft node: %w", err)
	}

	transport.node = node

	s.node = node
	s.transport = transport

	return nil
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	if err := s.transport.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start raft transport: %w", err)
	}

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.transport.Stop()
}

func (s *Service) Terminate(ss *service.Service) {
}

// applyCommand is raft.Config.ApplyFn: invoked synchronously from the
// apply pump, in index order, once per committed entry.
func (s *Service) applyCommand(entry raft.Entry) {
	op, err := DecodeOp(entry.Payload)
	if err != nil {
		s.Log.Error("cannot decode op at index %d: %v", entry.Index, err)
		return
	}

	s.store.ApplyOp(op)
}

func (s *Service) restoreStore(data []byte) {
	if err := s.store.Restore(data); err != nil {
		s.Log.Error("cannot restore store from snapshot: %v", err)
	}
}
