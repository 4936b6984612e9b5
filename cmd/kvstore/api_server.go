package main

import (
	"time"

	"github.com/galdor/go-raft/pkg/raft"
	"github.com/galdor/go-service/pkg/shttp"
)

const readIndexTimeout = 2 * time.Second

type APIServer struct {
	Service *Service
}

func NewAPIServer(s *Service) (*APIServer, error) {
	return &APIServer{Service: s}, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/status", "GET", api.hStatusGET)
	api.Route("/store", "GET", api.hStoreGET)
	api.Route("/store/:key", "GET", api.hStoreKeyGET)
	api.Route("/store/:key", "PUT", api.hStoreKeyPUT)
	api.Route("/store/:key", "DELETE", api.hStoreKeyDELETE)
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) hStatusGET(h *shttp.Handler) {
	node := api.Service.node

	h.ReplyJSON(200, map[string]interface{}{
		"id":          node.ID(),
		"role":        node.Role().String(),
		"term":        node.Term(),
		"leader":      node.LeaderID(),
		"commitIndex": node.CommitIndex(),
		"lastApplied": node.LastApplied(),
		"voters":      node.Voters(),
	})
}

// hStoreGET lists every key, confirming a linearizable snapshot of the
// commit index via ReadIndex before reading the local map.
func (api *APIServer) hStoreGET(h *shttp.Handler) {
	if err := api.confirmReadIndex(); err != nil {
		api.replyNotLeaderOr500(h, err)
		return
	}

	h.ReplyJSON(200, map[string]interface{}{"keys": api.Service.store.Keys()})
}

func (api *APIServer) hStoreKeyGET(h *shttp.Handler) {
	key := h.PathVariable("key")

	if err := api.confirmReadIndex(); err != nil {
		api.replyNotLeaderOr500(h, err)
		return
	}

	value, found := api.Service.store.Get(key)
	if !found {
		h.ReplyError(404, "unknownKey", "key %q not found", key)
		return
	}

	h.ReplyJSON(200, map[string]string{"key": key, "value": value})
}

func (api *APIServer) hStoreKeyPUT(h *shttp.Handler) {
	key := h.PathVariable("key")

	var body struct {
		Value string `json:"value"`
	}
	if err := h.JSONRequestData(&body); err != nil {
		h.ReplyError(400, "invalidRequestBody", "invalid request body: %v", err)
		return
	}

	op := &OpPut{Key: key, Value: body.Value}

	index, err := api.propose(op)
	if err != nil {
		api.replyNotLeaderOr500(h, err)
		return
	}

	h.ReplyJSON(200, map[string]interface{}{"index": index})
}

func (api *APIServer) hStoreKeyDELETE(h *shttp.Handler) {
	key := h.PathVariable("key")

	index, err := api.propose(&OpDelete{Key: key})
	if err != nil {
		api.replyNotLeaderOr500(h, err)
		return
	}

	h.ReplyJSON(200, map[string]interface{}{"index": index})
}

func (api *APIServer) propose(op Op) (raft.LogIndex, error) {
	var index raft.LogIndex

	err := api.Service.transport.WithLock(func(n *raft.Node) error {
		i, err := n.Propose(EncodeOp(op))
		index = i
		return err
	})

	return index, err
}

// confirmReadIndex blocks the HTTP handler's own goroutine (never the
// raft node's single writer) until a quorum has confirmed this node is
// still the leader at the commit index recorded when the call began.
func (api *APIServer) confirmReadIndex() error {
	done := make(chan error, 1)

	err := api.Service.transport.WithLock(func(n *raft.Node) error {
		return n.ReadIndex(func(err error) { done <- err })
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-time.After(readIndexTimeout):
		return raft.ErrNotLeader
	}
}

func (api *APIServer) replyNotLeaderOr500(h *shttp.Handler, err error) {
	if err == raft.ErrNotLeader {
		h.ReplyError(409, "notLeader", "this node is not the leader")
		return
	}

	h.ReplyError(500, "internalError", "internal error: %v", err)
}
