package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/galdor/go-log"
	"github.com/galdor/go-raft/pkg/raft"
)

// tickInterval is the transport's virtual clock granularity, fed to
// raft.Node.Tick once per period; it plays the role the teacher's
// heartbeatTicker/electionTimer pair played directly inside pkg/raft,
// moved out here now that the core is purely tick-driven (§5).
const tickInterval = 10 * time.Millisecond

type incomingRPC struct {
	from raft.NodeID
	data []byte
}

// Transport owns the single-writer discipline spec.md §5 requires: a
// mutex around the Node, a ticker driving Tick, and an HTTP server/client
// pair driving Receive and Send. This is the teacher's server.go main loop
// and transport.go HTTP plumbing, relocated one layer out of the raft
// core and adapted to raft.Node's synchronous API.
type Transport struct {
	node *raft.Node
	self raft.NodeID

	localAddress string
	peers        map[raft.NodeID]string

	log *log.Logger

	httpServer *http.Server
	httpClient *http.Client

	mu sync.Mutex

	rpcChan   chan incomingRPC
	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewTransport(self raft.NodeID, localAddress string, peers map[raft.NodeID]string, logger *log.Logger) *Transport {
	return &Transport{
		self:         self,
		localAddress: localAddress,
		peers:        peers,
		log:          logger,
		rpcChan:      make(chan incomingRPC, 64),
		stopChan:     make(chan struct{}),
	}
}

// send implements raft.Config.SendFn; it is handed to raft.NewNode before
// the Transport's node field is assigned, and is non-blocking by contract
// (§5) — the actual HTTP round trip happens on its own goroutine.
func (t *Transport) send(to raft.NodeID, payload []byte) {
	t.log.Debug(2, "sending %d bytes to node %d", len(payload), to)

	address, found := t.peers[to]
	if !found {
		t.log.Error("unknown recipient node %d", to)
		return
	}

	go t.sendRequest(to, address, payload)
}

func (t *Transport) sendRequest(to raft.NodeID, address string, payload []byte) {
	defer func() {
		if value := recover(); value != nil {
			t.log.Error("panic while sending to node %d: %s\n%s",
				to, raft.RecoverValueString(value), raft.StackTrace(10))
		}
	}()

	uri := fmt.Sprintf("http://%s/rpc", address)

	req, err := http.NewRequest("POST", uri, bytes.NewReader(payload))
	if err != nil {
		t.log.Error("cannot create request to node %d: %v", to, err)
		return
	}

	req.Header.Set("X-Raft-Source-Id", strconv.FormatInt(int64(t.self), 10))

	res, err := t.httpClient.Do(req)
	if err != nil {
		t.log.Error("cannot send message to node %d at %s: %v", to, address, err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != 204 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		t.log.Error("request to node %d at %s failed with status %d: %s", to, address, res.StatusCode, msg)
	}
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sourceIdHeader := req.Header.Get("X-Raft-Source-Id")
	if sourceIdHeader == "" {
		t.replyError(w, 400, "missing or empty X-Raft-Source-Id header field")
		return
	}

	sourceId, err := parseNodeID(sourceIdHeader)
	if err != nil {
		t.replyError(w, 400, "invalid X-Raft-Source-Id header field: %v", err)
		return
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		t.replyError(w, 500, "cannot read request body: %v", err)
		return
	}

	w.WriteHeader(204)

	select {
	case <-t.stopChan:
	case t.rpcChan <- incomingRPC{from: sourceId, data: data}:
	}
}

func (t *Transport) replyError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	t.log.Error(format, args...)
	w.WriteHeader(status)
	fmt.Fprintf(w, format, args...)
}

func (t *Transport) Start(errorChan chan<- error) error {
	t.errorChan = errorChan

	listener, err := net.Listen("tcp", t.localAddress)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", t.localAddress, err)
	}

	t.httpServer = &http.Server{
		Addr:              t.localAddress,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           t,
	}

	go func() {
		defer func() {
			if value := recover(); value != nil {
				t.log.Error("panic: %s\n%s", raft.RecoverValueString(value), raft.StackTrace(10))
			}
		}()

		if err := t.httpServer.Serve(listener); err != http.ErrServerClosed {
			t.errorChan <- fmt.Errorf("raft transport server error: %w", err)
		}
	}()

	t.httpClient = newHTTPClient()

	t.mu.Lock()
	err = t.node.Start()
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cannot start raft node: %w", err)
	}

	t.wg.Add(1)
	go t.main()

	return nil
}

func (t *Transport) Stop() {
	close(t.stopChan)
	t.wg.Wait()
}

func (t *Transport) main() {
	defer t.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := raft.RecoverValueString(value)
			t.log.Error("panic: %s\n%s", msg, raft.StackTrace(10))
			t.errorChan <- fmt.Errorf("panic in raft transport: %s", msg)
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-t.stopChan:
			t.shutdown()
			return

		case now := <-ticker.C:
			elapsed := now.Sub(lastTick)
			lastTick = now

			t.mu.Lock()
			err := t.node.Tick(int(elapsed / time.Millisecond))
			t.mu.Unlock()

			if err != nil && err != raft.ErrStopped {
				t.log.Error("tick error: %v", err)
			}

		case incoming := <-t.rpcChan:
			t.mu.Lock()
			err := t.node.Receive(incoming.from, incoming.data)
			t.mu.Unlock()

			if err != nil {
				t.log.Debug(1, "cannot process message from node %d: %v", incoming.from, err)
			}
		}
	}
}

func (t *Transport) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	t.httpServer.Shutdown(ctx)

	t.mu.Lock()
	t.node.Stop()
	t.mu.Unlock()
}

// WithLock runs fn while holding the same mutex the ticker/RPC goroutine
// uses, letting the API server call into Node safely from its own
// goroutine without becoming a second concurrent writer.
func (t *Transport) WithLock(fn func(*raft.Node) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fn(t.node)
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		}).DialContext,

		MaxIdleConns:          30,
		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}
