package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/treelinehq/treeline/config"
	"github.com/treelinehq/treeline/exception"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/receiver"
	"github.com/treelinehq/treeline/state"
	"github.com/treelinehq/treeline/store"
	"github.com/treelinehq/treeline/witness"
)

// stateRequest is one unit of read access executed by the writer task.
// Handlers capture their own response channels; the writer just runs the
// closure, so no reader ever touches IndexerState concurrently.
type stateRequest func(*state.IndexerState)

// saveRequest asks the writer to snapshot to Path and reports the result.
type saveRequest struct {
	Path string
	Resp chan error
}

const (
	blockQueueSize   = 1024
	requestQueueSize = 64
)

// Server wires the block receiver, the IPC listener and the single writer
// task that owns IndexerState.
type Server struct {
	cfg      *config.IndexerConfig
	state    *state.IndexerState
	recv     receiver.BlockReceiver
	roStore  *store.ReadOnlyStore
	requests chan stateRequest
	saves    chan saveRequest
	// wg joins the receiver, the accept loop and every connection handler
	// so Run does not return while any of them is still working
	wg sync.WaitGroup
}

// NewServer builds a server around an initialized state and receiver.
func NewServer(cfg *config.IndexerConfig, st *state.IndexerState, recv receiver.BlockReceiver) *Server {
	return &Server{
		cfg:      cfg,
		state:    st,
		recv:     recv,
		roStore:  st.Store().ReadOnly(),
		requests: make(chan stateRequest, requestQueueSize),
		saves:    make(chan saveRequest, 1),
	}
}

// Run drives the server until ctx is cancelled. It owns the writer loop;
// the receiver and the IPC accept loop run as background tasks and are
// joined before Run returns, so in-flight connections get to finish and
// the receiver gets to clean up its working directory.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := s.bindSocket()
	if err != nil {
		return err
	}
	defer os.Remove(s.cfg.SocketPath)

	s.wg.Add(1)
	exception.SafeGo("block-receiver", func() {
		defer s.wg.Done()
		if err := s.recv.Run(ctx); err != nil {
			logx.Error("SERVER", "block receiver stopped: ", err)
		}
	})
	s.wg.Add(1)
	exception.SafeGo("ipc-listener", func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, listener)
	})

	logx.Info("SERVER", "treeline indexer serving on ", s.cfg.SocketPath)
	err = s.writerLoop(ctx)

	// the writer is gone: unblock pending handlers and the accept loop,
	// then wait for every background task to drain
	cancel()
	listener.Close()
	s.wg.Wait()
	return err
}

// bindSocket claims the unix socket, removing a stale file left by a dead
// process but refusing to displace a live server.
func (s *Server) bindSocket() (net.Listener, error) {
	if conn, err := net.Dial("unix", s.cfg.SocketPath); err == nil {
		conn.Close()
		return nil, fmt.Errorf("another indexer is already serving on %s", s.cfg.SocketPath)
	}
	if _, err := os.Stat(s.cfg.SocketPath); err == nil {
		logx.Debug("SERVER", "removing stale socket file ", s.cfg.SocketPath)
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket %s: %w", s.cfg.SocketPath, err)
		}
	}
	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("bind socket %s: %w", s.cfg.SocketPath, err)
	}
	return listener, nil
}

// writerLoop is the single task allowed to mutate IndexerState. Blocks,
// read requests and snapshot saves are all serialized here, which is the
// entire concurrency story of the witness tree.
func (s *Server) writerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			logx.Info("SERVER", "writer loop shutting down")
			return nil

		case b := <-s.recv.Blocks():
			ext, err := s.state.AddBlock(b)
			if err != nil {
				// placement reached an impossible state: the tree can no
				// longer be trusted, stop the writer
				return fmt.Errorf("add block %s: %w", b.StateHash, err)
			}
			logx.Info("SERVER", "added block ", b.Summary(),
				" height=", b.Height, " result=", ext.String())

		case err := <-s.recv.Errors():
			logx.Warn("SERVER", "receiver: ", err)

		case req := <-s.requests:
			req(s.state)

		case save := <-s.saves:
			save.Resp <- s.state.SaveSnapshot(save.Path)
		}
	}
}

// query runs fn on the writer task and waits for it to finish. The
// requests channel is bounded, so floods of connections back-pressure here
// instead of piling up behind the tree.
func (s *Server) query(ctx context.Context, fn stateRequest) error {
	done := make(chan struct{})
	wrapped := func(st *state.IndexerState) {
		fn(st)
		close(done)
	}
	select {
	case s.requests <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InitializeState builds the IndexerState the server will own, from the
// snapshot when configured, otherwise fresh at the configured root.
func InitializeState(cfg *config.IndexerConfig, st *store.IndexerStore, wc witness.Config) (*state.IndexerState, error) {
	if cfg.FromSnapshot {
		logx.Info("SERVER", "initializing state from snapshot ", cfg.SnapshotPath)
		return state.FromStateSnapshot(cfg.SnapshotPath, st)
	}
	logx.Info("SERVER", "initializing state at root ", cfg.RootHash)
	return state.New(cfg.RootHash, cfg.RootHeight, cfg.GenesisAccounts, st, wc)
}
