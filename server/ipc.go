package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/common"
	"github.com/treelinehq/treeline/exception"
	"github.com/treelinehq/treeline/ledger"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/state"
)

const (
	maxRequestBytes = 1024
	bestChainLimit  = 1000
)

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Error("SERVER", "accept: ", err)
			return
		}
		s.wg.Add(1)
		exception.SafeGo("ipc-connection", func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		})
	}
}

// handleConnection serves one request frame. Reads of tree and ledger
// state happen as a single writer round-trip (the read snapshot for this
// connection); block payloads are then fetched through the read-only store
// handle so a big chain read never occupies the writer.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	reader := bufio.NewReaderSize(conn, maxRequestBytes)
	frame, err := reader.ReadBytes(0)
	if err != nil {
		logx.Warn("SERVER", "malformed request frame: ", err)
		return
	}
	command, args, err := ParseRequest(frame)
	if err != nil {
		logx.Warn("SERVER", "protocol error: ", err)
		s.reply(conn, "error: "+err.Error())
		return
	}

	switch command {
	case CmdAccount:
		s.handleAccount(ctx, conn, args)
	case CmdBestChain:
		s.handleBestChain(ctx, conn, args)
	case CmdBestLedger:
		s.handleBestLedger(ctx, conn, args)
	case CmdSummary:
		s.handleSummary(ctx, conn, args)
	case CmdSaveState:
		s.handleSaveState(ctx, conn, args)
	default:
		logx.Warn("SERVER", "unrecognized command ", command, ", closing connection")
		s.reply(conn, fmt.Sprintf("error: unrecognized command %q", command))
	}
}

func (s *Server) reply(conn net.Conn, message string) {
	s.replyBytes(conn, []byte(message))
}

func (s *Server) replyBytes(conn net.Conn, payload []byte) {
	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := conn.Write(payload); err != nil {
		logx.Warn("SERVER", "write reply: ", err)
	}
}

func (s *Server) handleAccount(ctx context.Context, conn net.Conn, args []string) {
	if len(args) != 1 || !common.IsValidAddress(args[0]) {
		s.reply(conn, "error: usage: account <address>")
		return
	}
	addr := args[0]

	var (
		account *ledger.Account
		lookup  error
	)
	if err := s.query(ctx, func(st *state.IndexerState) {
		account, lookup = st.Account(addr)
	}); err != nil {
		return
	}
	if lookup != nil {
		s.reply(conn, fmt.Sprintf("account %s not found", addr))
		return
	}
	payload, err := json.Marshal(account)
	if err != nil {
		s.reply(conn, "error: could not serialize account")
		return
	}
	s.replyBytes(conn, payload)
}

func (s *Server) handleBestChain(ctx context.Context, conn net.Conn, args []string) {
	if len(args) != 1 {
		s.reply(conn, "error: usage: best_chain <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 || n > bestChainLimit {
		s.reply(conn, fmt.Sprintf("error: best_chain length must be in [1, %d]", bestChainLimit))
		return
	}

	// the writer only hands back the tip-first hash list
	var hashes []string
	if err := s.query(ctx, func(st *state.IndexerState) {
		for _, b := range st.BestChain(n) {
			hashes = append(hashes, b.StateHash)
		}
	}); err != nil {
		return
	}

	chain := make([]*block.Block, 0, len(hashes))
	for _, hash := range hashes {
		b, err := s.roStore.GetBlock(hash)
		if err != nil {
			s.reply(conn, "error: "+err.Error())
			return
		}
		if b == nil {
			// the root anchor has no stored payload; stop at the frontier
			break
		}
		chain = append(chain, b)
	}
	payload, err := json.Marshal(chain)
	if err != nil {
		s.reply(conn, "error: could not serialize best chain")
		return
	}
	s.replyBytes(conn, payload)
}

func (s *Server) handleBestLedger(ctx context.Context, conn net.Conn, args []string) {
	if len(args) != 1 {
		s.reply(conn, "error: usage: best_ledger <path>")
		return
	}
	path := args[0]
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		s.reply(conn, fmt.Sprintf("the path provided must be a file: %s", path))
		return
	}

	var accounts []*ledger.Account
	if err := s.query(ctx, func(st *state.IndexerState) {
		accounts = st.BestLedger()
	}); err != nil {
		return
	}

	payload, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		s.reply(conn, "error: could not serialize ledger")
		return
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		s.reply(conn, "error: "+err.Error())
		return
	}
	s.reply(conn, fmt.Sprintf("ledger written to %s", path))
}

func (s *Server) handleSummary(ctx context.Context, conn net.Conn, args []string) {
	if len(args) != 1 {
		s.reply(conn, "error: usage: summary <verbose>")
		return
	}
	verbose, err := strconv.ParseBool(args[0])
	if err != nil {
		s.reply(conn, "error: summary argument must be a boolean")
		return
	}

	var summary state.Summary
	if err := s.query(ctx, func(st *state.IndexerState) {
		if verbose {
			summary = st.SummaryVerbose()
		} else {
			summary = st.SummaryShort()
		}
	}); err != nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		s.reply(conn, "error: could not serialize summary")
		return
	}
	s.replyBytes(conn, payload)
}

func (s *Server) handleSaveState(ctx context.Context, conn net.Conn, args []string) {
	if len(args) != 1 {
		s.reply(conn, "error: usage: save_state <path>")
		return
	}
	save := saveRequest{Path: args[0], Resp: make(chan error, 1)}
	select {
	case s.saves <- save:
	case <-ctx.Done():
		return
	}
	select {
	case err := <-save.Resp:
		if err != nil {
			s.reply(conn, "error: "+err.Error())
			return
		}
		s.reply(conn, fmt.Sprintf("snapshot saved to %s", save.Path))
	case <-ctx.Done():
	}
}
