package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/client"
	"github.com/treelinehq/treeline/config"
	"github.com/treelinehq/treeline/state"
	"github.com/treelinehq/treeline/store"
	"github.com/treelinehq/treeline/witness"
)

const testAddr = "B62qpkCEM5N5ddVsYNbFtwWV4bsT9AwuUJXoehFhHUbYYvZ6j3fXt93"

// stubReceiver hands the writer loop whatever the test pushes into it.
type stubReceiver struct {
	blocks  chan *block.Block
	errs    chan error
	cleaned chan struct{}
}

func newStubReceiver() *stubReceiver {
	return &stubReceiver{
		blocks:  make(chan *block.Block, 64),
		errs:    make(chan error, 8),
		cleaned: make(chan struct{}),
	}
}

func (r *stubReceiver) Run(ctx context.Context) error {
	<-ctx.Done()
	// stands in for the working-directory cleanup of the real receivers
	close(r.cleaned)
	return nil
}

func (r *stubReceiver) Blocks() <-chan *block.Block { return r.blocks }
func (r *stubReceiver) Errors() <-chan error        { return r.errs }

func startTestServer(t *testing.T) (*client.Client, *stubReceiver, string, func()) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "ipc.sock")

	st, err := store.NewIndexerStore(filepath.Join(dir, "store"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wc := witness.Config{
		TransitionFrontierK:      20,
		CanonicalUpdateThreshold: 2,
		PruneInterval:            5,
		MaxDanglingBranches:      16,
		MaxDanglingAge:           time.Hour,
	}
	genesis := []config.GenesisAccount{{Address: testAddr, Balance: 1000}}
	ixState, err := state.New("3Nroot", 1, genesis, st, wc)
	require.NoError(t, err)

	recv := newStubReceiver()
	srv := NewServer(&config.IndexerConfig{SocketPath: socketPath}, ixState, recv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			t.Error(err)
		}
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)

	// wait for the socket to come up
	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	return client.NewClient(socketPath), recv, dir, stop
}

func feedChain(t *testing.T, c *client.Client, recv *stubReceiver, n int) {
	t.Helper()
	prev := "3Nroot"
	for i := 0; i < n; i++ {
		hash := fmt.Sprintf("3Nc%d", i)
		recv.blocks <- &block.Block{
			StateHash:  hash,
			ParentHash: prev,
			Height:     uint32(2 + i),
			LedgerDiff: []block.AccountDiff{{Address: testAddr, Delta: 5, Nonce: uint64(i + 1)}},
		}
		prev = hash
	}
	require.Eventually(t, func() bool {
		raw, err := c.Summary(false)
		if err != nil {
			return false
		}
		var summary state.Summary
		if err := json.Unmarshal(raw, &summary); err != nil {
			return false
		}
		return summary.BlocksProcessed == uint64(n)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerSummaryAndAccount(t *testing.T) {
	c, recv, _, _ := startTestServer(t)
	feedChain(t, c, recv, 6)

	raw, err := c.Summary(true)
	require.NoError(t, err)
	var summary state.Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "3Nc5", summary.BestTip.StateHash)
	assert.Equal(t, uint32(7), summary.BestTip.Height)
	assert.Equal(t, uint32(5), summary.CanonicalTip.Height)
	assert.Equal(t, 1, summary.LedgerAccounts)

	raw, err = c.Account(testAddr)
	require.NoError(t, err)
	var acc struct {
		Address string `json:"address"`
		Nonce   uint64 `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(raw, &acc))
	assert.Equal(t, testAddr, acc.Address)
	assert.Equal(t, uint64(4), acc.Nonce)

	raw, err = c.Account("B62qnope1111111111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "not found")
}

func TestServerBestChain(t *testing.T) {
	c, recv, _, _ := startTestServer(t)
	feedChain(t, c, recv, 4)

	raw, err := c.BestChain(3)
	require.NoError(t, err)
	var chain []*block.Block
	require.NoError(t, json.Unmarshal(raw, &chain))
	require.Len(t, chain, 3)
	assert.Equal(t, "3Nc3", chain[0].StateHash)
	assert.Equal(t, "3Nc2", chain[1].StateHash)
	assert.Equal(t, "3Nc1", chain[2].StateHash)

	raw, err = c.BestChain(0)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "error")
}

func TestServerBestLedgerAndSaveState(t *testing.T) {
	c, recv, dir, _ := startTestServer(t)
	feedChain(t, c, recv, 5)

	ledgerPath := filepath.Join(dir, "ledger.json")
	raw, err := c.BestLedger(ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ledger written to")
	data, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), testAddr)

	// a directory target is refused
	raw, err = c.BestLedger(dir)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "must be a file")

	snapPath := filepath.Join(dir, "state.cbor")
	raw, err = c.SaveState(snapPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "snapshot saved to")
	_, err = os.Stat(snapPath)
	require.NoError(t, err)
}

func TestServerShutdownJoinsReceiver(t *testing.T) {
	c, recv, _, stop := startTestServer(t)
	feedChain(t, c, recv, 2)

	// Run must not return before the receiver has finished its cleanup
	stop()
	select {
	case <-recv.cleaned:
	default:
		t.Fatal("server shut down without waiting for the receiver")
	}
}

func TestServerUnknownCommand(t *testing.T) {
	c, _, dir, _ := startTestServer(t)

	raw, err := c.Summary(false)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	conn, err := net.Dial("unix", filepath.Join(dir, "ipc.sock"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("explode now\x00"))
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, _ := conn.Read(buf)
	assert.Contains(t, string(buf[:n]), "unrecognized command")
}
