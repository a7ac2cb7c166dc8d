package client

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Client talks the treeline IPC protocol over the server's unix socket.
// Each call is one connection: write the NUL-terminated request, read the
// response until the server closes.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

func (c *Client) roundTrip(command string, args ...string) ([]byte, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to indexer at %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	frame := command
	if len(args) > 0 {
		frame += " " + strings.Join(args, " ")
	}
	if _, err := conn.Write(append([]byte(frame), 0)); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Account fetches the serialized account for addr.
func (c *Client) Account(addr string) ([]byte, error) {
	return c.roundTrip("account", addr)
}

// BestChain fetches up to n blocks from the best tip toward genesis.
func (c *Client) BestChain(n int) ([]byte, error) {
	return c.roundTrip("best_chain", strconv.Itoa(n))
}

// BestLedger asks the server to write the full ledger to path.
func (c *Client) BestLedger(path string) ([]byte, error) {
	return c.roundTrip("best_ledger", path)
}

// Summary fetches the short or verbose indexer summary.
func (c *Client) Summary(verbose bool) ([]byte, error) {
	return c.roundTrip("summary", strconv.FormatBool(verbose))
}

// SaveState asks the server to snapshot its state to path.
func (c *Client) SaveState(path string) ([]byte, error) {
	return c.roundTrip("save_state", path)
}
