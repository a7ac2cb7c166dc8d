package server

import (
	"bytes"
	"fmt"
)

// IPC request framing: `<command> [arg ...]\x00`, tokens separated by
// single spaces. One request per connection; the response is unframed
// UTF-8 and the server closes the connection after writing it.

const (
	CmdAccount    = "account"
	CmdBestChain  = "best_chain"
	CmdBestLedger = "best_ledger"
	CmdSummary    = "summary"
	CmdSaveState  = "save_state"
)

// ParseRequest splits a NUL-terminated request frame into command and
// arguments.
func ParseRequest(frame []byte) (string, []string, error) {
	frame = bytes.TrimSuffix(frame, []byte{0})
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("empty request")
	}
	tokens := bytes.Split(frame, []byte{' '})
	command := string(tokens[0])
	args := make([]string, 0, len(tokens)-1)
	for _, tok := range tokens[1:] {
		if len(tok) == 0 {
			continue
		}
		args = append(args, string(tok))
	}
	return command, args, nil
}
