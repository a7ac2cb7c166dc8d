package common

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// StateHashPrefix is the human-readable prefix every block state hash
// carries on this network.
const StateHashPrefix = "3N"

// EncodeBytesToBase58 encodes bytes directly to base58
func EncodeBytesToBase58(bytes []byte) string {
	return base58.Encode(bytes)
}

// DecodeBase58ToBytes decodes base58 string to bytes
func DecodeBase58ToBytes(base58Str string) ([]byte, error) {
	bytes, err := base58.Decode(base58Str)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base58 string: %w", err)
	}
	return bytes, nil
}

// IsValidStateHash checks that s looks like a block state hash: the network
// prefix followed by a well-formed base58 payload.
func IsValidStateHash(s string) bool {
	if !strings.HasPrefix(s, StateHashPrefix) {
		return false
	}
	if len(s) < 40 {
		return false
	}
	_, err := base58.Decode(s)
	return err == nil
}

// IsValidAddress checks that s is a well-formed base58 account address.
func IsValidAddress(s string) bool {
	if len(s) == 0 {
		return false
	}
	b, err := base58.Decode(s)
	return err == nil && len(b) > 0
}
