package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

var (
	ErrInvalidAddress = errors.New("chain: invalid wallet address")
	ErrInvalidTxHash  = errors.New("chain: invalid transaction hash")
)

// NormalizeAddress accepts a 0x-prefixed script hash in any case or a base58
// Neo N3 address and returns the canonical lower-case 0x script hash.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidAddress
	}
	if hasHexPrefix(s) {
		u, err := ParseScriptHash(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return FormatScriptHash(u), nil
	}
	u, err := address.StringToUint160(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return FormatScriptHash(u), nil
}

// NormalizeTxHash validates a 0x-prefixed 32-byte hash and lower-cases it.
func NormalizeTxHash(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !hasHexPrefix(s) || len(s) != 66 {
		return "", ErrInvalidTxHash
	}
	u, err := util.Uint256DecodeStringLE(s[2:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTxHash, err)
	}
	return "0x" + u.StringLE(), nil
}

// ParseScriptHash decodes a 40-hex script hash with an optional 0x prefix.
func ParseScriptHash(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if hasHexPrefix(s) {
		s = s[2:]
	}
	if len(s) != 40 {
		return util.Uint160{}, fmt.Errorf("script hash must be 40 hex characters, got %d", len(s))
	}
	return util.Uint160DecodeStringLE(strings.ToLower(s))
}

// FormatScriptHash renders u in canonical form.
func FormatScriptHash(u util.Uint160) string {
	return "0x" + u.StringLE()
}

func hasHexPrefix(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}
