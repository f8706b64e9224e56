package crypto

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAddressFormat   = errors.New("address must be 0x followed by 40 hex characters")
	ErrAddressChecksum = errors.New("address checksum mismatch")
)

// ParseAddress parses a hex address strictly. All-lowercase and all-uppercase
// forms are accepted as-is; mixed case must carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, ErrAddressFormat
	}
	body := s[2:]
	if len(body) != 40 {
		return common.Address{}, ErrAddressFormat
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return common.Address{}, ErrAddressFormat
	}
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		// Hex renders the EIP-55 checksummed form
		if common.BytesToAddress(raw).Hex()[2:] != body {
			return common.Address{}, ErrAddressChecksum
		}
	}
	return common.BytesToAddress(raw), nil
}
