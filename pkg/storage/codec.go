package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// amounts are stored as decimal strings so the raw store stays readable
func encodeAmount(v *uint256.Int) []byte {
	return []byte(v.Dec())
}

func decodeAmount(b []byte) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", b, err)
	}
	return v, nil
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
