package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	bal:{token}:{owner}              → custodial balance (decimal string)
//	ord:{id:020}                     → order record
//	meta:order_count                 → order counter
//	meta:config                      → fee account / fee percent / custody account
//	meta:height                      → last committed height
//	nonce:{owner}                    → next expected nonce
//	rcpt:{hash}                      → receipt
//	blk:{height:020}                 → signed block
//	tok:{token}:bal:{owner}          → devnet token wallet balance
//	tok:{token}:alw:{owner}:{spender} → devnet token allowance
//
// Addresses are lowercase hex so prefix scans are stable.
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixNonce   = "nonce:"
	prefixReceipt = "rcpt:"
	prefixBlock   = "blk:"
	prefixToken   = "tok:"

	keyOrderCount = "meta:order_count"
	keyConfig     = "meta:config"
	keyHeight     = "meta:height"
)

func hexAddr(a common.Address) string {
	return fmt.Sprintf("%x", a[:])
}

func balanceKey(tok, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, hexAddr(tok), hexAddr(owner)))
}

// orderKey zero-pads the id so keys sort numerically
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func nonceKey(owner common.Address) []byte {
	return []byte(prefixNonce + hexAddr(owner))
}

func receiptKey(h common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%x", prefixReceipt, h[:]))
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

func tokenBalanceKey(tok, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:bal:%s", prefixToken, hexAddr(tok), hexAddr(owner)))
}

func tokenBalancePrefix(tok common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:bal:", prefixToken, hexAddr(tok)))
}

func tokenAllowanceKey(tok, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:alw:%s:%s", prefixToken, hexAddr(tok), hexAddr(owner), hexAddr(spender)))
}

func tokenAllowancePrefix(tok common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:alw:", prefixToken, hexAddr(tok)))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// parseAddrs splits the colon-separated hex addresses that follow prefix in key
func parseAddrs(key, prefix []byte, n int) ([]common.Address, error) {
	rest := string(key[len(prefix):])
	out := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 40 {
			return nil, fmt.Errorf("short key %q", key)
		}
		out = append(out, common.HexToAddress(rest[:40]))
		rest = rest[40:]
		if i < n-1 {
			if len(rest) == 0 || rest[0] != ':' {
				return nil, fmt.Errorf("malformed key %q", key)
			}
			rest = rest[1:]
		}
	}
	if rest != "" {
		return nil, fmt.Errorf("trailing data in key %q", key)
	}
	return out, nil
}
