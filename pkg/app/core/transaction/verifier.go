package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Verifier checks that a transaction was signed by its owner
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Hash returns the EIP-712 digest of an action. It doubles as the transaction hash.
func (v *Verifier) Hash(a Action) (common.Hash, error) {
	digest, err := v.eip712Signer.Hash(a)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(digest), nil
}

// Verify decodes tx, recovers the signer and checks it equals the declared owner
func (v *Verifier) Verify(tx *SignedTransaction) (Action, common.Hash, error) {
	a, err := tx.Action()
	if err != nil {
		return nil, common.Hash{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	hash, err := v.Hash(a)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	signer, err := crypto.RecoverAddress(hash.Bytes(), sig)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer != a.Header().Owner {
		return nil, common.Hash{}, fmt.Errorf("%w: signed by %s, owner is %s", ErrInvalidSignature, signer.Hex(), a.Header().Owner.Hex())
	}
	return a, hash, nil
}

// Sign signs a and returns the wire envelope
func (v *Verifier) Sign(signer *crypto.Signer, a Action) (*SignedTransaction, error) {
	sig, err := v.eip712Signer.Sign(signer, a)
	if err != nil {
		return nil, err
	}
	return Envelope(a, sig), nil
}

// TypedDataJSON renders a for wallet signing (eth_signTypedData_v4)
func (v *Verifier) TypedDataJSON(a Action) (string, error) {
	return v.eip712Signer.ToJSON(a)
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
