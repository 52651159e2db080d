package engine

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// ErrInvalidRequest is returned by Validate for malformed requests.
var ErrInvalidRequest = errors.New("invalid request")

type CallKind string

const (
	CallDeposit  CallKind = "deposit"
	CallWithdraw CallKind = "withdraw"
	CallSwap     CallKind = "swap"
)

// Request is a signed ledger call. For swaps AssetA/AmountA are the input leg,
// AssetB is the output asset and AmountB is ignored.
type Request struct {
	Kind      CallKind      `json:"kind"`
	AssetA    AssetID       `json:"assetA"`
	AmountA   *uint256.Int  `json:"amountA"`
	AssetB    AssetID       `json:"assetB"`
	AmountB   *uint256.Int  `json:"amountB,omitempty"`
	Nonce     uint64        `json:"nonce"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

type signingPayload struct {
	Kind    string
	AssetA  uint64
	AmountA *uint256.Int
	AssetB  uint64
	AmountB *uint256.Int
	Nonce   uint64
}

// Validate checks the request shape without touching any state.
func (r *Request) Validate() error {
	switch r.Kind {
	case CallDeposit, CallWithdraw:
		if r.AmountA == nil || r.AmountB == nil {
			return fmt.Errorf("%w: %s requires amountA and amountB", ErrInvalidRequest, r.Kind)
		}
	case CallSwap:
		if r.AmountA == nil {
			return fmt.Errorf("%w: swap requires amountA", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown call kind %q", ErrInvalidRequest, r.Kind)
	}
	return nil
}

// SigningHash is keccak256(rlp(kind, assetA, amountA, assetB, amountB, nonce)).
// The signature is not part of the hash.
func (r *Request) SigningHash() (common.Hash, error) {
	payload := signingPayload{
		Kind:    string(r.Kind),
		AssetA:  uint64(r.AssetA),
		AmountA: orZero(r.AmountA),
		AssetB:  uint64(r.AssetB),
		AmountB: orZero(r.AmountB),
		Nonce:   r.Nonce,
	}
	if r.Kind == CallSwap {
		payload.AmountB = new(uint256.Int)
	}
	enc, err := rlp.EncodeToBytes(&payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("request: failed to encode signing payload: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
