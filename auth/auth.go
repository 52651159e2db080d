// Package auth attributes signed ledger requests to accounts. A request is signed with a
// secp256k1 key over its SigningHash; the signer address is the caller's AccountID.
package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("invalid signature")
	ErrBadNonce         = errors.New("unexpected nonce")
)

// Authenticator recovers the signer of a request and enforces per-account sequential nonces,
// starting at zero. A nonce is consumed only when authentication succeeds. Nonces live in
// the store, so a signed request cannot be replayed after a restart.
type Authenticator struct {
	store store.Store
}

func NewAuthenticator(s store.Store) *Authenticator {
	return &Authenticator{store: s}
}

func (a *Authenticator) Authenticate(ctx context.Context, req *engine.Request) (engine.AccountID, error) {
	if len(req.Signature) == 0 {
		return engine.AccountID{}, ErrMissingSignature
	}
	if len(req.Signature) != crypto.SignatureLength {
		return engine.AccountID{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(req.Signature))
	}

	hash, err := req.SigningHash()
	if err != nil {
		return engine.AccountID{}, err
	}
	pub, err := crypto.SigToPub(hash.Bytes(), req.Signature)
	if err != nil {
		return engine.AccountID{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	account := crypto.PubkeyToAddress(*pub)

	err = a.store.Update(ctx, func(tx store.Tx) error {
		expected, err := tx.Nonce(account)
		if err != nil {
			return err
		}
		if req.Nonce != expected {
			return fmt.Errorf("%w: account %s expected %d, got %d", ErrBadNonce, account.Hex(), expected, req.Nonce)
		}
		if expected == math.MaxUint64 {
			return fmt.Errorf("%w: account %s has exhausted its nonces", ErrBadNonce, account.Hex())
		}
		return tx.SetNonce(account, expected+1)
	})
	if err != nil {
		return engine.AccountID{}, err
	}
	return account, nil
}

// Nonce returns the next nonce account must sign with.
func (a *Authenticator) Nonce(ctx context.Context, account engine.AccountID) (uint64, error) {
	var nonce uint64
	err := a.store.View(ctx, func(tx store.Tx) error {
		var err error
		nonce, err = tx.Nonce(account)
		return err
	})
	return nonce, err
}

// Signer signs requests with a single private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	account engine.AccountID
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewSigner(key), nil
}

// SignerFromHex loads a signer from a hex encoded private key, with or without 0x.
func SignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewSigner(key), nil
}

func (s *Signer) Account() engine.AccountID {
	return s.account
}

// Sign sets req.Signature in place.
func (s *Signer) Sign(req *engine.Request) error {
	hash, err := req.SigningHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Signature = sig
	return nil
}
