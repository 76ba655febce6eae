// Package metatx verifies relayed calls signed off-chain by their author.
package metatx

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "voucherchain/core/errors"
	"voucherchain/crypto"
)

var (
	// ErrBadSignature is returned when the recovered signer does not match the
	// envelope. Stale and forged signatures are classed with replays.
	ErrBadSignature = fmt.Errorf("%w: signature does not match signer", coreerrors.ErrReplayViolation)
	// ErrNonceUsed is returned when the signer already consumed the nonce.
	ErrNonceUsed = fmt.Errorf("%w: nonce already used", coreerrors.ErrReplayViolation)
	// ErrUnknownMethod is returned for methods the relayer does not route.
	ErrUnknownMethod = fmt.Errorf("%w: unknown method", coreerrors.ErrGuardViolation)
)

// Envelope is a call signed by Signer and submitted by any relayer.
type Envelope struct {
	Signer    [20]byte
	Nonce     uint64
	Method    string
	Payload   json.RawMessage
	Signature []byte
}

// Digest returns the hash the signer commits to. Variable-length fields are
// hashed individually so that no two envelopes share an encoding.
func Digest(domain string, env *Envelope) []byte {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], env.Nonce)
	return ethcrypto.Keccak256(
		ethcrypto.Keccak256([]byte(domain)),
		env.Signer[:],
		nonce[:],
		ethcrypto.Keccak256([]byte(env.Method)),
		ethcrypto.Keccak256(env.Payload),
	)
}

// Sign fills the envelope's signer and signature using key.
func Sign(domain string, env *Envelope, key *crypto.PrivateKey) error {
	if env == nil || key == nil {
		return errors.New("metatx: envelope and key required")
	}
	env.Signer = key.PubKey().Address().Array()
	sig, err := key.Sign(Digest(domain, env))
	if err != nil {
		return err
	}
	env.Signature = sig
	return nil
}

// Verify checks that Signature was produced by Signer over the envelope.
func Verify(domain string, env *Envelope) error {
	if env == nil {
		return errors.New("metatx: nil envelope")
	}
	if env.Signer == ([20]byte{}) {
		return fmt.Errorf("%w: signer required", ErrBadSignature)
	}
	if len(env.Signature) != 65 {
		return fmt.Errorf("%w: signature must be 65 bytes", ErrBadSignature)
	}
	recovered, err := crypto.RecoverAddress(Digest(domain, env), env.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != env.Signer {
		return ErrBadSignature
	}
	return nil
}

// NonceStore records consumed nonces per signer.
type NonceStore interface {
	RelayNonceUsed(signer [20]byte, nonce uint64) (bool, error)
	MarkRelayNonce(signer [20]byte, nonce uint64) error
}

// Consume verifies env and marks its nonce as used. Callers run it inside the
// same state transaction as the dispatched call so a failed call also returns
// the nonce.
func Consume(domain string, store NonceStore, env *Envelope) error {
	if store == nil {
		return errors.New("metatx: nonce store not configured")
	}
	if err := Verify(domain, env); err != nil {
		return err
	}
	used, err := store.RelayNonceUsed(env.Signer, env.Nonce)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: signer %x nonce %d", ErrNonceUsed, env.Signer, env.Nonce)
	}
	return store.MarkRelayNonce(env.Signer, env.Nonce)
}
