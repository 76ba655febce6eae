package metatx

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	coreerrors "voucherchain/core/errors"
	"voucherchain/crypto"
)

type memNonces map[[20]byte]map[uint64]bool

func (m memNonces) RelayNonceUsed(signer [20]byte, nonce uint64) (bool, error) {
	return m[signer][nonce], nil
}

func (m memNonces) MarkRelayNonce(signer [20]byte, nonce uint64) error {
	if m[signer] == nil {
		m[signer] = make(map[uint64]bool)
	}
	m[signer][nonce] = true
	return nil
}

func signedEnvelope(t *testing.T, key *crypto.PrivateKey, nonce uint64) *Envelope {
	t.Helper()
	env := &Envelope{Nonce: nonce, Method: MethodRedeem, Payload: json.RawMessage(`{"voucherId":"00"}`)}
	if err := Sign("test-domain", env, key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return env
}

func TestVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	env := signedEnvelope(t, key, 1)
	if err := Verify("test-domain", env); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify("other-domain", env); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected domain separation, got %v", err)
	}
	tampered := *env
	tampered.Payload = json.RawMessage(`{"voucherId":"01"}`)
	if err := Verify("test-domain", &tampered); !errors.Is(err, coreerrors.ErrReplayViolation) {
		t.Fatalf("expected tampered payload to fail as a replay violation, got %v", err)
	}
	tampered = *env
	tampered.Signature = make([]byte, 65)
	err = Verify("test-domain", &tampered)
	if !errors.Is(err, ErrBadSignature) || coreerrors.Kind(err) != "replay" {
		t.Fatalf("expected zeroed signature to be a replay violation, got %v (%s)", err, coreerrors.Kind(err))
	}
	tampered = *env
	tampered.Signature = env.Signature[:10]
	if err := Verify("test-domain", &tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected short signature to fail, got %v", err)
	}
}

func TestConsumeRejectsReplay(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	store := memNonces{}
	env := signedEnvelope(t, key, 7)
	if err := Consume("test-domain", store, env); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := Consume("test-domain", store, env); !errors.Is(err, coreerrors.ErrReplayViolation) {
		t.Fatalf("expected replay violation, got %v", err)
	}
	if err := Consume("test-domain", store, signedEnvelope(t, key, 3)); err != nil {
		t.Fatalf("out-of-order nonce should be accepted once: %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("300000000000000000")
	if err != nil || amount.String() != "300000000000000000" {
		t.Fatalf("unexpected amount %v err=%v", amount, err)
	}
	if zero, err := ParseAmount(""); err != nil || zero.Sign() != 0 {
		t.Fatalf("empty amount should be zero")
	}
	for _, bad := range []string{"-1", "1.5", "abc", "1" + strings.Repeat("0", 80)} {
		if _, err := ParseAmount(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var payload VoucherPayload
	if err := Decode(json.RawMessage(`{"voucherId":"aa","extra":1}`), &payload); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if err := Decode(json.RawMessage(`{"voucherId":"aa"}`), &payload); err != nil || payload.VoucherID != "aa" {
		t.Fatalf("decode: %v", err)
	}
}
