package attest

import (
	"strings"
	"testing"

	"filippo.io/age"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	s, err := NewSignerFromIdentity(identity)
	if err != nil {
		t.Fatalf("NewSignerFromIdentity() error = %v", err)
	}
	return s
}

func TestSignAndVerify(t *testing.T) {
	s := newTestSigner(t)
	payload := []byte("chain-head-hash")

	sig, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := s.Verify(payload, sig, ""); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := s.Verify([]byte("tampered"), sig, ""); err == nil {
		t.Fatal("Verify() accepted a tampered payload")
	}
}

func TestVerifyWithClaimedKey(t *testing.T) {
	s := newTestSigner(t)
	payload := []byte("payload")

	sig, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier, err := NewSigner("", s.PublicKeyBase64())
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	if verifier.CanSign() {
		t.Fatal("public-key-only signer reports CanSign")
	}
	if err := verifier.Verify(payload, sig, s.PublicKeyBase64()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	other := newTestSigner(t)
	if err := verifier.Verify(payload, sig, other.PublicKeyBase64()); err == nil {
		t.Fatal("Verify() accepted a mismatched claimed key")
	}
}

func TestNewSignerRejectsEmptyInput(t *testing.T) {
	if _, err := NewSigner("", ""); err == nil {
		t.Fatal("NewSigner() accepted empty keys")
	}
}

func TestNewSignerRejectsMismatchedPair(t *testing.T) {
	other := newTestSigner(t)

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	if _, err := NewSigner(identity.String(), other.PublicKeyBase64()); err == nil {
		t.Fatal("NewSigner() accepted a mismatched key pair")
	}
}

func TestRecipient(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	s, err := NewSignerFromIdentity(identity)
	if err != nil {
		t.Fatalf("NewSignerFromIdentity() error = %v", err)
	}
	if got := s.Recipient(); !strings.HasPrefix(got, "age1") {
		t.Fatalf("Recipient() = %q, want age1 prefix", got)
	}
}
