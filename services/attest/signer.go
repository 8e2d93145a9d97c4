// Package attest signs proof chain heads with an Ed25519 key derived from an
// age identity, so issued proofs can be checked offline against a published
// public key.
package attest

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	envSecretKey = "VCODE_ATTEST_SECRET_KEY"
	envPublicKey = "VCODE_ATTEST_PUBLIC_KEY"

	ageSecretKeyHRP = "age-secret-key-"
)

// Signer signs and verifies attestation payloads. A signer built from only a
// public key can verify but not sign.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// NewSigner builds a Signer from an age secret key and/or a base64-encoded
// Ed25519 public key. When both are given they must agree.
func NewSigner(secret, pub string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	pub = strings.TrimSpace(pub)

	if secret == "" && pub == "" {
		return nil, errors.New("attest: a secret key or public key is required")
	}

	s := &Signer{}

	if secret != "" {
		seed, err := decodeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("attest: parse secret key: %w", err)
		}
		s.privateKey = ed25519.NewKeyFromSeed(seed)
		s.publicKey = ed25519.PublicKey(s.privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secret); err == nil {
			if r := identity.Recipient(); r != nil {
				s.recipient = r.String()
			}
		}
	}

	if pub != "" {
		decoded, err := base64.StdEncoding.DecodeString(pub)
		if err != nil {
			return nil, fmt.Errorf("attest: decode public key: %w", err)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("attest: public key must decode to %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
		}
		if s.publicKey == nil {
			s.publicKey = ed25519.PublicKey(decoded)
		} else if !bytes.Equal(s.publicKey, decoded) {
			return nil, errors.New("attest: public key does not match secret key")
		}
	}

	return s, nil
}

// NewSignerFromEnv builds a Signer from VCODE_ATTEST_SECRET_KEY and
// VCODE_ATTEST_PUBLIC_KEY.
func NewSignerFromEnv() (*Signer, error) {
	return NewSigner(os.Getenv(envSecretKey), os.Getenv(envPublicKey))
}

// NewSignerFromIdentity builds a signing-capable Signer directly from an age
// identity.
func NewSignerFromIdentity(identity *age.X25519Identity) (*Signer, error) {
	if identity == nil {
		return nil, errors.New("attest: nil identity")
	}
	return NewSigner(identity.String(), "")
}

// CanSign reports whether the signer holds a private key.
func (s *Signer) CanSign() bool {
	return s != nil && len(s.privateKey) > 0
}

// Sign produces a base64-encoded Ed25519 signature over the payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil {
		return "", errors.New("attest: nil signer")
	}
	if len(s.privateKey) == 0 {
		return "", errors.New("attest: signer holds no private key")
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, payload)), nil
}

// Verify checks a base64 signature against the payload. If claimedKey is
// non-empty it must match the configured public key, and is used when the
// signer was built without one.
func (s *Signer) Verify(payload []byte, signature, claimedKey string) error {
	if s == nil {
		return errors.New("attest: nil signer")
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("attest: decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("attest: invalid signature length %d", len(sig))
	}

	key := s.publicKey
	if claimedKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(claimedKey)
		if err != nil {
			return fmt.Errorf("attest: decode claimed key: %w", err)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return fmt.Errorf("attest: claimed key must be %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
		}
		if key != nil && !bytes.Equal(key, decoded) {
			return errors.New("attest: payload signed by unexpected key")
		}
		if key == nil {
			key = ed25519.PublicKey(decoded)
		}
	}

	if key == nil {
		return errors.New("attest: no public key available")
	}
	if !ed25519.Verify(key, payload, sig) {
		return errors.New("attest: signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the Ed25519 public key in base64 form, or an empty
// string when none is configured.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient returns the age recipient string when the signer was built from a
// secret key.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, ageSecretKeyHRP) {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	seed, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(seed))
	}
	return seed, nil
}
