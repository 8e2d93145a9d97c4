package vcode

import (
	"context"
	"fmt"
	"time"
)

// AttestationSigner signs the chain head so the proof carries an externally
// checkable endorsement. Optional: without one, the proof still links to the
// chain head hash.
type AttestationSigner interface {
	Sign(payload []byte) (string, error)
	PublicKeyBase64() string
}

// DocumentStore uploads the proof and certificate documents and returns their
// final URLs. Optional: without one, the proof carries deterministic URLs
// under the public base.
type DocumentStore interface {
	StoreProofDocuments(ctx context.Context, session Session, chain []ChainEntry, proof Proof) (proofURL, certificateURL string, err error)
}

// buildProof assembles the proof certificate for a completing session. The QR
// payload is the deterministic verification URL derived from the session id.
// Callers pass the chain including the not-yet-persisted end entry.
func (s *Service) buildProof(ctx context.Context, session *Session, chain []ChainEntry, headHash string, now time.Time) (*Proof, error) {
	retention := session.Metadata.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}

	proof := Proof{
		SessionID:      session.ID,
		ProofURL:       fmt.Sprintf("%s/vcode/proof/%s.pdf", s.publicBase, session.ID),
		QRCode:         fmt.Sprintf("%s/vcode/verify/%s", s.publicBase, session.ID),
		CertificateURL: fmt.Sprintf("%s/vcode/certificate/%s.pdf", s.publicBase, session.ID),
		ChainHead:      headHash,
		IssuedAt:       now,
		ExpiresAt:      now.AddDate(0, 0, retention),
	}

	if s.signer != nil {
		attestation, err := s.signer.Sign([]byte(headHash))
		if err != nil {
			return nil, fmt.Errorf("attest chain head: %w", err)
		}
		proof.Attestation = attestation
		proof.AttestationKey = s.signer.PublicKeyBase64()
	}

	if s.documents != nil {
		proofURL, certificateURL, err := s.documents.StoreProofDocuments(ctx, *session, chain, proof)
		if err != nil {
			return nil, fmt.Errorf("store proof documents: %w", err)
		}
		proof.ProofURL = proofURL
		proof.CertificateURL = certificateURL
	}

	return &proof, nil
}
