package vcode

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vcoded/pkg/blobs"
)

const documentURLTTL = 7 * 24 * time.Hour

// BlobDocumentStore writes proof and certificate documents to S3-compatible
// storage and returns presigned GET URLs. The certificate document is the
// canonical JSON summary of the session, its full chain, and the proof; the
// proof document is the compact variant handed to verifiers.
type BlobDocumentStore struct {
	client *blobs.Client
	bucket string
}

// NewBlobDocumentStore wires a blob client and bucket.
func NewBlobDocumentStore(client *blobs.Client, bucket string) (*BlobDocumentStore, error) {
	if client == nil {
		return nil, errors.New("blob client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &BlobDocumentStore{client: client, bucket: bucket}, nil
}

func (d *BlobDocumentStore) StoreProofDocuments(ctx context.Context, session Session, chain []ChainEntry, proof Proof) (string, string, error) {
	certificate := map[string]any{
		"session": session,
		"chain":   chain,
		"proof":   proof,
	}
	certificateKey := fmt.Sprintf("proofs/%s/certificate.json", session.ID)
	certificateURL, err := d.put(ctx, certificateKey, certificate)
	if err != nil {
		return "", "", fmt.Errorf("store certificate: %w", err)
	}

	summary := map[string]any{
		"session_id":        session.ID,
		"title":             session.Title,
		"host_id":           session.HostID,
		"verification_hash": session.VerificationHash,
		"chain_head":        proof.ChainHead,
		"qr_code":           proof.QRCode,
		"issued_at":         proof.IssuedAt,
		"expires_at":        proof.ExpiresAt,
	}
	proofKey := fmt.Sprintf("proofs/%s/proof.json", session.ID)
	proofURL, err := d.put(ctx, proofKey, summary)
	if err != nil {
		return "", "", fmt.Errorf("store proof document: %w", err)
	}

	return proofURL, certificateURL, nil
}

func (d *BlobDocumentStore) put(ctx context.Context, key string, doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])

	if err := d.client.PutObject(ctx, d.bucket, key, bytes.NewReader(raw), int64(len(raw)), digest); err != nil {
		return "", err
	}

	return d.client.PresignGet(ctx, d.bucket, key, documentURLTTL)
}
