package vcode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Chain hashing uses sha256 over a canonical pipe-delimited serialization of
// the entry's recorded fields. Every input is stored on the entry itself, so
// verification can re-derive each hash instead of trusting the stored value.
//
// Timestamps enter the digest as unix nanoseconds and are persisted the same
// way; round-tripping through storage never changes the digest input.

func entryHash(previousHash string, action Action, userID string, sessionID uuid.UUID, ts time.Time) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%d", previousHash, action, userID, sessionID, ts.UnixNano())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// recomputeEntryHash re-derives an entry's hash from its stored fields.
func recomputeEntryHash(sessionID uuid.UUID, e ChainEntry) string {
	return entryHash(e.PreviousHash, e.Action, e.UserID, sessionID, e.Timestamp)
}

// sessionVerificationHash is the session-level anchor assigned once at
// creation. It is derived from the id and creation instant, not from the
// chain; per-entry hashes carry the tamper evidence.
func sessionVerificationHash(sessionID uuid.UUID, createdAt time.Time) string {
	input := fmt.Sprintf("verify|%s|%d", sessionID, createdAt.UnixNano())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks linkage and re-derives every entry hash. The first entry
// must link to the empty string; each subsequent entry must link to its
// predecessor's hash. Exported so offline tooling can verify exported chains
// without a store.
func VerifyChain(sessionID uuid.UUID, chain []ChainEntry) bool {
	for i, e := range chain {
		want := ""
		if i > 0 {
			want = chain[i-1].Hash
		}
		if e.PreviousHash != want {
			return false
		}
		if recomputeEntryHash(sessionID, e) != e.Hash {
			return false
		}
	}
	return true
}
