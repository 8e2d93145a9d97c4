package vcode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const proofCacheTTL = 10 * time.Minute

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	session, err := a.svc.GetSession(ctx, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, errors.New("user_id query parameter is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	sessions, err := a.svc.ListUserSessions(ctx, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	verification, err := a.svc.VerifySession(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"verification": verification})
}

// handleGetProof serves proofs through the cache: a proof never changes once
// issued, so completed sessions are safe to serve from Redis.
func (a *API) handleGetProof(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if raw, ok := a.cache.Get(ctx, proofCacheKey(id.String())); ok {
		var proof Proof
		if err := json.Unmarshal(raw, &proof); err == nil {
			respondJSON(w, http.StatusOK, map[string]any{"proof": proof})
			return
		}
	}

	proof, err := a.svc.GetProof(ctx, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	a.cacheProof(ctx, proof)

	respondJSON(w, http.StatusOK, map[string]any{"proof": proof})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	stats, err := a.svc.Stats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (a *API) cacheProof(ctx context.Context, proof *Proof) {
	if proof == nil {
		return
	}
	raw, err := json.Marshal(proof)
	if err != nil {
		return
	}
	a.cache.Set(ctx, proofCacheKey(proof.SessionID.String()), raw, proofCacheTTL)
}

func proofCacheKey(sessionID string) string {
	return "vcode:proof:" + sessionID
}
