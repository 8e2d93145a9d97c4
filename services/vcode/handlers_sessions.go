package vcode

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func sessionIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("valid session id is required")
	}
	return id, nil
}

func (a *API) handleScheduleSession(w http.ResponseWriter, r *http.Request) {
	var draft Draft
	if err := decodeJSON(r, &draft); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	id, err := a.svc.ScheduleSession(ctx, draft)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		HostID string `json:"host_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.HostID == "" {
		respondError(w, http.StatusBadRequest, errors.New("host_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.StartSession(ctx, id, req.HostID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"started": true})
}

func (a *API) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		HostID string `json:"host_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.HostID == "" {
		respondError(w, http.StatusBadRequest, errors.New("host_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.CancelSession(ctx, id, req.HostID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		HostID string `json:"host_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.HostID == "" {
		respondError(w, http.StatusBadRequest, errors.New("host_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	proof, err := a.svc.EndSession(ctx, id, req.HostID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	a.cacheProof(r.Context(), proof)

	respondJSON(w, http.StatusOK, map[string]any{"proof": proof})
}

func (a *API) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var participant Participant
	if err := decodeJSON(r, &participant); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(participant.UserID) == "" {
		respondError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.AddParticipant(ctx, id, participant); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"joined": true})
}

func (a *API) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, errors.New("user id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.RemoveParticipant(ctx, id, userID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"left": true})
}

func (a *API) handleAssignInterpreter(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var details InterpreterDetails
	if err := decodeJSON(r, &details); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(details.InterpreterID) == "" {
		respondError(w, http.StatusBadRequest, errors.New("interpreter_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.AssignInterpreter(ctx, id, details); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"assigned": true})
}

func (a *API) handleSignSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.SignSession(ctx, id, req.UserID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"signed": true})
}

func (a *API) handleAttachRecording(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		HostID    string    `json:"host_id"`
		Recording Recording `json:"recording"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.HostID == "" {
		respondError(w, http.StatusBadRequest, errors.New("host_id is required"))
		return
	}
	if strings.TrimSpace(req.Recording.URL) == "" {
		respondError(w, http.StatusBadRequest, errors.New("recording url is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.AttachRecording(ctx, id, req.HostID, req.Recording); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"attached": true})
}
