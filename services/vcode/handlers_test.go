package vcode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newTestAPI(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t, Options{})
	api, err := NewAPI(svc, nil)
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	handler, err := api.Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}
	return handler, svc
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func scheduleViaAPI(t *testing.T, handler http.Handler) uuid.UUID {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/v1/sessions", `{"title":"standup","host_id":"host-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, err := uuid.Parse(body["session_id"].(string))
	if err != nil {
		t.Fatalf("parse session_id: %v", err)
	}
	return id
}

func TestScheduleSessionEndpoint(t *testing.T) {
	handler, svc := newTestAPI(t)

	id := scheduleViaAPI(t, handler)

	session, err := svc.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.Title != "standup" {
		t.Fatalf("title = %s", session.Title)
	}
}

func TestScheduleSessionRejectsBadInput(t *testing.T) {
	handler, _ := newTestAPI(t)

	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions", `{"host_id":"host-1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing title returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions", `{"title":"x","host_id":"h","bogus":true}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field returned %d", rec.Code)
	}
}

func TestStartSessionEndpoint(t *testing.T) {
	handler, _ := newTestAPI(t)
	id := scheduleViaAPI(t, handler)

	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/not-a-uuid/start", `{"host_id":"host-1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+uuid.NewString()+"/start", `{"host_id":"host-1"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+id.String()+"/start", `{"host_id":"impostor"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong host returned %d", rec.Code)
	}

	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+id.String()+"/start", `{"host_id":"host-1"}`); rec.Code != http.StatusOK {
		t.Fatalf("start returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+id.String()+"/start", `{"host_id":"host-1"}`); rec.Code != http.StatusConflict {
		t.Fatalf("second start returned %d", rec.Code)
	}
}

func TestParticipantEndpoints(t *testing.T) {
	handler, _ := newTestAPI(t)
	id := scheduleViaAPI(t, handler)
	base := "/v1/sessions/" + id.String()

	if rec := doJSON(t, handler, http.MethodPost, base+"/participants", `{"user_id":"user-1","name":"Ada"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add participant returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/participants", `{"user_id":"user-1"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate participant returned %d", rec.Code)
	}

	if rec := doJSON(t, handler, http.MethodPost, base+"/sign", `{"user_id":"ghost"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("sign by non-participant returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/sign", `{"user_id":"user-1"}`); rec.Code != http.StatusOK {
		t.Fatalf("sign returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/sign", `{"user_id":"user-1"}`); rec.Code != http.StatusConflict {
		t.Fatalf("re-sign returned %d", rec.Code)
	}

	if rec := doJSON(t, handler, http.MethodDelete, base+"/participants/user-1", ""); rec.Code != http.StatusOK {
		t.Fatalf("remove participant returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodDelete, base+"/participants/ghost", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("remove unknown participant returned %d", rec.Code)
	}
}

func TestEndSessionEndpointReturnsProof(t *testing.T) {
	handler, _ := newTestAPI(t)
	id := scheduleViaAPI(t, handler)
	base := "/v1/sessions/" + id.String()

	if rec := doJSON(t, handler, http.MethodGet, base+"/proof", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("proof before completion returned %d", rec.Code)
	}

	doJSON(t, handler, http.MethodPost, base+"/start", `{"host_id":"host-1"}`)
	rec := doJSON(t, handler, http.MethodPost, base+"/end", `{"host_id":"host-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("end returned %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	proof, ok := body["proof"].(map[string]any)
	if !ok {
		t.Fatalf("end response missing proof: %v", body)
	}
	if proof["chain_head"] == "" {
		t.Fatal("proof has an empty chain head")
	}

	rec = doJSON(t, handler, http.MethodGet, base+"/proof", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("proof after completion returned %d", rec.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	handler, _ := newTestAPI(t)
	id := scheduleViaAPI(t, handler)
	base := "/v1/sessions/" + id.String()

	doJSON(t, handler, http.MethodPost, base+"/start", `{"host_id":"host-1"}`)

	rec := doJSON(t, handler, http.MethodGet, base+"/verify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify returned %d", rec.Code)
	}
	body := decodeBody(t, rec)
	verification := body["verification"].(map[string]any)
	if verification["verified"] != true {
		t.Fatalf("verification = %v", verification)
	}

	// Unknown sessions still verify, reporting false.
	rec = doJSON(t, handler, http.MethodGet, "/v1/sessions/"+uuid.NewString()+"/verify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify of unknown session returned %d", rec.Code)
	}
	body = decodeBody(t, rec)
	verification = body["verification"].(map[string]any)
	if verification["verified"] != false {
		t.Fatalf("unknown session verification = %v", verification)
	}
}

func TestInterpreterAndRecordingEndpoints(t *testing.T) {
	handler, svc := newTestAPI(t)
	id := scheduleViaAPI(t, handler)
	base := "/v1/sessions/" + id.String()

	rec := doJSON(t, handler, http.MethodPost, base+"/interpreter", `{"interpreter_id":"terp-1","name":"Sam","certifications":["RID"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign interpreter returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/interpreter", `{"name":"missing id"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("interpreter without id returned %d", rec.Code)
	}

	doJSON(t, handler, http.MethodPost, base+"/start", `{"host_id":"host-1"}`)
	rec = doJSON(t, handler, http.MethodPost, base+"/recording", `{"host_id":"host-1","recording":{"url":"https://cdn.example.com/rec.mp4","duration_seconds":900}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("attach recording returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/recording", `{"host_id":"host-1","recording":{"duration_seconds":900}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("recording without url returned %d", rec.Code)
	}

	session, err := svc.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !session.SignLanguageInterpreter || session.RecordingURL == "" {
		t.Fatalf("session = %+v", session)
	}
}

func TestListAndStatsEndpoints(t *testing.T) {
	handler, _ := newTestAPI(t)
	scheduleViaAPI(t, handler)

	if rec := doJSON(t, handler, http.MethodGet, "/v1/sessions", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("list without user_id returned %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/v1/sessions?user_id=host-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	body := decodeBody(t, rec)
	sessions := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("list returned %d sessions", len(sessions))
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	body = decodeBody(t, rec)
	stats := body["stats"].(map[string]any)
	if stats["total_sessions"].(float64) != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestCancelEndpoint(t *testing.T) {
	handler, _ := newTestAPI(t)
	id := scheduleViaAPI(t, handler)
	base := "/v1/sessions/" + id.String()

	if rec := doJSON(t, handler, http.MethodPost, base+"/cancel", `{"host_id":"impostor"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("cancel by non-host returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/cancel", `{"host_id":"host-1"}`); rec.Code != http.StatusOK {
		t.Fatalf("cancel returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/cancel", `{"host_id":"host-1"}`); rec.Code != http.StatusConflict {
		t.Fatalf("second cancel returned %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, base+"/end", `{"host_id":"host-1"}`); rec.Code != http.StatusConflict {
		t.Fatalf("end after cancel returned %d", rec.Code)
	}
}
