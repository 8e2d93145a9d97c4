package vcode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []map[string]any
}

func (n *fakeNotifier) Notify(_ string, _ string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, payload)
}

func (n *fakeNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	actions := make([]string, 0, len(n.events))
	for _, e := range n.events {
		action, _ := e["action"].(string)
		actions = append(actions, action)
	}
	return actions
}

type fakeSigner struct{}

func (fakeSigner) Sign(payload []byte) (string, error) { return "sig:" + string(payload[:8]), nil }
func (fakeSigner) PublicKeyBase64() string             { return "fake-public-key" }

// testClock hands out strictly increasing instants so no two chain entries
// share a timestamp.
func testClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newTestService(t *testing.T, opts Options) (*Service, *MemoryStore, *fakeNotifier) {
	t.Helper()
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	opts.Store = store
	opts.Notifier = notifier
	if opts.Now == nil {
		opts.Now = testClock()
	}
	svc, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, store, notifier
}

func schedule(t *testing.T, svc *Service, hostID string) uuid.UUID {
	t.Helper()
	id, err := svc.ScheduleSession(context.Background(), Draft{Title: "quarterly review", HostID: hostID})
	if err != nil {
		t.Fatalf("ScheduleSession() error = %v", err)
	}
	return id
}

func TestScheduleSessionDefaults(t *testing.T) {
	svc, _, notifier := newTestService(t, Options{})
	ctx := context.Background()

	id := schedule(t, svc, "host-1")

	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", session.Status)
	}
	if session.VerificationHash == "" {
		t.Fatal("verification hash was not assigned")
	}
	if session.Metadata.RetentionDays != defaultRetentionDays {
		t.Fatalf("retention = %d, want %d", session.Metadata.RetentionDays, defaultRetentionDays)
	}

	verification, err := svc.VerifySession(ctx, id)
	if err != nil {
		t.Fatalf("VerifySession() error = %v", err)
	}
	if !verification.Verified || len(verification.Chain) != 0 {
		t.Fatalf("fresh session: verified = %v, chain length = %d", verification.Verified, len(verification.Chain))
	}

	if actions := notifier.actions(); len(actions) != 1 || actions[0] != "vcode-session-scheduled" {
		t.Fatalf("notifications = %v", actions)
	}
}

func TestScheduleSessionValidation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	if _, err := svc.ScheduleSession(ctx, Draft{HostID: "host-1"}); err == nil {
		t.Fatal("ScheduleSession() accepted an empty title")
	}
	if _, err := svc.ScheduleSession(ctx, Draft{Title: "untitled"}); err == nil {
		t.Fatal("ScheduleSession() accepted an empty host id")
	}
}

func TestLifecycleGrowsChain(t *testing.T) {
	svc, store, notifier := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	chain, _ := store.ListChain(ctx, id)
	if len(chain) != 1 || chain[0].Action != ActionStart || chain[0].PreviousHash != "" {
		t.Fatalf("after start: chain = %+v", chain)
	}

	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1", Name: "Ada"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	chain, _ = store.ListChain(ctx, id)
	if len(chain) != 2 || chain[1].Action != ActionJoin || chain[1].PreviousHash != chain[0].Hash {
		t.Fatalf("after join: chain = %+v", chain)
	}

	if err := svc.SignSession(ctx, id, "user-1"); err != nil {
		t.Fatalf("SignSession() error = %v", err)
	}
	chain, _ = store.ListChain(ctx, id)
	if len(chain) != 3 || chain[2].Action != ActionSign {
		t.Fatalf("after sign: chain = %+v", chain)
	}

	proof, err := svc.EndSession(ctx, id, "host-1")
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	chain, _ = store.ListChain(ctx, id)
	if len(chain) != 4 || chain[3].Action != ActionEnd {
		t.Fatalf("after end: chain = %+v", chain)
	}
	if !VerifyChain(id, chain) {
		t.Fatal("completed chain failed verification")
	}
	if proof.ChainHead != chain[3].Hash {
		t.Fatalf("proof chain head = %s, want %s", proof.ChainHead, chain[3].Hash)
	}
	if !proof.ExpiresAt.After(proof.IssuedAt) {
		t.Fatalf("proof expires %s, issued %s", proof.ExpiresAt, proof.IssuedAt)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.Status != StatusCompleted || session.EndTime == nil {
		t.Fatalf("after end: status = %s, end time = %v", session.Status, session.EndTime)
	}

	wantActions := []string{"vcode-session-scheduled", "vcode-session-started", "vcode-session-ended"}
	got := notifier.actions()
	if len(got) != len(wantActions) {
		t.Fatalf("notifications = %v, want %v", got, wantActions)
	}
	for i := range wantActions {
		if got[i] != wantActions[i] {
			t.Fatalf("notification %d = %s, want %s", i, got[i], wantActions[i])
		}
	}
}

func TestStartSessionHostOnly(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.StartSession(ctx, id, "impostor"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("StartSession() error = %v, want ErrForbidden", err)
	}

	// Rejected operations must leave no trace.
	chain, _ := store.ListChain(ctx, id)
	if len(chain) != 0 {
		t.Fatalf("rejected start appended %d entries", len(chain))
	}
	session, _ := svc.GetSession(ctx, id)
	if session.Status != StatusScheduled {
		t.Fatalf("rejected start moved status to %s", session.Status)
	}
}

func TestStartSessionRequiresScheduled(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := svc.StartSession(ctx, id, "host-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second StartSession() error = %v, want ErrInvalidState", err)
	}
}

func TestStartSessionNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	if err := svc.StartSession(context.Background(), uuid.New(), "host-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StartSession() error = %v, want ErrNotFound", err)
	}
}

func TestAddParticipantRejectsDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1"}); !errors.Is(err, ErrDuplicateParticipant) {
		t.Fatalf("duplicate AddParticipant() error = %v, want ErrDuplicateParticipant", err)
	}
}

func TestAddParticipantRejectsTerminalSession(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.CancelSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}
	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("AddParticipant() error = %v, want ErrInvalidState", err)
	}
}

func TestRemoveParticipant(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.RemoveParticipant(ctx, id, "ghost"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("RemoveParticipant() error = %v, want ErrNotParticipant", err)
	}

	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := svc.RemoveParticipant(ctx, id, "user-1"); err != nil {
		t.Fatalf("RemoveParticipant() error = %v", err)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.Participants[0].LeftAt == nil {
		t.Fatal("LeftAt was not recorded")
	}
	chain, _ := store.ListChain(ctx, id)
	if chain[len(chain)-1].Action != ActionLeave {
		t.Fatalf("tail action = %s, want leave", chain[len(chain)-1].Action)
	}

	if err := svc.RemoveParticipant(ctx, id, "user-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second RemoveParticipant() error = %v, want ErrInvalidState", err)
	}
}

func TestSignSession(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.SignSession(ctx, id, "ghost"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("SignSession() error = %v, want ErrNotParticipant", err)
	}

	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := svc.SignSession(ctx, id, "user-1"); err != nil {
		t.Fatalf("SignSession() error = %v", err)
	}

	session, _ := svc.GetSession(ctx, id)
	chain, _ := store.ListChain(ctx, id)
	tail := chain[len(chain)-1]
	p := session.Participants[0]
	if !p.Verified {
		t.Fatal("participant not marked verified")
	}
	if p.SignatureHash != tail.Hash {
		t.Fatalf("signature hash = %s, want sign entry hash %s", p.SignatureHash, tail.Hash)
	}

	if err := svc.SignSession(ctx, id, "user-1"); !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("second SignSession() error = %v, want ErrAlreadySigned", err)
	}
}

func TestSignSessionTerminalState(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()

	cancelled := schedule(t, svc, "host-1")
	if err := svc.AddParticipant(ctx, cancelled, Participant{UserID: "user-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := svc.CancelSession(ctx, cancelled, "host-1"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}
	if err := svc.SignSession(ctx, cancelled, "user-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("SignSession() on cancelled session error = %v, want ErrInvalidState", err)
	}

	completed := schedule(t, svc, "host-1")
	if err := svc.AddParticipant(ctx, completed, Participant{UserID: "user-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := svc.StartSession(ctx, completed, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	proof, err := svc.EndSession(ctx, completed, "host-1")
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if err := svc.SignSession(ctx, completed, "user-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("SignSession() on completed session error = %v, want ErrInvalidState", err)
	}

	// The issued proof must keep anchoring the chain tail.
	chain, _ := store.ListChain(ctx, completed)
	if tail := chain[len(chain)-1]; proof.ChainHead != tail.Hash {
		t.Fatalf("proof chain head = %s, want tail hash %s", proof.ChainHead, tail.Hash)
	}
}

func TestCancelSession(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.CancelSession(ctx, id, "impostor"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("CancelSession() error = %v, want ErrForbidden", err)
	}
	if err := svc.CancelSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", session.Status)
	}
	if session.EndTime != nil {
		t.Fatal("cancelled session has an end time")
	}
	chain, _ := store.ListChain(ctx, id)
	if len(chain) != 1 || chain[0].Action != ActionCancel {
		t.Fatalf("chain = %+v", chain)
	}

	if err := svc.CancelSession(ctx, id, "host-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second CancelSession() error = %v, want ErrInvalidState", err)
	}
	if _, err := svc.EndSession(ctx, id, "host-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("EndSession() after cancel error = %v, want ErrInvalidState", err)
	}
}

func TestEndSessionIssuesProofOnce(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if _, err := svc.GetProof(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProof() before completion error = %v, want ErrNotFound", err)
	}
	if _, err := svc.EndSession(ctx, id, "host-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("EndSession() from scheduled error = %v, want ErrInvalidState", err)
	}

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	issued, err := svc.EndSession(ctx, id, "host-1")
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	if _, err := svc.EndSession(ctx, id, "host-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second EndSession() error = %v, want ErrInvalidState", err)
	}

	stored, err := svc.GetProof(ctx, id)
	if err != nil {
		t.Fatalf("GetProof() error = %v", err)
	}
	if stored.ChainHead != issued.ChainHead || !stored.IssuedAt.Equal(issued.IssuedAt) {
		t.Fatal("stored proof differs from the issued proof")
	}
}

func TestEndSessionAttestation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Signer: fakeSigner{}, PublicBaseURL: "https://proofs.example.com"})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	proof, err := svc.EndSession(ctx, id, "host-1")
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	if proof.Attestation == "" {
		t.Fatal("proof carries no attestation")
	}
	if proof.AttestationKey != "fake-public-key" {
		t.Fatalf("attestation key = %s", proof.AttestationKey)
	}
	wantQR := "https://proofs.example.com/vcode/verify/" + id.String()
	if proof.QRCode != wantQR {
		t.Fatalf("qr code = %s, want %s", proof.QRCode, wantQR)
	}
}

func TestVerifySessionIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	first, err := svc.VerifySession(ctx, id)
	if err != nil {
		t.Fatalf("VerifySession() error = %v", err)
	}
	second, err := svc.VerifySession(ctx, id)
	if err != nil {
		t.Fatalf("VerifySession() error = %v", err)
	}

	if !first.Verified || !second.Verified {
		t.Fatal("valid chain reported as broken")
	}
	if len(first.Chain) != len(second.Chain) {
		t.Fatal("repeated verification changed the chain")
	}
}

func TestVerifySessionMissing(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	verification, err := svc.VerifySession(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("VerifySession() error = %v, want nil", err)
	}
	if verification.Verified {
		t.Fatal("missing session reported as verified")
	}
	if len(verification.Chain) != 0 {
		t.Fatal("missing session returned chain entries")
	}
}

func TestVerifySessionDetectsTampering(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := svc.AddParticipant(ctx, id, Participant{UserID: "user-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}

	if !store.TamperChain(id, 0, func(e *ChainEntry) { e.UserID = "intruder" }) {
		t.Fatal("TamperChain() found no entry")
	}

	verification, err := svc.VerifySession(ctx, id)
	if err != nil {
		t.Fatalf("VerifySession() error = %v", err)
	}
	if verification.Verified {
		t.Fatal("tampered chain reported as verified")
	}
}

func TestAttachRecording(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	rec := Recording{URL: "https://cdn.example.com/rec.mp4", DurationSeconds: 1800}

	if err := svc.AttachRecording(ctx, id, "host-1", rec); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("AttachRecording() on scheduled error = %v, want ErrInvalidState", err)
	}

	if err := svc.StartSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := svc.AttachRecording(ctx, id, "impostor", rec); !errors.Is(err, ErrForbidden) {
		t.Fatalf("AttachRecording() error = %v, want ErrForbidden", err)
	}
	if err := svc.AttachRecording(ctx, id, "host-1", rec); err != nil {
		t.Fatalf("AttachRecording() error = %v", err)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.RecordingURL != rec.URL || session.RecordingDuration != rec.DurationSeconds {
		t.Fatalf("recording = %s/%d", session.RecordingURL, session.RecordingDuration)
	}
}

func TestAssignInterpreter(t *testing.T) {
	svc, store, _ := newTestService(t, Options{})
	ctx := context.Background()
	id := schedule(t, svc, "host-1")

	details := InterpreterDetails{InterpreterID: "terp-1", Name: "Sam", Certifications: []string{"RID"}}
	if err := svc.AssignInterpreter(ctx, id, details); err != nil {
		t.Fatalf("AssignInterpreter() error = %v", err)
	}

	session, _ := svc.GetSession(ctx, id)
	if !session.SignLanguageInterpreter {
		t.Fatal("sign language interpreter flag not set")
	}
	if session.InterpreterDetails == nil || session.InterpreterDetails.InterpreterID != "terp-1" {
		t.Fatalf("interpreter details = %+v", session.InterpreterDetails)
	}

	// Interpreter assignment is metadata, not a chain action.
	chain, _ := store.ListChain(ctx, id)
	if len(chain) != 0 {
		t.Fatalf("AssignInterpreter() appended %d chain entries", len(chain))
	}

	if err := svc.CancelSession(ctx, id, "host-1"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}
	if err := svc.AssignInterpreter(ctx, id, details); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("AssignInterpreter() on cancelled session error = %v, want ErrInvalidState", err)
	}
}

func TestListUserSessionsAndStats(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	hosted := schedule(t, svc, "host-1")
	other := schedule(t, svc, "host-2")
	if err := svc.AddParticipant(ctx, other, Participant{UserID: "host-1"}); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := svc.StartSession(ctx, hosted, "host-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	sessions, err := svc.ListUserSessions(ctx, "host-1")
	if err != nil {
		t.Fatalf("ListUserSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ListUserSessions() returned %d sessions, want 2", len(sessions))
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalSessions != 2 || stats.ActiveSessions != 1 || stats.ScheduledSessions != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
