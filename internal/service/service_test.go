package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inteliventa/entrenador/internal/arbiter"
	"github.com/inteliventa/entrenador/internal/config"
	"github.com/inteliventa/entrenador/internal/engine"
	"github.com/inteliventa/entrenador/internal/history"
	"github.com/inteliventa/entrenador/internal/orchestrator"
	"github.com/inteliventa/entrenador/internal/session"
	"github.com/inteliventa/entrenador/internal/token"
)

type fakeProber struct {
	result arbiter.ProbeResult
	err    error
}

func (f *fakeProber) Probe(_ context.Context, _ string) (arbiter.ProbeResult, error) {
	return f.result, f.err
}

type fakeIssuer struct {
	mu    sync.Mutex
	reqs  []token.Request
	creds token.Credentials
	err   error
}

func (f *fakeIssuer) Issue(_ context.Context, req token.Request) (token.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.creds, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   []int
	interID []string
}

func (f *fakeNotifier) NotifyEnd(_ context.Context, interactionID string, elapsed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, elapsed)
	f.interID = append(f.interID, interactionID)
	return nil
}

func (f *fakeNotifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDecider struct {
	verdict arbiter.Verdict
}

func (f *fakeDecider) Decide(_ context.Context, _ arbiter.Turn) (arbiter.Verdict, error) {
	return f.verdict, nil
}

func readyProbe() arbiter.ProbeResult {
	offset := 120
	return arbiter.ProbeResult{
		Outcome:     arbiter.ProbeReady,
		ContextID:   "ctx-1",
		VoiceID:     "voice-1",
		StartOffset: &offset,
	}
}

func newTestService(t *testing.T, prober *fakeProber, notifier *fakeNotifier, decider orchestrator.Arbiter) (*Service, *engine.Mock) {
	t.Helper()
	mock := engine.NewMock()
	cfg := config.Config{
		EngineAvatarID:           "avatar-default",
		EngineVoiceID:            "voice-default",
		EngineLanguage:           "es",
		TimerDirection:           "up",
		HandheldEchoSuppression:  true,
		SessionInactivityTimeout: time.Minute,
	}
	svc := New(Options{
		Config:   cfg,
		Sessions: session.NewManager(cfg.SessionInactivityTimeout),
		Prober:   prober,
		Decider:  decider,
		Notifier: notifier,
		Tokens:   &fakeIssuer{creds: token.Credentials{SessionToken: "tok", SessionID: "eng-1"}},
		History:  history.NewInMemoryStore(),
		Engines: func(_ token.Credentials) engine.Handle {
			return mock
		},
	})
	return svc, mock
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStartExerciseProvisionsSession(t *testing.T) {
	prober := &fakeProber{result: readyProbe()}
	svc, _ := newTestService(t, prober, &fakeNotifier{}, nil)

	sess, snap, err := svc.StartExercise(context.Background(), "inter-1")
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}
	if sess.InteractionID != "inter-1" {
		t.Fatalf("interaction id = %q, want inter-1", sess.InteractionID)
	}
	if sess.EngineSession != "eng-1" {
		t.Fatalf("engine session = %q, want eng-1", sess.EngineSession)
	}
	if !snap.TimerEnabled || snap.TimerSeconds != 120 {
		t.Fatalf("timer enabled:%v seconds:%d, want enabled at 120", snap.TimerEnabled, snap.TimerSeconds)
	}

	orch, ok := svc.Orchestrator(sess.ID)
	if !ok || orch == nil {
		t.Fatal("no live orchestrator registered")
	}
}

func TestStartExerciseWithoutOffsetDisablesTimer(t *testing.T) {
	prober := &fakeProber{result: arbiter.ProbeResult{Outcome: arbiter.ProbeReady, ContextID: "ctx-1"}}
	svc, _ := newTestService(t, prober, &fakeNotifier{}, nil)

	_, snap, err := svc.StartExercise(context.Background(), "inter-1")
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}
	if snap.TimerEnabled {
		t.Fatal("timer enabled without a start offset")
	}
}

func TestStartExerciseRejectedByProbe(t *testing.T) {
	prober := &fakeProber{result: arbiter.ProbeResult{Outcome: arbiter.ProbeNotReady, Reason: "no_exercise"}}
	svc, _ := newTestService(t, prober, &fakeNotifier{}, nil)

	_, _, err := svc.StartExercise(context.Background(), "inter-1")
	var unavailable *ErrExerciseUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want ErrExerciseUnavailable", err)
	}
	if unavailable.Reason != "no_exercise" {
		t.Fatalf("reason = %q, want no_exercise", unavailable.Reason)
	}
}

func TestEndSessionStopsEngineAndNotifies(t *testing.T) {
	prober := &fakeProber{result: readyProbe()}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(t, prober, notifier, nil)

	sess, _, err := svc.StartExercise(context.Background(), "inter-1")
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}
	ended, err := svc.EndSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if ended.Status != session.StatusEnded {
		t.Fatalf("status = %v, want ended", ended.Status)
	}
	waitUntil(t, "end notification", func() bool { return notifier.Calls() == 1 })

	if _, ok := svc.Orchestrator(sess.ID); ok {
		t.Fatal("orchestrator still registered after end")
	}
}

func TestTranscriptReadsPersistedEntries(t *testing.T) {
	prober := &fakeProber{result: readyProbe()}
	svc, mock := newTestService(t, prober, &fakeNotifier{}, nil)

	sess, _, err := svc.StartExercise(context.Background(), "inter-1")
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}

	mock.EmitAvatarTranscription("bienvenido al ejercicio")
	mock.EmitUserTranscription("gracias")

	waitUntil(t, "entries persisted", func() bool {
		entries, err := svc.Transcript(context.Background(), sess.ID, 10)
		return err == nil && len(entries) == 2
	})

	if _, err := svc.Transcript(context.Background(), "nope", 10); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Transcript(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestArbiterVerdictCompletesSessionWithoutNotify(t *testing.T) {
	prober := &fakeProber{result: readyProbe()}
	notifier := &fakeNotifier{}
	decider := &fakeDecider{verdict: arbiter.Verdict{End: true}}
	svc, mock := newTestService(t, prober, notifier, decider)

	sess, _, err := svc.StartExercise(context.Background(), "inter-1")
	if err != nil {
		t.Fatalf("StartExercise() error = %v", err)
	}

	mock.EmitSessionState(engine.SessionConnected)
	mock.EmitUserTranscription("listo, terminamos")

	waitUntil(t, "registry marks session ended", func() bool {
		got, err := svc.sessions.Get(sess.ID)
		return err == nil && got.Status == session.StatusEnded
	})
	waitUntil(t, "orchestrator released", func() bool {
		_, ok := svc.Orchestrator(sess.ID)
		return !ok
	})

	time.Sleep(20 * time.Millisecond)
	if notifier.Calls() != 0 {
		t.Fatal("arbiter-driven completion must not send an end notification")
	}
}
