// Package service provisions live avatar sessions end to end: it probes the
// arbiter for exercise availability, issues a vendor session token, builds
// the engine handle and hands the session to an orchestrator. It also keeps
// the registry of live orchestrators for the API layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/arbiter"
	"github.com/inteliventa/entrenador/internal/config"
	"github.com/inteliventa/entrenador/internal/engine"
	"github.com/inteliventa/entrenador/internal/history"
	"github.com/inteliventa/entrenador/internal/observability"
	"github.com/inteliventa/entrenador/internal/orchestrator"
	"github.com/inteliventa/entrenador/internal/session"
	"github.com/inteliventa/entrenador/internal/token"
)

// ErrExerciseUnavailable wraps a probe that did not authorize a session.
type ErrExerciseUnavailable struct {
	Reason string
}

func (e *ErrExerciseUnavailable) Error() string {
	return fmt.Sprintf("exercise unavailable: %s", e.Reason)
}

// TokenIssuer issues vendor session credentials.
type TokenIssuer interface {
	Issue(ctx context.Context, req token.Request) (token.Credentials, error)
}

// Prober answers the session-start availability probe.
type Prober interface {
	Probe(ctx context.Context, interactionID string) (arbiter.ProbeResult, error)
}

// EndNotifier tells the arbiter a session was ended by the caller.
type EndNotifier interface {
	NotifyEnd(ctx context.Context, interactionID string, elapsedSeconds int) error
}

// EngineFactory builds a fresh single-use engine handle from credentials.
type EngineFactory func(creds token.Credentials) engine.Handle

type Service struct {
	cfg      config.Config
	log      *zap.Logger
	metrics  *observability.Metrics
	sessions *session.Manager
	prober   Prober
	decider  orchestrator.Arbiter
	notifier EndNotifier
	tokens   TokenIssuer
	engines  EngineFactory
	store    history.Store

	mu   sync.Mutex
	live map[string]*orchestrator.Orchestrator
}

type Options struct {
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Sessions *session.Manager
	Prober   Prober
	Decider  orchestrator.Arbiter
	Notifier EndNotifier
	Tokens   TokenIssuer
	Engines  EngineFactory
	History  history.Store
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Service{
		cfg:      opts.Config,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		sessions: opts.Sessions,
		prober:   opts.Prober,
		decider:  opts.Decider,
		notifier: opts.Notifier,
		tokens:   opts.Tokens,
		engines:  opts.Engines,
		store:    opts.History,
		live:     make(map[string]*orchestrator.Orchestrator),
	}
	opts.Sessions.SetExpireHook(s.onExpired)
	return s
}

// StartExercise provisions one session for the given interaction. The probe
// gate runs first; a session is only created when the arbiter authorizes the
// exercise and the vendor issues credentials.
func (s *Service) StartExercise(ctx context.Context, interactionID string) (*session.Session, orchestrator.Snapshot, error) {
	interactionID = strings.TrimSpace(interactionID)
	if interactionID == "" {
		return nil, orchestrator.Snapshot{}, errors.New("interaction id is required")
	}

	probe, err := s.prober.Probe(ctx, interactionID)
	if err != nil {
		s.countArbiter("probe", "error")
		return nil, orchestrator.Snapshot{}, fmt.Errorf("probe arbiter: %w", err)
	}
	if probe.Outcome != arbiter.ProbeReady {
		s.countArbiter("probe", "not_ready")
		return nil, orchestrator.Snapshot{}, &ErrExerciseUnavailable{Reason: probe.Reason}
	}
	s.countArbiter("probe", "ready")

	creds, err := s.tokens.Issue(ctx, token.Request{
		AvatarID:  firstNonEmpty(probe.AvatarID, s.cfg.EngineAvatarID),
		VoiceID:   firstNonEmpty(probe.VoiceID, s.cfg.EngineVoiceID),
		ContextID: probe.ContextID,
		Language:  firstNonEmpty(probe.Language, s.cfg.EngineLanguage),
	})
	if err != nil {
		return nil, orchestrator.Snapshot{}, fmt.Errorf("issue session token: %w", err)
	}

	sess := s.sessions.Create(interactionID, creds.SessionID)
	eng := s.engines(creds)

	orch := orchestrator.New(orchestrator.Options{
		Engine:          eng,
		Arbiter:         s.decider,
		History:         s.store,
		Metrics:         s.metrics,
		Logger:          s.log,
		InteractionID:   interactionID,
		SessionID:       sess.ID,
		EchoSuppression: s.cfg.HandheldEchoSuppression,
		Timer:           s.timerSettings(probe.StartOffset),
		OnComplete:      func() { s.onCompleted(sess.ID) },
	})

	s.mu.Lock()
	s.live[sess.ID] = orch
	s.mu.Unlock()

	orch.StartSession(ctx)

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	s.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("interaction_id", interactionID),
		zap.String("engine_session_id", creds.SessionID))

	return sess, orch.Snapshot(), nil
}

// timerSettings maps the probe's start offset onto the configured timer
// policy. No offset means no timer at all.
func (s *Service) timerSettings(offset *int) *orchestrator.TimerSettings {
	if offset == nil {
		return nil
	}
	settings := &orchestrator.TimerSettings{
		Initial:   *offset,
		Direction: orchestrator.TimerDirection(s.cfg.TimerDirection),
	}
	if settings.Direction == orchestrator.TimerDown {
		floor := s.cfg.TimerFloor
		settings.Floor = &floor
	}
	return settings
}

// EndSession ends one session on behalf of the caller: the engine is
// stopped, the arbiter is notified with the elapsed seconds, and the
// orchestrator is released once it reaches its terminal state.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.End(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	orch := s.live[sessionID]
	delete(s.live, sessionID)
	s.mu.Unlock()

	if orch != nil {
		elapsed := orch.Snapshot().TimerSeconds
		orch.StopSession(ctx)
		s.releaseWhenDone(orch)
		s.notifyEnd(sess.InteractionID, elapsed)
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	return sess, nil
}

// Orchestrator returns the live orchestrator for a session, if any.
func (s *Service) Orchestrator(sessionID string) (*orchestrator.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orch, ok := s.live[sessionID]
	return orch, ok
}

// Transcript returns the most recent persisted entries for a session's
// interaction, oldest first.
func (s *Service) Transcript(ctx context.Context, sessionID string, limit int) ([]history.Entry, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(ctx, sess.InteractionID, limit)
}

// Touch refreshes the session's inactivity clock.
func (s *Service) Touch(sessionID string) {
	_ = s.sessions.Touch(sessionID)
}

// Shutdown stops every live session. Used on process exit.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	live := make(map[string]*orchestrator.Orchestrator, len(s.live))
	for id, orch := range s.live {
		live[id] = orch
	}
	s.live = make(map[string]*orchestrator.Orchestrator)
	s.mu.Unlock()

	for id, orch := range live {
		orch.StopSession(ctx)
		select {
		case <-orch.Done():
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		orch.Close()
		_, _ = s.sessions.End(id)
	}
}

// onCompleted runs when the arbiter ends a session through the decision
// protocol. The registry record is closed; the arbiter knows already, so no
// end notification is sent.
func (s *Service) onCompleted(sessionID string) {
	s.mu.Lock()
	orch := s.live[sessionID]
	delete(s.live, sessionID)
	s.mu.Unlock()

	if _, err := s.sessions.End(sessionID); err == nil {
		if s.metrics != nil {
			s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
			s.metrics.SessionEvents.WithLabelValues("completed").Inc()
		}
	}
	if orch != nil {
		s.releaseWhenDone(orch)
	}
	s.log.Info("session completed by arbiter", zap.String("session_id", sessionID))
}

// onExpired runs from the registry janitor when a session sat idle past the
// inactivity timeout.
func (s *Service) onExpired(sess *session.Session) {
	s.mu.Lock()
	orch := s.live[sess.ID]
	delete(s.live, sess.ID)
	s.mu.Unlock()

	if orch != nil {
		elapsed := orch.Snapshot().TimerSeconds
		orch.StopSession(context.Background())
		s.releaseWhenDone(orch)
		s.notifyEnd(sess.InteractionID, elapsed)
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("expired").Inc()
	}
	s.log.Info("session expired",
		zap.String("session_id", sess.ID),
		zap.String("interaction_id", sess.InteractionID))
}

// releaseWhenDone closes the orchestrator once the engine reports the
// terminal state, so the last events still land in the final snapshot.
func (s *Service) releaseWhenDone(orch *orchestrator.Orchestrator) {
	go func() {
		select {
		case <-orch.Done():
		case <-time.After(10 * time.Second):
		}
		orch.Close()
	}()
}

// notifyEnd tells the arbiter the caller ended the exercise. Best effort.
func (s *Service) notifyEnd(interactionID string, elapsedSeconds int) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.NotifyEnd(ctx, interactionID, elapsedSeconds); err != nil {
			s.countArbiter("notify_end", "error")
			s.log.Warn("end notification failed",
				zap.String("interaction_id", interactionID),
				zap.Error(err))
			return
		}
		s.countArbiter("notify_end", "ok")
	}()
}

func (s *Service) countArbiter(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ArbiterRequests.WithLabelValues(op, outcome).Inc()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
