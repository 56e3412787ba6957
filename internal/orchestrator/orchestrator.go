// Package orchestrator owns a single live avatar session: it subscribes to
// the streaming engine's event surface, derives the UI-facing composed
// state (connection lifecycle, voice channel, talking indicators,
// transcript, timer) and runs the termination decision protocol against
// the external arbiter.
//
// All derived state is owned by one event-loop goroutine. Engine callbacks,
// control calls and webhook completions post closures into the loop, so
// every handler observes a consistent interleaving; the only suspension
// points are the asynchronous engine/webhook calls themselves.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/arbiter"
	"github.com/inteliventa/entrenador/internal/engine"
	"github.com/inteliventa/entrenador/internal/history"
	"github.com/inteliventa/entrenador/internal/observability"
)

// Arbiter decides, per completed user utterance, whether the session is over.
type Arbiter interface {
	Decide(ctx context.Context, turn arbiter.Turn) (arbiter.Verdict, error)
}

// Options wires one orchestrator to its collaborators. Engine is required;
// everything else degrades gracefully when absent.
type Options struct {
	Engine  engine.Handle
	Arbiter Arbiter
	History history.Store
	Metrics *observability.Metrics
	Logger  *zap.Logger

	InteractionID string
	SessionID     string

	// EchoSuppression enables the handheld auto-mute policy: mute the voice
	// channel while the avatar is talking, unmute when it stops.
	EchoSuppression bool

	// Timer is nil when the arbiter supplied no start offset; the timer is
	// then disabled entirely.
	Timer *TimerSettings

	// OnComplete fires exactly once when the arbiter ends the session.
	OnComplete func()

	// TickInterval overrides the 1s timer tick, for tests.
	TickInterval time.Duration
}

type Orchestrator struct {
	log     *zap.Logger
	metrics *observability.Metrics
	eng     engine.Handle
	arb     Arbiter
	store   history.Store

	interactionID string
	sessionID     string

	echoSuppression bool
	onComplete      func()
	tickInterval    time.Duration

	loopCh    chan func()
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	subs engine.SubscriptionGroup

	// Everything below is owned by the loop goroutine.
	state            engine.SessionState
	quality          engine.ConnectionQuality
	streamReady      bool
	voiceState       engine.VoiceChatState
	muted            bool
	voiceAutoStarted bool
	desiredMuted     *bool
	userTalking      bool
	avatarTalking    bool
	transcript       []history.Entry
	lastAvatarText   string
	timer            timerState
	tickerStop       chan struct{}
	stopRequested    bool
	completed        bool
	ended            bool

	snapMu sync.RWMutex
	snap   Snapshot

	watchMu     sync.Mutex
	watchers    map[int]chan Snapshot
	nextWatcher int
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	o := &Orchestrator{
		log:             opts.Logger.With(zap.String("session_id", opts.SessionID)),
		metrics:         opts.Metrics,
		eng:             opts.Engine,
		arb:             opts.Arbiter,
		store:           opts.History,
		interactionID:   opts.InteractionID,
		sessionID:       opts.SessionID,
		echoSuppression: opts.EchoSuppression,
		onComplete:      opts.OnComplete,
		tickInterval:    opts.TickInterval,
		loopCh:          make(chan func(), 256),
		closed:          make(chan struct{}),
		done:            make(chan struct{}),
		state:           opts.Engine.State(),
		quality:         opts.Engine.ConnectionQuality(),
		voiceState:      opts.Engine.VoiceChat().State(),
		muted:           true,
		timer:           newTimerState(opts.Timer),
		watchers:        make(map[int]chan Snapshot),
	}

	go o.run()
	o.register()
	o.post(func() { o.publish() })
	return o
}

func (o *Orchestrator) run() {
	defer o.stopTimerTicker()
	for {
		select {
		case <-o.closed:
			return
		case fn := <-o.loopCh:
			fn()
		}
	}
}

func (o *Orchestrator) post(fn func()) {
	select {
	case <-o.closed:
	case o.loopCh <- fn:
	}
}

// register attaches every listener the orchestrator needs. Each listener
// posts into the loop; handlers never run concurrently.
func (o *Orchestrator) register() {
	voice := o.eng.VoiceChat()

	// Session lifecycle.
	o.onEngine(engine.EventSessionStateChanged, func(p engine.Payload) {
		o.handleSessionState(p.SessionState)
	})
	o.onEngine(engine.EventSessionStreamReady, func(engine.Payload) {
		o.handleStreamReady()
	})
	o.onEngine(engine.EventConnectionQualityChanged, func(p engine.Payload) {
		if o.ended {
			return
		}
		o.quality = p.Quality
	})

	// Voice channel.
	o.onVoice(voice, engine.EventVoiceStateChanged, func(p engine.Payload) {
		if o.ended {
			return
		}
		o.voiceState = p.VoiceState
	})
	o.onVoice(voice, engine.EventVoiceMuted, func(engine.Payload) {
		o.handleMuteSettled(true)
	})
	o.onVoice(voice, engine.EventVoiceUnmuted, func(engine.Payload) {
		o.handleMuteSettled(false)
	})

	// Talking activity.
	o.onEngine(engine.EventUserSpeakStarted, func(engine.Payload) {
		o.handleUserTalking(true)
	})
	o.onEngine(engine.EventUserSpeakEnded, func(engine.Payload) {
		o.handleUserTalking(false)
	})
	o.onEngine(engine.EventAvatarSpeakStarted, func(engine.Payload) {
		o.handleAvatarTalking(true)
	})
	o.onEngine(engine.EventAvatarSpeakEnded, func(engine.Payload) {
		o.handleAvatarTalking(false)
	})

	// Transcript aggregation: a new avatar turn resets the utterance buffer.
	o.onEngine(engine.EventAvatarSpeakStarted, func(engine.Payload) {
		if o.ended {
			return
		}
		o.lastAvatarText = ""
	})
	o.onEngine(engine.EventAvatarTranscription, func(p engine.Payload) {
		o.handleAvatarTranscription(p.Text)
	})
	o.onEngine(engine.EventUserTranscription, func(p engine.Payload) {
		o.handleUserTranscription(p.Text)
	})

	// Timer arming: first avatar utterance starts the clock.
	o.onEngine(engine.EventAvatarSpeakStarted, func(engine.Payload) {
		o.armTimer()
	})
}

func (o *Orchestrator) onEngine(ev engine.Event, fn func(engine.Payload)) {
	o.subs.Add(o.eng.On(ev, func(p engine.Payload) {
		if o.metrics != nil {
			o.metrics.EngineEvents.WithLabelValues(string(ev)).Inc()
		}
		o.post(func() {
			fn(p)
			o.publish()
		})
	}))
}

func (o *Orchestrator) onVoice(voice engine.VoiceChannel, ev engine.Event, fn func(engine.Payload)) {
	o.subs.Add(voice.On(ev, func(p engine.Payload) {
		if o.metrics != nil {
			o.metrics.EngineEvents.WithLabelValues(string(ev)).Inc()
		}
		o.post(func() {
			fn(p)
			o.publish()
		})
	}))
}

func (o *Orchestrator) handleSessionState(state engine.SessionState) {
	if o.ended {
		return
	}
	o.state = state
	if state != engine.SessionDisconnected {
		return
	}

	// Terminal: detach every listener so nothing fires into stale state,
	// and stop the timer with the session.
	o.ended = true
	o.streamReady = false
	o.subs.Close()
	o.stopTimerTicker()
	o.doneOnce.Do(func() { close(o.done) })
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	}
}

// Done is closed once the session reaches its terminal disconnected state.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) handleStreamReady() {
	if o.ended {
		return
	}
	o.streamReady = true
	o.autoStartVoice()
}

// StartSession connects the engine. No-op unless the session is still
// inactive; a rejected connect is logged and the state left for a retry.
func (o *Orchestrator) StartSession(ctx context.Context) {
	o.post(func() {
		if o.state != engine.SessionInactive {
			return
		}
		// The connect must outlive the caller: HTTP handlers cancel their
		// request context as soon as the response is written, which would
		// abort the vendor dial mid-handshake. The session itself bounds
		// the connect's lifetime.
		connectCtx := context.WithoutCancel(ctx)
		go func() {
			if err := o.eng.Start(connectCtx); err != nil {
				o.log.Warn("session connect failed", zap.Error(err))
				if o.metrics != nil {
					o.metrics.SessionEvents.WithLabelValues("connect_failed").Inc()
				}
			}
		}()
	})
}

// StopSession is always safe to call, including after disconnect.
func (o *Orchestrator) StopSession(ctx context.Context) {
	o.post(func() {
		o.stopRequested = true
		o.stopEngine(ctx, "caller")
	})
}

func (o *Orchestrator) stopEngine(ctx context.Context, reason string) {
	go func() {
		if err := o.eng.Stop(ctx); err != nil {
			o.log.Warn("session stop failed", zap.String("reason", reason), zap.Error(err))
		}
	}()
}

// Attach binds the caller's media surface to the live stream. Calling it
// before the stream is ready is a caller error and is ignored.
func (o *Orchestrator) Attach(surface engine.MediaSurface) {
	o.snapMu.RLock()
	ready := o.snap.StreamReady
	o.snapMu.RUnlock()
	if !ready {
		o.log.Warn("attach ignored: stream not ready")
		return
	}
	if err := o.eng.Attach(surface); err != nil {
		o.log.Warn("attach failed", zap.Error(err))
	}
}

// SendTextMessage relays a typed message to the avatar and records it in
// the transcript. Typed messages do not enter the termination protocol;
// only spoken turns do.
func (o *Orchestrator) SendTextMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.post(func() {
		if o.ended {
			return
		}
		entry := o.appendTranscript(history.SenderUser, text)
		o.saveEntryBestEffort(entry)
		o.publish()
		go func() {
			if err := o.eng.Message(ctx, text); err != nil {
				o.log.Warn("send text message failed", zap.Error(err))
			}
		}()
	})
}

// Close releases the orchestrator: listeners detached, loop stopped. It
// does not stop the engine; use StopSession for that.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.subs.Close()
		close(o.closed)
		o.doneOnce.Do(func() { close(o.done) })
	})
}
