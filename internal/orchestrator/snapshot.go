package orchestrator

import (
	"github.com/inteliventa/entrenador/internal/engine"
	"github.com/inteliventa/entrenador/internal/history"
)

// Snapshot is the composed session state as presented to clients. It is an
// immutable copy; the loop publishes a fresh one after every handled event.
type Snapshot struct {
	SessionState        engine.SessionState      `json:"session_state"`
	ConnectionQuality   engine.ConnectionQuality `json:"connection_quality"`
	StreamReady         bool                     `json:"stream_ready"`
	VoiceState          engine.VoiceChatState    `json:"voice_state"`
	Muted               bool                     `json:"muted"`
	UserTalking         bool                     `json:"user_talking"`
	AvatarTalking       bool                     `json:"avatar_talking"`
	Transcript          []history.Entry          `json:"transcript"`
	LastAvatarUtterance string                   `json:"last_avatar_utterance"`
	TimerEnabled        bool                     `json:"timer_enabled"`
	TimerArmed          bool                     `json:"timer_armed"`
	TimerSeconds        int                      `json:"timer_seconds"`
	Completed           bool                     `json:"completed"`
}

// publish rebuilds the snapshot from loop-owned state and fans it out to
// watchers. Loop goroutine only.
func (o *Orchestrator) publish() {
	transcript := make([]history.Entry, len(o.transcript))
	copy(transcript, o.transcript)

	snap := Snapshot{
		SessionState:        o.state,
		ConnectionQuality:   o.quality,
		StreamReady:         o.streamReady,
		VoiceState:          o.voiceState,
		Muted:               o.muted,
		UserTalking:         o.userTalking,
		AvatarTalking:       o.avatarTalking,
		Transcript:          transcript,
		LastAvatarUtterance: o.lastAvatarText,
		TimerEnabled:        o.timer.enabled,
		TimerArmed:          o.timer.armed,
		TimerSeconds:        o.timer.value,
		Completed:           o.completed,
	}

	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()

	o.watchMu.Lock()
	for _, ch := range o.watchers {
		select {
		case ch <- snap:
		default:
			// Slow watcher; it will catch up on the next publish.
		}
	}
	o.watchMu.Unlock()
}

// Snapshot returns the most recently published state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// Watch registers a state watcher. The returned channel receives a snapshot
// after every handled event; slow receivers skip intermediate states rather
// than stall the session. The cancel func releases the watcher.
func (o *Orchestrator) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	o.watchMu.Lock()
	id := o.nextWatcher
	o.nextWatcher++
	o.watchers[id] = ch
	o.watchMu.Unlock()

	cancel := func() {
		o.watchMu.Lock()
		delete(o.watchers, id)
		o.watchMu.Unlock()
	}
	return ch, cancel
}
