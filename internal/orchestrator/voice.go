package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/engine"
)

// autoStartVoice opens the voice channel once the media stream is up. It
// fires at most once per session; a channel already past inactive is left
// alone.
func (o *Orchestrator) autoStartVoice() {
	if o.voiceAutoStarted || o.voiceState != engine.VoiceInactive {
		return
	}
	o.voiceAutoStarted = true
	voice := o.eng.VoiceChat()
	go func() {
		if err := voice.Start(context.Background()); err != nil {
			o.log.Warn("voice channel start failed", zap.Error(err))
		}
	}()
}

// Mute requests the voice channel muted. The local muted flag is not
// touched here; it settles when the engine reports the change.
func (o *Orchestrator) Mute() {
	o.post(func() {
		o.requestMute(true, "caller")
		o.publish()
	})
}

// Unmute requests the voice channel unmuted.
func (o *Orchestrator) Unmute() {
	o.post(func() {
		o.requestMute(false, "caller")
		o.publish()
	})
}

// requestMute records the latest intent and issues the engine call. Intents
// can overlap in flight; the most recent one wins once the dust settles.
func (o *Orchestrator) requestMute(muted bool, reason string) {
	if o.ended {
		return
	}
	intent := muted
	o.desiredMuted = &intent
	o.issueMuteCall(muted, reason)
}

func (o *Orchestrator) issueMuteCall(muted bool, reason string) {
	voice := o.eng.VoiceChat()
	go func() {
		var err error
		if muted {
			err = voice.Mute(context.Background())
		} else {
			err = voice.Unmute(context.Background())
		}
		if err != nil {
			o.log.Warn("voice channel control failed",
				zap.Bool("mute", muted),
				zap.String("reason", reason),
				zap.Error(err))
		}
	}()
}

// handleMuteSettled applies the engine-reported mute state. When an older
// call settles against a newer intent, the intent is reissued so the
// channel converges on what was asked for last.
func (o *Orchestrator) handleMuteSettled(muted bool) {
	if o.ended {
		return
	}
	o.muted = muted
	if o.desiredMuted != nil && *o.desiredMuted != muted {
		o.issueMuteCall(*o.desiredMuted, "converge")
	}
}

func (o *Orchestrator) handleUserTalking(talking bool) {
	if o.ended {
		return
	}
	o.userTalking = talking
}

// handleAvatarTalking flips the talking indicator and, on handheld
// deployments, drives the echo-suppression policy: the microphone is muted
// while the avatar talks so the device speaker does not feed back into the
// user's turn.
func (o *Orchestrator) handleAvatarTalking(talking bool) {
	if o.ended {
		return
	}
	changed := o.avatarTalking != talking
	o.avatarTalking = talking
	if !changed || !o.echoSuppression || o.voiceState != engine.VoiceActive {
		return
	}
	if talking && !o.muted {
		o.requestMute(true, "echo_suppression")
	} else if !talking && o.muted {
		o.requestMute(false, "echo_suppression")
	}
}
