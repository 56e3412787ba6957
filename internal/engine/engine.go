package engine

import "context"

// SessionState is the connection lifecycle of a live avatar session.
type SessionState string

const (
	SessionInactive     SessionState = "inactive"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionDisconnected SessionState = "disconnected"
)

// ConnectionQuality is the engine's link-quality estimate.
type ConnectionQuality string

const (
	QualityUnknown      ConnectionQuality = "unknown"
	QualityPoor         ConnectionQuality = "poor"
	QualityGood         ConnectionQuality = "good"
	QualityExcellent    ConnectionQuality = "excellent"
	QualityDisconnected ConnectionQuality = "disconnected"
)

// VoiceChatState is the state of the bidirectional audio sub-resource.
type VoiceChatState string

const (
	VoiceInactive VoiceChatState = "inactive"
	VoiceStarting VoiceChatState = "starting"
	VoiceActive   VoiceChatState = "active"
)

// Event identifies an asynchronous notification from the engine.
type Event string

const (
	EventSessionStateChanged      Event = "session.state_changed"
	EventSessionStreamReady       Event = "session.stream_ready"
	EventConnectionQualityChanged Event = "session.connection_quality_changed"

	EventVoiceStateChanged Event = "voice.state_changed"
	EventVoiceMuted        Event = "voice.muted"
	EventVoiceUnmuted      Event = "voice.unmuted"

	EventUserSpeakStarted   Event = "user.speak_started"
	EventUserSpeakEnded     Event = "user.speak_ended"
	EventAvatarSpeakStarted Event = "avatar.speak_started"
	EventAvatarSpeakEnded   Event = "avatar.speak_ended"

	EventUserTranscription   Event = "user.transcription"
	EventAvatarTranscription Event = "avatar.transcription"
)

// Payload carries the event-specific data. Only the fields relevant to the
// emitting event are set.
type Payload struct {
	SessionState SessionState
	Quality      ConnectionQuality
	VoiceState   VoiceChatState
	Text         string
	StreamID     string
}

// MediaSurface is a caller-supplied sink for the avatar's media stream.
// The orchestration layer never interprets the stream itself.
type MediaSurface interface {
	BindStream(streamID string) error
}

// VoiceChannel is the audio sub-resource of a session handle.
type VoiceChannel interface {
	State() VoiceChatState
	Start(ctx context.Context) error
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	On(event Event, fn func(Payload)) Subscription
}

// Handle is the public event/state surface of one live avatar session.
// A handle is single-use: once it reaches SessionDisconnected it cannot be
// restarted, a new handle must be constructed from a fresh token.
type Handle interface {
	State() SessionState
	ConnectionQuality() ConnectionQuality
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Attach(surface MediaSurface) error
	Message(ctx context.Context, text string) error
	VoiceChat() VoiceChannel
	On(event Event, fn func(Payload)) Subscription
}
