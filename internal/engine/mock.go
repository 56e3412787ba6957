package engine

import (
	"context"
	"errors"
	"sync"
)

// Mock is a scripted in-memory engine handle. It backs orchestrator tests
// and the dev mode used when no vendor credentials are configured. Tests
// drive it through the Emit* methods; the handle itself only reacts to the
// control calls the way the vendor SDK does.
type Mock struct {
	emitter

	mu       sync.Mutex
	state    SessionState
	quality  ConnectionQuality
	streamID string
	ready    bool

	StartErr   error
	StopErr    error
	MessageErr error

	startCalls   int
	stopCalls    int
	messages     []string
	boundStreams []string

	voice *MockVoice
}

func NewMock() *Mock {
	m := &Mock{
		state:    SessionInactive,
		quality:  QualityUnknown,
		streamID: "mock-stream",
	}
	m.voice = &MockVoice{state: VoiceInactive}
	return m
}

func (m *Mock) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) ConnectionQuality() ConnectionQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

func (m *Mock) Start(_ context.Context) error {
	m.mu.Lock()
	m.startCalls++
	err := m.StartErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.EmitSessionState(SessionConnecting)
	return nil
}

func (m *Mock) Stop(_ context.Context) error {
	m.mu.Lock()
	m.stopCalls++
	err := m.StopErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.EmitSessionState(SessionDisconnected)
	return nil
}

func (m *Mock) Attach(surface MediaSurface) error {
	m.mu.Lock()
	ready := m.ready
	streamID := m.streamID
	m.mu.Unlock()
	if !ready {
		return errors.New("stream not ready")
	}
	if err := surface.BindStream(streamID); err != nil {
		return err
	}
	m.mu.Lock()
	m.boundStreams = append(m.boundStreams, streamID)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Message(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MessageErr != nil {
		return m.MessageErr
	}
	m.messages = append(m.messages, text)
	return nil
}

func (m *Mock) VoiceChat() VoiceChannel { return m.voice }

func (m *Mock) On(event Event, fn func(Payload)) Subscription {
	return m.on(event, fn)
}

func (m *Mock) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls
}

func (m *Mock) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

func (m *Mock) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Mock) EmitSessionState(state SessionState) {
	m.mu.Lock()
	m.state = state
	if state == SessionDisconnected {
		m.ready = false
	}
	m.mu.Unlock()
	m.emit(EventSessionStateChanged, Payload{SessionState: state})
}

func (m *Mock) EmitStreamReady() {
	m.mu.Lock()
	m.ready = true
	streamID := m.streamID
	m.mu.Unlock()
	m.emit(EventSessionStreamReady, Payload{StreamID: streamID})
}

func (m *Mock) EmitQuality(q ConnectionQuality) {
	m.mu.Lock()
	m.quality = q
	m.mu.Unlock()
	m.emit(EventConnectionQualityChanged, Payload{Quality: q})
}

func (m *Mock) EmitUserSpeak(started bool) {
	if started {
		m.emit(EventUserSpeakStarted, Payload{})
		return
	}
	m.emit(EventUserSpeakEnded, Payload{})
}

func (m *Mock) EmitAvatarSpeak(started bool) {
	if started {
		m.emit(EventAvatarSpeakStarted, Payload{})
		return
	}
	m.emit(EventAvatarSpeakEnded, Payload{})
}

func (m *Mock) EmitUserTranscription(text string) {
	m.emit(EventUserTranscription, Payload{Text: text})
}

func (m *Mock) EmitAvatarTranscription(text string) {
	m.emit(EventAvatarTranscription, Payload{Text: text})
}

// MockVoice is the audio sub-resource of a Mock handle. Control calls do
// not settle locally; tests emit the muted/unmuted events explicitly, which
// matches the asynchronous settle behavior of the real channel.
type MockVoice struct {
	emitter

	mu    sync.Mutex
	state VoiceChatState
	muted bool

	StartErr  error
	MuteErr   error
	UnmuteErr error

	startCalls  int
	muteCalls   int
	unmuteCalls int
}

func (v *MockVoice) State() VoiceChatState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *MockVoice) Start(_ context.Context) error {
	v.mu.Lock()
	v.startCalls++
	err := v.StartErr
	v.mu.Unlock()
	if err != nil {
		return err
	}
	v.EmitState(VoiceStarting)
	return nil
}

func (v *MockVoice) Mute(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muteCalls++
	return v.MuteErr
}

func (v *MockVoice) Unmute(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unmuteCalls++
	return v.UnmuteErr
}

func (v *MockVoice) On(event Event, fn func(Payload)) Subscription {
	return v.on(event, fn)
}

func (v *MockVoice) StartCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.startCalls
}

func (v *MockVoice) MuteCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muteCalls
}

func (v *MockVoice) UnmuteCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unmuteCalls
}

func (v *MockVoice) EmitState(state VoiceChatState) {
	v.mu.Lock()
	v.state = state
	v.mu.Unlock()
	v.emit(EventVoiceStateChanged, Payload{VoiceState: state})
}

func (v *MockVoice) EmitMuted(muted bool) {
	v.mu.Lock()
	v.muted = muted
	v.mu.Unlock()
	if muted {
		v.emit(EventVoiceMuted, Payload{})
		return
	}
	v.emit(EventVoiceUnmuted, Payload{})
}
