package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RemoteConfig configures a websocket-backed engine handle. The token is a
// single-use session access token issued by the vendor token endpoint.
type RemoteConfig struct {
	APIURL    string
	VoiceChat bool
	Logger    *zap.Logger
}

// Remote implements Handle against the vendor's realtime signaling
// endpoint. Only the event/control surface lives here; media negotiation
// and codecs are the engine's business and never cross this boundary.
type Remote struct {
	emitter

	token string
	cfg   RemoteConfig
	log   *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    SessionState
	quality  ConnectionQuality
	streamID string
	ready    bool

	writeMu sync.Mutex

	voice *remoteVoice
}

func NewRemote(token string, cfg RemoteConfig) *Remote {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Remote{
		token:   token,
		cfg:     cfg,
		log:     cfg.Logger,
		state:   SessionInactive,
		quality: QualityUnknown,
	}
	r.voice = &remoteVoice{parent: r, state: VoiceInactive}
	return r
}

func (r *Remote) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Remote) ConnectionQuality() ConnectionQuality {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quality
}

// wireFrame is the signaling frame shape, both directions.
type wireFrame struct {
	Type     string `json:"type"`
	State    string `json:"state,omitempty"`
	Quality  string `json:"quality,omitempty"`
	Text     string `json:"text,omitempty"`
	StreamID string `json:"stream_id,omitempty"`
}

func (r *Remote) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != SessionInactive {
		r.mu.Unlock()
		return fmt.Errorf("session not inactive: %s", r.state)
	}
	r.mu.Unlock()

	u, err := url.Parse(strings.TrimRight(r.cfg.APIURL, "/") + "/v1/sessions/stream")
	if err != nil {
		return fmt.Errorf("parse engine url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if r.cfg.VoiceChat {
		q.Set("voice_chat", "true")
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+r.token)

	r.setState(SessionConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		// Back to inactive so the caller can retry with the same handle.
		r.setState(SessionInactive)
		return fmt.Errorf("dial engine websocket: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go r.readLoop(conn)
	return nil
}

func (r *Remote) Stop(_ context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	already := r.state == SessionDisconnected
	r.mu.Unlock()

	if conn != nil {
		_ = r.writeFrame(conn, wireFrame{Type: "stop"})
		_ = conn.Close()
	}
	if !already {
		r.setState(SessionDisconnected)
	}
	return nil
}

func (r *Remote) Attach(surface MediaSurface) error {
	r.mu.Lock()
	ready := r.ready
	streamID := r.streamID
	r.mu.Unlock()
	if !ready {
		return errors.New("stream not ready")
	}
	return surface.BindStream(streamID)
}

func (r *Remote) Message(_ context.Context, text string) error {
	return r.send(wireFrame{Type: "message", Text: text})
}

func (r *Remote) VoiceChat() VoiceChannel { return r.voice }

func (r *Remote) On(event Event, fn func(Payload)) Subscription {
	return r.on(event, fn)
}

func (r *Remote) send(f wireFrame) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("engine not connected")
	}
	return r.writeFrame(conn, f)
}

func (r *Remote) writeFrame(conn *websocket.Conn, f wireFrame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(f)
}

func (r *Remote) setState(state SessionState) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	if state == SessionDisconnected {
		r.ready = false
	}
	r.mu.Unlock()
	r.emit(EventSessionStateChanged, Payload{SessionState: state})
}

func (r *Remote) readLoop(conn *websocket.Conn) {
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		_ = conn.Close()
		r.setState(SessionDisconnected)
	}()

	for {
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug("engine read loop ended", zap.Error(err))
			}
			return
		}
		r.dispatch(f)
	}
}

func (r *Remote) dispatch(f wireFrame) {
	switch Event(f.Type) {
	case EventSessionStateChanged:
		r.setState(SessionState(f.State))
	case EventSessionStreamReady:
		r.mu.Lock()
		r.ready = true
		r.streamID = f.StreamID
		r.mu.Unlock()
		r.emit(EventSessionStreamReady, Payload{StreamID: f.StreamID})
	case EventConnectionQualityChanged:
		r.mu.Lock()
		r.quality = ConnectionQuality(f.Quality)
		r.mu.Unlock()
		r.emit(EventConnectionQualityChanged, Payload{Quality: ConnectionQuality(f.Quality)})
	case EventVoiceStateChanged:
		r.voice.setState(VoiceChatState(f.State))
	case EventVoiceMuted:
		r.voice.emit(EventVoiceMuted, Payload{})
	case EventVoiceUnmuted:
		r.voice.emit(EventVoiceUnmuted, Payload{})
	case EventUserSpeakStarted, EventUserSpeakEnded,
		EventAvatarSpeakStarted, EventAvatarSpeakEnded:
		r.emit(Event(f.Type), Payload{})
	case EventUserTranscription, EventAvatarTranscription:
		r.emit(Event(f.Type), Payload{Text: f.Text})
	default:
		r.log.Debug("unknown engine frame", zap.String("type", f.Type))
	}
}

type remoteVoice struct {
	emitter

	parent *Remote

	mu    sync.Mutex
	state VoiceChatState
}

func (v *remoteVoice) State() VoiceChatState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *remoteVoice) setState(state VoiceChatState) {
	v.mu.Lock()
	v.state = state
	v.mu.Unlock()
	v.emit(EventVoiceStateChanged, Payload{VoiceState: state})
}

func (v *remoteVoice) Start(_ context.Context) error {
	return v.parent.send(wireFrame{Type: "voice.start"})
}

func (v *remoteVoice) Mute(_ context.Context) error {
	return v.parent.send(wireFrame{Type: "voice.mute"})
}

func (v *remoteVoice) Unmute(_ context.Context) error {
	return v.parent.send(wireFrame{Type: "voice.unmute"})
}

func (v *remoteVoice) On(event Event, fn func(Payload)) Subscription {
	return v.on(event, fn)
}
