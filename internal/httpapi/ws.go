package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleSessionWS serves the live state/command socket for one session.
// Outbound traffic is state frames published after every handled engine
// event; inbound traffic is the small command vocabulary.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	orch, ok := s.service.Orchestrator(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no live session with that id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	updates, stopWatch := orch.Watch()
	defer stopWatch()

	// Writer owns the connection for writes; everyone else goes through the
	// outbound queue.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", frameTypeOf(msg)).Inc()
			}
		}
	}()

	// Forwarder turns snapshot updates into state frames. The final snapshot
	// after the terminal engine state closes the stream.
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		s.enqueue(outbound, newStateFrame(orch.Snapshot()))
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-updates:
				s.enqueue(outbound, newStateFrame(snap))
			case <-orch.Done():
				s.enqueue(outbound, newStateFrame(orch.Snapshot()))
				// Give the writer a moment to flush the terminal frame.
				time.Sleep(100 * time.Millisecond)
				cancel()
				_ = conn.Close()
				return
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		cmd, err := ParseCommand(data)
		if err != nil {
			s.enqueue(outbound, newErrorFrame("invalid_command", err.Error()))
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(cmd.Type)).Inc()
		s.service.Touch(sessionID)
		s.dispatchCommand(ctx, sessionID, orch, cmd)
	}

	cancel()
	<-forwarderDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatchCommand(ctx context.Context, sessionID string, orch Controllable, cmd Command) {
	switch cmd.Type {
	case CommandStart:
		orch.StartSession(ctx)
	case CommandStop:
		// Teardown side effects must outlive the socket.
		go func() {
			if _, err := s.service.EndSession(context.Background(), sessionID); err != nil {
				s.log.Warn("stop command failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}()
	case CommandSendText:
		orch.SendTextMessage(ctx, cmd.Text)
	case CommandMute:
		orch.Mute()
	case CommandUnmute:
		orch.Unmute()
	}
}

// Controllable is the slice of the orchestrator the socket drives.
type Controllable interface {
	StartSession(ctx context.Context)
	SendTextMessage(ctx context.Context, text string)
	Mute()
	Unmute()
}

// enqueue keeps websocket writes single-threaded; frames are dropped when
// the outbound queue is saturated rather than stalling the session.
func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		s.metrics.WSMessages.WithLabelValues("outbound_dropped", frameTypeOf(msg)).Inc()
	}
}
