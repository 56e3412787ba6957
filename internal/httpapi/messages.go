package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inteliventa/entrenador/internal/orchestrator"
)

// CommandType identifies a client command on the session websocket.
type CommandType string

const (
	CommandStart    CommandType = "start"
	CommandStop     CommandType = "stop"
	CommandSendText CommandType = "send_text"
	CommandMute     CommandType = "mute"
	CommandUnmute   CommandType = "unmute"
)

// Command is the client-to-server websocket envelope.
type Command struct {
	Type CommandType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// ParseCommand validates one inbound websocket frame. Unknown types and
// malformed payloads are rejected; the connection itself stays up.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch cmd.Type {
	case CommandStart, CommandStop, CommandMute, CommandUnmute:
		return cmd, nil
	case CommandSendText:
		if strings.TrimSpace(cmd.Text) == "" {
			return Command{}, fmt.Errorf("command %q requires text", cmd.Type)
		}
		return cmd, nil
	case "":
		return Command{}, fmt.Errorf("missing command type")
	default:
		return Command{}, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

const (
	frameState = "state"
	frameError = "error"
)

// StateFrame pushes the composed session state to the client.
type StateFrame struct {
	Type string                `json:"type"`
	Data orchestrator.Snapshot `json:"data"`
}

// ErrorFrame reports a non-fatal protocol error to the client.
type ErrorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func newStateFrame(snap orchestrator.Snapshot) StateFrame {
	return StateFrame{Type: frameState, Data: snap}
}

func newErrorFrame(code, detail string) ErrorFrame {
	return ErrorFrame{Type: frameError, Code: code, Detail: detail}
}

func frameTypeOf(v any) string {
	switch v.(type) {
	case StateFrame:
		return frameState
	case ErrorFrame:
		return frameError
	default:
		return "unknown"
	}
}
