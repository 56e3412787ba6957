package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Turn is one completed user utterance submitted for a termination verdict.
type Turn struct {
	Text          string
	AvatarText    string
	InteractionID string
	Timestamp     time.Time
}

// Verdict is the arbiter's per-turn decision. End means the session should
// be stopped.
type Verdict struct {
	End bool
	Raw string
}

// ProbeOutcome classifies the session-start probe response.
type ProbeOutcome string

const (
	ProbeReady    ProbeOutcome = "ready"
	ProbeNotReady ProbeOutcome = "not_ready"
)

// ProbeResult is the strictly-parsed session-start probe. Anything that does
// not match the ready shape collapses to NotReady with a reason; there are
// no optional-field fallback chains past this boundary.
type ProbeResult struct {
	Outcome     ProbeOutcome
	ContextID   string
	VoiceID     string
	AvatarID    string
	Language    string
	StartOffset *int
	Reason      string
}

// Client talks to the external decision webhook. Decide deliberately runs
// without a client-side timeout: the protocol tolerates a hung round trip
// (the session simply never auto-terminates from that turn), and a late
// verdict is discarded by the orchestrator.
type Client struct {
	url     string
	decide  *http.Client
	control *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:     strings.TrimSpace(url),
		decide:  &http.Client{},
		control: &http.Client{Timeout: 15 * time.Second},
	}
}

type decidePayload struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	AvatarText    string `json:"avatar_text"`
	InteractionID string `json:"interaction_id"`
	Timestamp     string `json:"timestamp"`
}

type decideResponse struct {
	Respuesta string `json:"respuesta"`
}

// Decide submits one completed user turn and returns the arbiter's verdict.
func (c *Client) Decide(ctx context.Context, turn Turn) (Verdict, error) {
	body, err := c.post(ctx, c.decide, decidePayload{
		Type:          "USER_END_MESSAGE",
		Text:          turn.Text,
		AvatarText:    turn.AvatarText,
		InteractionID: turn.InteractionID,
		Timestamp:     turn.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Verdict{}, err
	}

	var res decideResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return Verdict{
		End: strings.EqualFold(strings.TrimSpace(res.Respuesta), "ok"),
		Raw: strings.TrimSpace(res.Respuesta),
	}, nil
}

type probePayload struct {
	InteractionID string `json:"interaction_id"`
}

// probeResponse mirrors the webhook's loose shape; Probe immediately
// collapses it into a ProbeResult.
type probeResponse struct {
	Respuesta   string `json:"respuesta"`
	ContextID   string `json:"CONTEXT_ID"`
	KnowledgeID string `json:"knowledge_id"`
	VoiceID     string `json:"voice_id"`
	AvatarID    string `json:"avatar_id"`
	Language    string `json:"language"`
	InicioSeg   any    `json:"inicio_seg"`
}

// Probe asks whether an exercise is available for the interaction and, if
// so, which context/voice/avatar to run it with plus an optional timer
// start offset.
func (c *Client) Probe(ctx context.Context, interactionID string) (ProbeResult, error) {
	body, err := c.post(ctx, c.control, probePayload{InteractionID: interactionID})
	if err != nil {
		return ProbeResult{}, err
	}

	var res probeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return ProbeResult{Outcome: ProbeNotReady, Reason: "malformed"}, nil
	}

	switch strings.ToLower(strings.TrimSpace(res.Respuesta)) {
	case "apagado":
		return ProbeResult{Outcome: ProbeNotReady, Reason: "no_exercise"}, nil
	case "disponible":
	default:
		return ProbeResult{Outcome: ProbeNotReady, Reason: "unrecognized_response"}, nil
	}

	contextID := strings.TrimSpace(res.ContextID)
	if contextID == "" {
		contextID = strings.TrimSpace(res.KnowledgeID)
	}
	if contextID == "" {
		return ProbeResult{Outcome: ProbeNotReady, Reason: "missing_context"}, nil
	}

	return ProbeResult{
		Outcome:     ProbeReady,
		ContextID:   contextID,
		VoiceID:     strings.TrimSpace(res.VoiceID),
		AvatarID:    strings.TrimSpace(res.AvatarID),
		Language:    strings.TrimSpace(res.Language),
		StartOffset: parseStartOffset(res.InicioSeg),
	}, nil
}

type notifyEndPayload struct {
	Estado        string `json:"Estado"`
	InteractionID string `json:"interaction_id"`
	Elapsed       int    `json:"elapsed"`
}

// NotifyEnd reports a manual end-of-session to the arbiter. Best effort;
// callers log and move on.
func (c *Client) NotifyEnd(ctx context.Context, interactionID string, elapsedSeconds int) error {
	_, err := c.post(ctx, c.control, notifyEndPayload{
		Estado:        "Terminar ejercicio",
		InteractionID: interactionID,
		Elapsed:       elapsedSeconds,
	})
	return err
}

func (c *Client) post(ctx context.Context, client *http.Client, payload any) ([]byte, error) {
	if c.url == "" {
		return nil, fmt.Errorf("arbiter url not configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("arbiter http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// parseStartOffset handles the webhook's loose inicio_seg field: a number,
// a numeric string, or the literal "no disponible".
func parseStartOffset(v any) *int {
	switch n := v.(type) {
	case float64:
		sec := int(n)
		return &sec
	case string:
		s := strings.TrimSpace(n)
		if s == "" || strings.EqualFold(s, "no disponible") {
			return nil
		}
		sec, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &sec
	default:
		return nil
	}
}
