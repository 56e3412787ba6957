package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inteliventa/entrenador/internal/reliability"
)

// Request describes the avatar persona the issued session should run with.
type Request struct {
	AvatarID  string
	VoiceID   string
	ContextID string
	Language  string
}

// Credentials is the single-use session token plus the vendor session id.
type Credentials struct {
	SessionToken string
	SessionID    string
}

// Client issues session access tokens from the vendor token endpoint.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewClient(apiURL, apiKey string) *Client {
	return &Client{
		apiURL:     strings.TrimRight(strings.TrimSpace(apiURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		maxRetries: 2,
	}
}

type issuePayload struct {
	Mode          string        `json:"mode"`
	AvatarID      string        `json:"avatar_id"`
	AvatarPersona personaFields `json:"avatar_persona"`
}

type personaFields struct {
	VoiceID   string `json:"voice_id"`
	ContextID string `json:"context_id"`
	Language  string `json:"language"`
}

type issueResponse struct {
	Data struct {
		SessionToken string `json:"session_token"`
		SessionID    string `json:"session_id"`
	} `json:"data"`
	Message string `json:"message"`
}

// Issue requests a session token. Retryable statuses are retried with a
// capped backoff; all other failures surface the vendor's message.
func (c *Client) Issue(ctx context.Context, req Request) (Credentials, error) {
	if req.ContextID == "" {
		return Credentials{}, fmt.Errorf("context_id is required")
	}

	raw, err := json.Marshal(issuePayload{
		Mode:     "FULL",
		AvatarID: req.AvatarID,
		AvatarPersona: personaFields{
			VoiceID:   req.VoiceID,
			ContextID: req.ContextID,
			Language:  req.Language,
		},
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("marshal token request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		creds, retryable, err := c.issueOnce(ctx, raw)
		if err == nil {
			return creds, nil
		}
		lastErr = err
		if !retryable || attempt >= c.maxRetries {
			return Credentials{}, lastErr
		}

		backoff := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
		select {
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (c *Client) issueOnce(ctx context.Context, body []byte) (Credentials, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v1/sessions/token", bytes.NewReader(body))
	if err != nil {
		return Credentials{}, false, fmt.Errorf("create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.apiKey)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Credentials{}, true, fmt.Errorf("send token request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Credentials{}, false, fmt.Errorf("read token response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := vendorErrorMessage(raw)
		return Credentials{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("token endpoint status %d: %s", res.StatusCode, msg)
	}

	var parsed issueResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Credentials{}, false, fmt.Errorf("parse token response: %w", err)
	}
	if parsed.Data.SessionToken == "" {
		return Credentials{}, false, fmt.Errorf("token endpoint returned empty session_token")
	}
	return Credentials{
		SessionToken: parsed.Data.SessionToken,
		SessionID:    parsed.Data.SessionID,
	}, false, nil
}

func vendorErrorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Data    []struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Data) > 0 && body.Data[0].Message != "" {
			return body.Data[0].Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "failed to retrieve session token"
	}
	return text
}
