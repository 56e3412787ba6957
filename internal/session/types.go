package session

import "time"

// CreateRequest defines the payload for starting a new avatar session.
type CreateRequest struct {
	InteractionID string `json:"interaction_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	InteractionID   string    `json:"interaction_id"`
	EngineSessionID string    `json:"engine_session_id"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
	TimerEnabled    bool      `json:"timer_enabled"`
	TimerSeconds    int       `json:"timer_seconds"`
}
