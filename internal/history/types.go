package history

import (
	"context"
	"time"
)

// Sender identifies which party produced a transcript entry.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAvatar Sender = "avatar"
)

// Entry is one recognized speech turn, stored in receive order.
type Entry struct {
	ID            string    `json:"id"`
	InteractionID string    `json:"interaction_id"`
	SessionID     string    `json:"session_id"`
	Sender        Sender    `json:"sender"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists transcript entries. Persistence is best effort: the live
// conversation never depends on it.
type Store interface {
	SaveEntry(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, interactionID string, limit int) ([]Entry, error)
	Close() error
}
