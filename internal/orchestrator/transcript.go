package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/history"
)

// handleAvatarTranscription records one avatar utterance fragment. The
// fragment also becomes the current "what the avatar just said" context for
// the next termination round trip, each fragment overwriting the previous.
func (o *Orchestrator) handleAvatarTranscription(text string) {
	if o.ended {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.lastAvatarText = text
	entry := o.appendTranscript(history.SenderAvatar, text)
	o.saveEntryBestEffort(entry)
}

// handleUserTranscription records a completed user utterance and hands it
// to the termination protocol.
func (o *Orchestrator) handleUserTranscription(text string) {
	if o.ended {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	entry := o.appendTranscript(history.SenderUser, text)
	o.saveEntryBestEffort(entry)
	o.dispatchDecision(text)
}

func (o *Orchestrator) appendTranscript(sender history.Sender, text string) history.Entry {
	entry := history.Entry{
		ID:            uuid.NewString(),
		InteractionID: o.interactionID,
		SessionID:     o.sessionID,
		Sender:        sender,
		Text:          text,
		CreatedAt:     time.Now().UTC(),
	}
	o.transcript = append(o.transcript, entry)
	return entry
}

// saveEntryBestEffort persists one transcript entry, with spoken PII
// masked. Persistence failures never disturb the live session.
func (o *Orchestrator) saveEntryBestEffort(entry history.Entry) {
	if o.store == nil {
		return
	}
	entry.Text, _ = history.RedactPII(entry.Text)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.store.SaveEntry(ctx, entry); err != nil {
			o.log.Warn("transcript persist failed", zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}()
}
