package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/arbiter"
)

// dispatchDecision sends one completed user utterance to the arbiter. The
// round trip runs outside the loop with no local deadline; the arbiter is
// the sole judge of when a turn ends the exercise, however long it takes.
func (o *Orchestrator) dispatchDecision(text string) {
	if o.arb == nil {
		return
	}
	turn := arbiter.Turn{
		Text:          text,
		AvatarText:    o.lastAvatarText,
		InteractionID: o.interactionID,
		Timestamp:     time.Now().UTC(),
	}
	go func() {
		start := time.Now()
		verdict, err := o.arb.Decide(context.Background(), turn)
		if o.metrics != nil {
			o.metrics.ObserveDecisionLatency(time.Since(start))
		}
		o.post(func() {
			o.handleVerdict(verdict, err)
			o.publish()
		})
	}()
}

// handleVerdict applies an arbiter decision. Verdicts landing after the
// session stopped, or after an earlier verdict already ended it, are stale
// and dropped; the completion callback fires at most once.
func (o *Orchestrator) handleVerdict(verdict arbiter.Verdict, err error) {
	if err != nil {
		o.log.Warn("termination decision failed", zap.Error(err))
		if o.metrics != nil {
			o.metrics.ArbiterRequests.WithLabelValues("decide", "error").Inc()
		}
		return
	}
	if !verdict.End {
		if o.metrics != nil {
			o.metrics.ArbiterRequests.WithLabelValues("decide", "continue").Inc()
		}
		return
	}
	if o.ended || o.stopRequested || o.completed {
		if o.metrics != nil {
			o.metrics.ArbiterRequests.WithLabelValues("decide", "stale").Inc()
		}
		return
	}
	o.completed = true
	o.stopRequested = true
	if o.metrics != nil {
		o.metrics.ArbiterRequests.WithLabelValues("decide", "end").Inc()
	}
	o.log.Info("arbiter ended session", zap.String("interaction_id", o.interactionID))
	o.stopEngine(context.Background(), "arbiter_verdict")
	if o.onComplete != nil {
		go o.onComplete()
	}
}
