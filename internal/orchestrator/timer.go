package orchestrator

import "time"

type TimerDirection string

const (
	TimerUp   TimerDirection = "up"
	TimerDown TimerDirection = "down"
)

// TimerSettings configures the exercise timer. Initial is the starting
// value in seconds, as supplied by the arbiter's start offset. Floor and
// Ceiling clamp a countdown and a count-up respectively; a nil bound means
// unbounded. Reaching a bound freezes the displayed value but never ends
// the session on its own.
type TimerSettings struct {
	Initial   int
	Direction TimerDirection
	Floor     *int
	Ceiling   *int
}

type timerState struct {
	enabled   bool
	armed     bool
	value     int
	direction TimerDirection
	floor     *int
	ceiling   *int
}

func newTimerState(settings *TimerSettings) timerState {
	if settings == nil {
		return timerState{}
	}
	dir := settings.Direction
	if dir == "" {
		dir = TimerUp
	}
	return timerState{
		enabled:   true,
		value:     settings.Initial,
		direction: dir,
		floor:     settings.Floor,
		ceiling:   settings.Ceiling,
	}
}

// armTimer starts the clock on the first avatar utterance. Arming is
// one-shot: later utterances, reconnect noise and repeated events leave a
// running timer alone.
func (o *Orchestrator) armTimer() {
	if o.ended || !o.timer.enabled || o.timer.armed {
		return
	}
	o.timer.armed = true
	o.tickerStop = make(chan struct{})
	stop := o.tickerStop
	go func() {
		ticker := time.NewTicker(o.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.post(func() {
					o.timerTick()
					o.publish()
				})
			}
		}
	}()
}

func (o *Orchestrator) timerTick() {
	if o.ended || !o.timer.armed {
		return
	}
	switch o.timer.direction {
	case TimerDown:
		if o.timer.floor != nil && o.timer.value <= *o.timer.floor {
			return
		}
		o.timer.value--
	default:
		if o.timer.ceiling != nil && o.timer.value >= *o.timer.ceiling {
			return
		}
		o.timer.value++
	}
}

func (o *Orchestrator) stopTimerTicker() {
	if o.tickerStop != nil {
		close(o.tickerStop)
		o.tickerStop = nil
	}
}
