package engine

import (
	"context"
	"testing"
)

func TestSubscriptionCloseDetaches(t *testing.T) {
	m := NewMock()
	calls := 0
	sub := m.On(EventUserSpeakStarted, func(Payload) { calls++ })

	m.EmitUserSpeak(true)
	sub.Close()
	sub.Close()
	m.EmitUserSpeak(true)

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
}

func TestSubscriptionGroupClosesAll(t *testing.T) {
	m := NewMock()
	var group SubscriptionGroup
	calls := 0
	group.Add(m.On(EventUserSpeakStarted, func(Payload) { calls++ }))
	group.Add(m.On(EventUserSpeakEnded, func(Payload) { calls++ }))

	group.Close()
	m.EmitUserSpeak(true)
	m.EmitUserSpeak(false)

	if calls != 0 {
		t.Fatalf("handler calls = %d, want 0 after group close", calls)
	}

	// Add after close detaches immediately.
	group.Add(m.On(EventUserSpeakStarted, func(Payload) { calls++ }))
	m.EmitUserSpeak(true)
	if calls != 0 {
		t.Fatalf("handler calls = %d, want 0 for late add", calls)
	}
}

func TestMockLifecycleEvents(t *testing.T) {
	m := NewMock()
	var states []SessionState
	m.On(EventSessionStateChanged, func(p Payload) { states = append(states, p.SessionState) })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []SessionState{SessionConnecting, SessionDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}
