package arbiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDecideOkVerdict(t *testing.T) {
	var got decidePayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"respuesta":"ok"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	verdict, err := c.Decide(context.Background(), Turn{
		Text:          "ya es suficiente",
		AvatarText:    "muy bien",
		InteractionID: "int-1",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !verdict.End {
		t.Fatalf("verdict.End = false, want true")
	}
	if got.Type != "USER_END_MESSAGE" {
		t.Fatalf("payload type = %q, want USER_END_MESSAGE", got.Type)
	}
	if got.AvatarText != "muy bien" {
		t.Fatalf("payload avatar_text = %q, want buffered avatar utterance", got.AvatarText)
	}
	if got.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("payload timestamp = %q, want RFC3339 UTC", got.Timestamp)
	}
}

func TestDecideNonOkVerdict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"respuesta":"continuar"}`))
	}))
	defer ts.Close()

	verdict, err := NewClient(ts.URL).Decide(context.Background(), Turn{Text: "hola"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if verdict.End {
		t.Fatalf("verdict.End = true, want false for non-ok response")
	}
}

func TestDecideMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	if _, err := NewClient(ts.URL).Decide(context.Background(), Turn{Text: "hola"}); err == nil {
		t.Fatalf("Decide() error = nil, want parse error")
	}
}

func TestDecideHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	if _, err := NewClient(ts.URL).Decide(context.Background(), Turn{Text: "hola"}); err == nil {
		t.Fatalf("Decide() error = nil, want status error")
	}
}

func TestProbeReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"respuesta":"disponible","CONTEXT_ID":"ctx-9","voice_id":"v-2","inicio_seg":"45"}`))
	}))
	defer ts.Close()

	res, err := NewClient(ts.URL).Probe(context.Background(), "int-1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.Outcome != ProbeReady {
		t.Fatalf("Outcome = %q, want %q (reason %q)", res.Outcome, ProbeReady, res.Reason)
	}
	if res.ContextID != "ctx-9" || res.VoiceID != "v-2" {
		t.Fatalf("unexpected probe fields: %+v", res)
	}
	if res.StartOffset == nil || *res.StartOffset != 45 {
		t.Fatalf("StartOffset = %v, want 45", res.StartOffset)
	}
}

func TestProbeKnowledgeIDFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"respuesta":"disponible","knowledge_id":"kn-3","inicio_seg":"no disponible"}`))
	}))
	defer ts.Close()

	res, err := NewClient(ts.URL).Probe(context.Background(), "int-1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.Outcome != ProbeReady || res.ContextID != "kn-3" {
		t.Fatalf("unexpected probe result: %+v", res)
	}
	if res.StartOffset != nil {
		t.Fatalf("StartOffset = %v, want nil for no disponible", *res.StartOffset)
	}
}

func TestProbeNotReadyVariants(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{"apagado", `{"respuesta":"apagado"}`, "no_exercise"},
		{"missing context", `{"respuesta":"disponible"}`, "missing_context"},
		{"unknown answer", `{"respuesta":"tal vez"}`, "unrecognized_response"},
		{"malformed", `garbage`, "malformed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			res, err := NewClient(ts.URL).Probe(context.Background(), "int-1")
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if res.Outcome != ProbeNotReady {
				t.Fatalf("Outcome = %q, want %q", res.Outcome, ProbeNotReady)
			}
			if res.Reason != tc.reason {
				t.Fatalf("Reason = %q, want %q", res.Reason, tc.reason)
			}
		})
	}
}

func TestProbeNumericStartOffset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"respuesta":"disponible","CONTEXT_ID":"ctx","inicio_seg":120}`))
	}))
	defer ts.Close()

	res, err := NewClient(ts.URL).Probe(context.Background(), "int-1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.StartOffset == nil || *res.StartOffset != 120 {
		t.Fatalf("StartOffset = %v, want 120", res.StartOffset)
	}
}

func TestNotifyEnd(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	if err := NewClient(ts.URL).NotifyEnd(context.Background(), "int-7", 83); err != nil {
		t.Fatalf("NotifyEnd() error = %v", err)
	}
	if got["Estado"] != "Terminar ejercicio" {
		t.Fatalf("Estado = %q, want %q", got["Estado"], "Terminar ejercicio")
	}
	if got["interaction_id"] != "int-7" || got["elapsed"] != float64(83) {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
