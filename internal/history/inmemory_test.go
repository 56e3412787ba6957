package history

import (
	"context"
	"testing"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"hola", "buenos días", "¿cómo vas?"} {
		if err := s.SaveEntry(ctx, Entry{
			InteractionID: "int-1",
			SessionID:     "sess-1",
			Sender:        SenderUser,
			Text:          text,
		}); err != nil {
			t.Fatalf("SaveEntry(%q) error = %v", text, err)
		}
	}

	got, err := s.Recent(ctx, "int-1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(got))
	}
	if got[0].Text != "buenos días" || got[1].Text != "¿cómo vas?" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].ID == "" {
		t.Fatalf("entry ID should be assigned on save")
	}

	other, err := s.Recent(ctx, "int-2", 10)
	if err != nil {
		t.Fatalf("Recent(other) error = %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("len(Recent other) = %d, want 0", len(other))
	}
}
