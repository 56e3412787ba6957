package httpapi

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    CommandType
		wantErr bool
	}{
		{name: "start", payload: `{"type":"start"}`, want: CommandStart},
		{name: "stop", payload: `{"type":"stop"}`, want: CommandStop},
		{name: "mute", payload: `{"type":"mute"}`, want: CommandMute},
		{name: "unmute", payload: `{"type":"unmute"}`, want: CommandUnmute},
		{name: "send text", payload: `{"type":"send_text","text":"hola"}`, want: CommandSendText},
		{name: "send text without text", payload: `{"type":"send_text"}`, wantErr: true},
		{name: "send text blank", payload: `{"type":"send_text","text":"   "}`, wantErr: true},
		{name: "missing type", payload: `{"text":"x"}`, wantErr: true},
		{name: "unknown type", payload: `{"type":"reboot"}`, wantErr: true},
		{name: "malformed json", payload: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCommand(%q) error = nil, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) error = %v", tt.payload, err)
			}
			if cmd.Type != tt.want {
				t.Fatalf("command type = %q, want %q", cmd.Type, tt.want)
			}
		})
	}
}
