package room

import (
	"fmt"
	"strings"
	"testing"
)

func TestMessageBuffer_OldestFirst(t *testing.T) {
	mb := NewMessageBuffer()

	for i := 0; i < 3; i++ {
		mb.Add("r1", BufferedMessage{From: "alice", Text: fmt.Sprintf("msg-%d", i)})
	}

	got := mb.Get("r1")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, msg := range got {
		if msg.Text != fmt.Sprintf("msg-%d", i) {
			t.Errorf("position %d: expected msg-%d, got %q", i, i, msg.Text)
		}
	}
}

func TestMessageBuffer_OverwritesOldest(t *testing.T) {
	mb := NewMessageBuffer()

	for i := 0; i < MaxBufferMessages+3; i++ {
		mb.Add("r1", BufferedMessage{Text: fmt.Sprintf("msg-%d", i)})
	}

	got := mb.Get("r1")
	if len(got) != MaxBufferMessages {
		t.Fatalf("expected %d messages, got %d", MaxBufferMessages, len(got))
	}
	if got[0].Text != "msg-3" {
		t.Errorf("expected oldest retained msg-3, got %q", got[0].Text)
	}
	if got[len(got)-1].Text != fmt.Sprintf("msg-%d", MaxBufferMessages+2) {
		t.Errorf("expected newest last, got %q", got[len(got)-1].Text)
	}
}

func TestMessageBuffer_IsolatedPerRoom(t *testing.T) {
	mb := NewMessageBuffer()

	mb.Add("r1", BufferedMessage{Text: "one"})
	mb.Add("r2", BufferedMessage{Text: "two"})

	if got := mb.Get("r1"); len(got) != 1 || got[0].Text != "one" {
		t.Errorf("unexpected r1 buffer: %v", got)
	}
	if got := mb.Get("r2"); len(got) != 1 || got[0].Text != "two" {
		t.Errorf("unexpected r2 buffer: %v", got)
	}
}

func TestMessageBuffer_RemoveAndUnknown(t *testing.T) {
	mb := NewMessageBuffer()

	if got := mb.Get("never-seen"); len(got) != 0 {
		t.Errorf("expected empty slice for unknown room, got %v", got)
	}

	mb.Add("r1", BufferedMessage{Text: "one"})
	mb.Remove("r1")
	if got := mb.Get("r1"); len(got) != 0 {
		t.Errorf("expected empty buffer after Remove, got %v", got)
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"normal", "hello there", false},
		{"empty", "", true},
		{"unicode", "héllo wörld 你好", false},
		{"max chars", strings.Repeat("a", MaxTextChars), false},
		{"over char limit", strings.Repeat("a", MaxTextChars+1), true},
		{"over byte limit", strings.Repeat("你", MaxMessageBytes/3+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}
