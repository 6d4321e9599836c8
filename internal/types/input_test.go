package types

import (
	"strings"
	"testing"
)

func TestParseChatSendRequest(t *testing.T) {
	t.Run("valid frame", func(t *testing.T) {
		req, err := ParseChatSendRequest([]byte(`{"sender":"1","receiver":"2","message":"hi"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Sender != "1" || req.Receiver != "2" || req.Message != "hi" {
			t.Errorf("unexpected request: %+v", req)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		if _, err := ParseChatSendRequest([]byte(`{not json`)); err == nil {
			t.Error("expected error for malformed frame")
		}
	})
}

func TestChatSendRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatSendRequest
		wantErr bool
	}{
		{
			name:    "valid request",
			req:     ChatSendRequest{Sender: "1", Receiver: "2", Message: "hello"},
			wantErr: false,
		},
		{
			name:    "missing sender",
			req:     ChatSendRequest{Receiver: "2", Message: "hello"},
			wantErr: true,
		},
		{
			name:    "missing receiver",
			req:     ChatSendRequest{Sender: "1", Message: "hello"},
			wantErr: true,
		},
		{
			name:    "sender equals receiver",
			req:     ChatSendRequest{Sender: "1", Receiver: "1", Message: "hello"},
			wantErr: true,
		},
		{
			name:    "empty message",
			req:     ChatSendRequest{Sender: "1", Receiver: "2", Message: ""},
			wantErr: true,
		},
		{
			name:    "message at maximum length",
			req:     ChatSendRequest{Sender: "1", Receiver: "2", Message: strings.Repeat("a", MaxMessageLength)},
			wantErr: false,
		},
		{
			name:    "message over maximum length",
			req:     ChatSendRequest{Sender: "1", Receiver: "2", Message: strings.Repeat("a", MaxMessageLength+1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsValidationError(err) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}
