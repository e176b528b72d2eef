package tools

import (
	"context"
	"testing"
)

func TestConversationIDFromContext(t *testing.T) {
	if got := ConversationIDFromContext(context.Background()); got != "default" {
		t.Errorf("empty context = %q, want default", got)
	}
	ctx := WithConversationID(context.Background(), "living-room")
	if got := ConversationIDFromContext(ctx); got != "living-room" {
		t.Errorf("got %q, want living-room", got)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context = %q, want empty", got)
	}
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("got %q, want req-1", got)
	}
}
