package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct sentinel", ErrAgentNotReady, CodeAgentNotReady},
		{"wrapped sentinel", fmt.Errorf("chat: %w", ErrAgentFailure), CodeAgentFailure},
		{"domain error", NewDomainError("Registry.Create", ErrAdapterTypeUnknown, "grpc"), CodeAdapterType},
		{"deeply wrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrUnknownTool)), CodeUnknownTool},
		{"unrelated", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCodeOf(tt.err); got != tt.want {
				t.Errorf("ErrorCodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainErrorMessage(t *testing.T) {
	err := NewDomainError("MCP.CallTool", ErrUnknownTool, "weather")
	msg := err.Error()
	for _, want := range []string{"MCP.CallTool", "weather", "tool not found"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}

	if !errors.Is(err, ErrUnknownTool) {
		t.Error("DomainError should unwrap to its sentinel")
	}
}

func TestWrapOp(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
	wrapped := WrapOp("op", ErrInvalidPayload)
	if !errors.Is(wrapped, ErrInvalidPayload) {
		t.Error("WrapOp should preserve the sentinel")
	}
}

func TestErrorResponseShape(t *testing.T) {
	resp := ErrorResponse("sess-1", fmt.Errorf("process: %w", ErrAgentFailure))

	if resp.Message == "" {
		t.Fatal("error response must still carry a non-empty message")
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("session id = %q, want sess-1", resp.SessionID)
	}
	if resp.Metadata["error"] != true {
		t.Error("metadata must mark the reply as an error")
	}
	if resp.Metadata["error_code"] != string(CodeAgentFailure) {
		t.Errorf("error_code = %v, want %s", resp.Metadata["error_code"], CodeAgentFailure)
	}
	if resp.Timestamp.IsZero() {
		t.Error("timestamp must be set at construction")
	}
}
