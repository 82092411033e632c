package mcp

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestClassifyToolError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantKind  string
		wantRetry bool
	}{
		{"rate limit", errors.New("429 rate limit exceeded"), "rate_limit", true},
		{"timeout", errors.New("context deadline exceeded"), "timeout", true},
		{"auth", errors.New("401 unauthorized"), "auth_error", false},
		{"network", errors.New("connection reset by peer"), "network_error", true},
		{"server error", errors.New("502 bad gateway"), "server_error", true},
		{"tool not found", errors.New("tool \"x\" not found"), "tool_not_found", false},
		{"unknown", errors.New("something strange happened"), "unknown", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := classifyToolError(tc.err)
			if !res.IsError {
				t.Fatal("expected IsError true")
			}
			var payload struct {
				Success bool `json:"success"`
				Error   struct {
					Type      string `json:"type"`
					Retryable bool   `json:"retryable"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(res.Output), &payload); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if payload.Success {
				t.Fatal("expected success=false")
			}
			if payload.Error.Type != tc.wantKind {
				t.Fatalf("kind = %q, want %q", payload.Error.Type, tc.wantKind)
			}
			if payload.Error.Retryable != tc.wantRetry {
				t.Fatalf("retryable = %v, want %v", payload.Error.Retryable, tc.wantRetry)
			}
		})
	}
}
