package dlq_test

import (
	"testing"

	"github.com/xraph/salvage/dlq"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"Password", true},
		{"db_password", true},
		{"token", true},
		{"auth_token", true},
		{"csrf-token", true},
		{"secret", true},
		{"client_secret", true},
		{"api_key", true},
		{"X-Api-Key", true},
		{"session_key", true},
		{"session_id", false},
		{"max_tokens", false},
		{"tokenizer", false},
		{"user", false},
	}
	for _, tt := range tests {
		if got := dlq.IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSanitize(t *testing.T) {
	in := map[string]any{
		"user":     "u1",
		"password": "p",
		"items": []any{
			map[string]any{"secret": "s", "n": 1},
			"plain",
		},
	}
	out := dlq.Sanitize(in)

	if out["user"] != "u1" {
		t.Errorf("user = %v", out["user"])
	}
	if out["password"] != dlq.Redacted {
		t.Errorf("password = %v", out["password"])
	}
	items := out["items"].([]any)
	if items[0].(map[string]any)["secret"] != dlq.Redacted {
		t.Errorf("nested secret = %v", items[0])
	}
	if items[1] != "plain" {
		t.Errorf("items[1] = %v", items[1])
	}
	if in["items"].([]any)[0].(map[string]any)["secret"] != "s" {
		t.Error("input was mutated")
	}
}

func TestSanitizeNil(t *testing.T) {
	if dlq.Sanitize(nil) != nil {
		t.Fatal("Sanitize(nil) should be nil")
	}
}
