package cascade

import "testing"

func TestSanitizeStripsPaths(t *testing.T) {
	msg := Sanitize("failed to open /home/user/.cascade-memory/data/episodic_memory.db: permission denied")
	if containsSubstring(msg, "/home/user") {
		t.Fatalf("expected path stripped, got %q", msg)
	}
}

func TestSanitizeStripsIPs(t *testing.T) {
	msg := Sanitize("connection refused from 192.168.1.42")
	if containsSubstring(msg, "192.168.1.42") {
		t.Fatalf("expected ip stripped, got %q", msg)
	}
}

func TestSanitizeRedactsCredentialShapedValues(t *testing.T) {
	msg := Sanitize("config error: api_key=sk-test-1234567890")
	if containsSubstring(msg, "sk-test-1234567890") {
		t.Fatalf("expected credential redacted, got %q", msg)
	}
}

func TestCodeStatusMapping(t *testing.T) {
	if CodeRateLimitExceeded.Status() != "throttled" {
		t.Fatalf("expected throttled status")
	}
	if CodeValidation.Status() != "rejected" {
		t.Fatalf("expected rejected status")
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
