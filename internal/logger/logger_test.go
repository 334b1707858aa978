package logger

import "testing"

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	got := sanitizeKVs([]interface{}{"neo4j_password", "hunter2", "slug", "overview", "access_key", "abc", "dangling"})
	want := []interface{}{"neo4j_password", "[REDACTED]", "slug", "overview", "access_key", "[REDACTED]", "dangling"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kv[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	log := Nop().With("component", "test")
	log.Info("hello", "token", "x")
	log.Warn("warn")
}
