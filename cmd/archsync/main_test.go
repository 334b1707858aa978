package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archsync/internal/auth"
	"archsync/internal/config"
	"archsync/internal/graphsync"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ARCHITECTURE.md")
	if err := os.WriteFile(path, []byte("## Overview\nbody\n"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestSyncSkipsWhenGraphDisabled(t *testing.T) {
	t.Setenv("ARCHSYNC_LOG_MODE", "prod")
	t.Setenv("ARCHSYNC_DOCUMENT_PATH", writeDoc(t))
	t.Setenv("ARCHSYNC_GRAPH_ENABLED", "false")
	t.Setenv("NEO4J_URI", "")

	if _, err := runCLI(t, "", "sync", "r1"); err != nil {
		t.Fatalf("expected graph-disabled sync to succeed, got %v", err)
	}
}

func TestSyncMissingCredentialsIsConfigurationError(t *testing.T) {
	t.Setenv("ARCHSYNC_LOG_MODE", "prod")
	t.Setenv("ARCHSYNC_DOCUMENT_PATH", writeDoc(t))
	t.Setenv("ARCHSYNC_GRAPH_ENABLED", "true")
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")
	t.Setenv("NEO4J_USER", "")
	t.Setenv("NEO4J_PASSWORD", "")

	_, err := runCLI(t, "", "sync")
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "NEO4J_USER") || !strings.Contains(err.Error(), "NEO4J_PASSWORD") {
		t.Fatalf("expected every missing variable in %q", err.Error())
	}
}

func TestSyncMissingDocumentPathIsConfigurationError(t *testing.T) {
	t.Setenv("ARCHSYNC_LOG_MODE", "prod")
	t.Setenv("ARCHSYNC_DOCUMENT_PATH", "")
	t.Setenv("ARCHSYNC_GRAPH_ENABLED", "true")

	if _, err := runCLI(t, "", "sync"); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHashKeyFromStdin(t *testing.T) {
	out, err := runCLI(t, "a-sufficiently-long-operator-key\n", "hash-key")
	if err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := auth.VerifyOperatorKey(hash, "a-sufficiently-long-operator-key"); err != nil {
		t.Fatalf("printed hash does not verify: %v", err)
	}

	if _, err := runCLI(t, "", "hash-key", "short"); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func TestHashKeyWithRole(t *testing.T) {
	out, err := runCLI(t, "", "hash-key", "--role", "Reviewer", "a-sufficiently-long-reviewer-key")
	if err != nil {
		t.Fatalf("hash-key --role: %v", err)
	}
	role, hash, ok := strings.Cut(strings.TrimSpace(out), "=")
	if !ok || role != "reviewer" {
		t.Fatalf("unexpected output %q", out)
	}
	if err := auth.VerifyOperatorKey(hash, "a-sufficiently-long-reviewer-key"); err != nil {
		t.Fatalf("printed hash does not verify: %v", err)
	}

	if _, err := runCLI(t, "", "hash-key", "--role", "root", "a-sufficiently-long-reviewer-key"); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown role, got %v", err)
	}
}

func TestPrintResultSummary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := printResult(&buf, graphsync.Result{
		PassID:        "p1",
		DocumentID:    "architecture",
		Revision:      "abc",
		Parsed:        3,
		Created:       1,
		Unchanged:     1,
		Failed:        1,
		Failures:      []graphsync.Failure{{Slug: "db", Title: "DB", Kind: graphsync.FailureWrite, Error: "timeout"}},
		RetainedSlugs: []string{"db"},
		StartedAt:     start,
	}, false)
	if err != nil {
		t.Fatalf("printResult: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"pass p1",
		"parsed=3 created=1 updated=0 unchanged=1 deleted=0 failed=1",
		"kept db at its previous content",
		`failed write "DB" (db): timeout`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
