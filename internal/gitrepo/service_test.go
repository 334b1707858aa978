package gitrepo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, body, message string) {
	t.Helper()
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := worktree.Add(name); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Avery", Email: "avery@example.com", When: time.Now()},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func setupRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	commitFile(t, repo, dir, "docs/ARCHITECTURE.md", "## Overview\nv1\n", "First draft")
	commitFile(t, repo, dir, "docs/ARCHITECTURE.md", "## Overview\nv2\n", "Second draft")
	commitFile(t, repo, dir, "README.md", "readme\n", "Unrelated")
	return dir
}

func TestReadFileAtRevisions(t *testing.T) {
	dir := setupRepo(t)
	reader, err := Open(filepath.Join(dir, "docs"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	content, head, err := reader.ReadFile("", "docs/ARCHITECTURE.md")
	if err != nil {
		t.Fatalf("ReadFile(HEAD) error = %v", err)
	}
	if content != "## Overview\nv2\n" {
		t.Errorf("HEAD content = %q", content)
	}
	if head.Message != "Unrelated" || len(head.Hash) != 40 || head.ShortHash != head.Hash[:7] {
		t.Errorf("unexpected head commit %+v", head)
	}

	content, _, err = reader.ReadFile("HEAD~2", "docs/ARCHITECTURE.md")
	if err != nil {
		t.Fatalf("ReadFile(HEAD~2) error = %v", err)
	}
	if content != "## Overview\nv1\n" {
		t.Errorf("HEAD~2 content = %q", content)
	}

	byHash, err := reader.Resolve(head.Hash)
	if err != nil {
		t.Fatalf("Resolve(full hash) error = %v", err)
	}
	if byHash.Hash != head.Hash {
		t.Errorf("Resolve returned %s, want %s", byHash.Hash, head.Hash)
	}
}

func TestReadFileMissing(t *testing.T) {
	reader, err := Open(setupRepo(t))
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = reader.ReadFile("HEAD", "docs/MISSING.md")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if _, err := reader.Resolve("no-such-branch"); err == nil {
		t.Fatal("expected resolve error for unknown revision")
	}
}

func TestHistoryFiltersByPath(t *testing.T) {
	reader, err := Open(setupRepo(t))
	if err != nil {
		t.Fatal(err)
	}
	history, err := reader.History("docs/ARCHITECTURE.md", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Message != "Second draft" {
		t.Errorf("newest first, got %q", history[0].Message)
	}
}

func TestRelPath(t *testing.T) {
	dir := setupRepo(t)
	reader, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := reader.RelPath(filepath.Join(reader.Root(), "docs", "ARCHITECTURE.md"))
	if err != nil {
		t.Fatalf("RelPath() error = %v", err)
	}
	if rel != "docs/ARCHITECTURE.md" {
		t.Errorf("RelPath() = %q", rel)
	}
	if _, err := reader.RelPath(filepath.Join(os.TempDir(), "elsewhere.md")); err == nil {
		t.Error("expected error for a path outside the repository")
	}
}
