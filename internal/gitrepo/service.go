// Package gitrepo reads the architecture document at a git revision.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var ErrFileNotFound = errors.New("gitrepo: file not in revision")

type Commit struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"shortHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	When      time.Time `json:"when"`
}

// Reader opens one repository. Calls are serialized; go-git repositories are
// not safe for concurrent use through a shared handle.
type Reader struct {
	root string
	mu   sync.Mutex
	repo *git.Repository
}

// Open finds the repository containing path, walking up to the enclosing
// .git directory.
func Open(path string) (*Reader, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	return &Reader{root: worktree.Filesystem.Root(), repo: repo}, nil
}

func (r *Reader) Root() string {
	return r.root
}

// RelPath converts a filesystem path into the slash-separated path git stores.
func (r *Reader) RelPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside repository %s", path, r.root)
	}
	return filepath.ToSlash(rel), nil
}

// Resolve turns a revision (branch, tag, HEAD~n, short or full hash) into a
// commit. An empty revision means HEAD.
func (r *Reader) Resolve(revision string) (Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	commitObj, err := r.commit(revision)
	if err != nil {
		return Commit{}, err
	}
	return toCommit(commitObj), nil
}

// ReadFile returns the file's content at revision together with the commit it
// was read from.
func (r *Reader) ReadFile(revision, path string) (string, Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	commitObj, err := r.commit(revision)
	if err != nil {
		return "", Commit{}, err
	}
	content, err := readFileFromCommit(commitObj, path)
	if err != nil {
		return "", Commit{}, err
	}
	return content, toCommit(commitObj), nil
}

// History lists the commits that touched path, newest first.
func (r *Reader) History(path string, limit int) ([]Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash(), FileName: &path})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	if limit <= 0 {
		limit = 50
	}
	items := make([]Commit, 0, limit)
	for len(items) < limit {
		commitObj, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate log: %w", err)
		}
		items = append(items, toCommit(commitObj))
	}
	return items, nil
}

func (r *Reader) commit(revision string) (*object.Commit, error) {
	if strings.TrimSpace(revision) == "" {
		revision = "HEAD"
	}
	hash, err := resolveHash(r.repo, revision)
	if err != nil {
		return nil, err
	}
	commitObj, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return commitObj, nil
}

func readFileFromCommit(commitObj *object.Commit, path string) (string, error) {
	file, err := commitObj.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("%w: %s at %s", ErrFileNotFound, path, commitObj.Hash.String()[:7])
	}
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", path, err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

func toCommit(commitObj *object.Commit) Commit {
	hash := commitObj.Hash.String()
	return Commit{
		Hash:      hash,
		ShortHash: hash[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		When:      commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 && plumbing.IsHash(hash) {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	return *resolved, nil
}
