// Package archive keeps a copy of every document revision that was synced.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("archive: snapshot not found")

// Snapshot is one stored revision.
type Snapshot struct {
	DocumentID string
	Revision   string
	Content    string
}

// Archiver stores snapshots. Key layout is "<documentId>/<revision>.md".
type Archiver interface {
	Put(ctx context.Context, snap Snapshot) (string, error)
	Get(ctx context.Context, documentID, revision string) (string, error)
}

var keyUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds the storage key for a snapshot. Path separators and other
// unsafe characters in either part are replaced with '-'.
func ObjectKey(documentID, revision string) string {
	clean := func(s string) string {
		s = keyUnsafe.ReplaceAllString(strings.TrimSpace(s), "-")
		s = strings.Trim(s, ".-")
		if s == "" {
			return "unnamed"
		}
		return s
	}
	return clean(documentID) + "/" + clean(revision) + ".md"
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioArchive stores snapshots in an S3-compatible bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and creates the bucket when it does not exist.
func NewMinio(ctx context.Context, opts Options) (*MinioArchive, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return &MinioArchive{client: client, bucket: opts.Bucket}, nil
}

func (a *MinioArchive) Put(ctx context.Context, snap Snapshot) (string, error) {
	key := ObjectKey(snap.DocumentID, snap.Revision)
	body := []byte(snap.Content)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/markdown; charset=utf-8",
		UserMetadata: map[string]string{
			"document-id": snap.DocumentID,
			"revision":    snap.Revision,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}

func (a *MinioArchive) Get(ctx context.Context, documentID, revision string) (string, error) {
	key := ObjectKey(documentID, revision)
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return string(body), nil
}

// MemoryArchive keeps snapshots in process. Used when no bucket is configured
// and in tests.
type MemoryArchive struct {
	mu      sync.Mutex
	objects map[string]string
}

func NewMemory() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string]string)}
}

func (m *MemoryArchive) Put(ctx context.Context, snap Snapshot) (string, error) {
	key := ObjectKey(snap.DocumentID, snap.Revision)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = snap.Content
	return key, nil
}

func (m *MemoryArchive) Get(ctx context.Context, documentID, revision string) (string, error) {
	key := ObjectKey(documentID, revision)
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return content, nil
}
