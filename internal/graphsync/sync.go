package graphsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"archsync/internal/docparse"
	"archsync/internal/graph"
	"archsync/internal/logger"
)

var (
	// ErrBackendUnavailable means the store could not be reached before the
	// pass started. No mutation happened.
	ErrBackendUnavailable = errors.New("graphsync: backend unavailable")
	// ErrPassInProgress means another pass holds the document's lock.
	ErrPassInProgress = errors.New("graphsync: sync pass already in progress")
	// ErrPassFailed wraps a phase failure after mutation began. The store may
	// hold stale-marked sections until the next completed pass.
	ErrPassFailed = errors.New("graphsync: sync pass failed")
)

const (
	DefaultDocumentID   = "architecture"
	DefaultStoreTimeout = 10 * time.Second
)

type Options struct {
	DocumentID   string
	StoreTimeout time.Duration
	// Concurrency bounds parallel section upserts. Values below 1 mean 1.
	Concurrency int
	Locker      Locker
	Log         *logger.Logger
	Now         func() time.Time
	NewPassID   func() string
}

// Input is one document body and the revision it was read at.
type Input struct {
	Content  string
	Revision string
}

// Synchronizer runs mark, upsert, sweep and index passes against a store.
type Synchronizer struct {
	store graph.SectionStore
	opts  Options
	log   *logger.Logger
}

func New(store graph.SectionStore, opts Options) *Synchronizer {
	if opts.DocumentID == "" {
		opts.DocumentID = DefaultDocumentID
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewPassID == nil {
		opts.NewPassID = uuid.NewString
	}
	return &Synchronizer{store: store, opts: opts, log: opts.Log.With("component", "graphsync")}
}

func (s *Synchronizer) DocumentID() string {
	return s.opts.DocumentID
}

// Run performs one pass. A nil error means every phase completed; per-section
// failures are reported in the Result. On ErrPassFailed the partial Result is
// still returned.
func (s *Synchronizer) Run(ctx context.Context, in Input) (Result, error) {
	result := Result{
		PassID:        s.opts.NewPassID(),
		DocumentID:    s.opts.DocumentID,
		Revision:      in.Revision,
		StartedAt:     s.opts.Now(),
		Failures:      []Failure{},
		Collisions:    []Collision{},
		DeletedSlugs:  []string{},
		RetainedSlugs: []string{},
	}
	log := s.log.With("pass_id", result.PassID, "document_id", result.DocumentID, "revision", result.Revision)

	if err := s.call(ctx, s.store.Ping); err != nil {
		log.Error("graph backend unreachable, pass aborted", "error", err)
		return result, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	release, acquired, err := s.opts.Locker.TryAcquire(ctx, LockKey(s.opts.DocumentID))
	if err != nil {
		return result, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		log.Warn("sync pass already running")
		return result, ErrPassInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.Warn("release sync lock", "error", err)
		}
	}()

	parsed := docparse.Parse(in.Content)
	result.Parsed = len(parsed)
	sections, invalid, collisions := s.prepare(parsed, in.Revision, result.StartedAt)
	result.Failures = append(result.Failures, invalid...)
	result.Collisions = collisions
	for _, c := range collisions {
		log.Warn("slug collision, last heading wins", "slug", c.Slug, "titles", c.Titles)
	}
	for _, f := range invalid {
		log.Warn("section skipped", "title", f.Title, "error", f.Error)
	}

	var marked int
	err = s.call(ctx, func(ctx context.Context) error {
		var markErr error
		marked, markErr = s.store.MarkStale(ctx, result.PassID)
		return markErr
	})
	if err != nil {
		return s.fail(result, log, "mark stale", err)
	}
	log.Debug("sections marked stale", "count", marked)

	writeFailures := s.upsertAll(ctx, log, sections, result.PassID, &result)
	result.Failures = append(result.Failures, writeFailures...)
	result.Failed = len(result.Failures)
	if err := ctx.Err(); err != nil {
		return s.fail(result, log, "upsert sections", err)
	}

	// A section whose write failed is still in the document and must not be
	// swept.
	for _, f := range writeFailures {
		result.RetainedSlugs = append(result.RetainedSlugs, f.Slug)
	}
	if len(result.RetainedSlugs) > 0 {
		log.Warn("sections kept at previous content after write failures", "slugs", result.RetainedSlugs)
	}
	var deleted []string
	err = s.call(ctx, func(ctx context.Context) error {
		var sweepErr error
		deleted, sweepErr = s.store.SweepStale(ctx, result.PassID, result.RetainedSlugs)
		return sweepErr
	})
	if err != nil {
		return s.fail(result, log, "sweep stale", err)
	}
	result.DeletedSlugs = append(result.DeletedSlugs, deleted...)
	result.Deleted = len(deleted)

	if err := s.call(ctx, s.store.EnsureFullTextIndex); err != nil {
		return s.fail(result, log, "ensure fulltext index", err)
	}

	doc := graph.ArchitectureDocument{
		ID:          s.opts.DocumentID,
		FullContent: in.Content,
		Version:     in.Revision,
		UpdatedAt:   result.StartedAt,
	}
	if err := s.call(ctx, func(ctx context.Context) error { return s.store.UpsertDocument(ctx, doc) }); err != nil {
		return s.fail(result, log, "upsert document", err)
	}

	result.FinishedAt = s.opts.Now()
	log.Info("sync pass complete",
		"created", result.Created,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"deleted", result.Deleted,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Synchronizer) fail(result Result, log *logger.Logger, phase string, err error) (Result, error) {
	result.FinishedAt = s.opts.Now()
	log.Error("sync pass failed", "phase", phase, "error", err)
	return result, fmt.Errorf("%w: %s: %v", ErrPassFailed, phase, err)
}

// call runs fn under the per-call store timeout.
func (s *Synchronizer) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return fn(callCtx)
}

// prepare turns parsed sections into graph sections. Headings whose slug is
// empty are returned as failures. When several headings share a slug only the
// last one is kept and the group is reported as a collision.
func (s *Synchronizer) prepare(parsed []docparse.Section, revision string, at time.Time) ([]graph.Section, []Failure, []Collision) {
	var failures []Failure
	bySlug := make(map[string]int)
	titles := make(map[string][]string)
	var out []graph.Section

	for _, p := range parsed {
		slug := docparse.Slug(p.Title)
		if slug == "" {
			failures = append(failures, Failure{
				Title: p.Title,
				Kind:  FailureInvalid,
				Error: "heading produces an empty slug",
			})
			continue
		}
		section := graph.Section{
			Slug:               slug,
			Title:              p.Title,
			Content:            p.Content,
			Order:              p.Order,
			Checksum:           docparse.Fingerprint(p.Content),
			SourceRevision:     revision,
			ParentSectionLabel: docparse.ParentLabel(p.Title),
			UpdatedAt:          at,
		}
		titles[slug] = append(titles[slug], p.Title)
		if idx, seen := bySlug[slug]; seen {
			out[idx] = section
			continue
		}
		bySlug[slug] = len(out)
		out = append(out, section)
	}

	collisions := make([]Collision, 0)
	for slug, group := range titles {
		if len(group) > 1 {
			collisions = append(collisions, Collision{Slug: slug, Titles: group})
		}
	}
	sort.Slice(collisions, func(i, j int) bool { return collisions[i].Slug < collisions[j].Slug })
	return out, failures, collisions
}

func (s *Synchronizer) upsertAll(ctx context.Context, log *logger.Logger, sections []graph.Section, passID string, result *Result) []Failure {
	var mu sync.Mutex
	failures := make([]Failure, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, section := range sections {
		section := section
		g.Go(func() error {
			var outcome graph.UpsertOutcome
			err := s.call(gctx, func(ctx context.Context) error {
				var upsertErr error
				outcome, upsertErr = s.store.UpsertSection(ctx, section, passID)
				return upsertErr
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("section upsert failed", "slug", section.Slug, "error", err)
				failures = append(failures, Failure{
					Slug:  section.Slug,
					Title: section.Title,
					Kind:  FailureWrite,
					Error: strings.TrimSpace(err.Error()),
				})
				return nil
			}
			switch outcome {
			case graph.UpsertCreated:
				result.Created++
			case graph.UpsertUpdated:
				result.Updated++
			default:
				result.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Slug < failures[j].Slug })
	return failures
}
