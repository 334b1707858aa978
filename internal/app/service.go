package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archsync/internal/archive"
	"archsync/internal/auth"
	"archsync/internal/config"
	"archsync/internal/gitrepo"
	"archsync/internal/governance"
	"archsync/internal/graph"
	"archsync/internal/graphsync"
	"archsync/internal/logger"
	"archsync/internal/metrics"
	"archsync/internal/rbac"
	"archsync/internal/search"
	"archsync/internal/store"
)

// ErrInvalidRevision means the requested revision could not be resolved in
// the configured repository.
var ErrInvalidRevision = errors.New("invalid revision")

type Session struct {
	Token     string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// Ledger is the append-only history of passes and governance actions.
type Ledger interface {
	Ping(ctx context.Context) error
	RecordSyncRun(ctx context.Context, run store.SyncRun) error
	ListSyncRuns(ctx context.Context, documentID string, limit int) ([]store.SyncRun, error)
	RecordGovernanceEvent(ctx context.Context, event governance.Event) error
	ListGovernanceEvents(ctx context.Context, entityID string, limit int) ([]store.GovernanceEvent, error)
}

// Deps are the collaborators built by the caller. Only Graph is required.
type Deps struct {
	Graph   graph.Store
	Locker  graphsync.Locker
	Meili   *search.Meili
	Archive archive.Archiver
	Ledger  Ledger
	Metrics *metrics.Collectors
	Git     *gitrepo.Reader
	Log     *logger.Logger
	Now     func() time.Time
}

type Service struct {
	cfg          config.Config
	graph        graph.Store
	synchronizer *graphsync.Synchronizer
	governance   *governance.Service
	search       *search.Service
	meili        *search.Meili
	archive      archive.Archiver
	ledger       Ledger
	metrics      *metrics.Collectors
	git          *gitrepo.Reader
	signer       *auth.Signer
	log          *logger.Logger
	now          func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	log := deps.Log.With("component", "app")

	synchronizer := graphsync.New(deps.Graph, graphsync.Options{
		DocumentID:   cfg.DocumentID,
		StoreTimeout: cfg.StoreTimeout,
		Concurrency:  cfg.UpsertConcurrency,
		Locker:       deps.Locker,
		Log:          deps.Log,
		Now:          deps.Now,
	})

	govOpts := governance.Options{Log: deps.Log, Now: deps.Now}
	if deps.Ledger != nil {
		govOpts.Recorder = deps.Ledger
	}
	if deps.Metrics != nil {
		govOpts.Metrics = deps.Metrics
	}

	return &Service{
		cfg:          cfg,
		graph:        deps.Graph,
		synchronizer: synchronizer,
		governance:   governance.NewService(deps.Graph, govOpts),
		search:       search.NewService(deps.Meili, search.NewGraphFTS(deps.Graph, synchronizer.DocumentID()), deps.Log),
		meili:        deps.Meili,
		archive:      deps.Archive,
		ledger:       deps.Ledger,
		metrics:      deps.Metrics,
		git:          deps.Git,
		signer:       auth.NewSigner(cfg.TokenSecret, synchronizer.DocumentID(), deps.Now),
		log:          log,
		now:          deps.Now,
	}
}

func (s *Service) DocumentID() string {
	return s.synchronizer.DocumentID()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ManualRevision is the revision label used when no revision is given and no
// repository is configured.
func ManualRevision(at time.Time) string {
	return "manual-" + at.UTC().Format(time.RFC3339)
}

// RunSync reads the document at revision and runs one pass. A completed pass
// is mirrored into search and archived; every attempt is written to the
// ledger. All follow-up steps are best-effort.
func (s *Service) RunSync(ctx context.Context, revision string) (graphsync.Result, error) {
	content, resolved, err := s.readDocument(revision)
	if err != nil {
		return graphsync.Result{DocumentID: s.DocumentID(), Revision: resolved}, err
	}

	result, runErr := s.synchronizer.Run(ctx, graphsync.Input{Content: content, Revision: resolved})

	var archiveKey string
	if runErr == nil {
		s.mirrorSections(ctx, result)
		archiveKey = s.archiveSnapshot(ctx, result, content)
	}
	s.recordRun(ctx, result, runErr, archiveKey)
	return result, runErr
}

func (s *Service) readDocument(revision string) (content, resolved string, err error) {
	revision = strings.TrimSpace(revision)
	path := strings.TrimSpace(s.cfg.DocumentPath)
	if path == "" {
		return "", revision, fmt.Errorf("%w: ARCHSYNC_DOCUMENT_PATH is required", config.ErrConfiguration)
	}

	if s.git != nil {
		rel, err := s.repoPath(path)
		if err != nil {
			return "", revision, err
		}
		content, commit, err := s.git.ReadFile(revision, rel)
		if errors.Is(err, gitrepo.ErrFileNotFound) {
			return "", revision, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		if err != nil {
			return "", revision, fmt.Errorf("%w: %q: %v", ErrInvalidRevision, revision, err)
		}
		return content, commit.Hash, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", revision, fmt.Errorf("%w: read document: %v", config.ErrConfiguration, err)
	}
	if revision == "" {
		revision = ManualRevision(s.now())
	}
	return string(data), revision, nil
}

// repoPath turns the configured document path into a path relative to the
// repository root. Relative paths are already repository-relative.
func (s *Service) repoPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := s.git.RelPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return rel, nil
}

// DocumentHistory lists the commits that touched the document, newest first.
func (s *Service) DocumentHistory(ctx context.Context, limit int) ([]gitrepo.Commit, error) {
	if s.git == nil {
		return nil, domainError(http.StatusServiceUnavailable, "GIT_DISABLED", "Git repository is not configured", nil)
	}
	rel, err := s.repoPath(strings.TrimSpace(s.cfg.DocumentPath))
	if err != nil {
		return nil, err
	}
	commits, err := s.git.History(rel, limit)
	if err != nil {
		return nil, fmt.Errorf("document history: %w", err)
	}
	return commits, nil
}

func (s *Service) mirrorSections(ctx context.Context, result graphsync.Result) {
	if s.meili == nil {
		return
	}
	sections, err := s.graph.ListSections(ctx)
	if err != nil {
		s.log.Warn("list sections for search mirror", "pass_id", result.PassID, "error", err)
		return
	}
	s.search.MirrorSections(result.DocumentID, sections, result.DeletedSlugs)
}

// Drain waits for background search mirroring started by RunSync. Short-lived
// callers run it before exiting.
func (s *Service) Drain(ctx context.Context) error {
	return s.search.Wait(ctx)
}

func (s *Service) archiveSnapshot(ctx context.Context, result graphsync.Result, content string) string {
	if s.archive == nil {
		return ""
	}
	key, err := s.archive.Put(context.WithoutCancel(ctx), archive.Snapshot{
		DocumentID: result.DocumentID,
		Revision:   result.Revision,
		Content:    content,
	})
	if err != nil {
		s.log.Warn("archive snapshot", "pass_id", result.PassID, "error", err)
		return ""
	}
	return key
}

func (s *Service) recordRun(ctx context.Context, result graphsync.Result, runErr error, archiveKey string) {
	run := store.NewSyncRun(result, runErr, archiveKey)
	if s.metrics != nil {
		s.metrics.ObserveSync(string(run.Status), result)
	}
	if s.ledger == nil || result.PassID == "" {
		return
	}
	if err := s.ledger.RecordSyncRun(context.WithoutCancel(ctx), run); err != nil {
		s.log.Warn("record sync run", "pass_id", result.PassID, "error", err)
	}
}

// Checks reports the health of each configured backend. A nil value means
// the backend answered.
func (s *Service) Checks(ctx context.Context) map[string]error {
	checks := map[string]error{"graph": s.graph.Ping(ctx)}
	if s.ledger != nil {
		checks["ledger"] = s.ledger.Ping(ctx)
	}
	if s.meili != nil && !s.meili.Healthy() {
		checks["search"] = errors.New("meilisearch unhealthy, using graph full-text fallback")
	} else if s.meili != nil {
		checks["search"] = nil
	}
	return checks
}

func (s *Service) ListSections(ctx context.Context) ([]graph.Section, error) {
	sections, err := s.graph.ListSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) search.Response {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.search.Search(ctx, search.Query{
		Text:       strings.TrimSpace(text),
		DocumentID: s.DocumentID(),
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Service) ListSyncRuns(ctx context.Context, limit int) ([]store.SyncRun, error) {
	if s.ledger == nil {
		return nil, domainError(http.StatusServiceUnavailable, "LEDGER_DISABLED", "Sync ledger is not configured", nil)
	}
	runs, err := s.ledger.ListSyncRuns(ctx, s.DocumentID(), limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

func (s *Service) ListGovernanceEvents(ctx context.Context, entityID string, limit int) ([]store.GovernanceEvent, error) {
	if s.ledger == nil {
		return nil, domainError(http.StatusServiceUnavailable, "LEDGER_DISABLED", "Sync ledger is not configured", nil)
	}
	events, err := s.ledger.ListGovernanceEvents(ctx, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list governance events: %w", err)
	}
	return events, nil
}

func (s *Service) GetSnapshot(ctx context.Context, revision string) (string, error) {
	if s.archive == nil {
		return "", domainError(http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Snapshot archive is not configured", nil)
	}
	content, err := s.archive.Get(ctx, s.DocumentID(), revision)
	if errors.Is(err, archive.ErrNotFound) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Snapshot not found", nil)
	}
	if err != nil {
		return "", fmt.Errorf("get snapshot: %w", err)
	}
	return content, nil
}

// Login exchanges an operator key for a signed token. The key decides the
// highest role the session may take; role may narrow it and defaults to it.
func (s *Service) Login(ctx context.Context, name, key, role string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	granted, ok := s.matchOperatorKey(key)
	if !ok {
		s.log.Warn("operator login rejected", "user", name)
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}

	resolvedRole := granted
	if requested := strings.ToLower(strings.TrimSpace(role)); requested != "" {
		parsed, known := rbac.Parse(requested)
		if !known {
			return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", map[string]any{"role": role})
		}
		if !rbac.Grants(granted, parsed) {
			s.log.Warn("operator login asked for a role above its key", "user", name, "granted", granted, "requested", parsed)
			return Session{}, domainError(http.StatusForbidden, "ROLE_NOT_GRANTED", "This key does not grant the requested role", map[string]any{"role": parsed})
		}
		resolvedRole = parsed
	}

	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, claims, err := s.signer.Issue(name, resolvedRole, ttl)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("operator login", "user", name, "role", resolvedRole)
	return sessionFromClaims(token, claims), nil
}

// matchOperatorKey returns the role bound to the first configured hash that
// key matches.
func (s *Service) matchOperatorKey(key string) (rbac.Role, bool) {
	for _, candidate := range s.cfg.OperatorKeys {
		if auth.VerifyOperatorKey(candidate.Hash, key) == nil {
			return candidate.Role, true
		}
	}
	return "", false
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	return sessionFromClaims(token, claims), nil
}

func sessionFromClaims(token string, claims auth.Claims) Session {
	return Session{
		Token:     token,
		UserName:  claims.Name,
		Role:      string(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}
}

func (s *Service) CreateOpportunity(ctx context.Context, session Session, title, description string) (graph.Opportunity, error) {
	opportunity, err := s.governance.CreateOpportunity(ctx, governance.OpportunityInput{
		Title:       title,
		Description: description,
		Actor:       session.UserName,
	})
	return opportunity, workflowError(err)
}

func (s *Service) GetOpportunity(ctx context.Context, id string) (graph.Opportunity, error) {
	opportunity, err := s.governance.GetOpportunity(ctx, id)
	return opportunity, workflowError(err)
}

func (s *Service) EvolveOpportunity(ctx context.Context, session Session, opportunityID string, in governance.ProposalInput) (graph.Proposal, error) {
	in.Actor = session.UserName
	proposal, err := s.governance.Evolve(ctx, opportunityID, in)
	return proposal, workflowError(err)
}

// ProposalDetail is a proposal together with its sync edge, when one exists.
type ProposalDetail struct {
	Proposal graph.Proposal
	Sync     *graph.SyncRelationship
}

func (s *Service) GetProposal(ctx context.Context, id string) (ProposalDetail, error) {
	proposal, err := s.governance.GetProposal(ctx, id)
	if err != nil {
		return ProposalDetail{}, workflowError(err)
	}
	detail := ProposalDetail{Proposal: proposal}
	rel, err := s.governance.GetSyncRelationship(ctx, id)
	switch {
	case err == nil:
		detail.Sync = &rel
	case errors.Is(err, graph.ErrNotFound):
	default:
		return ProposalDetail{}, fmt.Errorf("get sync relationship: %w", err)
	}
	return detail, nil
}

func (s *Service) VetProposal(ctx context.Context, session Session, proposalID, assessment string) (graph.Proposal, error) {
	proposal, err := s.governance.Vet(ctx, proposalID, governance.VettingInput{
		Assessment: assessment,
		Actor:      session.UserName,
	})
	return proposal, workflowError(err)
}

func (s *Service) RecordImplementation(ctx context.Context, session Session, proposalID, summary string) (graph.Implementation, error) {
	implementation, err := s.governance.RecordImplementation(ctx, proposalID, governance.ImplementationInput{
		Summary: summary,
		Actor:   session.UserName,
	})
	return implementation, workflowError(err)
}

func (s *Service) ValidateImplementation(ctx context.Context, session Session, implementationID, outcome, notes string) (graph.Proposal, error) {
	proposal, err := s.governance.Validate(ctx, implementationID, governance.ValidationInput{
		Outcome: graph.ValidationOutcome(strings.ToLower(strings.TrimSpace(outcome))),
		Notes:   notes,
		Actor:   session.UserName,
	})
	return proposal, workflowError(err)
}

func (s *Service) RejectProposal(ctx context.Context, session Session, proposalID, reason string) (graph.Proposal, error) {
	proposal, err := s.governance.Reject(ctx, proposalID, reason, session.UserName)
	return proposal, workflowError(err)
}

func (s *Service) MarkSynced(ctx context.Context, session Session, proposalID string) (graph.SyncRelationship, error) {
	rel, err := s.governance.MarkSynced(ctx, proposalID, session.UserName)
	return rel, workflowError(err)
}
