package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"archsync/internal/auth"
	"archsync/internal/governance"
	"archsync/internal/graph"
	"archsync/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.service.log.Warn("request forbidden",
		"request_id", requestIDFrom(r.Context()),
		"user", session.UserName,
		"role", session.Role,
		"action", action,
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Checks(ctx) {
			if err == nil {
				checks[name] = map[string]any{"status": "ok"}
				continue
			}
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			// Search degrades to the graph fallback instead of failing.
			if name != "search" {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		if s.service.metrics == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"role":          session.Role,
			"expiresAt":     session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
			Key  string `json:"key"`
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.Key, body.Role)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 2 && parts[1] == "sync":
		s.handleSync(w, r, session)
	case len(parts) == 3 && parts[1] == "sync" && parts[2] == "runs":
		s.handleSyncRuns(w, r, session)
	case len(parts) == 3 && parts[1] == "snapshots":
		s.handleSnapshot(w, r, session, parts[2])
	case len(parts) == 2 && parts[1] == "sections":
		s.handleSections(w, r, session)
	case len(parts) == 3 && parts[1] == "document" && parts[2] == "history":
		s.handleHistory(w, r, session)
	case len(parts) == 2 && parts[1] == "search":
		s.handleSearch(w, r, session)
	case len(parts) >= 2 && parts[1] == "opportunities":
		s.handleOpportunities(w, r, session, parts[2:])
	case len(parts) >= 3 && parts[1] == "proposals":
		s.handleProposal(w, r, session, parts[2], parts[3:])
	case len(parts) == 4 && parts[1] == "implementations" && parts[3] == "validate":
		s.handleValidate(w, r, session, parts[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionSync) {
		s.forbid(w, r, session, rbac.ActionSync)
		return
	}
	var body struct {
		Revision string `json:"revision"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.RunSync(r.Context(), body.Revision)
	if err != nil {
		writeMappedError(w, syncError(err, result))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSyncRuns(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionRead) {
		s.forbid(w, r, session, rbac.ActionRead)
		return
	}
	runs, err := s.service.ListSyncRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request, session Session, revision string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionRead) {
		s.forbid(w, r, session, rbac.ActionRead)
		return
	}
	content, err := s.service.GetSnapshot(r.Context(), revision)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId": s.service.DocumentID(),
		"revision":   revision,
		"content":    content,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionRead) {
		s.forbid(w, r, session, rbac.ActionRead)
		return
	}
	commits, err := s.service.DocumentHistory(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": s.service.DocumentID(), "items": commits})
}

func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionRead) {
		s.forbid(w, r, session, rbac.ActionRead)
		return
	}
	sections, err := s.service.ListSections(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(sections))
	for _, section := range sections {
		items = append(items, sectionView(section))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": s.service.DocumentID(), "items": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionRead) {
		s.forbid(w, r, session, rbac.ActionRead)
		return
	}
	query := r.URL.Query()
	response := s.service.Search(r.Context(), query.Get("q"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if response.Error != "" {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", response.Error, nil)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleOpportunities(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionPropose) {
			s.forbid(w, r, session, rbac.ActionPropose)
			return
		}
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		opportunity, err := s.service.CreateOpportunity(r.Context(), session, body.Title, body.Description)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, opportunityView(opportunity))

	case len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		opportunity, err := s.service.GetOpportunity(r.Context(), rest[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opportunityView(opportunity))

	case len(rest) == 2 && rest[1] == "evolve" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionPropose) {
			s.forbid(w, r, session, rbac.ActionPropose)
			return
		}
		var body struct {
			Title         string `json:"title"`
			TargetSection string `json:"targetSection"`
			Description   string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		proposal, err := s.service.EvolveOpportunity(r.Context(), session, rest[0], governance.ProposalInput{
			Title:         body.Title,
			TargetSection: body.TargetSection,
			Description:   body.Description,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, proposalView(proposal))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProposal(w http.ResponseWriter, r *http.Request, session Session, proposalID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		detail, err := s.service.GetProposal(r.Context(), proposalID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposalDetailView(detail))
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	action := rest[0]
	if action == "events" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		events, err := s.service.ListGovernanceEvents(r.Context(), proposalID, queryInt(r, "limit", 50))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events})
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Assessment string `json:"assessment"`
		Summary    string `json:"summary"`
		Reason     string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var (
		status  = http.StatusOK
		payload map[string]any
		err     error
	)
	switch action {
	case "vet":
		if !s.service.Can(session.Role, rbac.ActionReview) {
			s.forbid(w, r, session, rbac.ActionReview)
			return
		}
		var proposal graph.Proposal
		proposal, err = s.service.VetProposal(r.Context(), session, proposalID, body.Assessment)
		payload = proposalView(proposal)
	case "implementations":
		if !s.service.Can(session.Role, rbac.ActionPropose) {
			s.forbid(w, r, session, rbac.ActionPropose)
			return
		}
		var implementation graph.Implementation
		implementation, err = s.service.RecordImplementation(r.Context(), session, proposalID, body.Summary)
		payload = implementationView(implementation)
		status = http.StatusCreated
	case "reject":
		if !s.service.Can(session.Role, rbac.ActionReview) {
			s.forbid(w, r, session, rbac.ActionReview)
			return
		}
		var proposal graph.Proposal
		proposal, err = s.service.RejectProposal(r.Context(), session, proposalID, body.Reason)
		payload = proposalView(proposal)
	case "mark-synced":
		if !s.service.Can(session.Role, rbac.ActionSync) {
			s.forbid(w, r, session, rbac.ActionSync)
			return
		}
		var rel graph.SyncRelationship
		rel, err = s.service.MarkSynced(r.Context(), session, proposalID)
		payload = syncRelationshipView(rel)
		status = http.StatusCreated
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request, session Session, implementationID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionReview) {
		s.forbid(w, r, session, rbac.ActionReview)
		return
	}
	var body struct {
		Outcome string `json:"outcome"`
		Notes   string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	proposal, err := s.service.ValidateImplementation(r.Context(), session, implementationID, body.Outcome, body.Notes)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalView(proposal))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.service.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.As(workflowError(err), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
