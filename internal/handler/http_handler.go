package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

// Caller headers set by the gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderUserType = "X-User-Type"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	versions  *service.VersionStore
	templates *service.TemplateService
	orch      *service.Orchestrator
	gate      *service.ChecklistGate
	engine    *service.LevelEngine
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	versions *service.VersionStore,
	templates *service.TemplateService,
	orch *service.Orchestrator,
	gate *service.ChecklistGate,
	engine *service.LevelEngine,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		versions:  versions,
		templates: templates,
		orch:      orch,
		gate:      gate,
		engine:    engine,
		log:       log,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/artifacts", h.CreateArtifact)
	mux.HandleFunc("/api/v1/artifacts/get", h.GetArtifact)
	mux.HandleFunc("/api/v1/artifacts/archive", h.ArchiveArtifact)

	mux.HandleFunc("/api/v1/versions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListVersions(w, r)
		case http.MethodPost:
			h.CreateVersion(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/versions/get", h.GetVersion)
	mux.HandleFunc("/api/v1/versions/diff", h.DiffVersions)

	mux.HandleFunc("/api/v1/workflows", h.CreateWorkflow)
	mux.HandleFunc("/api/v1/workflows/get", h.GetWorkflow)
	mux.HandleFunc("/api/v1/workflows/current", h.CurrentWorkflow)
	mux.HandleFunc("/api/v1/workflows/history", h.History)
	mux.HandleFunc("/api/v1/workflows/submit", h.SubmitForReview)
	mux.HandleFunc("/api/v1/workflows/decide", h.Decide)
	mux.HandleFunc("/api/v1/workflows/request-revision", h.RequestRevision)
	mux.HandleFunc("/api/v1/workflows/reject", h.Reject)
	mux.HandleFunc("/api/v1/workflows/clone", h.Clone)
	mux.HandleFunc("/api/v1/workflows/approve-and-release", h.ApproveAndRelease)
	mux.HandleFunc("/api/v1/workflows/skip-level", h.SkipLevel)
	mux.HandleFunc("/api/v1/workflows/checklist", h.UpdateChecklistItem)
	mux.HandleFunc("/api/v1/workflows/can-advance", h.CanAdvance)
	mux.HandleFunc("/api/v1/levels/checklist", h.ChecklistStatus)

	mux.HandleFunc("/api/v1/revisions", h.RevisionRounds)

	mux.HandleFunc("/api/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListComments(w, r)
		case http.MethodPost:
			h.AddComment(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/comments/resolve", h.ResolveComment)

	mux.HandleFunc("/api/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListTemplates(w, r)
		case http.MethodPost:
			h.CreateTemplate(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// callerFrom reads the caller identity headers.
func callerFrom(r *http.Request) service.Caller {
	return service.Caller{
		ID:   r.Header.Get(HeaderUserID),
		Role: r.Header.Get(HeaderUserRole),
		Type: r.Header.Get(HeaderUserType),
	}
}

type errorResponse struct {
	Code      errors.Code `json:"code"`
	Message   string      `json:"message"`
	Field     string      `json:"field,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	resp := errorResponse{
		Code:      code,
		Message:   errors.UserMessage(err),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, code.HTTPStatus(), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode enforces the method and decodes a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// query enforces GET and returns the named required query parameter.
func query(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	v := r.URL.Query().Get(name)
	if v == "" {
		http.Error(w, name+" is required", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

// ── Artifacts and versions ────────────────────────────────────────────────────

type createArtifactRequest struct {
	Kind      repository.ArtifactKind `json:"kind"`
	ProjectID string                  `json:"project_id"`
	Title     string                  `json:"title"`
	Currency  string                  `json:"currency"`
	Content   repository.Content      `json:"content"`
	ChangeLog string                  `json:"change_log"`
}

// CreateArtifact handles create artifact HTTP requests
func (h *HTTPHandler) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req createArtifactRequest
	if !decode(w, r, &req) {
		return
	}

	artifact, version, err := h.versions.CreateArtifact(r.Context(), callerFrom(r), service.CreateArtifactInput{
		Kind:      req.Kind,
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Currency:  req.Currency,
		Content:   req.Content,
		ChangeLog: req.ChangeLog,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"artifact": artifact,
		"version":  version,
	})
}

// GetArtifact handles get artifact HTTP requests
func (h *HTTPHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := query(w, r, "id")
	if !ok {
		return
	}
	artifact, err := h.versions.GetArtifact(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// ArchiveArtifact handles archive artifact HTTP requests
func (h *HTTPHandler) ArchiveArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	artifact, err := h.versions.ArchiveArtifact(r.Context(), callerFrom(r), req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// CreateVersion handles create version HTTP requests
func (h *HTTPHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArtifactID string             `json:"artifact_id"`
		Content    repository.Content `json:"content"`
		ChangeLog  string             `json:"change_log"`
	}
	if !decode(w, r, &req) {
		return
	}
	version, err := h.versions.CreateVersion(r.Context(), callerFrom(r), req.ArtifactID, req.Content, req.ChangeLog)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

// ListVersions handles list versions HTTP requests
func (h *HTTPHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	artifactID, ok := query(w, r, "artifact_id")
	if !ok {
		return
	}
	versions, err := h.versions.ListVersions(r.Context(), artifactID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"total":    len(versions),
	})
}

// GetVersion handles get version HTTP requests
func (h *HTTPHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := query(w, r, "id")
	if !ok {
		return
	}
	version, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// DiffVersions handles version diff HTTP requests
func (h *HTTPHandler) DiffVersions(w http.ResponseWriter, r *http.Request) {
	from, ok := query(w, r, "from")
	if !ok {
		return
	}
	to, ok := query(w, r, "to")
	if !ok {
		return
	}
	diff, err := h.versions.Diff(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// ── Workflows ─────────────────────────────────────────────────────────────────

type workflowRequest struct {
	ID string `json:"id"`
}

// CreateWorkflow handles create workflow HTTP requests
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArtifactID string                             `json:"artifact_id"`
		Type       repository.WorkflowType            `json:"type"`
		Levels     []repository.ApprovalTemplateLevel `json:"levels"`
	}
	if !decode(w, r, &req) {
		return
	}
	view, err := h.orch.CreateWorkflow(r.Context(), callerFrom(r), service.CreateWorkflowInput{
		ArtifactID: req.ArtifactID,
		Type:       req.Type,
		Levels:     req.Levels,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetWorkflow handles get workflow HTTP requests
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := query(w, r, "id")
	if !ok {
		return
	}
	view, err := h.orch.GetWorkflow(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CurrentWorkflow handles current workflow HTTP requests
func (h *HTTPHandler) CurrentWorkflow(w http.ResponseWriter, r *http.Request) {
	artifactID, ok := query(w, r, "artifact_id")
	if !ok {
		return
	}
	view, err := h.orch.CurrentWorkflow(r.Context(), artifactID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// History handles workflow audit trail HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := query(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.orch.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// SubmitForReview handles submit for review HTTP requests
func (h *HTTPHandler) SubmitForReview(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.orch.SubmitForReview(r.Context(), callerFrom(r), req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Decide handles approver decision HTTP requests
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string              `json:"workflow_id"`
		LevelID    string              `json:"level_id"`
		ApproverID string              `json:"approver_id"`
		Decision   repository.Decision `json:"decision"`
		Note       string              `json:"note"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.orch.Decide(r.Context(), callerFrom(r), service.DecisionInput{
		WorkflowID: req.WorkflowID,
		LevelID:    req.LevelID,
		ApproverID: req.ApproverID,
		Decision:   req.Decision,
		Note:       req.Note,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RequestRevision handles revision request HTTP requests
func (h *HTTPHandler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	}
	if !decode(w, r, &req) {
		return
	}
	round, err := h.orch.RequestRevision(r.Context(), callerFrom(r), req.ID, req.Summary)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

// Reject handles owner rejection HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	view, err := h.orch.Reject(r.Context(), callerFrom(r), req.ID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Clone handles clone for next version HTTP requests
func (h *HTTPHandler) Clone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID      string             `json:"workflow_id"`
		Content         repository.Content `json:"content"`
		ChangeLog       string             `json:"change_log"`
		AllowMultiLevel bool               `json:"allow_multi_level"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.orch.CloneForNextVersion(r.Context(), callerFrom(r), service.CloneInput{
		WorkflowID:      req.WorkflowID,
		Content:         req.Content,
		ChangeLog:       req.ChangeLog,
		AllowMultiLevel: req.AllowMultiLevel,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ApproveAndRelease handles approve and release HTTP requests
func (h *HTTPHandler) ApproveAndRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Release bool   `json:"release"`
	}
	if !decode(w, r, &req) {
		return
	}
	view, err := h.orch.ApproveAndRelease(r.Context(), callerFrom(r), req.ID, req.Release)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SkipLevel handles skip level HTTP requests
func (h *HTTPHandler) SkipLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		LevelID string `json:"level_id"`
		Reason  string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	view, err := h.orch.SkipLevel(r.Context(), callerFrom(r), req.ID, req.LevelID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateChecklistItem handles checklist item HTTP requests
func (h *HTTPHandler) UpdateChecklistItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		ItemID    string `json:"item_id"`
		Satisfied bool   `json:"satisfied"`
	}
	if !decode(w, r, &req) {
		return
	}
	view, err := h.orch.UpdateChecklistItem(r.Context(), callerFrom(r), req.ID, req.ItemID, req.Satisfied)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ChecklistStatus reports whether a level's required checklist items are all satisfied
func (h *HTTPHandler) ChecklistStatus(w http.ResponseWriter, r *http.Request) {
	levelID, ok := query(w, r, "level_id")
	if !ok {
		return
	}
	satisfied, err := h.gate.IsSatisfied(r.Context(), levelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"level_id": levelID, "satisfied": satisfied})
}

// CanAdvance reports whether the workflow's current level is ready to advance
func (h *HTTPHandler) CanAdvance(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := query(w, r, "id")
	if !ok {
		return
	}
	can, err := h.engine.CanAdvance(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": workflowID, "can_advance": can})
}

// RevisionRounds handles revision round listing HTTP requests
func (h *HTTPHandler) RevisionRounds(w http.ResponseWriter, r *http.Request) {
	artifactID, ok := query(w, r, "artifact_id")
	if !ok {
		return
	}
	rounds, err := h.orch.RevisionRounds(r.Context(), artifactID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

// ── Comments ──────────────────────────────────────────────────────────────────

// AddComment handles add comment HTTP requests
func (h *HTTPHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID  string  `json:"version_id"`
		LevelID    *string `json:"level_id"`
		ParentID   *string `json:"parent_id"`
		AuthorName string  `json:"author_name"`
		Body       string  `json:"body"`
	}
	if !decode(w, r, &req) {
		return
	}
	c, err := h.orch.AddComment(r.Context(), callerFrom(r), service.CommentInput{
		VersionID:  req.VersionID,
		LevelID:    req.LevelID,
		ParentID:   req.ParentID,
		AuthorName: req.AuthorName,
		Body:       req.Body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListComments handles list comments HTTP requests
func (h *HTTPHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	versionID, ok := query(w, r, "version_id")
	if !ok {
		return
	}
	comments, err := h.orch.ListComments(r.Context(), versionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// ResolveComment handles resolve comment HTTP requests
func (h *HTTPHandler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	c, err := h.orch.ResolveComment(r.Context(), callerFrom(r), req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ── Templates ─────────────────────────────────────────────────────────────────

// CreateTemplate handles create template HTTP requests
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req repository.ApprovalTemplate
	if !decode(w, r, &req) {
		return
	}
	tpl, err := h.templates.CreateTemplate(r.Context(), callerFrom(r), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// ListTemplates handles list templates HTTP requests
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	kind, ok := query(w, r, "kind")
	if !ok {
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	templates, err := h.templates.ListTemplates(r.Context(), repository.ArtifactKind(kind), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}
