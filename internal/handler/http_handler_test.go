package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := repository.NewMemoryStore()
	log := logger.NewNop()
	versions := service.NewVersionStore(store, log)
	templates := service.NewTemplateService(store, log)
	engine := service.NewLevelEngine(store, log)
	orch := service.NewOrchestrator(
		store,
		engine,
		service.NewRevisionTracker(store, log),
		templates,
		nil,
		log,
	)

	mux := http.NewServeMux()
	NewHTTPHandler(versions, templates, orch, service.NewChecklistGate(store, log), engine, log).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type identity struct {
	id, role, typ string
}

var (
	staff    = identity{id: "emp-1", typ: service.CallerEmployee}
	customer = identity{id: "client-1", typ: service.CallerClient}
)

func call(t *testing.T, srv *httptest.Server, who identity, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(HeaderUserID, who.id)
	req.Header.Set(HeaderUserRole, who.role)
	req.Header.Set(HeaderUserType, who.typ)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPWorkflowLifecycle(t *testing.T) {
	srv := newTestServer(t)

	var created struct {
		Artifact repository.Artifact `json:"artifact"`
		Version  repository.Version  `json:"version"`
	}
	status := call(t, srv, staff, http.MethodPost, "/api/v1/artifacts", map[string]any{
		"kind":       "quote",
		"project_id": "proj-1",
		"title":      "Website rebuild",
		"currency":   "EUR",
		"content": map[string]any{
			"kind":  "quote",
			"quote": map[string]any{"phases": []map[string]any{{"name": "Build", "hours": 10, "rate": 100, "selected": true}}},
		},
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if created.Version.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", created.Version.VersionNumber)
	}

	var view service.WorkflowView
	status = call(t, srv, staff, http.MethodPost, "/api/v1/workflows", map[string]any{
		"artifact_id": created.Artifact.ID,
		"levels": []map[string]any{{
			"name":     "Client sign-off",
			"required": true,
			"approvers": []map[string]any{
				{"type": "client", "ref": customer.id, "required": true},
			},
		}},
	}, &view)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if view.Workflow.Status != repository.WorkflowDraft {
		t.Fatalf("expected draft, got %s", view.Workflow.Status)
	}

	status = call(t, srv, staff, http.MethodPost, "/api/v1/workflows/submit", map[string]any{"id": view.Workflow.ID}, &view)
	if status != http.StatusOK || view.Workflow.Status != repository.WorkflowInReview {
		t.Fatalf("expected 200 in_review, got %d %s", status, view.Workflow.Status)
	}

	var gate struct {
		Satisfied bool `json:"satisfied"`
	}
	status = call(t, srv, staff, http.MethodGet, "/api/v1/levels/checklist?level_id="+view.Levels[0].Level.ID, nil, &gate)
	if status != http.StatusOK || !gate.Satisfied {
		t.Fatalf("expected a level without checklist to be satisfied, got %d %v", status, gate.Satisfied)
	}

	var advance struct {
		CanAdvance bool `json:"can_advance"`
	}
	status = call(t, srv, staff, http.MethodGet, "/api/v1/workflows/can-advance?id="+view.Workflow.ID, nil, &advance)
	if status != http.StatusOK || advance.CanAdvance {
		t.Fatalf("expected a pending level not to advance, got %d %v", status, advance.CanAdvance)
	}

	approver := view.Levels[0].Approvers[0]
	decision := map[string]any{
		"workflow_id": view.Workflow.ID,
		"level_id":    approver.LevelID,
		"approver_id": approver.ID,
		"decision":    "approved",
	}

	var errResp errorResponse
	status = call(t, srv, staff, http.MethodPost, "/api/v1/workflows/decide", decision, &errResp)
	if status != http.StatusForbidden || errResp.Code != errors.ErrCodeForbidden {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", status, errResp.Code)
	}

	var res service.DecisionResult
	status = call(t, srv, customer, http.MethodPost, "/api/v1/workflows/decide", decision, &res)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if res.Workflow.Workflow.Status != repository.WorkflowApproved {
		t.Fatalf("expected approved, got %s", res.Workflow.Workflow.Status)
	}

	status = call(t, srv, customer, http.MethodPost, "/api/v1/workflows/decide", decision, &errResp)
	if status != http.StatusConflict || errResp.Code != errors.ErrCodeInvalidState {
		t.Fatalf("expected 409 INVALID_STATE, got %d %s", status, errResp.Code)
	}

	var history struct {
		Entries []repository.AuditEntry `json:"entries"`
	}
	status = call(t, srv, staff, http.MethodGet, "/api/v1/workflows/history?id="+view.Workflow.ID, nil, &history)
	if status != http.StatusOK || len(history.Entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d (%d)", len(history.Entries), status)
	}
}

func TestHTTPErrors(t *testing.T) {
	srv := newTestServer(t)

	var errResp errorResponse
	status := call(t, srv, staff, http.MethodGet, "/api/v1/workflows/get?id=missing", nil, &errResp)
	if status != http.StatusNotFound || errResp.Code != errors.ErrCodeNotFound {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s", status, errResp.Code)
	}

	status = call(t, srv, staff, http.MethodPost, "/api/v1/artifacts", map[string]any{"kind": "poster"}, &errResp)
	if status != http.StatusBadRequest || errResp.Code != errors.ErrCodeValidation || errResp.Field != "kind" {
		t.Fatalf("expected 400 VALIDATION on kind, got %d %s %q", status, errResp.Code, errResp.Field)
	}

	if status := call(t, srv, staff, http.MethodGet, "/api/v1/workflows/submit", nil, nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", status)
	}
	if status := call(t, srv, staff, http.MethodGet, "/api/v1/workflows/get", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", status)
	}
}
