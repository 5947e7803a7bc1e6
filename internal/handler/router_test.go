package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/labelman/internal/middleware"
	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/report"
	"github.com/hitoshi/labelman/internal/workflow"
)

// newTestRouterDeps はテスト用のRouterDepsを返す。
func newTestRouterDeps(workflowSvc WorkflowServiceInterface, reportSvc ReportServiceInterface) (*RouterDeps, func()) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	deps := &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		WorkflowService:   workflowSvc,
		ReportService:     reportSvc,
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	return deps, rl.Stop
}

// TestRouter_RequiresIdentityHeader はAPIルートがコーダーIDヘッダーなしで
// 401を返すことを検証する。
func TestRouter_RequiresIdentityHeader(t *testing.T) {
	deps, stop := newTestRouterDeps(&mockWorkflowService{}, &mockReportService{})
	defer stop()
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/project-1/deck", nil)
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}

// TestRouter_FullChain_FetchDeck はヘッダー付きリクエストが全ミドルウェアを
// 通過してハンドラーまで届くことを検証する。
func TestRouter_FullChain_FetchDeck(t *testing.T) {
	workflowSvc := &mockWorkflowService{
		fetchBatchFunc: func(ctx context.Context, projectID, coderID string) (*workflow.Batch, error) {
			if coderID != "coder-1" {
				t.Errorf("coderID = %q, want coder-1", coderID)
			}
			return &workflow.Batch{
				Labels: []*model.Label{{ID: "label-1", Name: "positive"}},
				Items:  []*model.Item{},
			}, nil
		},
	}
	deps, stop := newTestRouterDeps(workflowSvc, &mockReportService{})
	defer stop()
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/project-1/deck", nil)
	req.Header.Set("X-Coder-ID", "coder-1")
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Result().StatusCode, w.Body.String())
	}

	// セキュリティヘッダーとCORSヘッダーが付くこと
	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	var resp deckResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Labels) != 1 {
		t.Errorf("len(labels) = %d, want 1", len(resp.Labels))
	}
}

// TestRouter_Healthz_NoAuth はヘルスチェックが認証なしで通ることを検証する。
func TestRouter_Healthz_NoAuth(t *testing.T) {
	deps, stop := newTestRouterDeps(&mockWorkflowService{}, &mockReportService{})
	defer stop()
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

// TestRouter_SubmitRoute はサブミットルートがマウントされていることを検証する。
func TestRouter_SubmitRoute(t *testing.T) {
	called := false
	workflowSvc := &mockWorkflowService{
		submitLabelFunc: func(ctx context.Context, req workflow.SubmitRequest) error {
			called = true
			return nil
		},
	}
	deps, stop := newTestRouterDeps(workflowSvc, &mockReportService{})
	defer stop()
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/items/item-1/label", `{"label_id":"label-1"}`, "coder-1")
	req.Header.Set("X-Coder-ID", "coder-1")
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Result().StatusCode, w.Body.String())
	}
	if !called {
		t.Error("submit handler was not reached")
	}
}

// TestRouter_ReportRoutes はレポートルートがマウントされていることを検証する。
func TestRouter_ReportRoutes(t *testing.T) {
	reportSvc := &mockReportService{
		adminCountsFunc: func(ctx context.Context, projectID string) (map[model.QueueReason]int, error) {
			return map[model.QueueReason]int{model.ReasonSkipped: 2}, nil
		},
		recycleTableFunc: func(ctx context.Context, projectID string) ([]report.RecycleRow, error) {
			return nil, nil
		},
	}
	deps, stop := newTestRouterDeps(&mockWorkflowService{}, reportSvc)
	defer stop()
	router := NewRouter(deps)

	for _, path := range []string{
		"/api/projects/project-1/admin/counts",
		"/api/projects/project-1/recycle",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Coder-ID", "coder-1")
		router.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Result().StatusCode)
		}
	}
}

// TestRouter_RecoversFromPanic はハンドラーのpanicが500に変換されることを検証する。
func TestRouter_RecoversFromPanic(t *testing.T) {
	workflowSvc := &mockWorkflowService{
		fetchBatchFunc: func(ctx context.Context, projectID, coderID string) (*workflow.Batch, error) {
			panic("boom")
		},
	}
	deps, stop := newTestRouterDeps(workflowSvc, &mockReportService{})
	defer stop()
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/project-1/deck", nil)
	req.Header.Set("X-Coder-ID", "coder-1")
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Result().StatusCode)
	}
}
