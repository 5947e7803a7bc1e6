package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/labelman/internal/middleware"
	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/workflow"
)

// mockWorkflowService はWorkflowServiceInterfaceのモック。
type mockWorkflowService struct {
	fetchBatchFunc             func(ctx context.Context, projectID, coderID string) (*workflow.Batch, error)
	submitLabelFunc            func(ctx context.Context, req workflow.SubmitRequest) error
	submitSkipFunc             func(ctx context.Context, req workflow.SkipRequest) error
	modifyLabelFunc            func(ctx context.Context, req workflow.ModifyRequest) error
	modifyLabelToSkipFunc      func(ctx context.Context, req workflow.ModifySkipRequest) error
	adminLabelFunc             func(ctx context.Context, req workflow.AdminLabelRequest) error
	discardFunc                func(ctx context.Context, itemID, coderID string) error
	restoreFunc                func(ctx context.Context, itemID, coderID string) error
	enterSessionFunc           func(ctx context.Context, projectID, coderID string) error
	leaveSessionFunc           func(ctx context.Context, projectID, coderID string) error
	checkAdminAvailabilityFunc func(ctx context.Context, projectID, coderID string) (bool, error)
}

func (m *mockWorkflowService) FetchBatch(ctx context.Context, projectID, coderID string) (*workflow.Batch, error) {
	return m.fetchBatchFunc(ctx, projectID, coderID)
}

func (m *mockWorkflowService) SubmitLabel(ctx context.Context, req workflow.SubmitRequest) error {
	return m.submitLabelFunc(ctx, req)
}

func (m *mockWorkflowService) SubmitSkip(ctx context.Context, req workflow.SkipRequest) error {
	return m.submitSkipFunc(ctx, req)
}

func (m *mockWorkflowService) ModifyLabel(ctx context.Context, req workflow.ModifyRequest) error {
	return m.modifyLabelFunc(ctx, req)
}

func (m *mockWorkflowService) ModifyLabelToSkip(ctx context.Context, req workflow.ModifySkipRequest) error {
	return m.modifyLabelToSkipFunc(ctx, req)
}

func (m *mockWorkflowService) AdminLabel(ctx context.Context, req workflow.AdminLabelRequest) error {
	return m.adminLabelFunc(ctx, req)
}

func (m *mockWorkflowService) Discard(ctx context.Context, itemID, coderID string) error {
	return m.discardFunc(ctx, itemID, coderID)
}

func (m *mockWorkflowService) Restore(ctx context.Context, itemID, coderID string) error {
	return m.restoreFunc(ctx, itemID, coderID)
}

func (m *mockWorkflowService) EnterSession(ctx context.Context, projectID, coderID string) error {
	return m.enterSessionFunc(ctx, projectID, coderID)
}

func (m *mockWorkflowService) LeaveSession(ctx context.Context, projectID, coderID string) error {
	return m.leaveSessionFunc(ctx, projectID, coderID)
}

func (m *mockWorkflowService) CheckAdminAvailability(ctx context.Context, projectID, coderID string) (bool, error) {
	return m.checkAdminAvailabilityFunc(ctx, projectID, coderID)
}

var _ WorkflowServiceInterface = (*mockWorkflowService)(nil)

// newWorkflowTestRouter はワークフローハンドラーを単体でマウントしたルーターを返す。
func newWorkflowTestRouter(svc WorkflowServiceInterface) http.Handler {
	h := NewWorkflowHandler(svc)
	r := chi.NewRouter()
	r.Get("/api/projects/{projectID}/deck", h.FetchDeck)
	r.Get("/api/projects/{projectID}/admin/availability", h.CheckAdminAvailability)
	r.Post("/api/projects/{projectID}/session/enter", h.EnterSession)
	r.Post("/api/projects/{projectID}/session/leave", h.LeaveSession)
	r.Post("/api/items/{itemID}/label", h.SubmitLabel)
	r.Post("/api/items/{itemID}/skip", h.SubmitSkip)
	r.Post("/api/items/{itemID}/modify-label", h.ModifyLabel)
	r.Post("/api/items/{itemID}/admin-label", h.AdminLabel)
	r.Post("/api/items/{itemID}/discard", h.Discard)
	r.Post("/api/items/{itemID}/restore", h.Restore)
	return r
}

// authedRequest はコーダーIDをコンテキストに持つリクエストを生成する。
func authedRequest(method, target, body, coderID string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.ContextWithCoderID(req.Context(), coderID))
}

// TestFetchDeck はデッキがラベル・アイテム・メタデータ付きで返ることを検証する。
func TestFetchDeck(t *testing.T) {
	svc := &mockWorkflowService{
		fetchBatchFunc: func(ctx context.Context, projectID, coderID string) (*workflow.Batch, error) {
			if projectID != "project-1" || coderID != "coder-1" {
				t.Errorf("FetchBatch(%q, %q), want (project-1, coder-1)", projectID, coderID)
			}
			return &workflow.Batch{
				Labels: []*model.Label{{ID: "label-1", Name: "positive"}},
				Items: []*model.Item{
					{ID: "item-1", ProjectID: projectID, Text: "first", ReliabilityFlag: true},
				},
				Metadata: map[string][]model.MetadataField{
					"item-1": {{ItemID: "item-1", Name: "source", Value: "forum"}},
				},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodGet, "/api/projects/project-1/deck", "", "coder-1"))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Result().StatusCode)
	}

	var resp deckResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Labels) != 1 || resp.Labels[0].Name != "positive" {
		t.Errorf("labels = %+v, want one positive label", resp.Labels)
	}
	if len(resp.Items) != 1 || !resp.Items[0].ReliabilityFlag {
		t.Errorf("items = %+v, want one reliability item", resp.Items)
	}
	if len(resp.Items[0].Metadata) != 1 || resp.Items[0].Metadata[0].Value != "forum" {
		t.Errorf("metadata = %+v, want one forum field", resp.Items[0].Metadata)
	}
}

// TestFetchDeck_Unauthenticated はコーダーIDなしで401が返ることを検証する。
func TestFetchDeck_Unauthenticated(t *testing.T) {
	svc := &mockWorkflowService{
		fetchBatchFunc: func(ctx context.Context, projectID, coderID string) (*workflow.Batch, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/project-1/deck", nil)
	newWorkflowTestRouter(svc).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}

// TestSubmitLabel はサブミットが空のJSONオブジェクトを返すことを検証する。
func TestSubmitLabel(t *testing.T) {
	var captured workflow.SubmitRequest
	svc := &mockWorkflowService{
		submitLabelFunc: func(ctx context.Context, req workflow.SubmitRequest) error {
			captured = req
			return nil
		},
	}

	body := `{"label_id":"label-1","time_to_label_ms":2500,"reason":"looks positive"}`
	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/label", body, "coder-1"))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Result().StatusCode, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != "{}" {
		t.Errorf("body = %q, want {}", w.Body.String())
	}

	if captured.ItemID != "item-1" || captured.CoderID != "coder-1" || captured.LabelID != "label-1" {
		t.Errorf("captured = %+v", captured)
	}
	if captured.TimeToLabelMs == nil || *captured.TimeToLabelMs != 2500 {
		t.Errorf("TimeToLabelMs = %v, want 2500", captured.TimeToLabelMs)
	}
}

// TestSubmitLabel_MissingLabelID はlabel_idなしで400が返ることを検証する。
func TestSubmitLabel_MissingLabelID(t *testing.T) {
	svc := &mockWorkflowService{
		submitLabelFunc: func(ctx context.Context, req workflow.SubmitRequest) error {
			t.Fatal("service should not be called")
			return nil
		},
	}

	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/label", `{}`, "coder-1"))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Result().StatusCode)
	}
}

// TestSubmitLabel_ItemNotFound はNotFoundエラーが404に変換されることを検証する。
func TestSubmitLabel_ItemNotFound(t *testing.T) {
	svc := &mockWorkflowService{
		submitLabelFunc: func(ctx context.Context, req workflow.SubmitRequest) error {
			return model.NewItemNotFoundError(req.ItemID)
		},
	}

	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/missing/label", `{"label_id":"label-1"}`, "coder-1"))

	if w.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Result().StatusCode)
	}

	var resp apiErrorResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Code != model.ErrCodeItemNotFound {
		t.Errorf("code = %q, want ITEM_NOT_FOUND", resp.Code)
	}
}

// TestSubmitSkip_PassesExplicitFlag はexplicit_flagがサービスまで届くことを検証する。
func TestSubmitSkip_PassesExplicitFlag(t *testing.T) {
	var captured workflow.SkipRequest
	svc := &mockWorkflowService{
		submitSkipFunc: func(ctx context.Context, req workflow.SkipRequest) error {
			captured = req
			return nil
		},
	}

	body := `{"label_id":"label-1","explicit_flag":true,"reason":"too graphic"}`
	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/skip", body, "coder-1"))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Result().StatusCode)
	}
	if !captured.ExplicitFlag {
		t.Error("ExplicitFlag was not passed through")
	}
	if captured.Reason != "too graphic" {
		t.Errorf("Reason = %q, want too graphic", captured.Reason)
	}
}

// TestDiscard_PermissionDenied_Returns200ErrorBody は権限エラーが
// トランスポートエラーではなく200の{error}ボディとして返ることを検証する。
func TestDiscard_PermissionDenied_Returns200ErrorBody(t *testing.T) {
	svc := &mockWorkflowService{
		discardFunc: func(ctx context.Context, itemID, coderID string) error {
			return model.NewPermissionDeniedError()
		},
	}

	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/discard", "", "coder-1"))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Result().StatusCode)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp["error"] == "" {
		t.Error("expected non-empty error message in body")
	}
}

// TestRestore_PermissionDenied_Returns200ErrorBody は復元の権限エラーも
// 同じドメインペイロードとして返ることを検証する。
func TestRestore_PermissionDenied_Returns200ErrorBody(t *testing.T) {
	svc := &mockWorkflowService{
		restoreFunc: func(ctx context.Context, itemID, coderID string) error {
			return model.NewPermissionDeniedError()
		},
	}

	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/restore", "", "coder-1"))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Result().StatusCode)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp["error"] == "" {
		t.Error("expected non-empty error message in body")
	}
}

// TestAdminLabel_MapsExplicitFlagToSensitive はexplicit_flagが
// センシティブフラグとしてサービスに渡ることを検証する。
func TestAdminLabel_MapsExplicitFlagToSensitive(t *testing.T) {
	var captured workflow.AdminLabelRequest
	svc := &mockWorkflowService{
		adminLabelFunc: func(ctx context.Context, req workflow.AdminLabelRequest) error {
			captured = req
			return nil
		},
	}

	body := `{"label_id":"label-2","explicit_flag":true}`
	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/admin-label", body, "admin-1"))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Result().StatusCode)
	}
	if captured.AdminID != "admin-1" || captured.LabelID != "label-2" || !captured.SensitiveFlag {
		t.Errorf("captured = %+v", captured)
	}
}

// TestModifyLabel_MissingLabels はラベルID不足で400が返ることを検証する。
func TestModifyLabel_MissingLabels(t *testing.T) {
	svc := &mockWorkflowService{
		modifyLabelFunc: func(ctx context.Context, req workflow.ModifyRequest) error {
			t.Fatal("service should not be called")
			return nil
		},
	}

	w := httptest.NewRecorder()
	newWorkflowTestRouter(svc).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/items/item-1/modify-label", `{"old_label_id":"label-1"}`, "coder-1"))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Result().StatusCode)
	}
}

// TestCheckAdminAvailability はavailableが0|1の整数で返ることを検証する。
func TestCheckAdminAvailability(t *testing.T) {
	tests := []struct {
		name      string
		available bool
		want      int
	}{
		{"available", true, 1},
		{"locked by another admin", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWorkflowService{
				checkAdminAvailabilityFunc: func(ctx context.Context, projectID, coderID string) (bool, error) {
					return tt.available, nil
				},
			}

			w := httptest.NewRecorder()
			newWorkflowTestRouter(svc).ServeHTTP(w,
				authedRequest(http.MethodGet, "/api/projects/project-1/admin/availability", "", "coder-1"))

			if w.Result().StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Result().StatusCode)
			}

			var resp map[string]int
			if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp["available"] != tt.want {
				t.Errorf("available = %d, want %d", resp["available"], tt.want)
			}
		})
	}
}

// TestEnterSession_LeaveSession はセッション操作が空のJSONを返すことを検証する。
func TestEnterSession_LeaveSession(t *testing.T) {
	entered := false
	left := false
	svc := &mockWorkflowService{
		enterSessionFunc: func(ctx context.Context, projectID, coderID string) error {
			entered = true
			return nil
		},
		leaveSessionFunc: func(ctx context.Context, projectID, coderID string) error {
			left = true
			return nil
		},
	}

	router := newWorkflowTestRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/projects/project-1/session/enter", "", "coder-1"))
	if w.Result().StatusCode != http.StatusOK || !entered {
		t.Errorf("enter: status = %d, entered = %v", w.Result().StatusCode, entered)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/projects/project-1/session/leave", "", "coder-1"))
	if w.Result().StatusCode != http.StatusOK || !left {
		t.Errorf("leave: status = %d, left = %v", w.Result().StatusCode, left)
	}
}
