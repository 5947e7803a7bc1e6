// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/labelman/internal/middleware"
	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/workflow"
)

// WorkflowServiceInterface はワークフローハンドラーが必要とするサービスインターフェース。
type WorkflowServiceInterface interface {
	// FetchBatch はコーダーにアイテムのバッチを配布する。
	FetchBatch(ctx context.Context, projectID, coderID string) (*workflow.Batch, error)
	// SubmitLabel はラベル付けサブミットを処理する。
	SubmitLabel(ctx context.Context, req workflow.SubmitRequest) error
	// SubmitSkip はスキップサブミットを処理する。
	SubmitSkip(ctx context.Context, req workflow.SkipRequest) error
	// ModifyLabel は過去のラベル付けを修正し、監査ログを残す。
	ModifyLabel(ctx context.Context, req workflow.ModifyRequest) error
	// ModifyLabelToSkip は過去のラベル付けをスキップに変更する。
	ModifyLabelToSkip(ctx context.Context, req workflow.ModifySkipRequest) error
	// AdminLabel は管理者によるアイテムの最終確定を行う。
	AdminLabel(ctx context.Context, req workflow.AdminLabelRequest) error
	// Discard はアイテムをリサイクルビンへ移す。管理者専用。
	Discard(ctx context.Context, itemID, coderID string) error
	// Restore はリサイクルビンのアイテムを復元する。管理者専用。
	Restore(ctx context.Context, itemID, coderID string) error
	// EnterSession はラベル付けセッションを開始する。
	EnterSession(ctx context.Context, projectID, coderID string) error
	// LeaveSession はセッションを終了し、全割り当てを解放する。
	LeaveSession(ctx context.Context, projectID, coderID string) error
	// CheckAdminAvailability は管理者画面を表示できるかを返す。
	CheckAdminAvailability(ctx context.Context, projectID, coderID string) (bool, error)
}

// WorkflowHandler はワークフロー操作のHTTPハンドラー。
type WorkflowHandler struct {
	service WorkflowServiceInterface
}

// NewWorkflowHandler はWorkflowHandlerを生成する。
func NewWorkflowHandler(service WorkflowServiceInterface) *WorkflowHandler {
	return &WorkflowHandler{service: service}
}

// --- レスポンス型 ---

// labelResponse はラベル定義のレスポンス。
type labelResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// metadataFieldResponse はアイテムに付随する表示用メタデータの1項目。
type metadataFieldResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// deckItemResponse はカードデッキ内の1アイテム。
type deckItemResponse struct {
	ID              string                  `json:"id"`
	ProjectID       string                  `json:"project_id"`
	Text            string                  `json:"text"`
	ReliabilityFlag bool                    `json:"reliability_flag"`
	Metadata        []metadataFieldResponse `json:"metadata,omitempty"`
}

// deckResponse はfetchBatchのレスポンス。
type deckResponse struct {
	Labels []labelResponse    `json:"labels"`
	Items  []deckItemResponse `json:"items"`
}

// --- リクエスト型 ---

// submitRequest はラベル付け・スキップサブミットのボディ。
type submitRequest struct {
	LabelID       string `json:"label_id"`
	TimeToLabelMs *int64 `json:"time_to_label_ms,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ExplicitFlag  bool   `json:"explicit_flag,omitempty"`
}

// modifyRequest はラベル修正のボディ。
type modifyRequest struct {
	OldLabelID   string `json:"old_label_id"`
	NewLabelID   string `json:"new_label_id"`
	Reason       string `json:"reason,omitempty"`
	ExplicitFlag bool   `json:"explicit_flag,omitempty"`
}

// adminLabelRequest は管理者ラベル付けのボディ。
type adminLabelRequest struct {
	LabelID      string `json:"label_id"`
	Reason       string `json:"reason,omitempty"`
	ExplicitFlag bool   `json:"explicit_flag,omitempty"`
}

// FetchDeck はコーダーのカードデッキを取得する。
// GET /api/projects/:projectID/deck
func (h *WorkflowHandler) FetchDeck(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	projectID := chi.URLParam(r, "projectID")

	batch, err := h.service.FetchBatch(r.Context(), projectID, coderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	labels := make([]labelResponse, len(batch.Labels))
	for i, label := range batch.Labels {
		labels[i] = labelResponse{ID: label.ID, Name: label.Name}
	}

	items := make([]deckItemResponse, len(batch.Items))
	for i, item := range batch.Items {
		items[i] = deckItemResponse{
			ID:              item.ID,
			ProjectID:       item.ProjectID,
			Text:            item.Text,
			ReliabilityFlag: item.ReliabilityFlag,
			Metadata:        toMetadataResponse(batch.Metadata[item.ID]),
		}
	}

	writeJSON(w, deckResponse{Labels: labels, Items: items})
}

// SubmitLabel はラベル付けサブミットを処理する。
// POST /api/items/:itemID/label
func (h *WorkflowHandler) SubmitLabel(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LabelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("label_idは必須です"))
		return
	}

	err := h.service.SubmitLabel(r.Context(), workflow.SubmitRequest{
		ItemID:        itemID,
		CoderID:       coderID,
		LabelID:       req.LabelID,
		TimeToLabelMs: req.TimeToLabelMs,
		Reason:        req.Reason,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// SubmitSkip はスキップサブミットを処理する。
// POST /api/items/:itemID/skip
func (h *WorkflowHandler) SubmitSkip(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LabelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("label_idは必須です"))
		return
	}

	err := h.service.SubmitSkip(r.Context(), workflow.SkipRequest{
		ItemID:        itemID,
		CoderID:       coderID,
		LabelID:       req.LabelID,
		TimeToLabelMs: req.TimeToLabelMs,
		Reason:        req.Reason,
		ExplicitFlag:  req.ExplicitFlag,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// ModifyLabel は過去のラベル付けを修正する。
// POST /api/items/:itemID/modify-label
func (h *WorkflowHandler) ModifyLabel(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	var req modifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OldLabelID == "" || req.NewLabelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("old_label_idとnew_label_idは必須です"))
		return
	}

	err := h.service.ModifyLabel(r.Context(), workflow.ModifyRequest{
		ItemID:     itemID,
		CoderID:    coderID,
		OldLabelID: req.OldLabelID,
		NewLabelID: req.NewLabelID,
		Reason:     req.Reason,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// ModifyLabelToSkip は過去のラベル付けをスキップに変更する。
// POST /api/items/:itemID/modify-to-skip
func (h *WorkflowHandler) ModifyLabelToSkip(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	var req modifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OldLabelID == "" || req.NewLabelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("old_label_idとnew_label_idは必須です"))
		return
	}

	err := h.service.ModifyLabelToSkip(r.Context(), workflow.ModifySkipRequest{
		ItemID:       itemID,
		CoderID:      coderID,
		OldLabelID:   req.OldLabelID,
		NewLabelID:   req.NewLabelID,
		Reason:       req.Reason,
		ExplicitFlag: req.ExplicitFlag,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// AdminLabel は管理者によるアイテムの最終確定を行う。
// 権限エラーはドメインペイロード（200の{error}ボディ）として返す。
// POST /api/items/:itemID/admin-label
func (h *WorkflowHandler) AdminLabel(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	var req adminLabelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LabelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("label_idは必須です"))
		return
	}

	err := h.service.AdminLabel(r.Context(), workflow.AdminLabelRequest{
		ItemID:        itemID,
		AdminID:       coderID,
		LabelID:       req.LabelID,
		Reason:        req.Reason,
		SensitiveFlag: req.ExplicitFlag,
	})
	if err != nil {
		if writeDomainPermissionError(w, err) {
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// Discard はアイテムをリサイクルビンへ移す。
// 権限エラーはドメインペイロード（200の{error}ボディ）として返す。
// POST /api/items/:itemID/discard
func (h *WorkflowHandler) Discard(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	if err := h.service.Discard(r.Context(), itemID, coderID); err != nil {
		if writeDomainPermissionError(w, err) {
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// Restore はリサイクルビンのアイテムを復元する。
// 権限エラーはドメインペイロード（200の{error}ボディ）として返す。
// POST /api/items/:itemID/restore
func (h *WorkflowHandler) Restore(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	if err := h.service.Restore(r.Context(), itemID, coderID); err != nil {
		if writeDomainPermissionError(w, err) {
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// EnterSession はラベル付けセッションを開始する。
// POST /api/projects/:projectID/session/enter
func (h *WorkflowHandler) EnterSession(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	projectID := chi.URLParam(r, "projectID")

	if err := h.service.EnterSession(r.Context(), projectID, coderID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// LeaveSession はセッションを終了する。
// POST /api/projects/:projectID/session/leave
func (h *WorkflowHandler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	projectID := chi.URLParam(r, "projectID")

	if err := h.service.LeaveSession(r.Context(), projectID, coderID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, struct{}{})
}

// CheckAdminAvailability は管理者画面を表示できるかを返す。
// GET /api/projects/:projectID/admin/availability
func (h *WorkflowHandler) CheckAdminAvailability(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	projectID := chi.URLParam(r, "projectID")

	available, err := h.service.CheckAdminAvailability(r.Context(), projectID, coderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	flag := 0
	if available {
		flag = 1
	}
	writeJSON(w, map[string]int{"available": flag})
}

// --- 共通ヘルパー ---

// requireCoderID はコンテキストからコーダーIDを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func requireCoderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	coderID, err := middleware.CoderIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return coderID, true
}

// decodeBody はリクエストボディをJSONとしてデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// toMetadataResponse はメタデータをレスポンス型に変換する。
func toMetadataResponse(fields []model.MetadataField) []metadataFieldResponse {
	if len(fields) == 0 {
		return nil
	}
	result := make([]metadataFieldResponse, len(fields))
	for i, f := range fields {
		result[i] = metadataFieldResponse{Name: f.Name, Value: f.Value}
	}
	return result
}

// writeDomainPermissionError は権限エラーをドメインペイロードとして書き込む。
// ディスカード・復元・管理者ラベル付けでは権限不足をトランスポートエラーではなく
// 200の{error}ボディで返す。権限エラーでない場合はfalseを返す。
func writeDomainPermissionError(w http.ResponseWriter, err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePermissionDenied {
		return false
	}
	writeJSON(w, map[string]string{"error": apiErr.Message})
	return true
}

// apiErrorResponse はAPIエラーレスポンスのボディ。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse はAPIErrorをHTTPレスポンスとして書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeItemNotFound,
		model.ErrCodeLabelNotFound,
		model.ErrCodeProjectNotFound,
		model.ErrCodeAssignmentNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyAssigned:
		return http.StatusConflict
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
