// Package handler はAPIエンドポイントのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketwatch/internal/middleware"
	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/watchlist"
)

// WatchlistServiceInterface は監視リストハンドラーが必要とするサービスインターフェース。
type WatchlistServiceInterface interface {
	// List は監視アイテムの一覧を追加順で返す。
	List() []model.WatchedItem
	// Add は監視アイテムを追加する。
	Add(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error)
	// Remove は指定IDの監視アイテムを削除する。
	Remove(ctx context.Context, id string) error
	// Update は指定IDの監視アイテムを編集する。
	Update(ctx context.Context, id string, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error)
}

// WatchlistHandler は監視リスト管理のHTTPハンドラー。
type WatchlistHandler struct {
	service         WatchlistServiceInterface
	logger          *slog.Logger
	defaultServerID int
}

// NewWatchlistHandler はWatchlistHandlerを生成する。
// defaultServerIDはserver_id未指定のリクエストに適用される。
func NewWatchlistHandler(service WatchlistServiceInterface, logger *slog.Logger, defaultServerID int) *WatchlistHandler {
	return &WatchlistHandler{
		service:         service,
		logger:          logger,
		defaultServerID: defaultServerID,
	}
}

// watchItemRequest は監視アイテムの追加・編集リクエストのボディ。
type watchItemRequest struct {
	ItemName   string `json:"item_name"`
	ServerID   *int   `json:"server_id"`
	WatchPrice *int   `json:"watch_price"`
}

// watchedItemResponse は監視アイテムのAPIレスポンス。
type watchedItemResponse struct {
	ID         string    `json:"id"`
	ItemName   string    `json:"item_name"`
	ServerID   int       `json:"server_id"`
	WatchPrice *int      `json:"watch_price,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

func toWatchedItemResponse(item model.WatchedItem) watchedItemResponse {
	return watchedItemResponse{
		ID:         item.ID,
		ItemName:   item.ItemName,
		ServerID:   item.ServerID,
		WatchPrice: item.WatchPrice,
		AddedAt:    item.AddedAt,
	}
}

// List は監視リスト一覧を返す。
// GET /api/watchlist
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.service.List()

	responses := make([]watchedItemResponse, len(items))
	for i, item := range items {
		responses[i] = toWatchedItemResponse(item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": responses})
}

// Add は監視アイテムの追加を処理する。
// POST /api/watchlist
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req watchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			"INVALID_REQUEST", "リクエストボディの解析に失敗しました。")
		return
	}

	serverID := h.defaultServerID
	if req.ServerID != nil {
		serverID = *req.ServerID
	}

	item, err := h.service.Add(r.Context(), req.ItemName, serverID, req.WatchPrice)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toWatchedItemResponse(*item))
}

// Update は監視アイテムの編集を処理する。
// PUT /api/watchlist/{id}
func (h *WatchlistHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req watchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			"INVALID_REQUEST", "リクエストボディの解析に失敗しました。")
		return
	}

	serverID := h.defaultServerID
	if req.ServerID != nil {
		serverID = *req.ServerID
	}

	item, err := h.service.Update(r.Context(), id, req.ItemName, serverID, req.WatchPrice)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWatchedItemResponse(*item))
}

// Remove は監視アイテムの削除を処理する。
// DELETE /api/watchlist/{id}
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Remove(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError は監視リストサービスのエラーをHTTPステータスに変換する。
func (h *WatchlistHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, watchlist.ErrItemNameEmpty):
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			"ITEM_NAME_EMPTY", "アイテム名を指定してください。")
	case errors.Is(err, watchlist.ErrInvalidWatchPrice):
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			"INVALID_WATCH_PRICE", "監視価格は0以上で指定してください。")
	case errors.Is(err, watchlist.ErrDuplicateItem):
		middleware.WriteErrorResponse(w, http.StatusConflict,
			"DUPLICATE_ITEM", "同じアイテムとサーバーの組み合わせが既に監視されています。")
	case errors.Is(err, watchlist.ErrItemNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound,
			"ITEM_NOT_FOUND", "監視アイテムが見つかりません。")
	default:
		h.logger.Error("監視リスト操作に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
