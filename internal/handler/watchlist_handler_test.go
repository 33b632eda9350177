package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/marketwatch/internal/middleware"
	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/monitor"
	"github.com/hitoshi/marketwatch/internal/watchlist"
)

// --- モック ---

type mockWatchlistService struct {
	listFn   func() []model.WatchedItem
	addFn    func(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error)
	removeFn func(ctx context.Context, id string) error
	updateFn func(ctx context.Context, id string, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error)
}

func (m *mockWatchlistService) List() []model.WatchedItem {
	if m.listFn != nil {
		return m.listFn()
	}
	return nil
}
func (m *mockWatchlistService) Add(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
	return m.addFn(ctx, itemName, serverID, watchPrice)
}
func (m *mockWatchlistService) Remove(ctx context.Context, id string) error {
	return m.removeFn(ctx, id)
}
func (m *mockWatchlistService) Update(ctx context.Context, id string, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
	return m.updateFn(ctx, id, itemName, serverID, watchPrice)
}

type mockMonitorProvider struct {
	statesFn      func() []monitor.StateSnapshot
	getByIDFn     func(id string) (monitor.StateSnapshot, bool)
	lockedUntilFn func() time.Time
}

func (m *mockMonitorProvider) AllStates() []monitor.StateSnapshot {
	if m.statesFn != nil {
		return m.statesFn()
	}
	return nil
}
func (m *mockMonitorProvider) GetStateByID(id string) (monitor.StateSnapshot, bool) {
	if m.getByIDFn != nil {
		return m.getByIDFn(id)
	}
	return monitor.StateSnapshot{}, false
}
func (m *mockMonitorProvider) LockedUntil() time.Time {
	if m.lockedUntilFn != nil {
		return m.lockedUntilFn()
	}
	return time.Time{}
}

func newTestRouter(t *testing.T, svc WatchlistServiceInterface, provider MonitorStateProvider) http.Handler {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Gatherer:          prometheus.NewRegistry(),
		WatchlistService:  svc,
		MonitorProvider:   provider,
		DefaultServerID:   model.ServerIDAll,
	})
}

func TestWatchlistList_ReturnsItemsInOrder(t *testing.T) {
	svc := &mockWatchlistService{
		listFn: func() []model.WatchedItem {
			return []model.WatchedItem{
				{ID: "a", ItemName: "赤い霊薬", ServerID: 1, AddedAt: time.Now()},
				{ID: "b", ItemName: "青い霊薬", ServerID: 2, AddedAt: time.Now()},
			}
		},
	}
	router := newTestRouter(t, svc, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/watchlist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Items []watchedItemResponse `json:"items"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスが解析できない: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].ID != "a" {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestWatchlistAdd_CreatesItem(t *testing.T) {
	var gotName string
	var gotServerID int
	svc := &mockWatchlistService{
		addFn: func(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
			gotName = itemName
			gotServerID = serverID
			return &model.WatchedItem{ID: "new-id", ItemName: itemName, ServerID: serverID, WatchPrice: watchPrice, AddedAt: time.Now()}, nil
		},
	}
	router := newTestRouter(t, svc, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/watchlist",
		strings.NewReader(`{"item_name": "赤い霊薬", "server_id": 3, "watch_price": 500}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if gotName != "赤い霊薬" || gotServerID != 3 {
		t.Errorf("サービスへの引数 = (%q, %d), want (赤い霊薬, 3)", gotName, gotServerID)
	}

	var resp watchedItemResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.WatchPrice == nil || *resp.WatchPrice != 500 {
		t.Errorf("watch_price = %v, want 500", resp.WatchPrice)
	}
}

func TestWatchlistAdd_DefaultsToAllServers(t *testing.T) {
	var gotServerID int
	svc := &mockWatchlistService{
		addFn: func(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
			gotServerID = serverID
			return &model.WatchedItem{ID: "x", ItemName: itemName, ServerID: serverID}, nil
		},
	}
	router := newTestRouter(t, svc, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/watchlist",
		strings.NewReader(`{"item_name": "赤い霊薬"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if gotServerID != model.ServerIDAll {
		t.Errorf("server_id未指定時は全サーバー(%d)になるべき: %d", model.ServerIDAll, gotServerID)
	}
}

func TestWatchlistAdd_MapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"空のアイテム名", watchlist.ErrItemNameEmpty, http.StatusBadRequest},
		{"負の監視価格", watchlist.ErrInvalidWatchPrice, http.StatusBadRequest},
		{"重複", watchlist.ErrDuplicateItem, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockWatchlistService{
				addFn: func(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
					return nil, tc.err
				},
			}
			router := newTestRouter(t, svc, &mockMonitorProvider{})

			req := httptest.NewRequest(http.MethodPost, "/api/watchlist",
				strings.NewReader(`{"item_name": "x"}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestWatchlistAdd_RejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t, &mockWatchlistService{}, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/watchlist", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWatchlistRemove_ReturnsNoContent(t *testing.T) {
	var gotID string
	svc := &mockWatchlistService{
		removeFn: func(ctx context.Context, id string) error {
			gotID = id
			return nil
		},
	}
	router := newTestRouter(t, svc, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodDelete, "/api/watchlist/item-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if gotID != "item-1" {
		t.Errorf("id = %q, want item-1", gotID)
	}
}

func TestWatchlistRemove_NotFound(t *testing.T) {
	svc := &mockWatchlistService{
		removeFn: func(ctx context.Context, id string) error {
			return watchlist.ErrItemNotFound
		},
	}
	router := newTestRouter(t, svc, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodDelete, "/api/watchlist/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWatchlistUpdate_ReturnsUpdatedItem(t *testing.T) {
	svc := &mockWatchlistService{
		updateFn: func(ctx context.Context, id string, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
			return &model.WatchedItem{ID: id, ItemName: itemName, ServerID: serverID, WatchPrice: watchPrice}, nil
		},
	}
	router := newTestRouter(t, svc, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodPut, "/api/watchlist/item-1",
		strings.NewReader(`{"item_name": "赤い霊薬", "server_id": 5}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp watchedItemResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ID != "item-1" || resp.ServerID != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealth_ReturnsOK(t *testing.T) {
	router := newTestRouter(t, &mockWatchlistService{}, &mockMonitorProvider{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
