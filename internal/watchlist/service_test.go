package watchlist

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/marketwatch/internal/model"
)

// --- モック ---

type mockWatchRepo struct {
	mu      sync.Mutex
	created []*model.WatchedItem
	updated []*model.WatchedItem
	deleted []string

	listOrderedFn func(ctx context.Context) ([]*model.WatchedItem, error)
	createFn      func(ctx context.Context, item *model.WatchedItem) error
}

func (m *mockWatchRepo) ListOrdered(ctx context.Context) ([]*model.WatchedItem, error) {
	if m.listOrderedFn != nil {
		return m.listOrderedFn(ctx)
	}
	return nil, nil
}
func (m *mockWatchRepo) FindByKey(ctx context.Context, key model.WatchKey) (*model.WatchedItem, error) {
	return nil, nil
}
func (m *mockWatchRepo) Create(ctx context.Context, item *model.WatchedItem) error {
	if m.createFn != nil {
		return m.createFn(ctx, item)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, item)
	return nil
}
func (m *mockWatchRepo) Update(ctx context.Context, item *model.WatchedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, item)
	return nil
}
func (m *mockWatchRepo) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *mockWatchRepo) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	repo := &mockWatchRepo{}
	svc := NewService(repo, logger)
	t.Cleanup(svc.Close)
	return svc, repo
}

// receiveEvent は購読チャネルから1件のイベントを期限付きで受信する。
func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("イベントが配信されなかった")
		return Event{}
	}
}

func intPtr(v int) *int { return &v }

func TestAdd_AppendsInOrder(t *testing.T) {
	svc, repo := newTestService(t)

	first, err := svc.Add(context.Background(), "赤い霊薬", 1, nil)
	if err != nil {
		t.Fatalf("Add() がエラーを返した: %v", err)
	}
	second, err := svc.Add(context.Background(), "青い霊薬", 1, intPtr(500))
	if err != nil {
		t.Fatalf("Add() がエラーを返した: %v", err)
	}

	items := svc.List()
	if len(items) != 2 {
		t.Fatalf("監視アイテム数 = %d, want 2", len(items))
	}
	if items[0].ID != first.ID || items[1].ID != second.ID {
		t.Error("監視リストは追加順を維持するべき")
	}
	if len(repo.created) != 2 {
		t.Errorf("永続化件数 = %d, want 2", len(repo.created))
	}
}

func TestAdd_RejectsDuplicateKey(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Add(context.Background(), "赤い霊薬", 1, nil); err != nil {
		t.Fatalf("Add() がエラーを返した: %v", err)
	}

	_, err := svc.Add(context.Background(), "赤い霊薬", 1, intPtr(100))
	if !errors.Is(err, ErrDuplicateItem) {
		t.Errorf("err = %v, want ErrDuplicateItem", err)
	}
}

func TestAdd_AllowsSameNameOnDifferentServer(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Add(context.Background(), "赤い霊薬", 1, nil); err != nil {
		t.Fatalf("Add() がエラーを返した: %v", err)
	}
	if _, err := svc.Add(context.Background(), "赤い霊薬", 2, nil); err != nil {
		t.Errorf("別サーバーの同名アイテムは追加できるべき: %v", err)
	}
}

func TestAdd_ValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Add(context.Background(), "  ", 1, nil); !errors.Is(err, ErrItemNameEmpty) {
		t.Errorf("空のアイテム名: err = %v, want ErrItemNameEmpty", err)
	}
	if _, err := svc.Add(context.Background(), "item", 1, intPtr(-1)); !errors.Is(err, ErrInvalidWatchPrice) {
		t.Errorf("負の監視価格: err = %v, want ErrInvalidWatchPrice", err)
	}
}

func TestAdd_PublishesEvent(t *testing.T) {
	svc, _ := newTestService(t)

	ch, cancel, err := svc.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe() がエラーを返した: %v", err)
	}
	defer cancel()

	item, err := svc.Add(context.Background(), "赤い霊薬", 3, nil)
	if err != nil {
		t.Fatalf("Add() がエラーを返した: %v", err)
	}

	ev := receiveEvent(t, ch)
	if ev.Type != EventAdded {
		t.Errorf("Type = %s, want added", ev.Type)
	}
	if ev.Item.ID != item.ID {
		t.Errorf("Item.ID = %s, want %s", ev.Item.ID, item.ID)
	}
}

func TestRemove_DeletesAndPublishes(t *testing.T) {
	svc, repo := newTestService(t)

	item, err := svc.Add(context.Background(), "赤い霊薬", 1, nil)
	if err != nil {
		t.Fatalf("Add() がエラーを返した: %v", err)
	}

	ch, cancel, err := svc.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe() がエラーを返した: %v", err)
	}
	defer cancel()

	if err := svc.Remove(context.Background(), item.ID); err != nil {
		t.Fatalf("Remove() がエラーを返した: %v", err)
	}

	if len(svc.List()) != 0 {
		t.Error("削除後のリストは空であるべき")
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != item.ID {
		t.Errorf("永続化層の削除が呼ばれていない: %v", repo.deleted)
	}

	ev := receiveEvent(t, ch)
	if ev.Type != EventRemoved {
		t.Errorf("Type = %s, want removed", ev.Type)
	}
}

func TestRemove_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Remove(context.Background(), "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}
}

func TestUpdate_WatchPriceOnlyKeepsPosition(t *testing.T) {
	svc, _ := newTestService(t)

	first, _ := svc.Add(context.Background(), "赤い霊薬", 1, nil)
	svc.Add(context.Background(), "青い霊薬", 1, nil)

	updated, err := svc.Update(context.Background(), first.ID, "赤い霊薬", 1, intPtr(300))
	if err != nil {
		t.Fatalf("Update() がエラーを返した: %v", err)
	}

	items := svc.List()
	if items[0].ID != first.ID {
		t.Error("監視価格のみの編集では位置を維持するべき")
	}
	if updated.WatchPrice == nil || *updated.WatchPrice != 300 {
		t.Errorf("WatchPrice = %v, want 300", updated.WatchPrice)
	}
	if !updated.AddedAt.Equal(first.AddedAt) {
		t.Error("監視価格のみの編集では追加日時を維持するべき")
	}
}

func TestUpdate_IdentityChangeMovesToEnd(t *testing.T) {
	svc, _ := newTestService(t)

	first, _ := svc.Add(context.Background(), "赤い霊薬", 1, nil)
	svc.Add(context.Background(), "青い霊薬", 1, nil)

	ch, cancel, err := svc.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe() がエラーを返した: %v", err)
	}
	defer cancel()

	updated, err := svc.Update(context.Background(), first.ID, "赤い霊薬", 5, nil)
	if err != nil {
		t.Fatalf("Update() がエラーを返した: %v", err)
	}

	items := svc.List()
	if items[len(items)-1].ID != updated.ID {
		t.Error("同一性が変わる編集では末尾へ移動するべき")
	}
	if updated.AddedAt.Equal(first.AddedAt) {
		t.Error("同一性が変わる編集では追加日時が更新されるべき")
	}

	ev := receiveEvent(t, ch)
	if ev.Type != EventEdited {
		t.Errorf("Type = %s, want edited", ev.Type)
	}
	if ev.Prev == nil || ev.Prev.ServerID != 1 {
		t.Errorf("Prevには編集前のアイテムが入るべき: %+v", ev.Prev)
	}
}

func TestUpdate_RejectsDuplicateTarget(t *testing.T) {
	svc, _ := newTestService(t)

	first, _ := svc.Add(context.Background(), "赤い霊薬", 1, nil)
	svc.Add(context.Background(), "青い霊薬", 1, nil)

	_, err := svc.Update(context.Background(), first.ID, "青い霊薬", 1, nil)
	if !errors.Is(err, ErrDuplicateItem) {
		t.Errorf("err = %v, want ErrDuplicateItem", err)
	}
}

func TestLoad_RestoresPersistedList(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	repo := &mockWatchRepo{
		listOrderedFn: func(ctx context.Context) ([]*model.WatchedItem, error) {
			return []*model.WatchedItem{
				{ID: "a", ItemName: "赤い霊薬", ServerID: 1, AddedAt: time.Now().Add(-time.Hour)},
				{ID: "b", ItemName: "青い霊薬", ServerID: 2, AddedAt: time.Now()},
			}, nil
		},
	}
	svc := NewService(repo, logger)
	defer svc.Close()

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	items := svc.List()
	if len(items) != 2 {
		t.Fatalf("監視アイテム数 = %d, want 2", len(items))
	}
	if items[0].ID != "a" || items[1].ID != "b" {
		t.Error("永続化された順序を維持するべき")
	}
}
