// Package watchlist は監視リスト管理のドメインロジックを提供する。
// 監視アイテムの追加・編集・削除と、変更イベントの配信を担う。
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/visvasity/topic"

	"github.com/hitoshi/marketwatch/internal/model"
	"github.com/hitoshi/marketwatch/internal/repository"
)

var (
	// ErrItemNameEmpty はアイテム名が空のときに返す。
	ErrItemNameEmpty = errors.New("アイテム名が空です")
	// ErrInvalidWatchPrice は監視価格が負のときに返す。
	ErrInvalidWatchPrice = errors.New("監視価格は0以上である必要があります")
	// ErrDuplicateItem は同じ(アイテム名, サーバーID)の組が既に存在するときに返す。
	ErrDuplicateItem = errors.New("同じアイテムとサーバーの組み合わせが既に監視されています")
	// ErrItemNotFound は指定IDの監視アイテムが存在しないときに返す。
	ErrItemNotFound = errors.New("監視アイテムが見つかりません")
)

// EventType は監視リスト変更イベントの種別。
type EventType string

const (
	// EventAdded はアイテム追加イベント。
	EventAdded EventType = "added"
	// EventRemoved はアイテム削除イベント。
	EventRemoved EventType = "removed"
	// EventEdited はアイテム編集イベント。
	EventEdited EventType = "edited"
)

// Event は監視リストの変更を購読者に伝えるイベント。
// Editedの場合、Prevに編集前のアイテムが入る。
type Event struct {
	Type EventType
	Item model.WatchedItem
	Prev *model.WatchedItem
}

// Service は監視リストのサービス層。
// メモリ上に追加順のリストを保持し、変更を永続化しつつイベントとして配信する。
type Service struct {
	repo   repository.WatchedItemRepository
	logger *slog.Logger
	events *topic.Topic[Event]

	mu    sync.Mutex
	items []*model.WatchedItem
	byKey map[model.WatchKey]*model.WatchedItem
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.WatchedItemRepository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		events: topic.New[Event](),
		byKey:  make(map[model.WatchKey]*model.WatchedItem),
	}
}

// Load は永続化済みの監視リストをメモリに読み込む。起動時に一度呼ぶ。
func (s *Service) Load(ctx context.Context) error {
	items, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return fmt.Errorf("監視リストの読み込みに失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = items
	s.byKey = make(map[model.WatchKey]*model.WatchedItem, len(items))
	for _, item := range items {
		s.byKey[item.Key()] = item
	}

	s.logger.Info("監視リストを読み込みました", slog.Int("count", len(items)))
	return nil
}

// List は監視アイテムの一覧を追加順で返す。
func (s *Service) List() []model.WatchedItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]model.WatchedItem, len(s.items))
	for i, item := range s.items {
		result[i] = *item
	}
	return result
}

// FindByID は指定IDの監視アイテムを返す。見つからない場合はnilを返す。
func (s *Service) FindByID(id string) *model.WatchedItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.findByIDLocked(id); item != nil {
		copied := *item
		return &copied
	}
	return nil
}

// Add は監視アイテムを追加する。
// (アイテム名, サーバーID)の組が重複する場合はErrDuplicateItemを返す。
func (s *Service) Add(ctx context.Context, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
	itemName = strings.TrimSpace(itemName)
	if err := validate(itemName, watchPrice); err != nil {
		return nil, err
	}

	item := &model.WatchedItem{
		ID:         uuid.NewString(),
		ItemName:   itemName,
		ServerID:   serverID,
		WatchPrice: watchPrice,
		AddedAt:    time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.byKey[item.Key()]; exists {
		s.mu.Unlock()
		return nil, ErrDuplicateItem
	}
	s.mu.Unlock()

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("監視アイテムの追加に失敗しました: %w", err)
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	s.byKey[item.Key()] = item
	s.mu.Unlock()

	s.logger.Info("監視アイテムを追加しました",
		slog.String("item_id", item.ID),
		slog.String("item_name", item.ItemName),
		slog.Int("server_id", item.ServerID),
	)
	s.events.Send(Event{Type: EventAdded, Item: *item})

	return item, nil
}

// Remove は指定IDの監視アイテムを削除する。
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	item := s.findByIDLocked(id)
	s.mu.Unlock()
	if item == nil {
		return ErrItemNotFound
	}

	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("監視アイテムの削除に失敗しました: %w", err)
	}

	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()

	s.logger.Info("監視アイテムを削除しました",
		slog.String("item_id", item.ID),
		slog.String("item_name", item.ItemName),
	)
	s.events.Send(Event{Type: EventRemoved, Item: *item})

	return nil
}

// Update は指定IDの監視アイテムを編集する。
// アイテム名またはサーバーIDが変わる編集は削除と再追加に相当し、
// 追加日時が更新されてリストの末尾に移動する。監視価格のみの編集は位置を維持する。
func (s *Service) Update(ctx context.Context, id string, itemName string, serverID int, watchPrice *int) (*model.WatchedItem, error) {
	itemName = strings.TrimSpace(itemName)
	if err := validate(itemName, watchPrice); err != nil {
		return nil, err
	}

	s.mu.Lock()
	current := s.findByIDLocked(id)
	if current == nil {
		s.mu.Unlock()
		return nil, ErrItemNotFound
	}
	prev := *current

	updated := &model.WatchedItem{
		ID:         current.ID,
		ItemName:   itemName,
		ServerID:   serverID,
		WatchPrice: watchPrice,
		AddedAt:    current.AddedAt,
	}

	identityChanged := updated.Key() != prev.Key()
	if identityChanged {
		if _, exists := s.byKey[updated.Key()]; exists {
			s.mu.Unlock()
			return nil, ErrDuplicateItem
		}
		updated.AddedAt = time.Now()
	}
	s.mu.Unlock()

	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("監視アイテムの更新に失敗しました: %w", err)
	}

	s.mu.Lock()
	if identityChanged {
		// 同一性が変わる編集は削除と再追加として扱い、末尾へ移動する
		s.removeLocked(id)
		s.items = append(s.items, updated)
		s.byKey[updated.Key()] = updated
	} else {
		for i, item := range s.items {
			if item.ID == id {
				s.items[i] = updated
				break
			}
		}
		s.byKey[updated.Key()] = updated
	}
	s.mu.Unlock()

	s.logger.Info("監視アイテムを更新しました",
		slog.String("item_id", updated.ID),
		slog.String("item_name", updated.ItemName),
		slog.Bool("identity_changed", identityChanged),
	)
	s.events.Send(Event{Type: EventEdited, Item: *updated, Prev: &prev})

	return updated, nil
}

// Subscribe は監視リスト変更イベントの購読チャネルを返す。
// 2番目の戻り値のクローズ関数で購読を解除する。
func (s *Service) Subscribe() (<-chan Event, func(), error) {
	receiver, err := topic.Subscribe(s.events, 64, false)
	if err != nil {
		return nil, nil, fmt.Errorf("イベントの購読に失敗しました: %w", err)
	}

	ch, err := topic.ReceiveCh(receiver)
	if err != nil {
		receiver.Close()
		return nil, nil, fmt.Errorf("イベントチャネルの取得に失敗しました: %w", err)
	}

	return ch, func() { receiver.Close() }, nil
}

// Close はイベント配信を終了する。
func (s *Service) Close() {
	s.events.Close()
}

// findByIDLocked はロック保持中にIDでアイテムを線形探索する。
func (s *Service) findByIDLocked(id string) *model.WatchedItem {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// removeLocked はロック保持中にIDでアイテムをリストとインデックスから取り除く。
func (s *Service) removeLocked(id string) {
	for i, item := range s.items {
		if item.ID == id {
			delete(s.byKey, item.Key())
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// validate は監視アイテムの入力値を検証する。
func validate(itemName string, watchPrice *int) error {
	if itemName == "" {
		return ErrItemNameEmpty
	}
	if watchPrice != nil && *watchPrice < 0 {
		return ErrInvalidWatchPrice
	}
	return nil
}
