package monitor

import (
	"sync"

	"github.com/hitoshi/marketwatch/internal/model"
)

// ResultStore は監視アイテムごとの最新のMonitorResultを保持するメモリストア。
// 更新のたびに結果全体が原子的に置き換わる。部分更新は存在しない。
type ResultStore struct {
	mu      sync.RWMutex
	results map[model.WatchKey]*model.MonitorResult
}

// NewResultStore はResultStoreの新しいインスタンスを生成する。
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[model.WatchKey]*model.MonitorResult),
	}
}

// Put は指定アイテムの最新結果を原子的に置き換える。
func (s *ResultStore) Put(result *model.MonitorResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.Item.Key()] = result
}

// Get は指定アイテムの最新結果を返す。結果がまだない場合はnilを返す。
func (s *ResultStore) Get(key model.WatchKey) *model.MonitorResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[key]
}

// Delete は指定アイテムの結果を取り除く。監視解除時に呼ばれる。
func (s *ResultStore) Delete(key model.WatchKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, key)
}

// Snapshot は全アイテムの最新結果のコピーを返す。
func (s *ResultStore) Snapshot() map[model.WatchKey]*model.MonitorResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[model.WatchKey]*model.MonitorResult, len(s.results))
	for key, result := range s.results {
		snapshot[key] = result
	}
	return snapshot
}
