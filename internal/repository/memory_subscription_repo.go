package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/hubman/internal/model"
)

// MemorySubscriptionRepo はインメモリの購読リポジトリ。
// 単一プロセス構成のデフォルトストアであり、テストのダブルとしても使用する。
// mutexによりread-then-writeの一貫性を提供する。
type MemorySubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[string]model.Subscription
}

// NewMemorySubscriptionRepo はMemorySubscriptionRepoを生成する。
func NewMemorySubscriptionRepo() *MemorySubscriptionRepo {
	return &MemorySubscriptionRepo{
		subs: make(map[string]model.Subscription),
	}
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *MemorySubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	// 呼び出し側の変更が内部状態に波及しないようコピーを返す
	copied := sub
	return &copied, nil
}

// Create は購読を新規作成する。同一IDが存在する場合はエラーを返す。
func (r *MemorySubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.ID]; ok {
		return fmt.Errorf("購読は既に存在します: %s", sub.ID)
	}

	now := time.Now()
	stored := *sub
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.subs[sub.ID] = stored
	sub.CreatedAt = now
	sub.UpdatedAt = now

	return nil
}

// Save は既存の購読を上書き更新する。
func (r *MemorySubscriptionRepo) Save(ctx context.Context, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.subs[sub.ID]
	if !ok {
		return fmt.Errorf("更新対象の購読が存在しません: %s", sub.ID)
	}

	stored := *sub
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	r.subs[sub.ID] = stored

	return nil
}

// Delete は指定IDの購読を削除する。存在しないIDは何もしない。
func (r *MemorySubscriptionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, id)
	return nil
}

// ListAll は全購読を返す。
func (r *MemorySubscriptionRepo) ListAll(ctx context.Context) ([]*model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]*model.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		copied := sub
		subs = append(subs, &copied)
	}
	return subs, nil
}

// Close はストアを破棄する。
func (r *MemorySubscriptionRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = make(map[string]model.Subscription)
	return nil
}
