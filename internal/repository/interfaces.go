// Package repository は購読データ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/hubman/internal/model"
)

// SubscriptionRepository は購読レコードの永続化インターフェース。
// 同一IDのレコードは常に1件以下。遷移の書き込みは購読マネージャのみが行う。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// Create は購読を新規作成する（初回insert）。
	// 同一IDのレコードが既に存在する場合はエラーを返す。
	// 複数インスタンス構成で使用する実装はatomicなinsertセマンティクスを提供すること。
	Create(ctx context.Context, sub *model.Subscription) error

	// Save は既存の購読を上書き更新する。
	Save(ctx context.Context, sub *model.Subscription) error

	// Delete は指定IDの購読を削除する。存在しないIDの削除はエラーにしない。
	Delete(ctx context.Context, id string) error

	// ListAll は全購読を返す。
	ListAll(ctx context.Context) ([]*model.Subscription, error)

	// Close はストアのライフサイクル終了処理を行う。
	Close() error
}
