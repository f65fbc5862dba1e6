package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/hubman/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
// INSERTの主キー制約により、複数インスタンス構成でもatomicなinsertセマンティクスを提供する。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var start, end sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, topic_type, href, hub_url, secret, lease_seconds, subscribed,
		        subscription_start, subscription_end, associated_user, created_at, updated_at
		 FROM subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.TopicType, &sub.Href, &sub.HubURL, &sub.Secret, &sub.LeaseSeconds,
		&sub.Subscribed, &start, &end, &sub.AssociatedUser, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}

	if start.Valid {
		sub.SubscriptionStart = start.Time
	}
	if end.Valid {
		sub.SubscriptionEnd = end.Time
	}

	return sub, nil
}

// Create は購読を新規作成する。同一IDが存在する場合は主キー制約違反でエラーを返す。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		   (id, topic_type, href, hub_url, secret, lease_seconds, subscribed,
		    subscription_start, subscription_end, associated_user, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID, string(sub.TopicType), sub.Href, sub.HubURL, sub.Secret, sub.LeaseSeconds,
		sub.Subscribed, nullTime(sub.SubscriptionStart), nullTime(sub.SubscriptionEnd),
		sub.AssociatedUser, now, now,
	)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// Save は既存の購読を上書き更新する。
func (r *PostgresSubscriptionRepo) Save(ctx context.Context, sub *model.Subscription) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET href = $2, hub_url = $3, secret = $4, lease_seconds = $5, subscribed = $6,
		     subscription_start = $7, subscription_end = $8, associated_user = $9, updated_at = $10
		 WHERE id = $1`,
		sub.ID, sub.Href, sub.HubURL, sub.Secret, sub.LeaseSeconds, sub.Subscribed,
		nullTime(sub.SubscriptionStart), nullTime(sub.SubscriptionEnd), sub.AssociatedUser, now,
	)
	if err != nil {
		return fmt.Errorf("購読の更新に失敗しました: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("購読の更新結果の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("更新対象の購読が存在しません: %s", sub.ID)
	}

	sub.UpdatedAt = now
	return nil
}

// Delete は指定IDの購読を削除する。存在しないIDは何もしない。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return nil
}

// ListAll は全購読を作成日時の昇順で返す。
func (r *PostgresSubscriptionRepo) ListAll(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, topic_type, href, hub_url, secret, lease_seconds, subscribed,
		        subscription_start, subscription_end, associated_user, created_at, updated_at
		 FROM subscriptions ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		var start, end sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.TopicType, &sub.Href, &sub.HubURL, &sub.Secret,
			&sub.LeaseSeconds, &sub.Subscribed, &start, &end, &sub.AssociatedUser,
			&sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		if start.Valid {
			sub.SubscriptionStart = start.Time
		}
		if end.Valid {
			sub.SubscriptionEnd = end.Time
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}

	return subs, nil
}

// Close はデータベース接続を閉じる。
func (r *PostgresSubscriptionRepo) Close() error {
	return r.db.Close()
}

// nullTime はゼロ値のtime.TimeをNULLに写像する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
