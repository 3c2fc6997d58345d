// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authgate/internal/model"
)

// AuditRepository はログイン監査レコードの永続化インターフェース。
// レコードは追記のみで、更新・削除の経路は持たない。
type AuditRepository interface {
	// Insert は監査レコードを保存し、IDとCreatedAtを採番したレコードを返す。
	// 引数のIDとCreatedAtは無視する。
	Insert(ctx context.Context, draft *model.AuditRecord) (*model.AuditRecord, error)

	// FindBySubjectOrderByTimeDesc は指定subjectの監査レコードを新しい順に返す。
	// CreatedAtが同一の場合は後から挿入されたものを先に返す。
	// 該当がない場合は空スライスを返す。
	FindBySubjectOrderByTimeDesc(ctx context.Context, subject string) ([]*model.AuditRecord, error)

	// FindAllOrderByTimeDesc は全監査レコードを新しい順に返す。
	// 並び順はFindBySubjectOrderByTimeDescと同じ規則に従う。
	FindAllOrderByTimeDesc(ctx context.Context) ([]*model.AuditRecord, error)
}

// HealthChecker はストアの疎通確認インターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AuditStore はヘルスチェックとクローズ処理を含む監査ストアの実装が満たすインターフェース。
type AuditStore interface {
	AuditRepository
	HealthChecker
	Close() error
}
