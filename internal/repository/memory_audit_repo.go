package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
)

// MemoryAuditRepo はプロセス内メモリに監査レコードを保持するリポジトリ。
// 開発環境とテスト用。プロセス終了で内容は失われる。
type MemoryAuditRepo struct {
	mu      sync.RWMutex
	records []model.AuditRecord // 挿入順
	clock   *monotonicClock
}

// NewMemoryAuditRepo はMemoryAuditRepoを生成する。nowがnilの場合はtime.Nowを使う。
func NewMemoryAuditRepo(now Clock) *MemoryAuditRepo {
	return &MemoryAuditRepo{clock: newMonotonicClock(now)}
}

// Insert は監査レコードを保存する。
func (r *MemoryAuditRepo) Insert(ctx context.Context, draft *model.AuditRecord) (*model.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := model.AuditRecord{
		ID:                uuid.New().String(),
		Subject:           draft.Subject,
		CreatedAt:         r.clock.Next(),
		AccessCredential:  draft.AccessCredential,
		RefreshCredential: draft.RefreshCredential,
	}
	r.records = append(r.records, rec)

	out := rec
	return &out, nil
}

// FindBySubjectOrderByTimeDesc は指定subjectの監査レコードを新しい順に返す。
func (r *MemoryAuditRepo) FindBySubjectOrderByTimeDesc(ctx context.Context, subject string) ([]*model.AuditRecord, error) {
	return r.find(ctx, func(rec *model.AuditRecord) bool { return rec.Subject == subject })
}

// FindAllOrderByTimeDesc は全監査レコードを新しい順に返す。
func (r *MemoryAuditRepo) FindAllOrderByTimeDesc(ctx context.Context) ([]*model.AuditRecord, error) {
	return r.find(ctx, func(*model.AuditRecord) bool { return true })
}

// find は条件に一致するレコードのコピーを新しい順で返す。
func (r *MemoryAuditRepo) find(ctx context.Context, match func(*model.AuditRecord) bool) ([]*model.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.AuditRecord, 0)
	// 挿入順の逆から走査することで同一時刻は後勝ちになる
	for i := len(r.records) - 1; i >= 0; i-- {
		if match(&r.records[i]) {
			rec := r.records[i]
			result = append(result, &rec)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Count は保存済みレコード数を返す。
func (r *MemoryAuditRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Ping は常に成功する。
func (r *MemoryAuditRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close は何もしない。
func (r *MemoryAuditRepo) Close() error {
	return nil
}

// compile-time interface check
var _ AuditStore = (*MemoryAuditRepo)(nil)
