package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
)

// SQLiteAuditRepo はSQLiteを使用した監査レコードリポジトリ。
// login_timeはUNIXマイクロ秒の整数で保存する。
type SQLiteAuditRepo struct {
	db    *sql.DB
	clock *monotonicClock
}

// NewSQLiteAuditRepo はSQLiteAuditRepoを生成する。nowがnilの場合はtime.Nowを使う。
func NewSQLiteAuditRepo(db *sql.DB, now Clock) *SQLiteAuditRepo {
	return &SQLiteAuditRepo{db: db, clock: newMonotonicClock(now)}
}

// Insert は監査レコードを保存する。
func (r *SQLiteAuditRepo) Insert(ctx context.Context, draft *model.AuditRecord) (*model.AuditRecord, error) {
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	rec := &model.AuditRecord{
		ID:                uuid.New().String(),
		Subject:           draft.Subject,
		CreatedAt:         r.clock.Next(),
		AccessCredential:  draft.AccessCredential,
		RefreshCredential: draft.RefreshCredential,
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_log (id, username, login_time, access_token, refresh_token)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Subject, rec.CreatedAt.UnixMicro(), rec.AccessCredential, rec.RefreshCredential,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	return rec, nil
}

// FindBySubjectOrderByTimeDesc は指定subjectの監査レコードを新しい順に返す。
func (r *SQLiteAuditRepo) FindBySubjectOrderByTimeDesc(ctx context.Context, subject string) ([]*model.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, login_time, access_token, refresh_token
		 FROM login_log
		 WHERE username = ?
		 ORDER BY login_time DESC, seq DESC`,
		subject,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records by subject: %w", err)
	}
	defer rows.Close()

	return scanSQLiteAuditRecords(rows)
}

// FindAllOrderByTimeDesc は全監査レコードを新しい順に返す。
func (r *SQLiteAuditRepo) FindAllOrderByTimeDesc(ctx context.Context) ([]*model.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, login_time, access_token, refresh_token
		 FROM login_log
		 ORDER BY login_time DESC, seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records: %w", err)
	}
	defer rows.Close()

	return scanSQLiteAuditRecords(rows)
}

// Ping はDB接続を確認する。
func (r *SQLiteAuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close はDB接続を閉じる。
func (r *SQLiteAuditRepo) Close() error {
	return r.db.Close()
}

func scanSQLiteAuditRecords(rows *sql.Rows) ([]*model.AuditRecord, error) {
	records := make([]*model.AuditRecord, 0)
	for rows.Next() {
		rec := &model.AuditRecord{}
		var loginTime int64
		if err := rows.Scan(&rec.ID, &rec.Subject, &loginTime, &rec.AccessCredential, &rec.RefreshCredential); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.CreatedAt = time.UnixMicro(loginTime).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// compile-time interface check
var _ AuditStore = (*SQLiteAuditRepo)(nil)
