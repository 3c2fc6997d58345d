package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用した監査レコードリポジトリ。
// login_log.seq（BIGSERIAL）を同一時刻の並び替えキーとして使う。
type PostgresAuditRepo struct {
	db    *sql.DB
	clock *monotonicClock
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。nowがnilの場合はtime.Nowを使う。
func NewPostgresAuditRepo(db *sql.DB, now Clock) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db, clock: newMonotonicClock(now)}
}

// Insert は監査レコードを保存する。
func (r *PostgresAuditRepo) Insert(ctx context.Context, draft *model.AuditRecord) (*model.AuditRecord, error) {
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
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Subject, rec.CreatedAt, rec.AccessCredential, rec.RefreshCredential,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	return rec, nil
}

// FindBySubjectOrderByTimeDesc は指定subjectの監査レコードを新しい順に返す。
func (r *PostgresAuditRepo) FindBySubjectOrderByTimeDesc(ctx context.Context, subject string) ([]*model.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, login_time, access_token, refresh_token
		 FROM login_log
		 WHERE username = $1
		 ORDER BY login_time DESC, seq DESC`,
		subject,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records by subject: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// FindAllOrderByTimeDesc は全監査レコードを新しい順に返す。
func (r *PostgresAuditRepo) FindAllOrderByTimeDesc(ctx context.Context) ([]*model.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, login_time, access_token, refresh_token
		 FROM login_log
		 ORDER BY login_time DESC, seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// Ping はDB接続を確認する。
func (r *PostgresAuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close はDB接続を閉じる。
func (r *PostgresAuditRepo) Close() error {
	return r.db.Close()
}

// scanAuditRecords はlogin_logの行をAuditRecordに変換する。
// 0件の場合も空スライス（非nil）を返す。
func scanAuditRecords(rows *sql.Rows) ([]*model.AuditRecord, error) {
	records := make([]*model.AuditRecord, 0)
	for rows.Next() {
		rec := &model.AuditRecord{}
		if err := rows.Scan(&rec.ID, &rec.Subject, &rec.CreatedAt, &rec.AccessCredential, &rec.RefreshCredential); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// compile-time interface check
var _ AuditStore = (*PostgresAuditRepo)(nil)
