package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "authgate:audit:"

// RedisAuditRepo はRedisを使用した監査レコードリポジトリ。
//
// キー構成:
//
//	{prefix}seq                 挿入連番（INCR）
//	{prefix}record:{member}     レコード本体（HASH）
//	{prefix}all                 全レコードのインデックス（ZSET）
//	{prefix}subject:{subject}   subjectごとのインデックス（ZSET）
//
// ZSETのスコアはlogin_timeのUNIXマイクロ秒、memberは0埋めした連番。
// 同一スコアはmemberの辞書順で並ぶため、ZREVRANGEで後から挿入したものが先になる。
// 永続性はRedis側のAOF設定に依存する。
type RedisAuditRepo struct {
	rdb   *redis.Client
	keyNS string
	clock *monotonicClock
}

// NewRedisAuditRepo はRedisAuditRepoを生成する。
// keyPrefixが空の場合は"authgate:audit:"を使う。nowがnilの場合はtime.Nowを使う。
func NewRedisAuditRepo(rdb *redis.Client, keyPrefix string, now Clock) *RedisAuditRepo {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisAuditRepo{rdb: rdb, keyNS: keyPrefix, clock: newMonotonicClock(now)}
}

func (r *RedisAuditRepo) seqKey() string { return r.keyNS + "seq" }

func (r *RedisAuditRepo) allKey() string { return r.keyNS + "all" }

func (r *RedisAuditRepo) subjectKey(subject string) string { return r.keyNS + "subject:" + subject }

func (r *RedisAuditRepo) recordKey(member string) string { return r.keyNS + "record:" + member }

// Insert は監査レコードを保存する。
// HASHと2つのZSETへの書き込みはMULTI/EXECで一括反映する。
func (r *RedisAuditRepo) Insert(ctx context.Context, draft *model.AuditRecord) (*model.AuditRecord, error) {
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	createdAt := r.clock.Next()
	seq, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate audit sequence: %w", err)
	}

	rec := &model.AuditRecord{
		ID:                uuid.New().String(),
		Subject:           draft.Subject,
		CreatedAt:         createdAt,
		AccessCredential:  draft.AccessCredential,
		RefreshCredential: draft.RefreshCredential,
	}

	member := fmt.Sprintf("%020d", seq)
	score := float64(createdAt.UnixMicro())

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.recordKey(member), map[string]any{
			"id":            rec.ID,
			"username":      rec.Subject,
			"login_time":    strconv.FormatInt(createdAt.UnixMicro(), 10),
			"access_token":  rec.AccessCredential,
			"refresh_token": rec.RefreshCredential,
		})
		pipe.ZAdd(ctx, r.allKey(), redis.Z{Score: score, Member: member})
		pipe.ZAdd(ctx, r.subjectKey(rec.Subject), redis.Z{Score: score, Member: member})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	return rec, nil
}

// FindBySubjectOrderByTimeDesc は指定subjectの監査レコードを新しい順に返す。
func (r *RedisAuditRepo) FindBySubjectOrderByTimeDesc(ctx context.Context, subject string) ([]*model.AuditRecord, error) {
	records, err := r.findByIndex(ctx, r.subjectKey(subject))
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records by subject: %w", err)
	}
	return records, nil
}

// FindAllOrderByTimeDesc は全監査レコードを新しい順に返す。
func (r *RedisAuditRepo) FindAllOrderByTimeDesc(ctx context.Context) ([]*model.AuditRecord, error) {
	records, err := r.findByIndex(ctx, r.allKey())
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records: %w", err)
	}
	return records, nil
}

// findByIndex はZSETのmemberを降順に取得し、対応するHASHをパイプラインで読み出す。
func (r *RedisAuditRepo) findByIndex(ctx context.Context, indexKey string) ([]*model.AuditRecord, error) {
	members, err := r.rdb.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*model.AuditRecord, 0, len(members))
	if len(members) == 0 {
		return records, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, r.recordKey(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			return nil, fmt.Errorf("audit record %s is missing", members[i])
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

func recordFromHash(fields map[string]string) (*model.AuditRecord, error) {
	micros, err := strconv.ParseInt(fields["login_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid login_time %q: %w", fields["login_time"], err)
	}
	return &model.AuditRecord{
		ID:                fields["id"],
		Subject:           fields["username"],
		CreatedAt:         time.UnixMicro(micros).UTC(),
		AccessCredential:  fields["access_token"],
		RefreshCredential: fields["refresh_token"],
	}, nil
}

// Ping はRedis接続を確認する。
func (r *RedisAuditRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (r *RedisAuditRepo) Close() error {
	return r.rdb.Close()
}

// compile-time interface check
var _ AuditStore = (*RedisAuditRepo)(nil)
