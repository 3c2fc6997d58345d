package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// storeFactory はテストごとに空のAuditStoreを生成する。
type storeFactory func(t *testing.T, now Clock) AuditStore

// steppingClock は呼び出しごとにstepずつ進む時計を返す。
func steppingClock(start time.Time, step time.Duration) Clock {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

// frozenClock は常に同じ時刻を返す時計を返す。
func frozenClock(at time.Time) Clock {
	return func() time.Time { return at }
}

var contractEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// runAuditStoreContract はすべてのAuditStore実装が満たすべき振る舞いを検証する。
func runAuditStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()

	t.Run("Insertは識別子と作成時刻を付与する", func(t *testing.T) {
		store := newStore(t, steppingClock(contractEpoch, time.Second))
		ctx := context.Background()

		rec, err := store.Insert(ctx, model.NewAuditDraft("emilys", "tokA", "refA"))
		if err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
		if rec.ID == "" {
			t.Error("ID should be assigned")
		}
		if !rec.CreatedAt.Equal(contractEpoch) {
			t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, contractEpoch)
		}
		if rec.Subject != "emilys" || rec.AccessCredential != "tokA" || rec.RefreshCredential != "refA" {
			t.Errorf("unexpected record: %+v", rec)
		}

		all, err := store.FindAllOrderByTimeDesc(ctx)
		if err != nil {
			t.Fatalf("FindAllOrderByTimeDesc returned error: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("len(all) = %d, want 1", len(all))
		}
		if all[0].ID != rec.ID {
			t.Errorf("ID = %q, want %q", all[0].ID, rec.ID)
		}
		if !all[0].CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", all[0].CreatedAt, rec.CreatedAt)
		}
	})

	t.Run("新しい順に返しsubjectで絞り込む", func(t *testing.T) {
		store := newStore(t, steppingClock(contractEpoch, time.Second))
		ctx := context.Background()

		for _, d := range []struct{ subject, access string }{
			{"alice", "a1"},
			{"bob", "b1"},
			{"alice", "a2"},
		} {
			if _, err := store.Insert(ctx, model.NewAuditDraft(d.subject, d.access, "r-"+d.access)); err != nil {
				t.Fatalf("Insert(%s) returned error: %v", d.access, err)
			}
		}

		all, err := store.FindAllOrderByTimeDesc(ctx)
		if err != nil {
			t.Fatalf("FindAllOrderByTimeDesc returned error: %v", err)
		}
		if got := accessOf(all); got != "a2,b1,a1" {
			t.Errorf("all order = %s, want a2,b1,a1", got)
		}

		alice, err := store.FindBySubjectOrderByTimeDesc(ctx, "alice")
		if err != nil {
			t.Fatalf("FindBySubjectOrderByTimeDesc returned error: %v", err)
		}
		if got := accessOf(alice); got != "a2,a1" {
			t.Errorf("alice order = %s, want a2,a1", got)
		}
	})

	t.Run("同一時刻は後から保存したものが先になる", func(t *testing.T) {
		store := newStore(t, frozenClock(contractEpoch))
		ctx := context.Background()

		for _, access := range []string{"t1", "t2", "t3"} {
			if _, err := store.Insert(ctx, model.NewAuditDraft("emilys", access, "r")); err != nil {
				t.Fatalf("Insert returned error: %v", err)
			}
		}

		got, err := store.FindBySubjectOrderByTimeDesc(ctx, "emilys")
		if err != nil {
			t.Fatalf("FindBySubjectOrderByTimeDesc returned error: %v", err)
		}
		if order := accessOf(got); order != "t3,t2,t1" {
			t.Errorf("order = %s, want t3,t2,t1", order)
		}
	})

	t.Run("時計が巻き戻っても作成時刻は減少しない", func(t *testing.T) {
		store := newStore(t, steppingClock(contractEpoch, -time.Minute))
		ctx := context.Background()

		first, err := store.Insert(ctx, model.NewAuditDraft("emilys", "t1", "r"))
		if err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
		second, err := store.Insert(ctx, model.NewAuditDraft("emilys", "t2", "r"))
		if err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
		if second.CreatedAt.Before(first.CreatedAt) {
			t.Errorf("second.CreatedAt %v is before first.CreatedAt %v", second.CreatedAt, first.CreatedAt)
		}

		got, err := store.FindAllOrderByTimeDesc(ctx)
		if err != nil {
			t.Fatalf("FindAllOrderByTimeDesc returned error: %v", err)
		}
		if order := accessOf(got); order != "t2,t1" {
			t.Errorf("order = %s, want t2,t1", order)
		}
	})

	t.Run("該当なしの場合は空スライスを返す", func(t *testing.T) {
		store := newStore(t, nil)

		got, err := store.FindBySubjectOrderByTimeDesc(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("FindBySubjectOrderByTimeDesc returned error: %v", err)
		}
		if got == nil {
			t.Fatal("expected non-nil empty slice")
		}
		if len(got) != 0 {
			t.Errorf("len = %d, want 0", len(got))
		}
	})

	t.Run("不正なレコードは保存しない", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		tooLong := strings.Repeat("x", model.MaxCredentialLength+1)
		cases := []*model.AuditRecord{
			model.NewAuditDraft("", "tok", "ref"),
			model.NewAuditDraft(strings.Repeat("u", model.MaxSubjectLength+1), "tok", "ref"),
			model.NewAuditDraft("emilys", "", "ref"),
			model.NewAuditDraft("emilys", "tok", ""),
			model.NewAuditDraft("emilys", tooLong, "ref"),
			model.NewAuditDraft("emilys", "tok", tooLong),
		}
		for i, draft := range cases {
			if _, err := store.Insert(ctx, draft); !errors.Is(err, model.ErrInvalidAuditRecord) {
				t.Errorf("case %d: err = %v, want ErrInvalidAuditRecord", i, err)
			}
		}

		all, err := store.FindAllOrderByTimeDesc(ctx)
		if err != nil {
			t.Fatalf("FindAllOrderByTimeDesc returned error: %v", err)
		}
		if len(all) != 0 {
			t.Errorf("len(all) = %d, want 0", len(all))
		}
	})

	t.Run("上限ちょうどの長さは保存できる", func(t *testing.T) {
		store := newStore(t, nil)
		limit := strings.Repeat("y", model.MaxCredentialLength)
		subject := strings.Repeat("ユ", model.MaxSubjectLength)

		rec, err := store.Insert(context.Background(), model.NewAuditDraft(subject, limit, limit))
		if err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
		if len(rec.AccessCredential) != model.MaxCredentialLength {
			t.Errorf("len(AccessCredential) = %d", len(rec.AccessCredential))
		}

		got, err := store.FindBySubjectOrderByTimeDesc(context.Background(), subject)
		if err != nil {
			t.Fatalf("FindBySubjectOrderByTimeDesc returned error: %v", err)
		}
		if len(got) != 1 || got[0].Subject != subject {
			t.Errorf("stored subject mismatch: %d records", len(got))
		}
	})

	t.Run("Pingは成功する", func(t *testing.T) {
		store := newStore(t, nil)
		if err := store.Ping(context.Background()); err != nil {
			t.Errorf("Ping returned error: %v", err)
		}
	})
}

func accessOf(records []*model.AuditRecord) string {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = r.AccessCredential
	}
	return strings.Join(parts, ",")
}
