package repository

import (
	"sync"
	"time"
)

// Clock は現在時刻を返す関数。テストで差し替える。
type Clock func() time.Time

// monotonicClock は挿入ごとに単調非減少な時刻を返す。
// 時計が巻き戻った場合は直前の値を返す。
// DBのタイムスタンプ精度に合わせてマイクロ秒に切り捨てる。
type monotonicClock struct {
	mu   sync.Mutex
	now  Clock
	last time.Time
}

func newMonotonicClock(now Clock) *monotonicClock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

// Next は次の挿入時刻を返す。
func (c *monotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
