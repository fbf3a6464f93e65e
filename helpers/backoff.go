package helpers

import (
	"sync"
	"time"
)

// Limited exponential backoff for retry delays.
// First delay after success is Min.
// Failure() multiplies next delay by K, up to Max.
type Backoff struct {
	mu   sync.Mutex
	next time.Duration
	last time.Time

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms

	now func() time.Time
}

// Use scenario:
// for {
//   err := op()
//   time.Sleep(backoff.DelayAfter(err==nil))
// }
func (b *Backoff) DelayAfter(success bool) time.Duration {
	b.Update(success)
	if success {
		return 0
	}
	return b.DelayBefore()
}

// Remaining delay since last Update.
func (b *Backoff) DelayBefore() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next == 0 {
		return 0
	}
	delay := b.limit(b.next)
	since := b.clock().Sub(b.last)
	if since >= delay {
		return 0
	}
	return b.round(delay - since)
}

// Next delay without accounting time passed, for logs.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit(b.next)
}

// Increase next delay.
func (b *Backoff) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next == 0 {
		b.next = b.Min
	} else {
		k := b.K
		if k < 1 {
			k = 1
		}
		b.next = b.limit(time.Duration(float32(b.next) * k))
	}
	b.last = b.clock()
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.last = b.clock()
}

func (b *Backoff) Update(success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
}

func (b *Backoff) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
