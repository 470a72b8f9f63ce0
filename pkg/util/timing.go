package util

import (
	"context"
	"math/rand/v2"
	"time"
)

const jitterScale = 2

// Ticker fires roughly every base interval, each interval independently
// jittered by up to ±percent so that periodic work across processes spreads out.
type Ticker struct {
	C    <-chan time.Time
	stop context.CancelFunc
}

func NewTicker(ctx context.Context, base time.Duration, percent float64) *Ticker {
	ch := make(chan time.Time)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(ch)
		timer := time.NewTimer(Jitter(base, percent))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-timer.C:
				select {
				case <-ctx.Done():
					return
				case ch <- t:
				}
				timer.Reset(Jitter(base, percent))
			}
		}
	}()
	return &Ticker{C: ch, stop: cancel}
}

func (t *Ticker) Stop() { t.stop() }

func Jitter(d time.Duration, percent float64) time.Duration {
	if percent <= 0 {
		return d
	}
	delta := time.Duration(float64(d) * percent)
	if delta <= 0 {
		return d
	}
	offset := time.Duration(rand.N(int64(delta)*jitterScale+1)) - delta //nolint:gosec
	return d + offset
}

// Backoff yields delays doubling from Min up to Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	cur time.Duration
}

func (b *Backoff) Next() time.Duration {
	switch {
	case b.cur == 0:
		b.cur = b.Min
	case b.cur < b.Max:
		b.cur = min(b.cur*2, b.Max)
	}
	return b.cur
}

func (b *Backoff) Reset() { b.cur = 0 }

// Sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
