package rate

import (
	"context"
	"fmt"
	"time"
)

const (
	paymentsMinuteWindow = time.Minute
	payments10SecWindow  = 10 * time.Second
)

// WindowStore counts events in fixed expiring windows.
type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter throttles payment attempts per buyer across two fixed windows.
// A nil *Limiter permits everything, so callers can keep the rate path
// optional without branching.
type Limiter struct {
	store     WindowStore
	perMinute int
	per10Sec  int
}

func NewLimiter(store WindowStore, perMinute, per10Sec int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}
	if per10Sec < 0 {
		per10Sec = 0
	}

	return &Limiter{
		store:     store,
		perMinute: perMinute,
		per10Sec:  per10Sec,
	}
}

// AllowPayment counts one payment attempt by buyer and reports whether it
// may proceed; when blocked it returns the seconds to wait before retrying.
func (l *Limiter) AllowPayment(ctx context.Context, buyer string) (int64, bool, error) {
	if l == nil {
		return 0, true, nil
	}
	if buyer == "" {
		return 0, false, fmt.Errorf("buyer is required")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perMinute > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, minuteKey(buyer), paymentsMinuteWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.perMinute) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if l.per10Sec > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, tenSecKey(buyer), payments10SecWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.per10Sec) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}

	return 0, true, nil
}

func minuteKey(buyer string) string {
	return "rate:payments:min:" + buyer
}

func tenSecKey(buyer string) string {
	return "rate:payments:10s:" + buyer
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
