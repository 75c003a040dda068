package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestLimiterBlocksOn10SecondWindow(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(NewRedisWindowStore(client), 100, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		retryAfter, allowed, err := limiter.AllowPayment(ctx, "buyer-1")
		if err != nil {
			t.Fatalf("allow payment #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("unexpected result on allow #%d: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.AllowPayment(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("allow payment #3: %v", err)
	}
	if allowed {
		t.Fatal("expected limiter block on third payment in 10s window")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", retryAfter)
	}

	mr.FastForward(11 * time.Second)

	retryAfter, allowed, err = limiter.AllowPayment(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("allow payment after window: %v", err)
	}
	if !allowed || retryAfter != 0 {
		t.Fatalf("expected allow after window expiry, allowed=%v retry_after=%d", allowed, retryAfter)
	}
}

func TestLimiterBlocksOnMinuteWindow(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(NewRedisWindowStore(client), 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, allowed, err := limiter.AllowPayment(ctx, "buyer-2"); err != nil || !allowed {
			t.Fatalf("allow #%d: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	if _, allowed, err := limiter.AllowPayment(ctx, "buyer-2"); err != nil || allowed {
		t.Fatalf("expected minute window block, allowed=%v err=%v", allowed, err)
	}

	// Other buyers are not affected.
	if _, allowed, err := limiter.AllowPayment(ctx, "buyer-3"); err != nil || !allowed {
		t.Fatalf("unrelated buyer blocked, allowed=%v err=%v", allowed, err)
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var limiter *Limiter
	retryAfter, allowed, err := limiter.AllowPayment(context.Background(), "anyone")
	if err != nil || !allowed || retryAfter != 0 {
		t.Fatalf("nil limiter must allow, allowed=%v retry_after=%d err=%v", allowed, retryAfter, err)
	}
}

func TestLimiterRejectsEmptyBuyer(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(NewRedisWindowStore(client), 10, 10)
	if _, _, err := limiter.AllowPayment(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty buyer")
	}
}
