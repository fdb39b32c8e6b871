package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func TestAllowFixedWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "10.0.0.1")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, retry, err := l.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Fatal("expected third request to be limited")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("retry = %v, want within the window", retry)
	}

	if ok, _, _ := l.Allow(ctx, "10.0.0.2"); !ok {
		t.Fatal("other keys have their own window")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _, _ := l.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatal("expected a fresh window")
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	l.Allow(ctx, "k")
	if ok, _, _ := l.Allow(ctx, "k"); ok {
		t.Fatal("expected limit")
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if ok, _, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("expected reset window to admit")
	}
}

func TestDefaults(t *testing.T) {
	l := New(nil, Config{})
	if l.config.Limit != 1 || l.config.Window != time.Minute {
		t.Fatalf("config = %+v", l.config)
	}
}

func TestRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 1, Window: time.Minute})
	mr.Close()
	_, _, err := l.Allow(context.Background(), "k")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("err = %v, want ErrRedisUnavailable", err)
	}
}
