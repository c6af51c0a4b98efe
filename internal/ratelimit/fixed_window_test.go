package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterAllowsUpToLimit(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})

	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !limiter.Allow("user-1") {
			t.Fatalf("request %d within quota must be allowed", i+1)
		}
	}
	if limiter.Allow("user-1") {
		t.Fatalf("request over quota must be rejected")
	}
	if !limiter.Allow("user-2") {
		t.Fatalf("quota is per key")
	}
}

func TestFixedWindowLimiterFailsClosedOnRedisDown(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	redisSrv.Close()
	if limiter.Allow("user-1") {
		t.Fatalf("limiter must fail closed when redis is unreachable")
	}
}

func TestNewFixedWindowLimiterValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("nil client must be rejected")
	}
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("zero limit must be rejected")
	}
	if _, err := NewFixedWindowLimiter(client, "", 1, 0); err == nil {
		t.Fatalf("zero window must be rejected")
	}
}
