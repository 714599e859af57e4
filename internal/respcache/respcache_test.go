package respcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(mr.Addr(), time.Minute)
}

func TestKeyFormat(t *testing.T) {
	if got := Key("get-leaderboard", "admin", ""); got != "respcache:get-leaderboard:admin" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := Key("get-player-current-stats", "user", "123"); got != "respcache:get-player-current-stats:user:123" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	type payload struct {
		PlayerCount int `json:"playerCount"`
	}

	if err := c.Set(ctx, "k1", payload{PlayerCount: 42}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out payload
	found, err := c.Get(ctx, "k1", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || out.PlayerCount != 42 {
		t.Fatalf("unexpected round trip result: found=%v out=%+v", found, out)
	}
}

func TestGetMiss(t *testing.T) {
	c := testCache(t)
	var out map[string]any
	found, err := c.Get(context.Background(), "missing", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected cache miss")
	}
}

func TestInvalidate(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k1", map[string]string{"a": "b"})

	if err := c.Invalidate(ctx, "k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]string
	found, _ := c.Get(ctx, "k1", &out)
	if found {
		t.Fatalf("expected key to be gone after invalidate")
	}
}
