package gocache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/adapter/gocache"
	"github.com/Strob0t/ReviewForge/internal/port/cache/cachetest"
)

func TestCacheCompliance(t *testing.T) {
	cachetest.RunComplianceTests(t, gocache.New(time.Minute, time.Minute))
}

func TestCacheEntryTTL(t *testing.T) {
	c := gocache.New(time.Minute, time.Minute)
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("a"), 20*time.Millisecond)
	_ = c.Set(ctx, "default", []byte("b"), 0)
	time.Sleep(50 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Error("entry outlived its ttl")
	}
	if v, ok, _ := c.Get(ctx, "default"); !ok || string(v) != "b" {
		t.Errorf("default-ttl entry = %q, %v", v, ok)
	}
}
