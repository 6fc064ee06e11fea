package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "fingerprint-1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "fingerprint-1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "fingerprint-1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("CountersIndependentOfValues", func(t *testing.T) {
		_ = cache.Set(ctx, "shared", []byte("v"), time.Minute)
		count, _ := cache.IncrementCounter(ctx, "shared", time.Minute)
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}
		val, _ := cache.Get(ctx, "shared")
		if string(val) != "v" {
			t.Errorf("expected value to survive counter increment, got %q", val)
		}
	})

	t.Run("ScoreCache", func(t *testing.T) {
		item := &domain.ScoredItem{
			ContentType: domain.ContentFile,
			Content:     "setup.exe",
			RiskScore:   60,
			Categories:  []string{"High-Risk File Type"},
			Confidence:  70,
			Severity:    domain.SeverityHigh,
		}

		if err := cache.SetScore(ctx, "fp-001", item, time.Minute); err != nil {
			t.Fatalf("SetScore failed: %v", err)
		}

		got, err := cache.GetScore(ctx, "fp-001")
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached score")
		}
		if got.RiskScore != 60 || got.Severity != domain.SeverityHigh {
			t.Errorf("unexpected cached item: %+v", got)
		}

		missing, err := cache.GetScore(ctx, "fp-missing")
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil for miss; got %v, %v", missing, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(2)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)
		_ = statsCache.Set(ctx, "k3", []byte("v3"), time.Minute)
		_ = statsCache.Set(ctx, "short", []byte("v"), time.Nanosecond)
		_, _ = statsCache.IncrementCounter(ctx, "vel:fp", time.Minute)

		statsCache.Get(ctx, "k3")
		statsCache.Get(ctx, "k1")
		time.Sleep(time.Millisecond)
		statsCache.Get(ctx, "short")

		got := statsCache.Stats()
		want := LocalStats{Size: 1, Capacity: 2, Windows: 1, Hits: 1, Misses: 1, Expired: 1, Evictions: 2}
		if got != want {
			t.Errorf("Stats() = %+v, want %+v", got, want)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
