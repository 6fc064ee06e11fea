package velocity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestVelocityService(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(lruCache, domain.VelocityConfig{Window: time.Minute, Threshold: 3})
	ctx := context.Background()

	t.Run("CountIncrements", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := svc.Count(ctx, "k")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		if _, err := svc.Count(ctx, ""); err == nil {
			t.Error("expected error for empty key")
		}
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		risk, err := svc.BehavioralRisk(ctx, "fp-quiet", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if risk != "" {
			t.Errorf("expected no behavioral risk, got %q", risk)
		}
	})

	t.Run("RepeatedContent", func(t *testing.T) {
		var risk string
		for i := 0; i < 3; i++ {
			var err error
			risk, err = svc.BehavioralRisk(ctx, "fp-repeat", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if !strings.Contains(risk, "submitted 3 times") {
			t.Errorf("expected repetition finding, got %q", risk)
		}
	})

	t.Run("RepeatedSource", func(t *testing.T) {
		src := &domain.Source{IP: "198.51.100.4"}
		var risk string
		for i, fp := range []string{"a", "b", "c"} {
			var err error
			risk, err = svc.BehavioralRisk(ctx, "fp-src-"+fp, src)
			if err != nil {
				t.Fatalf("call %d: unexpected error: %v", i, err)
			}
		}
		if !strings.Contains(risk, "source 198.51.100.4") {
			t.Errorf("expected source finding, got %q", risk)
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		short := NewService(lruCache, domain.VelocityConfig{Window: 20 * time.Millisecond, Threshold: 2})
		_, _ = short.Count(ctx, "reset")
		time.Sleep(40 * time.Millisecond)
		got, _ := short.Count(ctx, "reset")
		if got != 1 {
			t.Errorf("expected counter reset to 1, got %d", got)
		}
	})
}
