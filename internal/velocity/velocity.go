// Package velocity tracks repeat submissions of the same content and from the same source.
package velocity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service counts submissions in a sliding window using the cache counters.
type Service struct {
	cache     domain.Cache
	window    time.Duration
	threshold int64
}

// NewService creates a new velocity service.
func NewService(cache domain.Cache, cfg domain.VelocityConfig) *Service {
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	return &Service{
		cache:     cache,
		window:    window,
		threshold: threshold,
	}
}

// Count records one submission under key and returns the count in the current window.
func (s *Service) Count(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("velocity key is required")
	}
	n, err := s.cache.IncrementCounter(ctx, "velocity:"+key, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity counter: %w", err)
	}
	return n, nil
}

// BehavioralRisk records a submission of the fingerprinted content and, when
// given, of the submitting source. It returns a description of every count
// at or over the threshold, or "" when none is.
func (s *Service) BehavioralRisk(ctx context.Context, fingerprint string, source *domain.Source) (string, error) {
	var findings []string

	n, err := s.Count(ctx, "content:"+fingerprint)
	if err != nil {
		return "", err
	}
	if n >= s.threshold {
		findings = append(findings, fmt.Sprintf("same content submitted %d times within %s", n, s.window))
	}

	if source != nil && source.IP != "" {
		n, err := s.Count(ctx, "source:"+source.IP)
		if err != nil {
			return "", err
		}
		if n >= s.threshold {
			findings = append(findings, fmt.Sprintf("source %s submitted %d items within %s", source.IP, n, s.window))
		}
	}

	return strings.Join(findings, "; "), nil
}
