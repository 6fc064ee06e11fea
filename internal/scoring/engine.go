// Package scoring turns a scan request into a scored item using an optional
// external assessor and deterministic per-type heuristics.
package scoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BehaviorProbe reports repeat-submission behavior for a fingerprint and source.
// An empty string means nothing notable.
type BehaviorProbe interface {
	BehavioralRisk(ctx context.Context, fingerprint string, source *domain.Source) (string, error)
}

// Engine scores content. It is safe for concurrent use.
type Engine struct {
	assessor Assessor
	probe    BehaviorProbe
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAssessor sets the assessor consulted before the heuristics.
// Wrap it in a GuardedAssessor so slow or failing calls are bounded.
func WithAssessor(a Assessor) Option {
	return func(e *Engine) { e.assessor = a }
}

// WithBehaviorProbe sets the repeat-submission probe.
func WithBehaviorProbe(p BehaviorProbe) Option {
	return func(e *Engine) { e.probe = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a scoring engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score produces a scored item for req. It never fails: missing input yields
// an insufficient-data result and assessor errors fall back to heuristics.
func (e *Engine) Score(ctx context.Context, req domain.ScanRequest) domain.ScoredItem {
	var item domain.ScoredItem
	if !sufficient(&req) {
		item = insufficient()
	} else {
		item = e.evaluate(ctx, &req)
	}

	item.ContentType = req.ContentType
	item.Content = req.Literal()
	item.ContentRef = req.ContentRef
	item.Fingerprint = req.Fingerprint()
	if req.Source != nil {
		src := *req.Source
		item.Source = &src
	}
	item.RiskScore = clamp(item.RiskScore)
	item.Confidence = clamp(item.Confidence)
	item.Severity = domain.SeverityFromScore(item.RiskScore)
	if len(item.Categories) == 0 {
		item.Categories = []string{domain.CategoryClean}
	}
	if item.Explanation.Keywords == nil {
		item.Explanation.Keywords = []string{}
	}
	item.ScoredAt = e.now().UTC()

	if e.probe != nil && item.Verdict != domain.VerdictInsufficientData {
		risk, err := e.probe.BehavioralRisk(ctx, item.Fingerprint, item.Source)
		if err != nil {
			slog.Debug("behavior probe failed", "fingerprint", item.Fingerprint, "error", err)
		} else {
			item.Explanation.BehavioralRisk = risk
		}
	}
	return item
}

func (e *Engine) evaluate(ctx context.Context, req *domain.ScanRequest) domain.ScoredItem {
	if e.assessor != nil {
		assessed, err := e.assessor.Assess(ctx, req)
		if err == nil && assessed != nil {
			item := assessed.Clone()
			item.Engine = domain.EngineAssessor
			if item.Verdict == "" {
				item.Verdict = domain.VerdictUnverified
			}
			return item
		}
		slog.Debug("assessor fallback",
			"content_type", string(req.ContentType),
			"error", err,
		)
	}

	var item domain.ScoredItem
	switch req.ContentType {
	case domain.ContentFile:
		item = scoreFile(req.Payload)
	case domain.ContentQR:
		item = scoreQR(req.Payload)
	case domain.ContentURL:
		item = scoreURL(req.Payload)
	default:
		item = scoreText(req.Payload)
	}
	item.Engine = domain.EngineHeuristic
	return item
}

// sufficient reports whether req carries the field its content type requires.
func sufficient(req *domain.ScanRequest) bool {
	var field string
	switch req.ContentType {
	case domain.ContentText:
		field = req.Payload.Text
	case domain.ContentURL:
		field = req.Payload.URL
	case domain.ContentFile:
		field = req.Payload.Filename
	case domain.ContentQR:
		field = req.Payload.QRData
	default:
		return false
	}
	return strings.TrimSpace(field) != ""
}

func insufficient() domain.ScoredItem {
	return domain.ScoredItem{
		RiskScore:      0,
		Categories:     []string{CategoryInsufficientData},
		Confidence:     10,
		Verdict:        domain.VerdictInsufficientData,
		Recommendation: "Provide the content to be scanned.",
		Explanation: domain.Explanation{
			Reason:  "the request does not carry the content its type requires",
			Pattern: "insufficient-data",
		},
		Engine: domain.EngineHeuristic,
	}
}
