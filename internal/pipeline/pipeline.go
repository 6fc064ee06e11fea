// Package pipeline runs one scan request through scoring, rules, alerting
// and remediation and reports the combined outcome.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/healing"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var tracer = otel.Tracer("kestrel-pipeline")

// Store persists threats and rule counters. domain.Repository satisfies it.
type Store interface {
	SaveThreat(ctx context.Context, threat *domain.Threat) error
	RecordRuleTrigger(ctx context.Context, trigger domain.RuleTrigger) error
}

// Outcome is everything a single scan produced.
type Outcome struct {
	ThreatID     string                `json:"threatId"`
	Item         domain.ScoredItem     `json:"item"`
	MatchedRules []string              `json:"matchedRules"`
	Actions      []domain.Action       `json:"actions"`
	Alert        *domain.Alert         `json:"alert,omitempty"`
	Remediation  []domain.ActionResult `json:"remediation,omitempty"`
	Blocked      bool                  `json:"blocked"`
	TraceID      string                `json:"traceId,omitempty"`
	DurationMs   int64                 `json:"durationMs"`
}

// Processor wires the scan stages together. Store and bus are optional.
type Processor struct {
	scorer        *scoring.Engine
	rules         *rules.Engine
	alerts        *alerts.Manager
	healer        *healing.Orchestrator
	store         Store
	bus           domain.EventBus
	autoRemediate bool
	recipient     string
}

// Config selects the optional pipeline behavior.
type Config struct {
	AutoRemediate   bool
	NotifyRecipient string
}

// NewProcessor creates a scan processor.
func NewProcessor(scorer *scoring.Engine, ruleEngine *rules.Engine, alertManager *alerts.Manager, healer *healing.Orchestrator, store Store, eventBus domain.EventBus, cfg Config) *Processor {
	recipient := cfg.NotifyRecipient
	if recipient == "" {
		recipient = "security-team"
	}
	return &Processor{
		scorer:        scorer,
		rules:         ruleEngine,
		alerts:        alertManager,
		healer:        healer,
		store:         store,
		bus:           eventBus,
		autoRemediate: cfg.AutoRemediate,
		recipient:     recipient,
	}
}

// Process scores req and carries the result through every later stage.
// Failures after scoring are logged and never discard the score.
func (p *Processor) Process(ctx context.Context, req domain.ScanRequest) *Outcome {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("content.type", string(req.ContentType))),
	)
	defer span.End()

	out := &Outcome{
		ThreatID:     uuid.New().String(),
		MatchedRules: []string{},
		Actions:      []domain.Action{},
	}
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		out.TraceID = sc.TraceID().String()
	}

	p.stage(ctx, "score", func(ctx context.Context) error {
		out.Item = p.scorer.Score(ctx, req)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("risk.score", out.Item.RiskScore),
			attribute.String("risk.severity", string(out.Item.Severity)),
			attribute.String("scoring.engine", out.Item.Engine),
		)
		return nil
	})
	item := &out.Item

	if p.store != nil {
		p.stage(ctx, "persist_threat", func(ctx context.Context) error {
			return p.store.SaveThreat(ctx, &domain.Threat{
				ID:        out.ThreatID,
				Item:      item.Clone(),
				CreatedAt: item.ScoredAt,
			})
		})
	}

	var result rules.Result
	if p.rules != nil {
		p.stage(ctx, "evaluate_rules", func(ctx context.Context) error {
			var err error
			result, err = p.rules.Evaluate(ctx, item)
			trace.SpanFromContext(ctx).SetAttributes(attribute.Int("rules.matched", len(result.Matched)))
			return err
		})
		out.MatchedRules = append(out.MatchedRules, result.MatchedIDs()...)
		out.Actions = append(out.Actions, result.Actions...)
	}

	if p.store != nil && len(result.Triggers) > 0 {
		p.stage(ctx, "record_triggers", func(ctx context.Context) error {
			for _, tr := range result.Triggers {
				if err := p.store.RecordRuleTrigger(ctx, tr); err != nil {
					return fmt.Errorf("rule %s: %w", tr.RuleID, err)
				}
			}
			return nil
		})
	}

	out.Blocked = domain.HasAction(out.Actions, domain.ActionBlockContent)

	if p.alerts != nil && alerts.ShouldRaise(item, out.Actions) {
		p.stage(ctx, "raise_alert", func(ctx context.Context) error {
			a, err := p.alerts.Raise(ctx, out.ThreatID, item, out.Actions, out.MatchedRules)
			out.Alert = a
			return err
		})
	}

	if p.healer != nil {
		p.stage(ctx, "remediate", func(ctx context.Context) error {
			out.Remediation = p.remediate(ctx, item, out)
			return nil
		})
	}

	if domain.HasAction(out.Actions, domain.ActionNotifyAdmin) && p.bus != nil {
		p.stage(ctx, "notify_admin", func(ctx context.Context) error {
			n := domain.Notification{
				Recipient: p.recipient,
				Subject:   fmt.Sprintf("%s risk %s content detected", item.Severity, item.ContentType),
				ThreatID:  out.ThreatID,
				Severity:  item.Severity,
				At:        time.Now().UTC(),
			}
			if out.Alert != nil {
				n.Subject = out.Alert.Title
				n.AlertID = out.Alert.ID
				n.Severity = out.Alert.Severity
			}
			return bus.PublishJSON(ctx, p.bus, domain.TopicNotification, n)
		})
	}

	out.DurationMs = time.Since(start).Milliseconds()
	metrics.RecordScan(contentLabel(item.ContentType), string(item.Severity), item.Engine, time.Since(start))

	if p.bus != nil {
		p.stage(ctx, "publish", func(ctx context.Context) error {
			return bus.PublishJSON(ctx, p.bus, domain.TopicScanCompleted, out)
		})
	}

	slog.Debug("scan processed",
		"threat_id", out.ThreatID,
		"content_type", string(item.ContentType),
		"risk_score", item.RiskScore,
		"severity", string(item.Severity),
		"matched_rules", len(out.MatchedRules),
		"blocked", out.Blocked,
		"duration_ms", out.DurationMs,
	)
	return out
}

// remediate runs automatic remediation for high and critical alerts with a
// known source, then suspends the account when a rule asked for lockUser.
func (p *Processor) remediate(ctx context.Context, item *domain.ScoredItem, out *Outcome) []domain.ActionResult {
	var results []domain.ActionResult
	src := item.Source

	if p.autoRemediate && out.Alert != nil && out.Alert.Severity.AtLeast(domain.SeverityHigh) && src != nil && src.IP != "" {
		results = append(results, p.healer.Remediate(ctx, healing.Target{
			Source:   src.IP,
			Identity: src.Account,
		}, out.Alert.Severity)...)
	}

	if domain.HasAction(out.Actions, domain.ActionLockUser) && src != nil && src.Account != "" {
		res, err := p.healer.Execute(ctx, healing.ManualRequest{
			Action:   healing.ActionDisableAccount,
			Target:   src.Account,
			Severity: item.Severity,
			Actor:    "rule-engine",
		})
		if err != nil {
			slog.Warn("lockUser action failed", "threat_id", out.ThreatID, "error", err)
		} else {
			results = append(results, res)
		}
	}
	return results
}

// stage runs fn in a child span. Errors are recorded on the span and logged.
func (p *Processor) stage(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("pipeline stage failed",
			"stage", name,
			"error", err,
		)
	}
}

// contentLabel bounds the metric label set to the supported types.
func contentLabel(c domain.ContentType) string {
	if !c.Valid() {
		return "unknown"
	}
	return string(c)
}
