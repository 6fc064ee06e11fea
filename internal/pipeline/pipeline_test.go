package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/healing"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

type memStore struct {
	mu       sync.Mutex
	threats  map[string]*domain.Threat
	triggers []domain.RuleTrigger
}

func newMemStore() *memStore {
	return &memStore{threats: make(map[string]*domain.Threat)}
}

func (s *memStore) SaveThreat(_ context.Context, t *domain.Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threats[t.ID] = t
	return nil
}

func (s *memStore) RecordRuleTrigger(_ context.Context, tr domain.RuleTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, tr)
	return nil
}

type fixture struct {
	proc   *Processor
	store  *memStore
	rules  *rules.Engine
	healer *healing.Orchestrator
	bus    *bus.ChannelBus
}

func newFixture(t *testing.T, autoRemediate bool) *fixture {
	t.Helper()
	ctx := context.Background()

	engine, err := rules.NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	if _, err := engine.SeedBuiltins(ctx); err != nil {
		t.Fatalf("failed to seed rules: %v", err)
	}

	b := bus.NewChannelBus(64)
	t.Cleanup(func() { b.Close() })

	store := newMemStore()
	healer := healing.NewOrchestrator(healing.NewState(50), nil, nil, domain.HealingConfig{})
	proc := NewProcessor(
		scoring.NewEngine(),
		engine,
		alerts.NewManager(nil, b),
		healer,
		store,
		b,
		Config{AutoRemediate: autoRemediate},
	)
	return &fixture{proc: proc, store: store, rules: engine, healer: healer, bus: b}
}

func subscribe(t *testing.T, b *bus.ChannelBus, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 16)
	if _, err := b.Subscribe(context.Background(), topic, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return ch
}

func waitFor(t *testing.T, ch <-chan *domain.Message, what string) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("PiratedSoftwareEndToEnd", func(t *testing.T) {
		f := newFixture(t, true)
		completed := subscribe(t, f.bus, domain.TopicScanCompleted)
		notified := subscribe(t, f.bus, domain.TopicNotification)

		out := f.proc.Process(ctx, domain.ScanRequest{
			ContentType: domain.ContentFile,
			Payload:     domain.Payload{Filename: "free_premium_crack.exe", SourceDomain: "apkpure.com"},
			Source:      &domain.Source{IP: "203.0.113.50", Account: "user-7"},
		})

		if out.Item.Severity != domain.SeverityCritical {
			t.Errorf("expected critical severity, got %s", out.Item.Severity)
		}
		if out.Item.PrimaryCategory() != scoring.CategoryPiratedSoftware {
			t.Errorf("expected Pirated Software, got %s", out.Item.PrimaryCategory())
		}
		if len(out.MatchedRules) != 2 {
			t.Errorf("expected 2 matched rules, got %v", out.MatchedRules)
		}
		if !out.Blocked {
			t.Error("expected content to be blocked")
		}
		if out.Alert == nil {
			t.Fatal("expected an alert")
		}
		if out.Alert.Severity != domain.SeverityCritical {
			t.Errorf("expected critical alert, got %s", out.Alert.Severity)
		}
		if len(out.Remediation) != 5 {
			t.Fatalf("expected 5 remediation steps, got %d", len(out.Remediation))
		}
		if !f.healer.State().IsBlocked("203.0.113.50") {
			t.Error("expected source to be blocked")
		}
		if !f.healer.State().IsDisabled("user-7") {
			t.Error("expected account to be disabled")
		}

		if _, ok := f.store.threats[out.ThreatID]; !ok {
			t.Error("expected threat to be persisted")
		}
		if len(f.store.triggers) != 2 {
			t.Errorf("expected 2 trigger records, got %d", len(f.store.triggers))
		}

		waitFor(t, completed, "scan completed")
		waitFor(t, notified, "admin notification")
	})

	t.Run("CleanTextNoAlert", func(t *testing.T) {
		f := newFixture(t, true)
		out := f.proc.Process(ctx, domain.ScanRequest{
			ContentType: domain.ContentText,
			Payload:     domain.Payload{Text: "Lunch is at noon"},
			Source:      &domain.Source{IP: "198.51.100.2"},
		})
		if out.Alert != nil {
			t.Errorf("expected no alert, got %+v", out.Alert)
		}
		if out.Blocked {
			t.Error("expected not blocked")
		}
		if len(out.Remediation) != 0 {
			t.Errorf("expected no remediation, got %v", out.Remediation)
		}
		if len(out.MatchedRules) != 0 {
			t.Errorf("expected no matches, got %v", out.MatchedRules)
		}
	})

	t.Run("BlockContentWithoutHighSeverity", func(t *testing.T) {
		f := newFixture(t, true)
		out := f.proc.Process(ctx, domain.ScanRequest{
			ContentType: domain.ContentURL,
			Payload:     domain.Payload{URL: "https://free-gift.xyz/claim"},
			Source:      &domain.Source{IP: "198.51.100.3"},
		})
		if !out.Blocked {
			t.Error("expected suspicious TLD link to be blocked")
		}
		if out.Alert == nil {
			t.Fatal("expected alert for blockContent")
		}
		if out.Alert.Severity != domain.SeverityHigh {
			t.Errorf("expected high alert, got %s", out.Alert.Severity)
		}
		if len(out.Remediation) != 4 {
			t.Errorf("expected 4 remediation steps without identity, got %d", len(out.Remediation))
		}
	})

	t.Run("NoSourceNoRemediation", func(t *testing.T) {
		f := newFixture(t, true)
		out := f.proc.Process(ctx, domain.ScanRequest{
			ContentType: domain.ContentFile,
			Payload:     domain.Payload{Filename: "keygen.exe"},
		})
		if out.Alert == nil {
			t.Fatal("expected alert")
		}
		if len(out.Remediation) != 0 {
			t.Errorf("expected no remediation without source, got %d steps", len(out.Remediation))
		}
	})

	t.Run("AutoRemediateDisabled", func(t *testing.T) {
		f := newFixture(t, false)
		out := f.proc.Process(ctx, domain.ScanRequest{
			ContentType: domain.ContentFile,
			Payload:     domain.Payload{Filename: "keygen.exe"},
			Source:      &domain.Source{IP: "198.51.100.4"},
		})
		if len(out.Remediation) != 0 {
			t.Errorf("expected no remediation, got %d steps", len(out.Remediation))
		}
		if f.healer.State().IsBlocked("198.51.100.4") {
			t.Error("source should not be blocked")
		}
	})

	t.Run("LockUserAction", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.rules.Create(ctx, domain.Rule{
			Name:           "Lock scam senders",
			ConditionLogic: domain.LogicAnd,
			Conditions: []domain.Condition{
				{Field: domain.FieldText, Operator: domain.OpContains, Value: "OTP"},
			},
			Actions:  []domain.Action{{Type: domain.ActionLockUser}},
			IsActive: true,
		})
		if err != nil {
			t.Fatalf("failed to create rule: %v", err)
		}

		out := f.proc.Process(ctx, domain.ScanRequest{
			ContentType: domain.ContentText,
			Payload:     domain.Payload{Text: "Please send your OTP to claim the refund"},
			Source:      &domain.Source{Account: "user-99"},
		})
		if !f.healer.State().IsDisabled("user-99") {
			t.Error("expected lockUser to disable the account")
		}
		if len(out.Remediation) != 1 || out.Remediation[0].Action != healing.ActionDisableAccount {
			t.Errorf("expected one disable_account result, got %+v", out.Remediation)
		}
	})

	t.Run("InsufficientData", func(t *testing.T) {
		f := newFixture(t, true)
		out := f.proc.Process(ctx, domain.ScanRequest{ContentType: domain.ContentQR})
		if out.Item.Verdict != domain.VerdictInsufficientData {
			t.Errorf("expected insufficient_data, got %s", out.Item.Verdict)
		}
		if out.Alert != nil {
			t.Error("expected no alert")
		}
		if out.ThreatID == "" {
			t.Error("expected a threat ID")
		}
	})
}

func TestContentLabel(t *testing.T) {
	if got := contentLabel(domain.ContentQR); got != "qr" {
		t.Errorf("contentLabel(qr) = %q", got)
	}
	if got := contentLabel(domain.ContentType("video")); got != "unknown" {
		t.Errorf("contentLabel(video) = %q, want unknown", got)
	}
}
