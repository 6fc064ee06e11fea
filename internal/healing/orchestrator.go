// Package healing runs automated and manual response actions against
// risky sources and identities and keeps a bounded log of what it did.
package healing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var (
	ErrUnknownAction = errors.New("unknown healing action")
	ErrInvalidTarget = errors.New("invalid healing target")
)

// Action names recorded in the healing log.
const (
	ActionBlockIP        = "block_ip"
	ActionUnblockIP      = "unblock_ip"
	ActionDisableAccount = "disable_account"
	ActionEnableAccount  = "enable_account"
	ActionFirewallRule   = "firewall_rule"
	ActionBackup         = "backup"
	ActionNotify         = "notify"
)

const defaultRecipient = "security-team"

// Store persists healing log entries. *repository.SQLRepository satisfies it.
type Store interface {
	AppendHealingAction(ctx context.Context, action *domain.HealingAction) error
}

// Target identifies what an automated remediation acts on.
type Target struct {
	Source   string `json:"source" validate:"required"`
	Identity string `json:"identity,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// ManualRequest is a single operator-initiated action.
type ManualRequest struct {
	Action   string          `json:"action" validate:"required,oneof=block_ip unblock_ip disable_account enable_account"`
	Target   string          `json:"target" validate:"required"`
	Severity domain.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Actor    string          `json:"actor,omitempty"`
}

// Orchestrator applies remediation steps to a State and records each one.
type Orchestrator struct {
	state     *State
	store     Store
	bus       domain.EventBus
	recipient string
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. store and eventBus may be nil.
func NewOrchestrator(state *State, store Store, eventBus domain.EventBus, cfg domain.HealingConfig) *Orchestrator {
	if state == nil {
		state = NewState(cfg.LogCapacity)
	}
	recipient := cfg.NotifyRecipient
	if recipient == "" {
		recipient = defaultRecipient
	}
	return &Orchestrator{
		state:     state,
		store:     store,
		bus:       eventBus,
		recipient: recipient,
		now:       time.Now,
	}
}

// State returns the underlying state.
func (o *Orchestrator) State() *State { return o.state }

// Snapshot copies the current state.
func (o *Orchestrator) Snapshot() Snapshot { return o.state.Snapshot() }

// FirewallRuleID derives a stable rule ID from source and severity.
func FirewallRuleID(source string, severity domain.Severity) string {
	sum := sha256.Sum256([]byte(source + "|" + string(severity)))
	return "fw-" + hex.EncodeToString(sum[:])[:12]
}

func validIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.String(), true
}

// Remediate runs the automated response sequence: block the source, suspend
// the identity when one is given, synthesize a firewall rule, mark a backup
// and record a notification. Each step is logged before the next one starts.
// A failing step is recorded and the sequence continues.
func (o *Orchestrator) Remediate(ctx context.Context, t Target, severity domain.Severity) []domain.ActionResult {
	ip, ok := validIP(t.Source)
	source := strings.TrimSpace(t.Source)
	if ok {
		source = ip
	}
	results := make([]domain.ActionResult, 0, 5)

	// 1: block source
	results = append(results, o.record(ctx, 1, severity, func(s *sets) domain.HealingAction {
		if !ok {
			return entry(ActionBlockIP, source, false, fmt.Sprintf("invalid IP address %q", source))
		}
		if !s.block(ip) {
			return entry(ActionBlockIP, ip, true, "source already blocked")
		}
		return entry(ActionBlockIP, ip, true, "source blocked")
	}))

	// 2: suspend identity
	if identity := strings.TrimSpace(t.Identity); identity != "" {
		results = append(results, o.record(ctx, 2, severity, func(s *sets) domain.HealingAction {
			if !s.disable(identity) {
				return entry(ActionDisableAccount, identity, true, "account already suspended")
			}
			return entry(ActionDisableAccount, identity, true, "account suspended")
		}))
	}

	// 3: firewall rule
	results = append(results, o.record(ctx, 3, severity, func(s *sets) domain.HealingAction {
		if !ok {
			return entry(ActionFirewallRule, source, false, "no firewall rule for an invalid source")
		}
		rule := domain.FirewallRule{
			ID:          FirewallRuleID(ip, severity),
			Source:      ip,
			Severity:    severity,
			Description: fmt.Sprintf("deny all inbound traffic from %s (severity %s)", ip, severity),
			CreatedAt:   s.now,
		}
		if !s.addRule(rule) {
			return entry(ActionFirewallRule, ip, true, fmt.Sprintf("rule %s already present", rule.ID))
		}
		return entry(ActionFirewallRule, ip, true, fmt.Sprintf("rule %s created", rule.ID))
	}))

	// 4: backup marker
	results = append(results, o.record(ctx, 4, severity, func(*sets) domain.HealingAction {
		return entry(ActionBackup, source, true, "snapshot of affected records scheduled")
	}))

	// 5: notification marker
	recipient := strings.TrimSpace(t.Actor)
	if recipient == "" {
		recipient = o.recipient
	}
	results = append(results, o.record(ctx, 5, severity, func(*sets) domain.HealingAction {
		return entry(ActionNotify, recipient, true, fmt.Sprintf("%s notified of %s remediation for %s", recipient, severity, source))
	}))

	slog.Info("remediation completed",
		"source", source,
		"severity", string(severity),
		"steps", len(results),
	)
	return results
}

// Execute runs one manual action.
func (o *Orchestrator) Execute(ctx context.Context, req ManualRequest) (domain.ActionResult, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return domain.ActionResult{}, fmt.Errorf("%w: target is required", ErrInvalidTarget)
	}

	var m mutation
	switch req.Action {
	case ActionBlockIP, ActionUnblockIP:
		ip, ok := validIP(target)
		if !ok {
			return domain.ActionResult{}, fmt.Errorf("%w: invalid IP address %q", ErrInvalidTarget, target)
		}
		if req.Action == ActionBlockIP {
			m = func(s *sets) domain.HealingAction {
				if !s.block(ip) {
					return entry(ActionBlockIP, ip, true, "source already blocked")
				}
				return entry(ActionBlockIP, ip, true, "source blocked")
			}
		} else {
			m = func(s *sets) domain.HealingAction {
				if !s.unblock(ip) {
					return entry(ActionUnblockIP, ip, true, "source was not blocked")
				}
				return entry(ActionUnblockIP, ip, true, "source unblocked")
			}
		}
	case ActionDisableAccount:
		m = func(s *sets) domain.HealingAction {
			if !s.disable(target) {
				return entry(ActionDisableAccount, target, true, "account already suspended")
			}
			return entry(ActionDisableAccount, target, true, "account suspended")
		}
	case ActionEnableAccount:
		m = func(s *sets) domain.HealingAction {
			if !s.enable(target) {
				return entry(ActionEnableAccount, target, true, "account was not suspended")
			}
			return entry(ActionEnableAccount, target, true, "account re-enabled")
		}
	default:
		return domain.ActionResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	res := o.record(ctx, 0, req.Severity, m)
	slog.Info("manual healing action",
		"action", req.Action,
		"target", res.Target,
		"actor", req.Actor,
	)
	return res, nil
}

func entry(action, target string, success bool, result string) domain.HealingAction {
	return domain.HealingAction{Action: action, Target: target, Success: success, Result: result}
}

// record applies m, then persists, publishes and counts the resulting entry.
func (o *Orchestrator) record(ctx context.Context, step int, severity domain.Severity, m mutation) domain.ActionResult {
	e, blocked, disabled := o.state.apply(o.now, func(s *sets) domain.HealingAction {
		e := m(s)
		e.ID = uuid.New().String()
		e.Severity = severity
		return e
	})

	metrics.RecordHealingAction(e.Action, e.Success)
	metrics.BlockedSources.Set(float64(blocked))
	metrics.DisabledIdentities.Set(float64(disabled))

	if o.store != nil {
		if err := o.store.AppendHealingAction(ctx, &e); err != nil {
			slog.Error("failed to persist healing action", "action_id", e.ID, "action", e.Action, "error", err)
		}
	}
	if o.bus != nil {
		if err := bus.PublishJSON(ctx, o.bus, domain.TopicHealingAction, e); err != nil {
			slog.Warn("failed to publish healing action", "action_id", e.ID, "error", err)
		}
	}
	if !e.Success {
		slog.Warn("healing step failed", "step", step, "action", e.Action, "target", e.Target, "result", e.Result)
	}

	return domain.ActionResult{
		Step:    step,
		Action:  e.Action,
		Target:  e.Target,
		Success: e.Success,
		Result:  e.Result,
	}
}
