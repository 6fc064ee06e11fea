// Package alerts manages the alert lifecycle: raising alerts for risky scans
// and moving them through open, escalated, resolved and dismissed.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var (
	ErrNotFound          = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert transition")
	ErrActorRequired     = errors.New("actor is required")
)

// Transition actions accepted by Transition.
const (
	ActionEscalate = "escalate"
	ActionResolve  = "resolve"
	ActionAccept   = "accept"
	ActionDismiss  = "dismiss"
)

var actionTargets = map[string]domain.AlertStatus{
	ActionEscalate: domain.AlertEscalated,
	ActionResolve:  domain.AlertResolved,
	ActionAccept:   domain.AlertResolved,
	ActionDismiss:  domain.AlertDismissed,
}

var transitions = map[domain.AlertStatus][]domain.AlertStatus{
	domain.AlertOpen:      {domain.AlertEscalated, domain.AlertResolved, domain.AlertDismissed},
	domain.AlertEscalated: {domain.AlertResolved, domain.AlertDismissed},
}

// ValidTargets returns the statuses reachable from s. Terminal statuses have none.
func ValidTargets(s domain.AlertStatus) []domain.AlertStatus {
	return append([]domain.AlertStatus(nil), transitions[s]...)
}

func allowed(from, to domain.AlertStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionRequest asks for one lifecycle step.
type TransitionRequest struct {
	Action    string `json:"action" validate:"required,oneof=escalate resolve accept dismiss"`
	Actor     string `json:"actor,omitempty" validate:"max=128"`
	Assignee  string `json:"assignee,omitempty" validate:"max=128"`
	ReasonTag string `json:"reasonTag,omitempty" validate:"max=64"`
}

// Store persists alerts. *repository.SQLRepository satisfies it.
type Store interface {
	SaveAlert(ctx context.Context, alert *domain.Alert) error
	GetAlert(ctx context.Context, alertID string) (*domain.Alert, error)
	ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.Alert, error)
}

// Manager owns the in-memory alert index and writes every change through to
// the store. The store and bus are optional.
type Manager struct {
	mu     sync.RWMutex
	alerts map[string]*domain.Alert
	store  Store
	bus    domain.EventBus
	now    func() time.Time
}

// NewManager creates an alert manager.
func NewManager(store Store, eventBus domain.EventBus) *Manager {
	return &Manager{
		alerts: make(map[string]*domain.Alert),
		store:  store,
		bus:    eventBus,
		now:    time.Now,
	}
}

// Load warms the index with the most recent persisted alerts.
func (m *Manager) Load(ctx context.Context, limit int) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	stored, err := m.store.ListAlerts(ctx, "", limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load alerts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range stored {
		if _, ok := m.alerts[a.ID]; !ok {
			m.alerts[a.ID] = a
		}
	}
	return len(stored), nil
}

// ShouldRaise reports whether a scored item with the given rule actions
// warrants an alert.
func ShouldRaise(item *domain.ScoredItem, actions []domain.Action) bool {
	if item.Severity.AtLeast(domain.SeverityHigh) {
		return true
	}
	return domain.HasAction(actions, domain.ActionEscalate) ||
		domain.HasAction(actions, domain.ActionMarkCritical) ||
		domain.HasAction(actions, domain.ActionBlockContent)
}

// Raise creates an open alert for a threat.
func (m *Manager) Raise(ctx context.Context, threatID string, item *domain.ScoredItem, actions []domain.Action, matchedRules []string) (*domain.Alert, error) {
	severity := item.Severity
	if domain.HasAction(actions, domain.ActionMarkCritical) {
		severity = domain.SeverityCritical
	}

	now := m.now().UTC()
	alert := &domain.Alert{
		ID:               uuid.New().String(),
		ThreatID:         threatID,
		Title:            title(severity, item),
		Description:      description(item),
		Severity:         severity,
		Status:           domain.AlertOpen,
		SuggestedActions: SuggestActions(severity, item.Categories, actions),
		MatchedRules:     append([]string(nil), matchedRules...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m.mu.Lock()
	m.alerts[alert.ID] = alert
	out := alert.Clone()
	m.persist(ctx, out)
	m.mu.Unlock()

	metrics.AlertsRaised.WithLabelValues(string(severity)).Inc()
	slog.Info("alert raised",
		"alert_id", out.ID,
		"threat_id", threatID,
		"severity", string(severity),
		"matched_rules", len(matchedRules),
	)
	m.publish(ctx, domain.TopicAlertRaised, out)
	return out, nil
}

// Transition applies one lifecycle step to an alert.
func (m *Manager) Transition(ctx context.Context, id string, req TransitionRequest) (*domain.Alert, error) {
	target, ok := actionTargets[req.Action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, req.Action)
	}
	actor := strings.TrimSpace(req.Actor)
	assignee := strings.TrimSpace(req.Assignee)
	switch {
	case target == domain.AlertEscalated && actor == "" && assignee == "":
		return nil, fmt.Errorf("%w: escalate needs an actor or an assignee", ErrActorRequired)
	case target != domain.AlertEscalated && actor == "":
		return nil, fmt.Errorf("%w: %s needs an actor", ErrActorRequired, req.Action)
	}

	m.mu.Lock()
	alert, err := m.lookupLocked(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	from := alert.Status
	if !allowed(from, target) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	now := m.now().UTC()
	alert.Status = target
	alert.UpdatedAt = now
	if req.ReasonTag != "" {
		alert.ReasonTag = req.ReasonTag
	}
	switch target {
	case domain.AlertEscalated:
		alert.AssignedTo = assignee
		if alert.AssignedTo == "" {
			alert.AssignedTo = actor
		}
	case domain.AlertResolved:
		alert.ResolvedBy = actor
		alert.ResolvedAt = &now
	}
	out := alert.Clone()
	m.persist(ctx, out)
	m.mu.Unlock()

	metrics.AlertTransitions.WithLabelValues(string(from), string(target)).Inc()
	slog.Info("alert transitioned",
		"alert_id", id,
		"from", string(from),
		"to", string(target),
		"actor", actor,
	)
	m.publish(ctx, domain.TopicAlertTransitioned, domain.AlertEvent{
		AlertID:   id,
		From:      from,
		To:        target,
		Action:    req.Action,
		Actor:     actor,
		ReasonTag: req.ReasonTag,
		At:        now,
	})
	return out, nil
}

// Get returns a copy of an alert.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Alert, error) {
	m.mu.RLock()
	a, ok := m.alerts[id]
	if ok {
		out := a.Clone()
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// List returns alerts newest first, optionally filtered by status.
func (m *Manager) List(status domain.AlertStatus, limit int) []*domain.Alert {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	out := make([]*domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if status == "" || a.Status == status {
			out = append(out, a.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// lookupLocked finds an alert in memory, then in the store. Caller holds mu.
func (m *Manager) lookupLocked(ctx context.Context, id string) (*domain.Alert, error) {
	if a, ok := m.alerts[id]; ok {
		return a, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a, err := m.store.GetAlert(ctx, id)
	if err != nil || a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.alerts[a.ID] = a
	return a, nil
}

// persist writes an alert through to the store. It runs under mu so writes
// for one alert reach the store in transition order.
func (m *Manager) persist(ctx context.Context, a *domain.Alert) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAlert(ctx, a); err != nil {
		slog.Error("failed to persist alert", "alert_id", a.ID, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, topic string, v any) {
	if m.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, m.bus, topic, v); err != nil {
		slog.Warn("failed to publish alert event", "topic", topic, "error", err)
	}
}
