package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	alerts  map[string]*domain.Alert
	saves   int
	failErr error
}

func newMemStore() *memStore {
	return &memStore{alerts: make(map[string]*domain.Alert)}
}

func (s *memStore) SaveAlert(_ context.Context, a *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failErr != nil {
		return s.failErr
	}
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *memStore) GetAlert(_ context.Context, id string) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return a.Clone(), nil
}

func (s *memStore) ListAlerts(_ context.Context, status domain.AlertStatus, _ int) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, a := range s.alerts {
		if status == "" || a.Status == status {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func highItem() *domain.ScoredItem {
	return &domain.ScoredItem{
		ContentType: domain.ContentFile,
		RiskScore:   70,
		Confidence:  80,
		Severity:    domain.SeverityHigh,
		Categories:  []string{"Pirated Software", "Malware Risk"},
		Explanation: domain.Explanation{Reason: "filename matches pirated-naming"},
	}
}

func TestShouldRaise(t *testing.T) {
	low := &domain.ScoredItem{Severity: domain.SeverityLow}
	medium := &domain.ScoredItem{Severity: domain.SeverityMedium}

	assert.False(t, ShouldRaise(low, nil))
	assert.False(t, ShouldRaise(medium, []domain.Action{{Type: domain.ActionNotifyAdmin}}))
	assert.True(t, ShouldRaise(highItem(), nil))
	assert.True(t, ShouldRaise(&domain.ScoredItem{Severity: domain.SeverityCritical}, nil))
	assert.True(t, ShouldRaise(low, []domain.Action{{Type: domain.ActionEscalate}}))
	assert.True(t, ShouldRaise(low, []domain.Action{{Type: domain.ActionMarkCritical}}))
	assert.True(t, ShouldRaise(low, []domain.Action{{Type: domain.ActionBlockContent}}))
}

func TestRaise(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil)

	t.Run("OpenWithSuggestions", func(t *testing.T) {
		a, err := m.Raise(ctx, "threat-1", highItem(), nil, []string{"rule-a"})
		require.NoError(t, err)
		assert.Equal(t, domain.AlertOpen, a.Status)
		assert.Equal(t, domain.SeverityHigh, a.Severity)
		assert.Equal(t, "threat-1", a.ThreatID)
		assert.Equal(t, []string{"rule-a"}, a.MatchedRules)
		assert.Contains(t, a.SuggestedActions, "Quarantine the file")
		assert.Contains(t, a.Title, "Pirated Software")

		stored, err := store.GetAlert(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertOpen, stored.Status)
	})

	t.Run("MarkCriticalForcesCritical", func(t *testing.T) {
		item := &domain.ScoredItem{Severity: domain.SeverityLow, Categories: []string{"Clean"}}
		a, err := m.Raise(ctx, "threat-2", item, []domain.Action{{Type: domain.ActionMarkCritical}}, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.SeverityCritical, a.Severity)
	})

	t.Run("ReturnsCopy", func(t *testing.T) {
		a, err := m.Raise(ctx, "threat-3", highItem(), nil, nil)
		require.NoError(t, err)
		a.Status = domain.AlertResolved
		got, err := m.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertOpen, got.Status)
	})
}

func TestSuggestActionsNeverEmpty(t *testing.T) {
	assert.Equal(t, []string{"Monitor for recurrence"}, SuggestActions("", nil, nil))
	assert.NotEmpty(t, SuggestActions(domain.SeverityMedium, []string{"Unknown"}, nil))

	got := SuggestActions(domain.SeverityLow, []string{"Financial Scam", "Payment Fraud"},
		[]domain.Action{{Type: domain.ActionLockUser}})
	assert.Equal(t, []string{
		"Monitor for recurrence",
		"Warn the recipient about payment fraud",
		"Review the suspended account",
	}, got)
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("EscalateThenResolve", func(t *testing.T) {
		m := NewManager(newMemStore(), nil)
		a, err := m.Raise(ctx, "t", highItem(), nil, nil)
		require.NoError(t, err)

		esc, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Actor: "ana"})
		require.NoError(t, err)
		assert.Equal(t, domain.AlertEscalated, esc.Status)
		assert.Equal(t, "ana", esc.AssignedTo)

		res, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionResolve, Actor: "ana", ReasonTag: "true_positive"})
		require.NoError(t, err)
		assert.Equal(t, domain.AlertResolved, res.Status)
		assert.Equal(t, "ana", res.ResolvedBy)
		require.NotNil(t, res.ResolvedAt)
		assert.Equal(t, "true_positive", res.ReasonTag)
	})

	t.Run("EscalateToAssignee", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		esc, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Actor: "ana", Assignee: "ben"})
		require.NoError(t, err)
		assert.Equal(t, "ben", esc.AssignedTo)
	})

	t.Run("AcceptIsResolve", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		res, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionAccept, Actor: "ana"})
		require.NoError(t, err)
		assert.Equal(t, domain.AlertResolved, res.Status)
	})

	t.Run("ResolveRequiresActor", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionResolve, Actor: "  "})
		require.ErrorIs(t, err, ErrActorRequired)

		got, _ := m.Get(ctx, a.ID)
		assert.Equal(t, domain.AlertOpen, got.Status)
	})

	t.Run("DismissRequiresActor", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionDismiss})
		require.ErrorIs(t, err, ErrActorRequired)

		got, _ := m.Get(ctx, a.ID)
		assert.Equal(t, domain.AlertOpen, got.Status)
	})

	t.Run("EscalateRequiresReviewer", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Assignee: " "})
		require.ErrorIs(t, err, ErrActorRequired)

		got, _ := m.Get(ctx, a.ID)
		assert.Equal(t, domain.AlertOpen, got.Status)

		esc, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Assignee: "ben"})
		require.NoError(t, err)
		assert.Equal(t, "ben", esc.AssignedTo)
	})

	t.Run("TerminalStatesReject", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionDismiss, Actor: "ana"})
		require.NoError(t, err)

		for _, action := range []string{ActionEscalate, ActionResolve, ActionDismiss} {
			_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: action, Actor: "ana"})
			assert.ErrorIs(t, err, ErrInvalidTransition, action)
		}
	})

	t.Run("EscalatedCannotEscalate", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Actor: "ana"})
		require.NoError(t, err)
		_, err = m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Actor: "ana"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		m := NewManager(nil, nil)
		a, _ := m.Raise(ctx, "t", highItem(), nil, nil)
		_, err := m.Transition(ctx, a.ID, TransitionRequest{Action: "reopen"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("NotFound", func(t *testing.T) {
		m := NewManager(newMemStore(), nil)
		_, err := m.Transition(ctx, "missing", TransitionRequest{Action: ActionDismiss, Actor: "ana"})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PersistFailureIsLogged", func(t *testing.T) {
		store := newMemStore()
		store.failErr = errors.New("disk full")
		m := NewManager(store, nil)
		a, err := m.Raise(ctx, "t", highItem(), nil, nil)
		require.NoError(t, err)
		_, err = m.Transition(ctx, a.ID, TransitionRequest{Action: ActionDismiss, Actor: "ana"})
		require.NoError(t, err)
		assert.Equal(t, 2, store.saves)
	})
}

func TestValidTargets(t *testing.T) {
	assert.Equal(t, []domain.AlertStatus{domain.AlertEscalated, domain.AlertResolved, domain.AlertDismissed}, ValidTargets(domain.AlertOpen))
	assert.Equal(t, []domain.AlertStatus{domain.AlertResolved, domain.AlertDismissed}, ValidTargets(domain.AlertEscalated))
	assert.Empty(t, ValidTargets(domain.AlertResolved))
	assert.Empty(t, ValidTargets(domain.AlertDismissed))
}

func TestConcurrentResolve(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	a, _ := m.Raise(ctx, "t", highItem(), nil, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Transition(ctx, a.ID, TransitionRequest{Action: ActionResolve, Actor: "ana"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	var ids []string
	for range 3 {
		a, err := m.Raise(ctx, "t", highItem(), nil, nil)
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	_, err := m.Transition(ctx, ids[0], TransitionRequest{Action: ActionDismiss, Actor: "ana"})
	require.NoError(t, err)

	all := m.List("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	open := m.List(domain.AlertOpen, 0)
	assert.Len(t, open, 2)
	assert.Len(t, m.List("", 1), 1)

	fresh := NewManager(store, nil)
	n, err := fresh.Load(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fresh.List(domain.AlertDismissed, 0), 1)
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(16)
	defer b.Close()

	raised := make(chan *domain.Message, 4)
	transitioned := make(chan *domain.Message, 4)
	_, err := b.Subscribe(ctx, domain.TopicAlertRaised, func(_ context.Context, msg *domain.Message) error {
		raised <- msg
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, domain.TopicAlertTransitioned, func(_ context.Context, msg *domain.Message) error {
		transitioned <- msg
		return nil
	})
	require.NoError(t, err)

	m := NewManager(nil, b)
	a, err := m.Raise(ctx, "t", highItem(), nil, nil)
	require.NoError(t, err)
	_, err = m.Transition(ctx, a.ID, TransitionRequest{Action: ActionEscalate, Actor: "ana"})
	require.NoError(t, err)

	select {
	case msg := <-raised:
		var got domain.Alert
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, a.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("no raised event")
	}

	select {
	case msg := <-transitioned:
		var ev domain.AlertEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, a.ID, ev.AlertID)
		assert.Equal(t, domain.AlertOpen, ev.From)
		assert.Equal(t, domain.AlertEscalated, ev.To)
		assert.Equal(t, "ana", ev.Actor)
	case <-time.After(time.Second):
		t.Fatal("no transition event")
	}
}
