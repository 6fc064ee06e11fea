package healing

import (
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultCapacity bounds the healing log and firewall rule history.
const DefaultCapacity = 50

// State holds the orchestrator's mutable state behind a single mutex:
// blocked sources, disabled identities, the healing log and the firewall
// rule history.
type State struct {
	mu       sync.Mutex
	blocked  map[string]time.Time
	disabled map[string]time.Time
	log      *Ring[domain.HealingAction]
	rules    *Ring[domain.FirewallRule]
}

// NewState creates an empty state with the given ring capacity.
func NewState(capacity int) *State {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &State{
		blocked:  make(map[string]time.Time),
		disabled: make(map[string]time.Time),
		log:      NewRing[domain.HealingAction](capacity),
		rules:    NewRing[domain.FirewallRule](capacity),
	}
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	BlockedSources     []string               `json:"blockedSources"`
	DisabledIdentities []string               `json:"disabledIdentities"`
	FirewallRules      []domain.FirewallRule  `json:"firewallRules"`
	Log                []domain.HealingAction `json:"log"`
}

// mutation is a step applied to the sets while the lock is held. It
// returns the log entry describing what it did.
type mutation func(s *sets) domain.HealingAction

// sets exposes the guarded collections to a mutation.
type sets struct {
	state *State
	now   time.Time
}

func (s *sets) block(ip string) bool {
	if _, ok := s.state.blocked[ip]; ok {
		return false
	}
	s.state.blocked[ip] = s.now
	return true
}

func (s *sets) unblock(ip string) bool {
	if _, ok := s.state.blocked[ip]; !ok {
		return false
	}
	delete(s.state.blocked, ip)
	return true
}

func (s *sets) disable(account string) bool {
	if _, ok := s.state.disabled[account]; ok {
		return false
	}
	s.state.disabled[account] = s.now
	return true
}

func (s *sets) enable(account string) bool {
	if _, ok := s.state.disabled[account]; !ok {
		return false
	}
	delete(s.state.disabled, account)
	return true
}

// addRule records r unless a rule with the same ID is still in the history.
func (s *sets) addRule(r domain.FirewallRule) bool {
	if s.state.rules.Contains(func(existing domain.FirewallRule) bool { return existing.ID == r.ID }) {
		return false
	}
	s.state.rules.Push(r)
	return true
}

// apply runs m and appends its log entry in one critical section, so the
// entry and any eviction are visible together.
func (st *State) apply(clock func() time.Time, m mutation) (entry domain.HealingAction, blocked, disabled int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := clock().UTC()
	entry = m(&sets{state: st, now: now})
	entry.Time = now
	st.log.Push(entry)
	return entry, len(st.blocked), len(st.disabled)
}

// IsBlocked reports whether ip is blocked.
func (st *State) IsBlocked(ip string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.blocked[ip]
	return ok
}

// IsDisabled reports whether account is disabled.
func (st *State) IsDisabled(account string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.disabled[account]
	return ok
}

// Log returns up to limit log entries, newest first.
func (st *State) Log(limit int) []domain.HealingAction {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.log.Newest(limit)
}

// Snapshot copies the full state.
func (st *State) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		BlockedSources:     sortedKeys(st.blocked),
		DisabledIdentities: sortedKeys(st.disabled),
		FirewallRules:      st.rules.Newest(0),
		Log:                st.log.Newest(0),
	}
}

func sortedKeys(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
