// Package rules evaluates operator-authored detection rules against scored items.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/validation"
)

var (
	ErrInvalidRule = errors.New("invalid rule")
	ErrNotFound    = errors.New("rule not found")
)

// Store persists rule definitions. domain.Repository satisfies it.
type Store interface {
	SaveRule(ctx context.Context, rule *domain.Rule) error
	ListRules(ctx context.Context) ([]*domain.Rule, error)
	DeleteRule(ctx context.Context, ruleID string) error
}

// Engine holds the loaded rules and evaluates them concurrently.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      map[string]*loadedRule
	store      Store
	maxWorkers int
	now        func() time.Time
}

// loadedRule is a rule definition plus its compiled guard and live counters.
// The counters pointer survives edits so in-flight matches are never lost.
type loadedRule struct {
	def      domain.Rule
	program  cel.Program
	counters *counters
}

type counters struct {
	triggered atomic.Int64
	last      atomic.Pointer[time.Time]
}

// Result is the outcome of evaluating all active rules against one item.
type Result struct {
	Matched  []domain.Rule        `json:"matched"`
	Actions  []domain.Action      `json:"actions"`
	Triggers []domain.RuleTrigger `json:"-"`
}

// MatchedIDs returns the IDs of the matched rules.
func (r Result) MatchedIDs() []string {
	ids := make([]string, len(r.Matched))
	for i, m := range r.Matched {
		ids[i] = m.ID
	}
	return ids
}

// NewEngine creates a rule engine. store may be nil for an in-memory engine.
func NewEngine(store Store, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("confidence", cel.IntType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("categories", cel.ListType(cel.StringType)),
		cel.Variable("content", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("url", cel.StringType),
		cel.Variable("verdict", cel.StringType),
		cel.Variable("raw", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		rules:      make(map[string]*loadedRule),
		store:      store,
		maxWorkers: maxWorkers,
		now:        time.Now,
	}, nil
}

// Validate checks a rule definition without loading it.
func (e *Engine) Validate(rule *domain.Rule) error {
	_, err := e.compile(rule)
	return err
}

func (e *Engine) compile(rule *domain.Rule) (cel.Program, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	if err := validation.ValidateStruct(rule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	for i, c := range rule.Conditions {
		if err := validateCondition(i, c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	if rule.Expression == "" {
		return nil, nil
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: expression: %v", ErrInvalidRule, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidRule, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: expression: %v", ErrInvalidRule, err)
	}
	return program, nil
}

// Load replaces the loaded rules with those in the store.
// Stored rules that no longer compile are skipped with a warning.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	stored, err := e.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	loaded := make(map[string]*loadedRule, len(stored))
	for _, r := range stored {
		program, err := e.compile(r)
		if err != nil {
			slog.Warn("skipping stored rule",
				"rule_id", r.ID,
				"error", err,
			)
			continue
		}
		c := &counters{}
		c.triggered.Store(r.TriggeredCount)
		if r.LastTriggered != nil {
			t := *r.LastTriggered
			c.last.Store(&t)
		}
		loaded[r.ID] = &loadedRule{def: *r, program: program, counters: c}
	}

	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()
	metrics.RulesLoaded.Set(float64(len(loaded)))
	return nil
}

// Reload is Load under the name the HTTP layer exposes.
func (e *Engine) Reload(ctx context.Context) error {
	return e.Load(ctx)
}

// Create validates, persists and loads a new rule. Counters always start at zero.
func (e *Engine) Create(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := e.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.TriggeredCount = 0
	rule.LastTriggered = nil

	program, err := e.compile(&rule)
	if err != nil {
		return domain.Rule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.ID]; exists {
		return domain.Rule{}, fmt.Errorf("%w: rule %s already exists", ErrInvalidRule, rule.ID)
	}
	if err := e.persist(ctx, &rule); err != nil {
		return domain.Rule{}, err
	}
	e.rules[rule.ID] = &loadedRule{def: rule, program: program, counters: &counters{}}
	metrics.RulesLoaded.Set(float64(len(e.rules)))
	return rule, nil
}

// Update replaces a rule's definition. TriggeredCount, LastTriggered and
// CreatedAt are preserved regardless of the submitted values.
func (e *Engine) Update(ctx context.Context, id string, rule domain.Rule) (domain.Rule, error) {
	rule.ID = id
	program, err := e.compile(&rule)
	if err != nil {
		return domain.Rule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.rules[id]
	if !ok {
		return domain.Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rule.CreatedAt = current.def.CreatedAt
	rule.UpdatedAt = e.now().UTC()

	next := &loadedRule{def: rule, program: program, counters: current.counters}
	snapshot := next.snapshot()
	if err := e.persist(ctx, &snapshot); err != nil {
		return domain.Rule{}, err
	}
	e.rules[id] = next
	return snapshot, nil
}

// SetActive toggles a rule without touching its counters.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (domain.Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.rules[id]
	if !ok {
		return domain.Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	def := current.def
	def.IsActive = active
	def.UpdatedAt = e.now().UTC()

	next := &loadedRule{def: def, program: current.program, counters: current.counters}
	snapshot := next.snapshot()
	if err := e.persist(ctx, &snapshot); err != nil {
		return domain.Rule{}, err
	}
	e.rules[id] = next
	return snapshot, nil
}

// Delete removes a rule from the engine and the store.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.store != nil {
		if err := e.store.DeleteRule(ctx, id); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}
	}
	delete(e.rules, id)
	metrics.RulesLoaded.Set(float64(len(e.rules)))
	return nil
}

func (e *Engine) persist(ctx context.Context, rule *domain.Rule) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// Get returns a rule with its current counters.
func (e *Engine) Get(id string) (domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rules[id]
	if !ok {
		return domain.Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.snapshot(), nil
}

// List returns every loaded rule ordered by ID.
func (e *Engine) List() []domain.Rule {
	e.mu.RLock()
	out := make([]domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.snapshot())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate matches every active rule against item. Matched rules are returned
// ordered by ID with their counters already incremented; actions are the
// union of the matched rules' actions in order of first appearance.
func (e *Engine) Evaluate(ctx context.Context, item *domain.ScoredItem) (Result, error) {
	e.mu.RLock()
	active := make([]*loadedRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.def.IsActive {
			active = append(active, r)
		}
	}
	e.mu.RUnlock()

	if len(active) == 0 {
		return Result{}, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].def.ID < active[j].def.ID })

	vars := activation(item)
	hits := make([]bool, len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for i, r := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits[i] = r.matches(item, vars)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	now := e.now().UTC()
	for i, r := range active {
		if !hits[i] {
			continue
		}
		count := r.counters.triggered.Add(1)
		t := now
		r.counters.last.Store(&t)

		snap := r.snapshot()
		metrics.RuleMatches.WithLabelValues(snap.ID).Inc()
		res.Matched = append(res.Matched, snap)
		res.Triggers = append(res.Triggers, domain.RuleTrigger{
			RuleID:         snap.ID,
			TriggeredCount: count,
			LastTriggered:  now,
		})
		for _, a := range snap.Actions {
			if !slices.ContainsFunc(res.Actions, func(x domain.Action) bool { return x.Type == a.Type }) {
				res.Actions = append(res.Actions, a)
			}
		}
	}
	return res, nil
}

func (r *loadedRule) matches(item *domain.ScoredItem, vars map[string]any) bool {
	if !Match(&r.def, item) {
		return false
	}
	if r.program == nil {
		return true
	}
	out, _, err := r.program.Eval(vars)
	if err != nil {
		slog.Debug("rule expression evaluation failed",
			"rule_id", r.def.ID,
			"error", err,
		)
		return false
	}
	return out == types.True
}

func (r *loadedRule) snapshot() domain.Rule {
	def := r.def
	def.Conditions = slices.Clone(r.def.Conditions)
	def.Actions = slices.Clone(r.def.Actions)
	def.TriggeredCount = r.counters.triggered.Load()
	def.LastTriggered = nil
	if t := r.counters.last.Load(); t != nil {
		last := *t
		def.LastTriggered = &last
	}
	return def
}

func activation(item *domain.ScoredItem) map[string]any {
	raw := item.RawFields
	if raw == nil {
		raw = map[string]string{}
	}
	categories := item.Categories
	if categories == nil {
		categories = []string{}
	}
	return map[string]any{
		"risk_score":   int64(item.RiskScore),
		"confidence":   int64(item.Confidence),
		"severity":     string(item.Severity),
		"category":     item.PrimaryCategory(),
		"categories":   categories,
		"content":      item.Content,
		"content_type": string(item.ContentType),
		"url":          item.URL(),
		"verdict":      item.Verdict,
		"raw":          raw,
	}
}

// Close unloads all rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*loadedRule)
	return nil
}
