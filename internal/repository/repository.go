// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const defaultListLimit = 100

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && !isMemory(cfg.SQLitePath) {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveThreat stores the scored item of one scan.
func (r *SQLRepository) SaveThreat(ctx context.Context, threat *domain.Threat) error {
	if threat == nil || threat.ID == "" {
		return fmt.Errorf("%w: threat id is required", ErrInvalidInput)
	}

	item, err := json.Marshal(threat.Item)
	if err != nil {
		return fmt.Errorf("encode threat item: %w", err)
	}

	query := `
		INSERT INTO threats (
			id, content_type, fingerprint, risk_score, severity, primary_category, item, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		threat.ID, string(threat.Item.ContentType), threat.Item.Fingerprint,
		threat.Item.RiskScore, string(threat.Item.Severity), threat.Item.PrimaryCategory(),
		string(item), threat.CreatedAt.UTC(),
	)
	return err
}

// GetThreat retrieves a threat by ID.
func (r *SQLRepository) GetThreat(ctx context.Context, threatID string) (*domain.Threat, error) {
	query := `SELECT id, item, created_at FROM threats WHERE id = ?`

	threat, err := scanThreat(r.db.QueryRowContext(ctx, r.rebind(query), threatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return threat, err
}

// ListThreats returns the most recent threats, newest first.
func (r *SQLRepository) ListThreats(ctx context.Context, limit int) ([]*domain.Threat, error) {
	query := `
		SELECT id, item, created_at
		FROM threats
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threats []*domain.Threat
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThreat(s scanner) (*domain.Threat, error) {
	var t domain.Threat
	var item string
	if err := s.Scan(&t.ID, &item, &t.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(item), &t.Item); err != nil {
		return nil, fmt.Errorf("failed to parse threat %s: %w", t.ID, err)
	}
	return &t, nil
}

// SaveAlert inserts or updates an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	suggested, _ := json.Marshal(nonNil(alert.SuggestedActions))
	matched, _ := json.Marshal(nonNil(alert.MatchedRules))

	var resolvedAt sql.NullTime
	if alert.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: alert.ResolvedAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO alerts (
			id, threat_id, title, description, severity, status, suggested_actions,
			assigned_to, resolved_by, resolved_at, reason_tag, matched_rules, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			suggested_actions = excluded.suggested_actions,
			assigned_to = excluded.assigned_to,
			resolved_by = excluded.resolved_by,
			resolved_at = excluded.resolved_at,
			reason_tag = excluded.reason_tag,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.ThreatID, alert.Title, alert.Description,
		string(alert.Severity), string(alert.Status), string(suggested),
		alert.AssignedTo, alert.ResolvedBy, resolvedAt, alert.ReasonTag, string(matched),
		alert.CreatedAt.UTC(), alert.UpdatedAt.UTC(),
	)
	return err
}

const alertColumns = `id, threat_id, title, description, severity, status, suggested_actions,
	assigned_to, resolved_by, resolved_at, reason_tag, matched_rules, created_at, updated_at`

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts returns recent alerts, newest first. An empty status lists all.
func (r *SQLRepository) ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(s scanner) (*domain.Alert, error) {
	var a domain.Alert
	var severity, status, suggested, matched string
	var description, assignedTo, resolvedBy, reasonTag sql.NullString
	var resolvedAt sql.NullTime

	if err := s.Scan(
		&a.ID, &a.ThreatID, &a.Title, &description, &severity, &status, &suggested,
		&assignedTo, &resolvedBy, &resolvedAt, &reasonTag, &matched, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Description = description.String
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	a.AssignedTo = assignedTo.String
	a.ResolvedBy = resolvedBy.String
	a.ReasonTag = reasonTag.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(suggested), &a.SuggestedActions); err != nil {
		return nil, fmt.Errorf("failed to parse alert %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(matched), &a.MatchedRules); err != nil {
		return nil, fmt.Errorf("failed to parse alert %s: %w", a.ID, err)
	}
	return &a, nil
}

// SaveRule inserts or updates a rule definition, including its counters.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	actions, err := json.Marshal(nonNilActions(rule.Actions))
	if err != nil {
		return fmt.Errorf("encode rule actions: %w", err)
	}

	active := 0
	if rule.IsActive {
		active = 1
	}
	var lastTriggered sql.NullTime
	if rule.LastTriggered != nil {
		lastTriggered = sql.NullTime{Time: rule.LastTriggered.UTC(), Valid: true}
	}

	query := `
		INSERT INTO rules (
			id, name, description, conditions, condition_logic, actions, expression,
			is_active, triggered_count, last_triggered, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			conditions = excluded.conditions,
			condition_logic = excluded.condition_logic,
			actions = excluded.actions,
			expression = excluded.expression,
			is_active = excluded.is_active,
			triggered_count = excluded.triggered_count,
			last_triggered = excluded.last_triggered,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(conditions), string(rule.ConditionLogic),
		string(actions), rule.Expression, active, rule.TriggeredCount, lastTriggered,
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	return err
}

const ruleColumns = `id, name, description, conditions, condition_logic, actions, expression,
	is_active, triggered_count, last_triggered, created_at, updated_at`

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules returns every stored rule, active or not, ordered by ID.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(s scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var description, expression sql.NullString
	var conditions, logic, actions string
	var active int
	var lastTriggered sql.NullTime

	if err := s.Scan(
		&rule.ID, &rule.Name, &description, &conditions, &logic, &actions, &expression,
		&active, &rule.TriggeredCount, &lastTriggered, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Expression = expression.String
	rule.ConditionLogic = domain.ConditionLogic(logic)
	rule.IsActive = active == 1
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggered = &t
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse rule conditions for %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to parse rule actions for %s: %w", rule.ID, err)
	}
	return &rule, nil
}

// DeleteRule removes a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRuleTrigger stores the latest counter values of a matched rule.
// Counts only move forward so concurrent writers cannot regress them.
func (r *SQLRepository) RecordRuleTrigger(ctx context.Context, trigger domain.RuleTrigger) error {
	query := `
		UPDATE rules
		SET triggered_count = ?, last_triggered = ?
		WHERE id = ? AND triggered_count < ?
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		trigger.TriggeredCount, trigger.LastTriggered.UTC(), trigger.RuleID, trigger.TriggeredCount,
	)
	return err
}

// AppendHealingAction appends an entry to the healing log.
func (r *SQLRepository) AppendHealingAction(ctx context.Context, action *domain.HealingAction) error {
	if action == nil || action.ID == "" {
		return fmt.Errorf("%w: healing action id is required", ErrInvalidInput)
	}

	success := 0
	if action.Success {
		success = 1
	}

	query := `
		INSERT INTO healing_actions (id, logged_at, action, target, severity, result, success)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		action.ID, action.Time.UTC(), action.Action, action.Target,
		string(action.Severity), action.Result, success,
	)
	return err
}

// ListHealingActions returns the most recent healing log entries, newest first.
func (r *SQLRepository) ListHealingActions(ctx context.Context, limit int) ([]*domain.HealingAction, error) {
	query := `
		SELECT id, logged_at, action, target, severity, result, success
		FROM healing_actions
		ORDER BY logged_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*domain.HealingAction
	for rows.Next() {
		var a domain.HealingAction
		var severity string
		var success int
		if err := rows.Scan(&a.ID, &a.Time, &a.Action, &a.Target, &severity, &a.Result, &success); err != nil {
			return nil, err
		}
		a.Severity = domain.Severity(severity)
		a.Success = success == 1
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilActions(a []domain.Action) []domain.Action {
	if a == nil {
		return []domain.Action{}
	}
	return a
}

var _ domain.Repository = (*SQLRepository)(nil)
