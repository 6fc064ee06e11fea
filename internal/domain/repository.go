// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// The core writes through to it and reads bounded recent windows back.
type Repository interface {
	// Threat records (one per scan)
	SaveThreat(ctx context.Context, threat *Threat) error
	GetThreat(ctx context.Context, threatID string) (*Threat, error)
	ListThreats(ctx context.Context, limit int) ([]*Threat, error)

	// Alert records
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]*Alert, error)

	// Rule records
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	DeleteRule(ctx context.Context, ruleID string) error
	RecordRuleTrigger(ctx context.Context, trigger RuleTrigger) error

	// Healing log
	AppendHealingAction(ctx context.Context, action *HealingAction) error
	ListHealingActions(ctx context.Context, limit int) ([]*HealingAction, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLitePath is a file path, or ":memory:" for a private in-memory database.
	SQLitePath string `json:"sqlitePath" koanf:"sqlite_path"`

	// PostgresURL, when set, overrides the individual Postgres fields.
	PostgresURL string `json:"-" koanf:"postgres_url" validate:"omitempty,url"`

	PostgresHost     string `json:"postgresHost" koanf:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" koanf:"postgres_port"`
	PostgresUser     string `json:"postgresUser" koanf:"postgres_user"`
	PostgresPassword string `json:"-" koanf:"postgres_password"`
	PostgresDB       string `json:"postgresDb" koanf:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" koanf:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" koanf:"conn_max_lifetime"`
}
