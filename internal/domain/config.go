package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" koanf:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" koanf:"repository"`
	Cache      CacheConfig      `json:"cache" koanf:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" koanf:"event_bus"`

	// Detection pipeline
	Scoring  ScoringConfig  `json:"scoring" koanf:"scoring"`
	Rules    RulesConfig    `json:"rules" koanf:"rules"`
	Healing  HealingConfig  `json:"healing" koanf:"healing"`
	Velocity VelocityConfig `json:"velocity" koanf:"velocity"`
	Worker   WorkerConfig   `json:"worker" koanf:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" koanf:"logging"`
	Tracing TracingConfig `json:"tracing" koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `json:"host" koanf:"host"`
	Port         int             `json:"port" koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  int             `json:"readTimeout" koanf:"read_timeout"`   // seconds
	WriteTimeout int             `json:"writeTimeout" koanf:"write_timeout"` // seconds
	RateLimit    RateLimitConfig `json:"rateLimit" koanf:"rate_limit"`
}

// RateLimitConfig bounds request rates on the mutating endpoints, per client IP.
type RateLimitConfig struct {
	Enabled  bool          `json:"enabled" koanf:"enabled"`
	Requests int           `json:"requests" koanf:"requests" validate:"min=0"`
	Window   time.Duration `json:"window" koanf:"window"`
}

// ScoringConfig tunes the risk scoring engine.
type ScoringConfig struct {
	// AssessorURL is an external scoring service. Empty means heuristics only.
	AssessorURL string `json:"assessorUrl" koanf:"assessor_url" validate:"omitempty,url"`
	// AssessorTimeout bounds a single assessor call before falling back to heuristics.
	AssessorTimeout time.Duration `json:"assessorTimeout" koanf:"assessor_timeout"`
	// AssessorFailures is the consecutive failure count that opens the breaker.
	AssessorFailures uint32 `json:"assessorFailures" koanf:"assessor_failures"`
	// AssessorCooldown is how long the breaker stays open.
	AssessorCooldown time.Duration `json:"assessorCooldown" koanf:"assessor_cooldown"`
	// ResultTTL is how long assessor results are cached by fingerprint.
	ResultTTL time.Duration `json:"resultTtl" koanf:"result_ttl"`
}

// RulesConfig tunes the rule engine.
type RulesConfig struct {
	MaxWorkers int `json:"maxWorkers" koanf:"max_workers" validate:"min=1"`
	// SeedDefaults installs the starter rule set when the store holds no rules.
	SeedDefaults bool `json:"seedDefaults" koanf:"seed_defaults"`
}

// HealingConfig tunes the self-healing orchestrator.
type HealingConfig struct {
	// AutoRemediate runs the remediation sequence for high and critical alerts.
	AutoRemediate bool `json:"autoRemediate" koanf:"auto_remediate"`
	// LogCapacity bounds the in-memory healing log and firewall rule history.
	LogCapacity int `json:"logCapacity" koanf:"log_capacity" validate:"min=1"`
	// NotifyRecipient receives remediation notifications when no actor is known.
	NotifyRecipient string `json:"notifyRecipient" koanf:"notify_recipient"`
}

// VelocityConfig tunes repeat-submission tracking.
type VelocityConfig struct {
	Enabled   bool          `json:"enabled" koanf:"enabled"`
	Window    time.Duration `json:"window" koanf:"window"`
	Threshold int64         `json:"threshold" koanf:"threshold" validate:"min=1"`
}

// WorkerConfig controls the asynchronous scan worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled" koanf:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" koanf:"format" validate:"oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" koanf:"enabled"`
	ServiceName  string `json:"serviceName" koanf:"service_name"`
	ExporterType string `json:"exporterType" koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" koanf:"endpoint"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache and channels.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Requests: 120,
				Window:   time.Minute,
			},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			AssessorTimeout:  2 * time.Second,
			AssessorFailures: 5,
			AssessorCooldown: 30 * time.Second,
			ResultTTL:        10 * time.Minute,
		},
		Rules: RulesConfig{
			MaxWorkers:   8,
			SeedDefaults: true,
		},
		Healing: HealingConfig{
			AutoRemediate:   true,
			LogCapacity:     50,
			NotifyRecipient: "security-team",
		},
		Velocity: VelocityConfig{
			Enabled:   true,
			Window:    time.Hour,
			Threshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ClusterConfig returns a configuration for multi-node deployments:
// PostgreSQL, two-phase Redis cache and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "kestrel",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
