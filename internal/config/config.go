// Package config loads the Kestrel configuration from defaults, an optional
// YAML file and KESTREL_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/validation"
)

const (
	// EnvPrefix is stripped from environment variables before mapping them to keys.
	EnvPrefix = "KESTREL_"
	// PathEnvVar overrides the config file location.
	PathEnvVar = "KESTREL_CONFIG"
	// ProfileEnvVar selects the defaults: "single" (default) or "cluster".
	ProfileEnvVar = "KESTREL_PROFILE"
)

// DefaultConfigPaths are searched in order when PathEnvVar is unset.
var DefaultConfigPaths = []string{
	"kestrel.yaml",
	"kestrel.yml",
	"/etc/kestrel/kestrel.yaml",
}

// sections maps environment prefixes to koanf paths. Longer prefixes come
// first so KESTREL_SERVER_RATE_LIMIT_* is not read as a server field.
var sections = []struct{ prefix, path string }{
	{"server_rate_limit_", "server.rate_limit."},
	{"event_bus_", "event_bus."},
	{"repository_", "repository."},
	{"cache_", "cache."},
	{"scoring_", "scoring."},
	{"rules_", "rules."},
	{"healing_", "healing."},
	{"velocity_", "velocity."},
	{"worker_", "worker."},
	{"logging_", "logging."},
	{"tracing_", "tracing."},
	{"server_", "server."},
}

// Load reads the configuration using the file named by KESTREL_CONFIG or
// the first of DefaultConfigPaths that exists.
func Load() (*domain.Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile reads the configuration with an explicit file path. An empty
// path skips the file layer.
func LoadFile(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(ProfileEnvVar), "cluster") {
		defaults = domain.ClusterConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &domain.Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validation.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps KESTREL_CACHE_LOCAL_MAX_SIZE to cache.local_max_size.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec.prefix) {
			return sec.path + strings.TrimPrefix(key, sec.prefix)
		}
	}
	return key
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
