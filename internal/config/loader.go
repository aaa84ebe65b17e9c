package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "reviewforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REVIEWFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "REVIEWFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REVIEWFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REVIEWFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REVIEWFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REVIEWFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REVIEWFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setBool(&cfg.NATS.Enabled, "REVIEWFORGE_NATS_ENABLED")
	setString(&cfg.Logging.Level, "REVIEWFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REVIEWFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REVIEWFORGE_LOG_ASYNC")
	setInt(&cfg.Logging.AsyncBuffer, "REVIEWFORGE_LOG_ASYNC_BUFFER")
	setInt(&cfg.Logging.AsyncWorkers, "REVIEWFORGE_LOG_ASYNC_WORKERS")
	setInt(&cfg.Breaker.MaxFailures, "REVIEWFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REVIEWFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "REVIEWFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "REVIEWFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "REVIEWFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "REVIEWFORGE_RATE_MAX_IDLE_TIME")
	setInt64(&cfg.Cache.L1MaxSizeMB, "REVIEWFORGE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "REVIEWFORGE_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "REVIEWFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "REVIEWFORGE_CACHE_L2_TTL")
	setString(&cfg.ActionLog.Backend, "REVIEWFORGE_ACTIONLOG_BACKEND")
	setString(&cfg.ActionLog.Path, "REVIEWFORGE_ACTIONLOG_PATH")
	setBool(&cfg.ActionLog.Fsync, "REVIEWFORGE_ACTIONLOG_FSYNC")
	setString(&cfg.Documents.Path, "REVIEWFORGE_DOCUMENTS_PATH")
	setInt(&cfg.Consensus.MinReviewers, "REVIEWFORGE_MIN_REVIEWERS")
	setBool(&cfg.Consensus.RequireExactContentMatch, "REVIEWFORGE_REQUIRE_EXACT_MATCH")
	setDuration(&cfg.Assignment.Timeout, "REVIEWFORGE_ASSIGNMENT_TIMEOUT")
	setInt(&cfg.Assignment.MaxReviewers, "REVIEWFORGE_ASSIGNMENT_MAX_REVIEWERS")
	setDuration(&cfg.Assignment.SweepInterval, "REVIEWFORGE_ASSIGNMENT_SWEEP_INTERVAL")
	setBool(&cfg.Assignment.RevisitFallback, "REVIEWFORGE_ASSIGNMENT_REVISIT_FALLBACK")
	setString(&cfg.Assignment.LockBucket, "REVIEWFORGE_ASSIGNMENT_LOCK_BUCKET")
	setInt64(&cfg.Aggregation.MaxConcurrent, "REVIEWFORGE_AGGREGATION_MAX_CONCURRENT")
	setString(&cfg.Idempotency.Bucket, "REVIEWFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "REVIEWFORGE_IDEMPOTENCY_TTL")
	setString(&cfg.Identity.Header, "REVIEWFORGE_IDENTITY_HEADER")
	setStringList(&cfg.Identity.Admins, "REVIEWFORGE_ADMINS")
	setString(&cfg.Identity.DevActor, "REVIEWFORGE_DEV_ACTOR")
	setBool(&cfg.OTEL.Enabled, "REVIEWFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "REVIEWFORGE_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "REVIEWFORGE_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "REVIEWFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "REVIEWFORGE_OTEL_SAMPLE_RATE")
	setBool(&cfg.MCP.Enabled, "REVIEWFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "REVIEWFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "REVIEWFORGE_MCP_API_KEY")
	setFloat64(&cfg.Rewards.PerDocument, "REVIEWFORGE_REWARD_PER_DOCUMENT")
	setFloat64(&cfg.Rewards.PerAdd, "REVIEWFORGE_REWARD_PER_ADD")
	setString(&cfg.Export.Path, "REVIEWFORGE_EXPORT_PATH")
}

// validate checks that required fields are present and values are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.ActionLog.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "jsonl":
		if cfg.ActionLog.Path == "" {
			return errors.New("actionlog.path is required for the jsonl backend")
		}
	default:
		return fmt.Errorf("actionlog.backend %q is not supported", cfg.ActionLog.Backend)
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Consensus.MinReviewers < 1 {
		return errors.New("consensus.min_reviewers must be >= 1")
	}
	if cfg.Assignment.MaxReviewers < 1 {
		return errors.New("assignment.max_reviewers must be >= 1")
	}
	if cfg.Assignment.Timeout <= 0 {
		return errors.New("assignment.timeout must be positive")
	}
	if cfg.Assignment.SweepInterval <= 0 {
		return errors.New("assignment.sweep_interval must be positive")
	}
	if cfg.Aggregation.MaxConcurrent < 1 {
		return errors.New("aggregation.max_concurrent must be >= 1")
	}
	if cfg.MCP.Enabled && cfg.MCP.Addr == "" {
		return errors.New("mcp.addr is required when mcp is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setStringList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
