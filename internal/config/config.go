package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AntiFraudConfig stores parameters for the rules engine.
type AntiFraudConfig struct {
	AmountThreshold        float64 `yaml:"amount_threshold"`
	FrequencyThreshold     int     `yaml:"frequency_threshold"`
	FrequencyWindowSeconds int     `yaml:"frequency_window_seconds"`
	FailureThreshold       int     `yaml:"failure_threshold"`
	FailureWindowSeconds   int     `yaml:"failure_window_seconds"`
	// BlockOnSeverity is none, low, medium or high.
	BlockOnSeverity string `yaml:"block_on_severity"`
}

func (c AntiFraudConfig) FrequencyWindow() time.Duration {
	return time.Duration(c.FrequencyWindowSeconds) * time.Second
}

func (c AntiFraudConfig) FailureWindow() time.Duration {
	return time.Duration(c.FailureWindowSeconds) * time.Second
}

// BillingConfig holds transaction limits. Amounts are in currency units.
type BillingConfig struct {
	MinTransaction float64 `yaml:"min_transaction"`
	MaxTransaction float64 `yaml:"max_transaction"`
	LockTimeoutMs  int     `yaml:"lock_timeout_ms"`
}

func (c BillingConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// SettlementConfig configures the settlement collaborator and its retry policy.
type SettlementConfig struct {
	// Driver is "stub" or "http".
	Driver           string `yaml:"driver"`
	URL              string `yaml:"url"`
	PoolSize         int    `yaml:"pool_size"`
	MaxAttempts      int    `yaml:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms"`
	TimeoutMs        int    `yaml:"timeout_ms"`
}

func (c SettlementConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

func (c SettlementConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

func (c SettlementConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// StorageConfig picks the ledger/vault persistence driver.
type StorageConfig struct {
	// Driver is "memory", "bolt" or "postgres".
	Driver         string `yaml:"driver"`
	BoltPath       string `yaml:"bolt_path"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type KafkaConfig struct {
	Enabled          bool   `yaml:"enabled"`
	BootstrapServers string `yaml:"bootstrap_servers"`
	Topic            string `yaml:"topic"`
	AlertsTopic      string `yaml:"alerts_topic"`
	DLQTopic         string `yaml:"dlq_topic"`
	ConsumerGroup    string `yaml:"consumer_group"`
}

type RedisConfig struct {
	Addr              string `yaml:"addr"`
	RateLimit         int    `yaml:"rate_limit"`
	RateWindowSeconds int    `yaml:"rate_window_seconds"`
}

func (c RedisConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// OAuthClient is a machine client allowed to use the client-credentials grant.
type OAuthClient struct {
	ID     string   `yaml:"id"`
	Secret string   `yaml:"secret"`
	Domain string   `yaml:"domain"`
	Roles  []string `yaml:"roles"`
}

type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Jaeger     struct {
		Port     string `yaml:"port"`
		PortGrpc string `yaml:"port_grpc"`
	} `yaml:"jaeger"`
	OIDC struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
	} `yaml:"oidc"`
	OPA struct {
		URL string `yaml:"url"`
	} `yaml:"opa"`
	JWT struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"jwt"`
	OAuth struct {
		Clients []OAuthClient `yaml:"clients"`
	} `yaml:"oauth"`
	Billing    BillingConfig    `yaml:"billing"`
	AntiFraud  AntiFraudConfig  `yaml:"anti_fraud"`
	Settlement SettlementConfig `yaml:"settlement"`
}

// Default returns a configuration usable without a file: in-memory storage,
// stub settlement and the documented fraud thresholds.
func Default() *Config {
	cfg := &Config{}
	cfg.App.Env = "development"
	cfg.Server.Port = ":8080"
	cfg.Storage = StorageConfig{Driver: "memory", BoltPath: "data/ledger.db"}
	cfg.Kafka = KafkaConfig{
		BootstrapServers: "localhost:9092",
		Topic:            "billing.events",
		AlertsTopic:      "billing.fraud_alerts",
		DLQTopic:         "billing.fraud_alerts.dlq",
		ConsumerGroup:    "fraud-alert-sink",
	}
	cfg.Redis = RedisConfig{RateLimit: 100, RateWindowSeconds: 60}
	cfg.ClickHouse = ClickHouseConfig{Addr: "localhost:9000", Database: "default"}
	cfg.Billing = BillingConfig{MinTransaction: 0, MaxTransaction: 50000, LockTimeoutMs: 10000}
	cfg.AntiFraud = AntiFraudConfig{
		AmountThreshold:        10000,
		FrequencyThreshold:     5,
		FrequencyWindowSeconds: 3600,
		FailureThreshold:       3,
		FailureWindowSeconds:   86400,
		BlockOnSeverity:        "none",
	}
	cfg.Settlement = SettlementConfig{
		Driver:           "stub",
		PoolSize:         8,
		MaxAttempts:      3,
		InitialBackoffMs: 100,
		MaxBackoffMs:     2000,
		TimeoutMs:        5000,
	}
	return cfg
}

// Load reads configPath over Default(). A .env file next to the binary, if
// present, is loaded first so its variables can be referenced as ${VAR} or
// ${VAR:-fallback}.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	config := Default()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// First, we substitute environment variables into the raw YAML file.
	expandedFile := expandEnv(string(file))

	if err := yaml.Unmarshal([]byte(expandedFile), config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// expandEnv substitutes ${VAR} and $VAR like os.ExpandEnv. ${VAR:-fallback}
// yields fallback when VAR is unset or empty.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Billing.MaxTransaction <= c.Billing.MinTransaction:
		return fmt.Errorf("billing.max_transaction must exceed billing.min_transaction")
	case c.Billing.MinTransaction < 0:
		return fmt.Errorf("billing.min_transaction must not be negative")
	case c.Billing.LockTimeoutMs < 0:
		return fmt.Errorf("billing.lock_timeout_ms must not be negative")
	case c.Settlement.PoolSize < 1:
		return fmt.Errorf("settlement.pool_size must be at least 1")
	case c.Settlement.MaxAttempts < 1:
		return fmt.Errorf("settlement.max_attempts must be at least 1")
	case c.AntiFraud.FailureThreshold < 1 || c.AntiFraud.FrequencyThreshold < 1:
		return fmt.Errorf("anti_fraud thresholds must be at least 1")
	}
	switch c.Storage.Driver {
	case "memory", "bolt", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Settlement.Driver {
	case "stub":
	case "http":
		if c.Settlement.URL == "" {
			return fmt.Errorf("settlement.url is required for the http driver")
		}
	default:
		return fmt.Errorf("unknown settlement.driver %q", c.Settlement.Driver)
	}
	switch c.AntiFraud.BlockOnSeverity {
	case "", "none", "low", "medium", "high":
	default:
		return fmt.Errorf("unknown anti_fraud.block_on_severity %q", c.AntiFraud.BlockOnSeverity)
	}
	return nil
}
