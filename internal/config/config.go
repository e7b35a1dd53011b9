package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models tapline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Bus      BusConfig      `yaml:"bus"`
	Inbound  InboundConfig  `yaml:"inbound"`
	Server   ServerConfig   `yaml:"server"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type OutboxConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
}

type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

type BusConfig struct {
	Kind    string        `yaml:"kind"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type InboundConfig struct {
	Enabled          bool   `yaml:"enabled"`
	RedisURL         string `yaml:"redis_url"`
	Stream           string `yaml:"stream"`
	Group            string `yaml:"group"`
	Consumer         string `yaml:"consumer"`
	ClaimIdleSeconds int    `yaml:"claim_idle_seconds"`
	MaxDeliveries    int64  `yaml:"max_deliveries"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BusLog     = "log"
	BusKafka   = "kafka"
	BusWebhook = "webhook"
)

// MaxSweepPage bounds how many rows one sweep invocation may claim.
const MaxSweepPage = 100

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tap config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.Name) == "" {
		return fmt.Errorf("config.service.name is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("config.outbox.batch_size must be positive")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("config.outbox.max_attempts must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("config.outbox.poll_interval must be positive")
	}
	if c.Sweep.PageSize <= 0 || c.Sweep.PageSize > MaxSweepPage {
		return fmt.Errorf("config.sweep.page_size must be between 1 and %d", MaxSweepPage)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("config.sweep.interval must be positive")
	}
	switch c.Bus.Kind {
	case BusLog:
	case BusKafka:
		if len(c.Bus.Kafka.Brokers) == 0 {
			return fmt.Errorf("config.bus.kafka.brokers is required for the kafka bus")
		}
		if c.Bus.Kafka.Topic == "" {
			return fmt.Errorf("config.bus.kafka.topic is required for the kafka bus")
		}
	case BusWebhook:
		if strings.TrimSpace(c.Bus.Webhook.URL) == "" {
			return fmt.Errorf("config.bus.webhook.url is required for the webhook bus")
		}
	default:
		return fmt.Errorf("config.bus.kind must be log, kafka or webhook, got %q", c.Bus.Kind)
	}
	if c.Inbound.Enabled {
		if c.Inbound.RedisURL == "" {
			return fmt.Errorf("config.inbound.redis_url is required when inbound is enabled")
		}
		if c.Inbound.Stream == "" || c.Inbound.Group == "" {
			return fmt.Errorf("config.inbound.stream and config.inbound.group are required when inbound is enabled")
		}
	}
	if c.Inbound.ClaimIdleSeconds < 0 || c.Inbound.MaxDeliveries < 0 {
		return fmt.Errorf("config.inbound.claim_idle_seconds and config.inbound.max_deliveries must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tapline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceName string) string {
	return fmt.Sprintf(defaultTemplate, serviceName)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("tapline"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default(serviceName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(serviceName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("tapline")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: %s

database:
  driver: sqlite
  dsn: ""

outbox:
  batch_size: 10
  poll_interval: 2s
  max_attempts: 3
  max_backoff: 30s
  claim_ttl: 1m

sweep:
  interval: 1m
  page_size: 100
  claim_ttl: 5m

bus:
  kind: log
  kafka:
    brokers: []
    topic: hmpps.domain.events
    client_id: tapline
  webhook:
    url: ""
    secret: ""
    events: []
    timeout_seconds: 5

inbound:
  enabled: false
  redis_url: redis://localhost:6379/0
  stream: person.events
  group: tapline
  consumer: tapline-1
  claim_idle_seconds: 30
  max_deliveries: 5

server:
  addr: 127.0.0.1:8080
  base_path: /v1
`
