// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ied-sentinel/internal/ied/domain"
)

// Transport kinds accepted by TRANSPORT.
const (
	TransportUDP    = "udp"
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DeviceRole selects the device behaviour (IPP, RDSO or X).
	DeviceRole string `mapstructure:"DEVICE_ROLE"`
	// NetworkInterface is the interface the udp transport binds to; the ied CLI positional argument overrides it.
	NetworkInterface string `mapstructure:"NETWORK_INTERFACE"`
	// Transport is the pub/sub transport: udp, kafka or memory.
	Transport string `mapstructure:"TRANSPORT"`
	// MulticastGroup is the group:port used by the udp transport.
	MulticastGroup string `mapstructure:"MULTICAST_GROUP"`
	// GooseKafkaTopic is the Kafka topic the kafka transport publishes frames to.
	GooseKafkaTopic string `mapstructure:"GOOSE_KAFKA_TOPIC"`
	// SubscribeRefs is a comma-separated list of goCbRefs to listen to; empty means the role default.
	SubscribeRefs string `mapstructure:"SUBSCRIBE_REFS"`
	// PublishInterval is the heartbeat period of the publish loop (e.g. "5s").
	PublishInterval time.Duration `mapstructure:"PUBLISH_INTERVAL"`
	// TimeAllowedToLive is stamped on every published frame.
	TimeAllowedToLive time.Duration `mapstructure:"TIME_ALLOWED_TO_LIVE"`
	// InitialStatus is "CLOSED" or "OPEN"; empty means the role default.
	InitialStatus string `mapstructure:"INITIAL_STATUS"`
	// InitialStNum seeds the change counter.
	InitialStNum uint32 `mapstructure:"INITIAL_ST_NUM"`
	// ToggleEvery makes a publisher-only device flip its own status every N ticks (RDSO). 0 disables.
	ToggleEvery int `mapstructure:"TOGGLE_EVERY"`
	// MaxToggles stops the toggling device after N flips. 0 means unlimited.
	MaxToggles int `mapstructure:"MAX_TOGGLES"`
	// AttackStNum and AttackStatus describe the single forged frame published by role X.
	AttackStNum  uint32 `mapstructure:"ATTACK_ST_NUM"`
	AttackStatus bool   `mapstructure:"ATTACK_STATUS"`

	// ValidationURL is the validation authority endpoint (POST {id} -> {isValid}).
	ValidationURL string `mapstructure:"VALIDATION_URL"`
	// ValidationTimeout bounds each validation attempt.
	ValidationTimeout time.Duration `mapstructure:"VALIDATION_TIMEOUT"`
	// ValidationAttempts is the number of attempts before a cycle is declared indeterminate.
	ValidationAttempts int `mapstructure:"VALIDATION_ATTEMPTS"`
	// ValidationBackoff is the base of the linear backoff: attempt n waits n*base.
	ValidationBackoff time.Duration `mapstructure:"VALIDATION_BACKOFF"`

	// BookkeepingURL is the collector endpoint. Empty disables the HTTP sink.
	BookkeepingURL string `mapstructure:"BOOKKEEPING_URL"`
	// BookkeepingTimeout bounds a single bookkeeping emission per sink.
	BookkeepingTimeout time.Duration `mapstructure:"BOOKKEEPING_TIMEOUT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// When set, bookkeeping records are also produced to BookkeepingKafkaTopic.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// BookkeepingKafkaTopic is the Kafka topic for bookkeeping records.
	BookkeepingKafkaTopic string `mapstructure:"BOOKKEEPING_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the bookkeeping worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the authority's HTTP listen address.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the authority; empty selects the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AuthorityIDs is the comma-separated list of device IDs the authority accepts when seeding.
	AuthorityIDs string `mapstructure:"AUTHORITY_IDS"`
	// AuthorityPolicyFile is an optional Rego module replacing the built-in validation policy.
	AuthorityPolicyFile string `mapstructure:"AUTHORITY_POLICY_FILE"`
	// AuthorityTokenSecret is the HS256 secret for operator tokens. When set, POST /updateIDs requires one.
	AuthorityTokenSecret string `mapstructure:"AUTHORITY_TOKEN_SECRET"`
	// AuthorityTokenTTL is the lifetime of issued operator tokens.
	AuthorityTokenTTL time.Duration `mapstructure:"AUTHORITY_TOKEN_TTL"`

	// Worker-only: Loki URL for the bookkeeping worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// LogLevel is a logrus level name; LogFormat is "text" or "json".
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DEVICE_ROLE", string(domain.RoleIPP))
	v.SetDefault("NETWORK_INTERFACE", "ens33")
	v.SetDefault("TRANSPORT", TransportUDP)
	v.SetDefault("MULTICAST_GROUP", "239.192.0.1:10200")
	v.SetDefault("GOOSE_KAFKA_TOPIC", "ied-goose")
	v.SetDefault("SUBSCRIBE_REFS", "")
	v.SetDefault("PUBLISH_INTERVAL", "5s")
	v.SetDefault("TIME_ALLOWED_TO_LIVE", "5s")
	v.SetDefault("INITIAL_STATUS", "")
	v.SetDefault("INITIAL_ST_NUM", 0)
	v.SetDefault("TOGGLE_EVERY", 5)
	v.SetDefault("MAX_TOGGLES", 0)
	v.SetDefault("ATTACK_ST_NUM", 100)
	v.SetDefault("ATTACK_STATUS", true)
	v.SetDefault("VALIDATION_URL", "http://localhost:3001/idValidate")
	v.SetDefault("VALIDATION_TIMEOUT", "5s")
	v.SetDefault("VALIDATION_ATTEMPTS", 3)
	v.SetDefault("VALIDATION_BACKOFF", "2s")
	v.SetDefault("BOOKKEEPING_URL", "http://localhost:3001/bookKeeping")
	v.SetDefault("BOOKKEEPING_TIMEOUT", "5s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("BOOKKEEPING_KAFKA_TOPIC", "ied-bookkeeping")
	v.SetDefault("KAFKA_GROUP_ID", "ied-bookkeeping-worker")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("HTTP_ADDR", ":3001")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AUTHORITY_IDS", "RDSO,IPP")
	v.SetDefault("AUTHORITY_POLICY_FILE", "")
	v.SetDefault("AUTHORITY_TOKEN_SECRET", "")
	v.SetDefault("AUTHORITY_TOKEN_TTL", "24h")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ied-sentinel")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if _, err := domain.ParseRole(c.DeviceRole); err != nil {
		return fmt.Errorf("config: DEVICE_ROLE: %w", err)
	}
	switch c.Transport {
	case TransportUDP, TransportKafka, TransportMemory:
	default:
		return fmt.Errorf("config: TRANSPORT must be one of udp, kafka, memory, got %q", c.Transport)
	}
	if c.Transport == TransportKafka && len(c.KafkaBrokersList()) == 0 {
		return errors.New("config: KAFKA_BROKERS is required when TRANSPORT=kafka")
	}
	if c.InitialStatus != "" {
		if _, err := domain.ParseStatus(c.InitialStatus); err != nil {
			return fmt.Errorf("config: INITIAL_STATUS: %w", err)
		}
	}
	if c.PublishInterval <= 0 {
		return errors.New("config: PUBLISH_INTERVAL must be positive")
	}
	if c.ValidationAttempts < 1 {
		return errors.New("config: VALIDATION_ATTEMPTS must be at least 1")
	}
	if c.ValidationTimeout <= 0 {
		return errors.New("config: VALIDATION_TIMEOUT must be positive")
	}
	if c.ValidationBackoff < 0 {
		return errors.New("config: VALIDATION_BACKOFF must not be negative")
	}
	if c.AuthorityTokenSecret != "" && len(c.AuthorityTokenSecret) < 32 {
		return errors.New("config: AUTHORITY_TOKEN_SECRET must be at least 32 bytes")
	}
	if c.ToggleEvery < 0 || c.MaxToggles < 0 {
		return errors.New("config: TOGGLE_EVERY and MAX_TOGGLES must not be negative")
	}
	return nil
}

// Role returns the parsed device role. Load has already validated it.
func (c *Config) Role() domain.Role {
	r, _ := domain.ParseRole(c.DeviceRole)
	return r
}

// StartStatus returns the configured initial status, falling back to the role default.
func (c *Config) StartStatus() domain.Status {
	if s, err := domain.ParseStatus(c.InitialStatus); err == nil && c.InitialStatus != "" {
		return s
	}
	return c.Role().DefaultStatus()
}

// SubscribeRefList returns the goCbRefs this device listens to, falling back to the role default.
func (c *Config) SubscribeRefList() []string {
	if refs := splitList(c.SubscribeRefs); len(refs) > 0 {
		return refs
	}
	return c.Role().DefaultSubscriptions()
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka sinks are enabled (non-empty list) and to create writers.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AuthorityIDList returns the IDs the authority seeds its allow list with.
func (c *Config) AuthorityIDList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AuthorityIDs)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
