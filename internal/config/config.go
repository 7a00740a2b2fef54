// Package config defines the Shop's configuration surface: CLI-flag
// defaults, an optional YAML file layer, and environment overrides,
// applied in that order so an explicit flag always wins.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the CLI flag defaults.
const (
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 7007
	DefaultMulticastHost       = "224.0.0.249"
	DefaultMulticastPort       = 65355
	DefaultBaristas            = 1
	DefaultMaxTickets          = 1024
	DefaultDynamoDBPartition   = "identifier"
	DynamoDBTablePrefix        = "task-queue-"
	SQSQueuePrefix             = "task-queue-"
	DefaultItemTTL             = "24h"
	DefaultLogLevel            = "info"
	DefaultCollectionPollEvery = "3s"
)

// Config holds the full set of settings needed to construct a Shop.
type Config struct {
	Host          string `json:"host" yaml:"host"`
	Port          uint16 `json:"port" yaml:"port"`
	MulticastHost string `json:"multicast_host" yaml:"multicast_host"`
	MulticastPort uint16 `json:"multicast_port" yaml:"multicast_port"`

	Baristas  int `json:"baristas" yaml:"baristas"`
	MaxTickets int `json:"max_tickets" yaml:"max_tickets"`

	DynamoDBTable         string `json:"dynamodb_table" yaml:"dynamodb_table"`
	DynamoDBPartitionKey  string `json:"dynamodb_partition_key" yaml:"dynamodb_partition_key"`
	SQSQueue              string `json:"sqs_queue" yaml:"sqs_queue"`

	// ItemTTL bounds the keyed store's row lifetime. Per spec §3, it
	// must be at least the Waiter's maximum long-poll window so a
	// still-waiting client can always read its own result.
	ItemTTL time.Duration `json:"item_ttl" yaml:"item_ttl"`

	// StrictReceipts, when true, aborts the process (after logging) if a
	// StagedReceipt is garbage collected without being explicitly
	// delete- or abort-settled. When false (default) the violation is
	// only logged.
	StrictReceipts bool `json:"strict_receipts" yaml:"strict_receipts"`

	LogLevel string `json:"log_level" yaml:"log_level"`

	// RedisAddr, if set, enables a Redis-backed read-through cache in
	// front of the keyed store.
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`

	// AuditDSN, if set, enables the best-effort Postgres ticket
	// lifecycle audit log.
	AuditDSN string `json:"audit_dsn" yaml:"audit_dsn"`

	// TracingEnabled turns on OpenTelemetry span export for the Waiter
	// and Barista.
	TracingEnabled  bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint string `json:"tracing_endpoint" yaml:"tracing_endpoint"`
}

// DefaultConfig returns a Config populated with the CLI flag defaults
// from spec §6. The task name (used to derive the DynamoDB table and
// SQS queue names when unset) is applied separately by the caller via
// ApplyName, since it is not itself a flag.
func DefaultConfig() *Config {
	ttl, _ := time.ParseDuration(DefaultItemTTL)
	return &Config{
		Host:                 DefaultHost,
		Port:                 DefaultPort,
		MulticastHost:        DefaultMulticastHost,
		MulticastPort:        DefaultMulticastPort,
		Baristas:             DefaultBaristas,
		MaxTickets:           DefaultMaxTickets,
		DynamoDBPartitionKey: DefaultDynamoDBPartition,
		ItemTTL:              ttl,
		LogLevel:             DefaultLogLevel,
	}
}

// ApplyName fills in the DynamoDB table and SQS queue names from the
// task name when the operator has not set them explicitly, matching
// the original's "<prefix><name>" derivation.
func (c *Config) ApplyName(name string) {
	if c.DynamoDBTable == "" {
		c.DynamoDBTable = DynamoDBTablePrefix + name
	}
	if c.SQSQueue == "" {
		c.SQSQueue = SQSQueuePrefix + name
	}
}

// LoadFromFile overlays YAML file settings onto the CLI defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv applies BREW_* environment variable overrides to cfg.
// It does not know about flags: a caller that wants an explicit flag to
// take final precedence overlays the flags it saw set after calling
// LoadFromEnv, as cmd/brew's applyFlags does.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BREW_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("BREW_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Port = uint16(n)
		}
	}
	if v := os.Getenv("BREW_MULTICAST_HOST"); v != "" {
		cfg.MulticastHost = v
	}
	if v := os.Getenv("BREW_MULTICAST_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.MulticastPort = uint16(n)
		}
	}
	if v := os.Getenv("BREW_BARISTAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Baristas = n
		}
	}
	if v := os.Getenv("BREW_MAX_TICKETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTickets = n
		}
	}
	if v := os.Getenv("BREW_DYNAMODB_TABLE"); v != "" {
		cfg.DynamoDBTable = v
	}
	if v := os.Getenv("BREW_DYNAMODB_PARTITION_KEY"); v != "" {
		cfg.DynamoDBPartitionKey = v
	}
	if v := os.Getenv("BREW_SQS_QUEUE"); v != "" {
		cfg.SQSQueue = v
	}
	if v := os.Getenv("BREW_ITEM_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ItemTTL = d
		}
	}
	if v := os.Getenv("BREW_STRICT_RECEIPTS"); v != "" {
		cfg.StrictReceipts = parseBool(v)
	}
	if v := os.Getenv("BREW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BREW_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("BREW_AUDIT_DSN"); v != "" {
		cfg.AuditDSN = v
	}
}

// Validate enforces the constraints from spec §6: a positive barista
// count, a positive admission cap, and a multicast host that is
// actually a multicast address (224.0.0.0/4).
func (c *Config) Validate() error {
	if c.Baristas <= 0 {
		return &ValidationFieldError{Field: "baristas", Message: fmt.Sprintf("must be positive number, found %d.", c.Baristas)}
	}
	if c.MaxTickets <= 0 {
		return &ValidationFieldError{Field: "max_tickets", Message: fmt.Sprintf("must be positive number, found %d.", c.MaxTickets)}
	}
	if err := validateMulticastHost(c.MulticastHost); err != nil {
		return err
	}
	return nil
}

// ValidationFieldError reports an InvalidConfiguration violation for a
// single field.
type ValidationFieldError struct {
	Field   string
	Message string
}

func (e *ValidationFieldError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Field, e.Message)
}

// InvalidMulticastAddrError reports a multicast host outside 224.0.0.0/4.
type InvalidMulticastAddrError struct {
	Host string
}

func (e *InvalidMulticastAddrError) Error() string {
	return fmt.Sprintf("invalid multicast address %q: not in 224.0.0.0/4", e.Host)
}

func validateMulticastHost(host string) error {
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsMulticast() || ip.To4() == nil {
		return &InvalidMulticastAddrError{Host: host}
	}
	return nil
}

// HostAddr returns the Waiter's bind address.
func (c *Config) HostAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// MulticastAddr returns the Announcer's multicast group address.
func (c *Config) MulticastAddr() string {
	return net.JoinHostPort(c.MulticastHost, strconv.Itoa(int(c.MulticastPort)))
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
