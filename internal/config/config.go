package config

import (
	"fmt"
	"time"

	"github.com/skillnet-labs/examchain-backend/internal/common"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/types"
)

// Config represents the complete configuration for the examchain indexer.
type Config struct {
	// Network is the logical chain network name reported by the status endpoint
	Network string `yaml:"network" json:"network" toml:"network"`

	// Stream contains the chain stream client configuration
	Stream StreamConfig `yaml:"stream" json:"stream" toml:"stream"`

	// Contracts contains the monitored contracts and their events
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`

	// DB contains the SQLite database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// API contains the operator HTTP API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// StreamConfig represents the configuration for the chain stream client.
type StreamConfig struct {
	// ServerURL is the host:port of the streaming endpoint
	ServerURL string `yaml:"server_url" json:"server_url" toml:"server_url"`

	// StartingBlock is the cursor used when the event store is empty
	StartingBlock uint64 `yaml:"starting_block" json:"starting_block" toml:"starting_block"`

	// BatchSize is the number of blocks requested per data message
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// Finality specifies the delivery finality: "pending", "accepted" or "finalized"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// RetryDelay is the fixed delay before the receive loop resubscribes after a failure
	RetryDelay common.Duration `yaml:"retry_delay" json:"retry_delay" toml:"retry_delay"`

	// MaxRecvMsgSizeMB caps the size of a single stream message
	MaxRecvMsgSizeMB int `yaml:"max_recv_msg_size_mb" json:"max_recv_msg_size_mb" toml:"max_recv_msg_size_mb"`
}

// ApplyDefaults sets default values for optional stream configuration fields.
func (s *StreamConfig) ApplyDefaults() {
	if s.BatchSize == 0 {
		s.BatchSize = 10
	}
	if s.Finality == "" {
		s.Finality = types.FinalityAccepted.String()
	}
	if s.RetryDelay.Duration == 0 {
		s.RetryDelay = common.NewDuration(5 * time.Second) //nolint:mnd
	}
	if s.MaxRecvMsgSizeMB == 0 {
		s.MaxRecvMsgSizeMB = 100
	}
}

// ContractConfig represents a monitored contract and its events.
type ContractConfig struct {
	// Name is a human-readable label for the contract
	Name string `yaml:"name" json:"name" toml:"name"`

	// Address is the contract address to monitor (hex field element)
	Address string `yaml:"address" json:"address" toml:"address"`

	// Events is the list of logical event names to index
	Events []string `yaml:"events" json:"events" toml:"events"`

	// Selectors optionally overrides the selector hex for an event name.
	// When absent, selectors are derived from the event name at startup.
	Selectors map[string]string `yaml:"selectors,omitempty" json:"selectors,omitempty" toml:"selectors,omitempty"`
}

// ApplyDefaults fills in the monitored event list when omitted.
func (c *ContractConfig) ApplyDefaults() {
	if len(c.Events) == 0 {
		for _, k := range event.AllKinds {
			c.Events = append(c.Events, k.String())
		}
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	// Enabled controls whether the API server is started
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// AuthToken is the bearer token required on every endpoint.
	// An empty token disables authentication (development only).
	AuthToken string `yaml:"auth_token" json:"auth_token" toml:"auth_token"`

	// AdminToken is the bearer token required for scan and raw event access
	AdminToken string `yaml:"admin_token" json:"admin_token" toml:"admin_token"`

	// ReadTimeout is the HTTP server read timeout
	ReadTimeout common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout is the HTTP server write timeout
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout is the HTTP server idle timeout
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS contains CORS configuration
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.AdminToken == "" {
		a.AdminToken = a.AuthToken
	}
}

// CORSConfig configures cross-origin resource sharing for the API.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// AllowedOrigins is the list of allowed origins ("*" for any)
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - stream: Chain stream client
	//   - decoder: Event filter/decoder
	//   - event-store: Contract event persistence
	//   - ingest: Idempotent ingestion path
	//   - projector: Event-to-state projectors
	//   - indexer: Indexer controller
	//   - api: Operator HTTP API
	//   - domain: Domain repositories
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "sepolia"
	}

	c.Stream.ApplyDefaults()
	c.DB.ApplyDefaults()

	for i := range c.Contracts {
		c.Contracts[i].ApplyDefaults()
	}

	if c.API != nil {
		c.API.ApplyDefaults()
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Stream.ServerURL == "" {
		return fmt.Errorf("stream.server_url is required")
	}

	if _, err := types.ParseFinality(c.Stream.Finality); err != nil {
		return fmt.Errorf("stream.finality: %w", err)
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if len(c.Contracts) == 0 {
		return fmt.Errorf("at least one contract must be configured")
	}

	for i, contract := range c.Contracts {
		if contract.Address == "" {
			return fmt.Errorf("contract[%d]: address is required", i)
		}

		for _, name := range contract.Events {
			if !event.Kind(name).IsValid() {
				return fmt.Errorf("contract[%d] (%s): unknown event '%s'", i, contract.Name, name)
			}
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
