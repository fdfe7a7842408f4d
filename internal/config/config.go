// Package config loads the engine configuration: the monitored hosts with
// their protocol settings, and the exporter, MQTT, database and logging
// sections.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Hosts    []HostConfig   `yaml:"hosts" validate:"required,min=1,dive"`
	Exporter ExporterConfig `yaml:"exporter"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type EngineConfig struct {
	ConnectorsDirectory string `yaml:"connectors_directory" validate:"required"`
	HostWorkers         int    `yaml:"host_workers" validate:"min=1"`
	TickIntervalMS      int    `yaml:"tick_interval_ms" validate:"min=10"`
}

// HostConfig describes one monitored host. Hostname may also be an IP range
// or a CIDR block, in which case Load expands it into one host per address.
type HostConfig struct {
	Hostname   string   `yaml:"hostname" validate:"required"`
	HostID     string   `yaml:"host_id"`
	HostType   string   `yaml:"host_type" validate:"required,oneof=linux windows network storage oob aix hpux solaris tru64 vms"`
	Connectors []string `yaml:"connectors"`

	CollectIntervalSeconds int     `yaml:"collect_interval_seconds" validate:"min=1"`
	DiscoveryCycle         int     `yaml:"discovery_cycle" validate:"min=1"`
	StrategyTimeoutSeconds int     `yaml:"strategy_timeout_seconds" validate:"min=1"`
	RetryDelayMS           int     `yaml:"retry_delay_ms" validate:"min=0"`
	RetryMaxAttempts       int     `yaml:"retry_max_attempts" validate:"min=0,max=10"`
	SerializationTimeoutMS int     `yaml:"serialization_timeout_ms" validate:"min=1"`
	JobPoolSize            int     `yaml:"job_pool_size" validate:"min=1"`
	Sequential             bool    `yaml:"sequential"`
	MaxRequestsPerSecond   float64 `yaml:"max_requests_per_second" validate:"min=0"`

	// PowerEstimates maps a monitor type to the watts assumed when no power
	// metric is collected for it.
	PowerEstimates map[string]float64 `yaml:"power_estimates"`

	Protocols ProtocolsConfig `yaml:"protocols"`
}

type ProtocolsConfig struct {
	SNMP  *SNMPConfig  `yaml:"snmp"`
	SSH   *SSHConfig   `yaml:"ssh"`
	WinRM *WinRMConfig `yaml:"winrm"`
	HTTP  *HTTPConfig  `yaml:"http"`
	IPMI  *IPMIConfig  `yaml:"ipmi"`
	SQL   *SQLConfig   `yaml:"sql"`
}

type SNMPConfig struct {
	Version         string `yaml:"version" validate:"required,oneof=1 2c 3"`
	Community       string `yaml:"community"`
	Port            int    `yaml:"port" validate:"min=0,max=65535"`
	TimeoutMS       int    `yaml:"timeout_ms" validate:"min=0"`
	Retries         int    `yaml:"retries" validate:"min=0"`
	Username        string `yaml:"username"`
	SecurityLevel   string `yaml:"security_level" validate:"omitempty,oneof=noAuthNoPriv authNoPriv authPriv"`
	AuthProtocol    string `yaml:"auth_protocol" validate:"omitempty,oneof=MD5 SHA SHA224 SHA256 SHA384 SHA512"`
	AuthPassword    string `yaml:"auth_password"`
	PrivacyProtocol string `yaml:"privacy_protocol" validate:"omitempty,oneof=DES AES AES192 AES256"`
	PrivacyPassword string `yaml:"privacy_password"`
	ContextName     string `yaml:"context_name"`
}

// Validate checks the fields required by the selected SNMP version.
func (s *SNMPConfig) Validate() error {
	if s.Version == "3" {
		if s.Username == "" {
			return fmt.Errorf("username is required for SNMP v3")
		}
		return nil
	}
	if s.Community == "" {
		return fmt.Errorf("community is required for SNMP v%s", s.Version)
	}
	return nil
}

type SSHConfig struct {
	Username   string `yaml:"username" validate:"required"`
	Password   string `yaml:"password"`
	PrivateKey string `yaml:"private_key"`
	Passphrase string `yaml:"passphrase"`
	Port       int    `yaml:"port" validate:"min=0,max=65535"`
	TimeoutMS  int    `yaml:"timeout_ms" validate:"min=0"`
}

// Validate requires either a password or a private key.
func (s *SSHConfig) Validate() error {
	if s.Password == "" && s.PrivateKey == "" {
		return fmt.Errorf("either password or private_key is required for SSH")
	}
	return nil
}

type WinRMConfig struct {
	Username  string `yaml:"username" validate:"required"`
	Password  string `yaml:"password" validate:"required"`
	Domain    string `yaml:"domain"`
	Port      int    `yaml:"port" validate:"min=0,max=65535"`
	HTTPS     bool   `yaml:"https"`
	Insecure  bool   `yaml:"insecure"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`

	// Namespaces are probed in order when a source asks for the automatic
	// WMI namespace.
	Namespaces []string `yaml:"namespaces"`
}

type HTTPConfig struct {
	HTTPS     bool   `yaml:"https"`
	Port      int    `yaml:"port" validate:"min=0,max=65535"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Insecure  bool   `yaml:"insecure"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`
}

type IPMIConfig struct {
	Username  string `yaml:"username" validate:"required"`
	Password  string `yaml:"password"`
	Interface string `yaml:"interface" validate:"omitempty,oneof=lan lanplus open"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`
}

type SQLConfig struct {
	Driver    string `yaml:"driver" validate:"required,oneof=pgx sqlite3"`
	DSN       string `yaml:"dsn" validate:"required"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"min=0"`
}

type ExporterConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port" validate:"min=0,max=65535"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" validate:"min=0"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" validate:"min=0"`
}

type MQTTConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Broker            string `yaml:"broker"`
	ClientID          string `yaml:"client_id"`
	TopicPrefix       string `yaml:"topic_prefix"`
	QoS               byte   `yaml:"qos" validate:"max=2"`
	PublishIntervalMS int    `yaml:"publish_interval_ms" validate:"min=0"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
}

// Validate requires a broker when publishing is enabled.
func (m *MQTTConfig) Validate() error {
	if m.Enabled && m.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	return nil
}

type DatabaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port" validate:"min=0,max=65535"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxConns        int32  `yaml:"max_conns" validate:"min=0"`
	BatchSize       int    `yaml:"batch_size" validate:"min=0"`
	FlushIntervalMS int    `yaml:"flush_interval_ms" validate:"min=0"`
}

// Validate requires a host and database name when the sink is enabled.
func (d *DatabaseConfig) Validate() error {
	if d.Enabled && (d.Host == "" || d.DBName == "") {
		return fmt.Errorf("database host and dbname are required when the database sink is enabled")
	}
	return nil
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, then applies environment overrides,
// defaults and host expansion before validating the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	hosts, err := ExpandHosts(cfg.Hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to expand hosts: %w", err)
	}
	cfg.Hosts = hosts

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Engine.ConnectorsDirectory == "" {
		c.Engine.ConnectorsDirectory = "./connectors"
	}
	if c.Engine.HostWorkers == 0 {
		c.Engine.HostWorkers = 8
	}
	if c.Engine.TickIntervalMS == 0 {
		c.Engine.TickIntervalMS = 1000
	}
	for i := range c.Hosts {
		c.Hosts[i].ApplyDefaults()
	}
	if c.Exporter.Port == 0 {
		c.Exporter.Port = 24375
	}
	if c.Exporter.ReadTimeoutMS == 0 {
		c.Exporter.ReadTimeoutMS = 10000
	}
	if c.Exporter.WriteTimeoutMS == 0 {
		c.Exporter.WriteTimeoutMS = 30000
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "engine"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "nmslite-engine"
	}
	if c.MQTT.PublishIntervalMS == 0 {
		c.MQTT.PublishIntervalMS = 60000
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.BatchSize == 0 {
		c.Database.BatchSize = 1000
	}
	if c.Database.FlushIntervalMS == 0 {
		c.Database.FlushIntervalMS = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ApplyDefaults fills unset host values.
func (h *HostConfig) ApplyDefaults() {
	if h.HostID == "" {
		h.HostID = h.Hostname
	}
	h.HostType = strings.ToLower(h.HostType)
	if h.CollectIntervalSeconds == 0 {
		h.CollectIntervalSeconds = 120
	}
	if h.DiscoveryCycle == 0 {
		h.DiscoveryCycle = 30
	}
	if h.StrategyTimeoutSeconds == 0 {
		h.StrategyTimeoutSeconds = 900
	}
	if h.RetryDelayMS == 0 {
		h.RetryDelayMS = 1000
	}
	if h.RetryMaxAttempts == 0 {
		h.RetryMaxAttempts = 1
	}
	if h.SerializationTimeoutMS == 0 {
		h.SerializationTimeoutMS = 120000
	}
	if h.JobPoolSize == 0 {
		h.JobPoolSize = 20
	}
}

// applyEnvOverrides checks for environment variables with NMS_ prefix
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NMS_CONNECTORS_DIRECTORY"); v != "" {
		cfg.Engine.ConnectorsDirectory = v
	}
	if v := os.Getenv("NMS_EXPORTER_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Exporter.Port)
	}

	if v := os.Getenv("NMS_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NMS_DATABASE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.Port)
	}
	if v := os.Getenv("NMS_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("NMS_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("NMS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	if v := os.Getenv("NMS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NMS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// TickInterval returns the scheduler tick as a duration
func (e *EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalMS) * time.Millisecond
}

// CollectInterval returns the time between two cycles of the host
func (h *HostConfig) CollectInterval() time.Duration {
	return time.Duration(h.CollectIntervalSeconds) * time.Second
}

// StrategyTimeout bounds one strategy run on the host
func (h *HostConfig) StrategyTimeout() time.Duration {
	return time.Duration(h.StrategyTimeoutSeconds) * time.Second
}

// RetryDelay returns the wait between two source retries
func (h *HostConfig) RetryDelay() time.Duration {
	return time.Duration(h.RetryDelayMS) * time.Millisecond
}

// SerializationTimeout bounds the wait for a force-serialization lock
func (h *HostConfig) SerializationTimeout() time.Duration {
	return time.Duration(h.SerializationTimeoutMS) * time.Millisecond
}

// Timeout converts a millisecond setting, falling back to def when unset.
func Timeout(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// GetReadTimeout returns the read timeout as a duration
func (e *ExporterConfig) GetReadTimeout() time.Duration {
	return time.Duration(e.ReadTimeoutMS) * time.Millisecond
}

// GetWriteTimeout returns the write timeout as a duration
func (e *ExporterConfig) GetWriteTimeout() time.Duration {
	return time.Duration(e.WriteTimeoutMS) * time.Millisecond
}

// Addr returns the listen address of the exporter
func (e *ExporterConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// PublishInterval returns the MQTT snapshot period
func (m *MQTTConfig) PublishInterval() time.Duration {
	return time.Duration(m.PublishIntervalMS) * time.Millisecond
}

// FlushInterval returns the batch writer flush period
func (d *DatabaseConfig) FlushInterval() time.Duration {
	return time.Duration(d.FlushIntervalMS) * time.Millisecond
}

// ConnString returns the PostgreSQL connection string in postgres:// URL format
func (d *DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}

	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}
