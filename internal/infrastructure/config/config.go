package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for reverie-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Experiments ExperimentsConfig `yaml:"experiments"`
	Registry    RegistryConfig    `yaml:"registry"`
	Relay       RelayConfig       `yaml:"relay"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// ExperimentsConfig contains settings for experiment storage and the
// simulation launcher.
type ExperimentsConfig struct {
	// StorageRoot holds one directory per experiment.
	StorageRoot string `yaml:"storage_root"`

	// TemplatesRoot holds the reverie/ and associative_memory/ trees
	// copied into newly created experiments.
	TemplatesRoot string `yaml:"templates_root"`

	// PublicWhitelist names experiments visible to every user.
	PublicWhitelist []string `yaml:"public_whitelist"`

	// Script is the simulation entry point, run through Shell.
	Script string `yaml:"script"`
	Shell  string `yaml:"shell"`

	// WorkDir is the script's working directory. Defaults to the script's directory.
	WorkDir string `yaml:"work_dir"`

	// SimulationPort is passed to the script as --port.
	SimulationPort int `yaml:"simulation_port"`

	// PIDTTL is how long a process record survives in the registry.
	// It must outlast the longest expected experiment, otherwise a
	// finished run is reported as "not started".
	PIDTTL time.Duration `yaml:"pid_ttl"`

	// ListCacheTTL is how long the experiment directory listing is cached.
	ListCacheTTL time.Duration `yaml:"list_cache_ttl"`

	// StopGracePeriod is how long Stop waits after SIGTERM before sending
	// SIGKILL. Zero disables escalation.
	StopGracePeriod time.Duration `yaml:"stop_grace_period"`
}

// RegistryConfig selects the store behind the process registry and list cache.
type RegistryConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `yaml:"backend"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RelayConfig selects where experiment output is published.
type RelayConfig struct {
	// Backend is "local", "mqtt", "redis" or "nats". Output always reaches
	// local WebSocket clients; a remote backend also fans it out to other
	// instances.
	Backend string `yaml:"backend"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NATSConfig contains NATS connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Subject       string        `yaml:"subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret leaves the API unauthenticated, as the simulation UI
// has always been served.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Required bool   `yaml:"required"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: REVERIE_SECTION_KEY
// For example: REVERIE_DATABASE_PATH, REVERIE_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Experiments: ExperimentsConfig{
			StorageRoot:     "./environment/frontend_server/storage",
			TemplatesRoot:   "./environment/frontend_server/temp_storage",
			Script:          "./run_backend_automatic.sh",
			Shell:           "bash",
			SimulationPort:  8000,
			PIDTTL:          24 * time.Hour,
			ListCacheTTL:    5 * time.Minute,
			StopGracePeriod: 10 * time.Second,
		},
		Registry: RegistryConfig{
			Backend:   "memory",
			KeyPrefix: "reverie:",
		},
		Relay: RelayConfig{
			Backend: "local",
		},
		Database: DatabaseConfig{
			Path:        "./data/reverie.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "reverie-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "reverie-core",
			Subject:       "reverie.experiment.output",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "reverie",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "reverie",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "reverie",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: REVERIE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Experiments
	if v := os.Getenv("REVERIE_STORAGE_ROOT"); v != "" {
		cfg.Experiments.StorageRoot = v
	}
	if v := os.Getenv("REVERIE_TEMPLATES_ROOT"); v != "" {
		cfg.Experiments.TemplatesRoot = v
	}
	if v := os.Getenv("REVERIE_SCRIPT"); v != "" {
		cfg.Experiments.Script = v
	}
	if v := os.Getenv("REVERIE_PUBLIC_EXPERIMENTS"); v != "" {
		cfg.Experiments.PublicWhitelist = splitList(v)
	}
	if v := os.Getenv("REVERIE_PID_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Experiments.PIDTTL = d
		}
	}

	// Backends
	if v := os.Getenv("REVERIE_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}
	if v := os.Getenv("REVERIE_RELAY_BACKEND"); v != "" {
		cfg.Relay.Backend = v
	}

	// Database
	if v := os.Getenv("REVERIE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("REVERIE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("REVERIE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("REVERIE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Redis
	if v := os.Getenv("REVERIE_REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("REVERIE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// NATS
	if v := os.Getenv("REVERIE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// API
	if v := os.Getenv("REVERIE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("REVERIE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("REVERIE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("REVERIE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// splitList splits a comma-separated environment value.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Experiments
	if c.Experiments.StorageRoot == "" {
		errs = append(errs, "experiments.storage_root is required")
	}
	if c.Experiments.Script == "" {
		errs = append(errs, "experiments.script is required")
	}
	if c.Experiments.Shell == "" {
		errs = append(errs, "experiments.shell is required")
	}
	if c.Experiments.SimulationPort < 1 || c.Experiments.SimulationPort > 65535 {
		errs = append(errs, "experiments.simulation_port must be between 1 and 65535")
	}
	if c.Experiments.PIDTTL <= 0 {
		errs = append(errs, "experiments.pid_ttl must be positive")
	}
	if c.Experiments.ListCacheTTL < 0 {
		errs = append(errs, "experiments.list_cache_ttl must not be negative")
	}
	if c.Experiments.StopGracePeriod < 0 {
		errs = append(errs, "experiments.stop_grace_period must not be negative")
	}

	// Backends
	switch c.Registry.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("registry.backend %q must be memory or redis", c.Registry.Backend))
	}
	switch c.Relay.Backend {
	case "local", "mqtt", "redis", "nats":
	default:
		errs = append(errs, fmt.Sprintf("relay.backend %q must be local, mqtt, redis or nats", c.Relay.Backend))
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Redis
	if (c.Registry.Backend == "redis" || c.Relay.Backend == "redis") && c.Redis.Address == "" {
		errs = append(errs, "redis.address is required when a redis backend is selected")
	}

	// NATS
	if c.Relay.Backend == "nats" && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when relay.backend is nats")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
	}

	// Security - a configured secret must be strong enough to resist brute force
	const minJWTSecretLength = 32
	if c.Security.JWT.Required && c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required when security.jwt.required is set (set REVERIE_JWT_SECRET)")
	} else if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
