package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every recognized option. Loaded from config.yaml when present,
// overridable via ENMS_-prefixed environment variables.
type Config struct {
	Port int `mapstructure:"port"`

	// Store (TimescaleDB)
	DBHost     string `mapstructure:"db_host"`
	DBPort     int    `mapstructure:"db_port"`
	DBName     string `mapstructure:"db_name"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBSSLMode  string `mapstructure:"db_sslmode"`
	DBPoolSize int    `mapstructure:"db_pool_size"` // max open connections, capped at 30

	// Event bus (Redis)
	BusHost          string `mapstructure:"bus_host"`
	BusPort          int    `mapstructure:"bus_port"`
	BusPassword      string `mapstructure:"bus_password"`
	BusDB            int    `mapstructure:"bus_db"`
	BusPubSubEnabled bool   `mapstructure:"bus_pubsub_enabled"` // false: WS endpoints still serve but never receive events

	// WebSocket fan-out
	WebSocketEnabled           bool `mapstructure:"websocket_enabled"`
	WebSocketHeartbeatInterval int  `mapstructure:"websocket_heartbeat_interval"` // seconds
	WebSocketMaxConnections    int  `mapstructure:"websocket_max_connections"`

	// Rate limiting (requests per minute per IP)
	RateLimitCritical int      `mapstructure:"rate_limit_critical"`
	RateLimitNormal   int      `mapstructure:"rate_limit_normal"`
	RateLimitHeavy    int      `mapstructure:"rate_limit_heavy"`
	RateLimitDefault  int      `mapstructure:"rate_limit_default"`
	RateLimitGlobal   int      `mapstructure:"rate_limit_global"`
	Whitelist         []string `mapstructure:"whitelist"` // IPs that bypass the limiter
	BypassHeader      string   `mapstructure:"bypass_header"`

	// Connection throttle
	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip"`
	MaxConnectionsTotal int `mapstructure:"max_connections_total"`

	// KPI tariffs and carbon
	TariffPeak    float64 `mapstructure:"tariff_peak"`     // currency per kWh, 08:00-20:00 UTC weekdays
	TariffOffPeak float64 `mapstructure:"tariff_off_peak"` // currency per kWh otherwise
	CarbonFactor  float64 `mapstructure:"carbon_factor"`   // kg CO2 per kWh

	// Anomaly detection
	AnomalyContamination float64 `mapstructure:"anomaly_contamination"`

	// Scheduler
	SchedulerEnabled bool `mapstructure:"scheduler_enabled"`

	// Baseline model blobs
	ModelDir string `mapstructure:"model_dir"`

	// HTTP timeouts
	RequestTimeoutSec  int `mapstructure:"request_timeout_sec"`  // default request deadline
	TrainingTimeoutSec int `mapstructure:"training_timeout_sec"` // deadline for training endpoints
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"` // graceful shutdown wait

	// CORS
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogFile  string `mapstructure:"log_file"`
}

// Load reads config.yaml (searched in /etc/enms/, $HOME/.enms, .) and the
// environment. Missing file is fine; defaults apply.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/enms/")
	viper.AddConfigPath("$HOME/.enms")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8000)
	viper.SetDefault("db_host", "localhost")
	viper.SetDefault("db_port", 5432)
	viper.SetDefault("db_name", "enms")
	viper.SetDefault("db_user", "enms")
	viper.SetDefault("db_password", "")
	viper.SetDefault("db_sslmode", "disable")
	viper.SetDefault("db_pool_size", 20)
	viper.SetDefault("bus_host", "localhost")
	viper.SetDefault("bus_port", 6379)
	viper.SetDefault("bus_password", "")
	viper.SetDefault("bus_db", 0)
	viper.SetDefault("bus_pubsub_enabled", true)
	viper.SetDefault("websocket_enabled", true)
	viper.SetDefault("websocket_heartbeat_interval", 30)
	viper.SetDefault("websocket_max_connections", 500)
	viper.SetDefault("rate_limit_critical", 100)
	viper.SetDefault("rate_limit_normal", 60)
	viper.SetDefault("rate_limit_heavy", 20)
	viper.SetDefault("rate_limit_default", 30)
	viper.SetDefault("rate_limit_global", 120)
	viper.SetDefault("whitelist", []string{})
	viper.SetDefault("bypass_header", "X-Internal-Request")
	viper.SetDefault("max_connections_per_ip", 10)
	viper.SetDefault("max_connections_total", 100)
	viper.SetDefault("tariff_peak", 0.25)
	viper.SetDefault("tariff_off_peak", 0.12)
	viper.SetDefault("carbon_factor", 0.4)
	viper.SetDefault("anomaly_contamination", 0.1)
	viper.SetDefault("scheduler_enabled", true)
	viper.SetDefault("model_dir", "./models")
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("training_timeout_sec", 300)
	viper.SetDefault("shutdown_timeout_sec", 30)
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
	viper.SetDefault("log_file", "")

	viper.SetEnvPrefix("ENMS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DBPoolSize > 30 {
		cfg.DBPoolSize = 30
	}
	return &cfg, nil
}

// DSN returns the lib/pq connection string for the store.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode)
}

// BusAddr returns the host:port of the event bus.
func (c *Config) BusAddr() string {
	return fmt.Sprintf("%s:%d", c.BusHost, c.BusPort)
}
