package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dossier gateway.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Index     IndexConfig     `mapstructure:"index"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP gateway and auth settings
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// UpstreamConfig points at the analysis engine and controls job polling.
type UpstreamConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	StartDelay   time.Duration `mapstructure:"start_delay"`
}

// Normalize applies polling defaults when values are omitted.
func (u UpstreamConfig) Normalize() UpstreamConfig {
	if u.Timeout <= 0 {
		u.Timeout = 30 * time.Second
	}
	if u.PollInterval <= 0 {
		u.PollInterval = 2 * time.Second
	}
	if u.PollTimeout <= 0 {
		u.PollTimeout = 10 * time.Minute
	}
	if u.StartDelay < 0 {
		u.StartDelay = 0
	}
	return u
}

func (u UpstreamConfig) Validate() error {
	if strings.TrimSpace(u.BaseURL) == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if u.PollInterval >= u.PollTimeout {
		return fmt.Errorf("upstream.poll_interval must be shorter than upstream.poll_timeout")
	}
	return nil
}

// CacheConfig contains Redis connection settings for the report cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("cache.host required when cache is enabled")
	}
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("cache.port required when cache is enabled")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (c CacheConfig) Addr() string { return fmt.Sprintf("%s:%s", c.Host, c.Port) }

// IndexConfig controls the in-memory report search index.
type IndexConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SchedulerConfig drives periodic re-analysis of companies.
type SchedulerConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Cron      string   `mapstructure:"cron"`
	Companies []string `mapstructure:"companies"`
}

func (s SchedulerConfig) Validate() error {
	if s.Enabled && strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("scheduler.cron required when scheduler is enabled")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPort int    `mapstructure:"metrics_port"`
	ServiceName string `mapstructure:"service_name"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.listen", ":10200")
	viper.SetDefault("upstream.timeout", "30s")
	viper.SetDefault("upstream.poll_interval", "2s")
	viper.SetDefault("upstream.poll_timeout", "10m")
	viper.SetDefault("upstream.start_delay", "500ms")
	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("telemetry.service_name", "dossier")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOSSIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	config.Upstream = config.Upstream.Normalize()

	if err := config.Server.Validate(); err != nil {
		return nil, err
	}
	if err := config.Upstream.Validate(); err != nil {
		return nil, err
	}
	if err := config.Cache.Validate(); err != nil {
		return nil, err
	}
	if err := config.Scheduler.Validate(); err != nil {
		return nil, err
	}
	if err := config.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
