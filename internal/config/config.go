package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Energy   EnergyConfig   `mapstructure:"energy"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	MDNS     MDNSConfig     `mapstructure:"mdns"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Port     int    `mapstructure:"port"`
	AgentID  string `mapstructure:"agent_id"`
	Timezone string `mapstructure:"timezone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	TopicCacheTTL time.Duration `mapstructure:"topic_cache_ttl"`
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QoS            int           `mapstructure:"qos"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type EngineConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Concurrency   int           `mapstructure:"concurrency"`
}

type EnergyConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	RetentionCron string `mapstructure:"retention_cron"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type MDNSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LocalName string `mapstructure:"local_name"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Location resolves the configured timezone used for cron evaluation.
func (c AppConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("CONFIG: unknown timezone, using local", "timezone", c.Timezone, "error", err)
		return time.Local
	}
	return loc
}

// Enabled reports whether an InfluxDB mirror is configured
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 5069)
	v.SetDefault("app.agent_id", "buildingops")
	v.SetDefault("app.timezone", "Local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "buildingops.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.topic_cache_ttl", 10*time.Minute)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "buildingops-engine")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retry_interval", 5*time.Second)
	v.SetDefault("mqtt.max_retries", 10)
	v.SetDefault("mqtt.connect_timeout", 30*time.Second)
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("engine.sweep_interval", 30*time.Second)
	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("energy.retention_days", 90)
	v.SetDefault("energy.retention_cron", "0 30 3 * * *")
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.local_name", "buildingops.local")
	v.SetDefault("metrics.enabled", true)
}

// LoadConfig reads configuration from .env, an optional config.yaml and env vars
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("CONFIG: no .env file loaded", "error", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/buildingops")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("BUILDINGOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot run without
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Energy.RetentionDays < 1 {
		errs = append(errs, errors.New("energy.retention_days must be at least 1"))
	}
	if c.Engine.SweepInterval < time.Second {
		errs = append(errs, errors.New("engine.sweep_interval must be at least 1s"))
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, errors.New("engine.concurrency must be at least 1"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
	}
	return errors.Join(errs...)
}
