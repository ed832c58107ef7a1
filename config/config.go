// Package config loads the service configuration: struct defaults, then an
// optional YAML file, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"coinarius-analytics/internal/calculator"
	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Service string         `yaml:"service" default:"coinarius-analytics" validate:"required"`
	Log     logger.Config  `yaml:"log"`
	Engine  EngineConfig   `yaml:"engine"`
	Symbols []model.Symbol `yaml:"symbols" validate:"omitempty,dive"`
	Feed    FeedConfig     `yaml:"feed"`
	HTTP    HTTPConfig     `yaml:"http"`
	Redis   RedisConfig    `yaml:"redis"`
	SQLite  SQLiteConfig   `yaml:"sqlite"`
	Kafka   KafkaConfig    `yaml:"kafka"`
	Alerts  AlertsConfig   `yaml:"alerts"`
}

type EngineConfig struct {
	UpdateLag     time.Duration `yaml:"update_lag" default:"60s" validate:"gt=0"`
	FullInterval  time.Duration `yaml:"full_interval" default:"24h" validate:"gt=0"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" default:"2m" validate:"gt=0"`
	InitialPoints int           `yaml:"initial_points" default:"100" validate:"min=2"`
	RefreshPoints int           `yaml:"refresh_points" default:"5" validate:"min=1"`
	MaxHistory    int           `yaml:"max_history" default:"100" validate:"gtefield=InitialPoints"`
	// Calculators lists calculator ids to run; empty means all.
	Calculators []string `yaml:"calculators"`
}

type FeedConfig struct {
	BaseURL  string        `yaml:"base_url" default:"https://api.lunarcrush.com/v2" validate:"required,url"`
	APIKey   string        `yaml:"api_key"`
	Interval string        `yaml:"interval" default:"day" validate:"oneof=day hour"`
	Timeout  time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
	ReplaySize      int           `yaml:"replay_size" default:"64" validate:"min=1"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"min=0"`
	LatestKey string        `yaml:"latest_key" default:"analytics:latest"`
	Channel   string        `yaml:"channel" default:"fresh_analytics"`
	TTL       time.Duration `yaml:"ttl" default:"48h"`
	// Relay pushes outputs seen on Channel to local WebSocket clients.
	Relay bool `yaml:"relay"`
}

type SQLiteConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path" default:"data/analytics.db" validate:"required_if=Enabled true"`
	CheckpointCron string `yaml:"checkpoint_cron" default:"@every 5m"`
	Keep           int    `yaml:"keep" default:"500" validate:"min=1"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `yaml:"topic" default:"analytics.fresh"`
}

type AlertsConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float64 `yaml:"threshold" default:"6" validate:"gt=0"`
	WebhookURL string  `yaml:"webhook_url" validate:"omitempty,url"`
	// WebhookSecret signs webhook bodies; empty sends them unsigned.
	WebhookSecret string        `yaml:"webhook_secret"`
	Cooldown      time.Duration `yaml:"cooldown" default:"1h"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
}

// Load builds the configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if len(c.Symbols) == 0 {
		c.Symbols = append([]model.Symbol(nil), model.DefaultSymbols...)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("LUNARCRUSH_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ALERT_WEBHOOK_SECRET"); v != "" {
		c.Alerts.WebhookSecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Alerts.TelegramToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("UPDATE_LAG"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("UPDATE_LAG: %w", err)
		}
		c.Engine.UpdateLag = d
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints, symbol uniqueness and calculator ids.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := c.Universe(); err != nil {
		return err
	}
	if _, err := c.CalculatorIDs(); err != nil {
		return err
	}
	return nil
}

// Universe builds the symbol universe.
func (c *Config) Universe() (*model.Universe, error) {
	return model.NewUniverse(c.Symbols)
}

// CalculatorIDs parses the configured roster; empty means every calculator.
func (c *Config) CalculatorIDs() ([]calculator.ID, error) {
	if len(c.Engine.Calculators) == 0 {
		return append([]calculator.ID(nil), calculator.AllIDs...), nil
	}
	ids := make([]calculator.ID, 0, len(c.Engine.Calculators))
	for _, s := range c.Engine.Calculators {
		id, err := calculator.ParseID(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
