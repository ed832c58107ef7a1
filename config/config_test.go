package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"LUNARCRUSH_API_KEY", "REDIS_ADDR", "SQLITE_PATH", "HTTP_ADDR",
	"KAFKA_BROKERS", "LOG_LEVEL", "UPDATE_LAG", "TELEGRAM_BOT_TOKEN", "ALERT_WEBHOOK_SECRET",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Engine.UpdateLag != time.Minute || c.Engine.FullInterval != 24*time.Hour {
		t.Errorf("engine timing = %v / %v", c.Engine.UpdateLag, c.Engine.FullInterval)
	}
	if c.Engine.InitialPoints != 100 || c.Engine.RefreshPoints != 5 || c.Engine.MaxHistory != 100 {
		t.Errorf("engine points = %+v", c.Engine)
	}
	if len(c.Symbols) != 5 || c.Symbols[0].Code != "BTC" {
		t.Errorf("symbols = %v", c.Symbols)
	}
	ids, err := c.CalculatorIDs()
	if err != nil || len(ids) != 11 {
		t.Errorf("calculators = %v, %v", ids, err)
	}
	if c.Redis.LatestKey != "analytics:latest" || c.Redis.Channel != "fresh_analytics" {
		t.Errorf("redis = %+v", c.Redis)
	}
	if c.Log.Level != "info" || c.Log.Format != "json" {
		t.Errorf("log = %+v", c.Log)
	}
	if c.SQLite.CheckpointCron != "@every 5m" {
		t.Errorf("checkpoint cron = %q", c.SQLite.CheckpointCron)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
service: analytics-test
engine:
  update_lag: 30s
  initial_points: 60
  max_history: 80
  calculators: [rsi, eth_correlation]
symbols:
  - {code: BTC, name: Bitcoin}
  - {code: SOL, name: Solana}
redis:
  enabled: true
  addr: redis:6379
alerts:
  enabled: true
  threshold: 4.5
  webhook_url: https://hooks.example.com/alerts
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Service != "analytics-test" || c.Engine.UpdateLag != 30*time.Second || c.Engine.InitialPoints != 60 {
		t.Errorf("file values not applied: %+v", c.Engine)
	}
	if c.Engine.RefreshPoints != 5 {
		t.Errorf("default lost for unset key: refresh_points = %d", c.Engine.RefreshPoints)
	}
	u, err := c.Universe()
	if err != nil || u.Name("SOL") != "Solana" {
		t.Errorf("universe = %v, %v", u, err)
	}
	ids, _ := c.CalculatorIDs()
	if len(ids) != 2 || ids[0] != "rsi" {
		t.Errorf("calculators = %v", ids)
	}
	if !c.Redis.Enabled || c.Redis.Addr != "redis:6379" {
		t.Errorf("redis = %+v", c.Redis)
	}
	if c.Alerts.Threshold != 4.5 {
		t.Errorf("threshold = %v", c.Alerts.Threshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LUNARCRUSH_API_KEY", "secret")
	t.Setenv("UPDATE_LAG", "15s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("ALERT_WEBHOOK_SECRET", "hmac-key")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Feed.APIKey != "secret" || c.Engine.UpdateLag != 15*time.Second || c.Log.Level != "debug" || c.HTTP.Addr != ":9999" {
		t.Errorf("env not applied: %+v", c)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", c.Kafka.Brokers)
	}
	if c.Alerts.WebhookSecret != "hmac-key" {
		t.Errorf("webhook secret = %q", c.Alerts.WebhookSecret)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{"unknown calculator", "engine: {calculators: [macd]}", nil, "unknown calculator"},
		{"duplicate symbol", "symbols: [{code: BTC, name: a}, {code: BTC, name: b}]", nil, "BTC"},
		{"lowercase symbol", "symbols: [{code: btc, name: Bitcoin}]", nil, "uppercase"},
		{"kafka without brokers", "kafka: {enabled: true}", nil, "Brokers"},
		{"history below initial", "engine: {initial_points: 200}", nil, "MaxHistory"},
		{"bad log level", "log: {level: loud}", nil, "Level"},
		{"bad webhook", "alerts: {webhook_url: not a url}", nil, "WebhookURL"},
		{"bad update lag", "", map[string]string{"UPDATE_LAG": "soon"}, "UPDATE_LAG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load("../configs/analytics.yaml"); err != nil {
		t.Fatalf("example config: %v", err)
	}
}
