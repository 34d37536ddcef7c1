package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
storage:
  path: /var/lib/remindd/tasks.db
engine:
  poll_interval: 30s
  timezone: Asia/Ho_Chi_Minh
dispatch:
  retry_max: 5
channels:
  telegram:
    token: "123:abc"
`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Engine.PollInterval != "30s" || cfg.Engine.Timezone != "Asia/Ho_Chi_Minh" {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Dispatch.RetryMax != 5 {
		t.Fatalf("retry_max = %d", cfg.Dispatch.RetryMax)
	}
	if cfg.Channels.Telegram == nil || cfg.Channels.Telegram.Token != "123:abc" {
		t.Fatalf("telegram = %+v", cfg.Channels.Telegram)
	}
	if cfg.Channels.Email != nil {
		t.Fatal("email section should be nil when omitted")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"storage":{"path":"./tasks.db"},"engine":{"poll_interval":"1m"}}`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Path != "./tasks.db" || cfg.Engine.PollInterval != "1m" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
storage:
  path: ./tasks.db
  pathh: typo
`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "storage.path",
		},
		{
			name:    "bad poll interval",
			mutate:  func(c *Config) { c.Engine.PollInterval = "sixty seconds" },
			wantErr: "engine.poll_interval",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Engine.Timezone = "Mars/Olympus" },
			wantErr: "engine.timezone",
		},
		{
			name:    "telegram without token",
			mutate:  func(c *Config) { c.Channels.Telegram = &TelegramConfig{} },
			wantErr: "channels.telegram.token",
		},
		{
			name:    "zalo missing oa id",
			mutate:  func(c *Config) { c.Channels.Zalo = &ZaloConfig{AccessToken: "x"} },
			wantErr: "channels.zalo",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Storage: StorageConfig{Path: "./tasks.db"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("bad duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}
