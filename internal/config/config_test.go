package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Relay.Addr != ":8090" {
		t.Errorf("Relay.Addr = %q, want :8090", cfg.Relay.Addr)
	}
	if cfg.Client.TickRate != 30 {
		t.Errorf("Client.TickRate = %d, want 30", cfg.Client.TickRate)
	}
	if cfg.NATS.Enabled || cfg.Database.Enabled {
		t.Error("optional backends should default to disabled")
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
relay:
  addr: ":9000"
  ping_interval: 15s
nats:
  enabled: true
  url: nats://broker:4222
client:
  room: workshop
  tick_rate: 60
  backoff_base: 250ms
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Relay.Addr != ":9000" {
		t.Errorf("Relay.Addr = %q, want :9000", cfg.Relay.Addr)
	}
	if cfg.Relay.PingInterval != 15*time.Second {
		t.Errorf("Relay.PingInterval = %v, want 15s", cfg.Relay.PingInterval)
	}
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS = %+v, want enabled at broker", cfg.NATS)
	}
	if cfg.Client.Room != "workshop" || cfg.Client.TickRate != 60 {
		t.Errorf("Client = %+v, want workshop at 60hz", cfg.Client)
	}
	if cfg.Client.BackoffBase != 250*time.Millisecond {
		t.Errorf("Client.BackoffBase = %v, want 250ms", cfg.Client.BackoffBase)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want default 5432", cfg.Database.Port)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("relay: [not a map]")); err == nil {
		t.Error("Parse() expected error for mistyped yaml")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.Addr != ":8090" {
		t.Errorf("Relay.Addr = %q, want default", cfg.Relay.Addr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emberwall.yaml")
	if err := os.WriteFile(path, []byte("relay:\n  addr: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EMBERWALL_ADDR", ":7777")
	t.Setenv("EMBERWALL_ROOM", "attic")
	t.Setenv("EMBERWALL_TICK_RATE", "15")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.Addr != ":7777" {
		t.Errorf("Relay.Addr = %q, want env :7777 over file :9000", cfg.Relay.Addr)
	}
	if cfg.Client.Room != "attic" || cfg.Client.TickRate != 15 {
		t.Errorf("Client = %+v, want attic at 15hz", cfg.Client)
	}
	if !cfg.Database.Enabled || cfg.Database.Port != 6543 {
		t.Errorf("Database = %+v, want enabled on 6543", cfg.Database)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dsn := DatabaseConfig{
		Host: "db", Port: 5432, User: "app", Password: "secret",
		Database: "emberwall", SSLMode: "disable",
	}.DSN()
	want := "postgres://app:secret@db:5432/emberwall?sslmode=disable"
	if dsn != want {
		t.Errorf("DSN() = %q, want %q", dsn, want)
	}
}
