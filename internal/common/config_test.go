package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", config.Server.Port)
	}
	if config.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want %q", config.Server.Host, "localhost")
	}
	if config.Storage.Badger.Path != "./data" {
		t.Errorf("Storage.Badger.Path = %q, want %q", config.Storage.Badger.Path, "./data")
	}
	if config.Crawler.MaxBodySize != 10*1024*1024 {
		t.Errorf("Crawler.MaxBodySize = %d, want %d", config.Crawler.MaxBodySize, 10*1024*1024)
	}
	if config.Crawler.JobDeadline != 5*time.Minute {
		t.Errorf("Crawler.JobDeadline = %v, want 5m", config.Crawler.JobDeadline)
	}
	if config.Crawler.UserAgent == "" {
		t.Error("Crawler.UserAgent must not be empty")
	}
	if !config.Retention.Enabled {
		t.Error("Retention.Enabled should default to true")
	}
	if config.IsProduction() {
		t.Error("default environment should not be production")
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	baseContent := `
environment = "production"

[server]
port = 9090
host = "0.0.0.0"

[storage.badger]
path = "/tmp/colligo-test"
`
	if err := os.WriteFile(base, []byte(baseContent), 0644); err != nil {
		t.Fatalf("failed to write base config: %v", err)
	}

	override := filepath.Join(dir, "override.toml")
	overrideContent := `
[server]
port = 9999
`
	if err := os.WriteFile(override, []byte(overrideContent), 0644); err != nil {
		t.Fatalf("failed to write override config: %v", err)
	}

	config, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	// Later file wins
	if config.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (override file)", config.Server.Port)
	}
	// Base file value survives where override is silent
	if config.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", config.Server.Host, "0.0.0.0")
	}
	if config.Storage.Badger.Path != "/tmp/colligo-test" {
		t.Errorf("Storage.Badger.Path = %q, want %q", config.Storage.Badger.Path, "/tmp/colligo-test")
	}
	// Defaults survive where no file sets a value
	if config.Crawler.MaxBodySize != 10*1024*1024 {
		t.Errorf("Crawler.MaxBodySize = %d, want default", config.Crawler.MaxBodySize)
	}
	if !config.IsProduction() {
		t.Error("environment from file should be production")
	}
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COLLIGO_SERVER_PORT", "7070")
	t.Setenv("COLLIGO_LOG_LEVEL", "debug")
	t.Setenv("COLLIGO_CRAWLER_USER_AGENT", "test-agent/1.0")
	t.Setenv("COLLIGO_CRAWLER_JOB_DEADLINE", "90s")
	t.Setenv("COLLIGO_RETENTION_ENABLED", "false")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 from env", config.Server.Port)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", config.Logging.Level, "debug")
	}
	if config.Crawler.UserAgent != "test-agent/1.0" {
		t.Errorf("Crawler.UserAgent = %q, want env value", config.Crawler.UserAgent)
	}
	if config.Crawler.JobDeadline != 90*time.Second {
		t.Errorf("Crawler.JobDeadline = %v, want 90s", config.Crawler.JobDeadline)
	}
	if config.Retention.Enabled {
		t.Error("Retention.Enabled should be false from env")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 6000, "192.168.1.10")
	if config.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", config.Server.Port)
	}
	if config.Server.Host != "192.168.1.10" {
		t.Errorf("Server.Host = %q, want %q", config.Server.Host, "192.168.1.10")
	}

	// Zero values leave config untouched
	ApplyFlagOverrides(config, 0, "")
	if config.Server.Port != 6000 || config.Server.Host != "192.168.1.10" {
		t.Error("zero flag values must not override config")
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"every descriptor", "@every 1h", false},
		{"every short descriptor", "@every 30m", false},
		{"hourly descriptor", "@hourly", false},
		{"five field cron", "0 */6 * * *", false},
		{"every five minutes", "*/5 * * * *", false},
		{"every minute rejected", "* * * * *", true},
		{"sub five minute interval rejected", "*/2 * * * *", true},
		{"garbage", "not a schedule", true},
		{"too few fields", "0 0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestRetentionDurationHelpers(t *testing.T) {
	config := NewDefaultConfig()
	if config.JobTTLDuration() != 168*time.Hour {
		t.Errorf("JobTTLDuration = %v, want 168h", config.JobTTLDuration())
	}
	if config.DedupGraceDuration() != 10*time.Minute {
		t.Errorf("DedupGraceDuration = %v, want 10m", config.DedupGraceDuration())
	}

	config.Retention.JobTTL = "bogus"
	if config.JobTTLDuration() != 168*time.Hour {
		t.Error("unparseable TTL should fall back to one week")
	}
}

func TestDeepCloneConfig(t *testing.T) {
	original := NewDefaultConfig()
	clone := DeepCloneConfig(original)

	clone.Server.Port = 1234
	clone.Logging.Output[0] = "mutated"
	clone.WebSocket.ThrottleIntervals["progress"] = "99s"

	if original.Server.Port == 1234 {
		t.Error("clone mutation leaked into original scalar field")
	}
	if original.Logging.Output[0] == "mutated" {
		t.Error("clone mutation leaked into original slice")
	}
	if original.WebSocket.ThrottleIntervals["progress"] == "99s" {
		t.Error("clone mutation leaked into original map")
	}

	if DeepCloneConfig(nil) != nil {
		t.Error("cloning nil should return nil")
	}
}
