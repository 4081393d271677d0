package config_test

import (
	"testing"
	"time"

	"github.com/mzforge/tickerdigest/internal/config"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TARGET_CHAT", "-1001234")
	t.Setenv("DIGEST_HOUR", "18")
	t.Setenv("DIGEST_MINUTE", "30")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BotToken != "123:abc" {
		t.Errorf("BotToken = %q, want %q", cfg.BotToken, "123:abc")
	}
	if cfg.TargetChat != "-1001234" {
		t.Errorf("TargetChat = %q, want %q", cfg.TargetChat, "-1001234")
	}
	if cfg.DigestHour != 18 || cfg.DigestMinute != 30 {
		t.Errorf("digest time = %02d:%02d, want 18:30", cfg.DigestHour, cfg.DigestMinute)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TARGET_CHAT", "-1001234")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DigestHour != 9 || cfg.DigestMinute != 0 {
		t.Errorf("default digest time = %02d:%02d, want 09:00", cfg.DigestHour, cfg.DigestMinute)
	}
	if cfg.Window() != 24*time.Hour {
		t.Errorf("default window = %v, want 24h", cfg.Window())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default log level = %q, want info", cfg.LogLevel)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TARGET_CHAT", "-1001234")

	if _, err := config.Load(); err == nil {
		t.Fatal("Load succeeded without bot token, want validation error")
	}
}

func TestLoadRejectsOutOfRangeHour(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TARGET_CHAT", "-1001234")
	t.Setenv("DIGEST_HOUR", "25")

	if _, err := config.Load(); err == nil {
		t.Fatal("Load accepted DIGEST_HOUR=25, want validation error")
	}
}
