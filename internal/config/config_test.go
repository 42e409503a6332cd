package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AGENTDECK_LOG_LEVEL", "AGENTDECK_LOG_FORMAT", "AGENTDECK_HOST", "AGENTDECK_PORT", "PORT",
		"AGENTDECK_WEBUI_MODE", "AGENTDECK_WEBUI_DEV_PROXY_URL", "AGENTDECK_WEBUI_DIST_DIR",
		"AGENTDECK_WEBUI_NOTICE", "AGENTDECK_CONFIG_DIR", "AGENTDECK_DB_DSN", "AGENTDECK_CONTRACT_PATH",
		"AGENTDECK_AGENT_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadConfig()
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected LogLevel: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("unexpected LogFormat: %s", cfg.LogFormat)
	}
	if cfg.Host != "0.0.0.0" {
		t.Fatalf("unexpected host: %s", cfg.Host)
	}
	if cfg.Port != 3000 {
		t.Fatalf("unexpected port: %d", cfg.Port)
	}
	if cfg.WebUIMode != "prod" {
		t.Fatalf("unexpected default web ui mode: %s", cfg.WebUIMode)
	}
	if cfg.WebUIDevProxyURL != "http://127.0.0.1:15173" {
		t.Fatalf("unexpected default web ui proxy: %s", cfg.WebUIDevProxyURL)
	}
	if cfg.WebUIDistDir != defaultWebUIDistDir() {
		t.Fatalf("unexpected default web ui dist: %s", cfg.WebUIDistDir)
	}
	if cfg.WebUINotice != "" || cfg.ConfigDir != "" || cfg.DBDSN != "" || cfg.ContractPath != "" {
		t.Fatalf("optional settings should default empty, got %+v", cfg)
	}
}

func TestLoadConfig_PlatformPortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")

	cfg := LoadConfig()
	if cfg.Port != 8080 {
		t.Fatalf("expected platform PORT to apply, got %d", cfg.Port)
	}

	t.Setenv("AGENTDECK_PORT", "4700")
	cfg = LoadConfig()
	if cfg.Port != 4700 {
		t.Fatalf("expected AGENTDECK_PORT to win, got %d", cfg.Port)
	}
}

func TestLoadConfig_MalformedPortKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTDECK_PORT", "80a")

	cfg := LoadConfig()
	if cfg.Port != 3000 {
		t.Fatalf("expected default port on malformed value, got %d", cfg.Port)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTDECK_LOG_LEVEL", "debug")
	t.Setenv("AGENTDECK_LOG_FORMAT", "text")
	t.Setenv("AGENTDECK_HOST", "127.0.0.1")
	t.Setenv("AGENTDECK_WEBUI_MODE", "dev")
	t.Setenv("AGENTDECK_WEBUI_DEV_PROXY_URL", "http://127.0.0.1:25173")
	t.Setenv("AGENTDECK_WEBUI_DIST_DIR", "/tmp/webui-dist")
	t.Setenv("AGENTDECK_WEBUI_NOTICE", "<p>heads up</p>")
	t.Setenv("AGENTDECK_CONFIG_DIR", "/tmp/agentdeck")
	t.Setenv("AGENTDECK_DB_DSN", "file:cfg?mode=memory")
	t.Setenv("AGENTDECK_CONTRACT_PATH", "/tmp/agentdeck/launch.toml")
	t.Setenv("AGENTDECK_AGENT_DIR", "/srv/agent")

	cfg := LoadConfig()
	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected log settings: %+v", cfg)
	}
	if cfg.Host != "127.0.0.1" {
		t.Fatalf("unexpected host: %s", cfg.Host)
	}
	if cfg.WebUIMode != "dev" || cfg.WebUIDevProxyURL != "http://127.0.0.1:25173" || cfg.WebUIDistDir != "/tmp/webui-dist" {
		t.Fatalf("unexpected web ui settings: %+v", cfg)
	}
	if cfg.WebUINotice != "<p>heads up</p>" {
		t.Fatalf("unexpected notice: %q", cfg.WebUINotice)
	}
	if cfg.ConfigDir != "/tmp/agentdeck" || cfg.DBDSN != "file:cfg?mode=memory" || cfg.ContractPath != "/tmp/agentdeck/launch.toml" || cfg.AgentDir != "/srv/agent" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
}

func TestGetConfig_UsesCacheWithinTTL(t *testing.T) {
	clearEnv(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldNow := nowFunc
	nowFunc = func() time.Time { return base }
	t.Cleanup(func() { nowFunc = oldNow })

	t.Setenv("AGENTDECK_LOG_LEVEL", "warn")
	LoadConfig()
	t.Setenv("AGENTDECK_LOG_LEVEL", "error")

	if got := GetConfig().LogLevel; got != "warn" {
		t.Fatalf("expected cached level warn, got %s", got)
	}

	nowFunc = func() time.Time { return base.Add(cacheTTL + time.Second) }
	if got := GetConfig().LogLevel; got != "error" {
		t.Fatalf("expected refreshed level error, got %s", got)
	}
}
