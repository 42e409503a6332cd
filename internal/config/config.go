package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	LogLevel         string
	LogFormat        string
	Host             string
	Port             int
	WebUIMode        string
	WebUIDevProxyURL string
	WebUIDistDir     string
	WebUINotice      string
	ConfigDir        string
	DBDSN            string
	ContractPath     string
	// AgentDir anchors a relative install_dir from the launch contract.
	AgentDir string
}

var (
	cacheTTL         = 10 * time.Second
	nowFunc          = time.Now
	cacheMu          sync.RWMutex
	cachedCfg        Config
	cachedAt         time.Time
	cacheValid       bool
	defaultWebUIMode = "prod"
	defaultPort      = "3000"
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	level := os.Getenv("AGENTDECK_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("AGENTDECK_LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	host := os.Getenv("AGENTDECK_HOST")
	if host == "" {
		host = "0.0.0.0"
	}

	// Hosting platforms inject PORT; AGENTDECK_PORT wins when both are set.
	port := atoiOrDefault(defaultPort, 3000)
	for _, key := range []string{"PORT", "AGENTDECK_PORT"} {
		if p := os.Getenv(key); p != "" {
			if n := atoiOrDefault(p, 0); n > 0 && n < 65536 {
				port = n
			}
		}
	}

	webUIMode := os.Getenv("AGENTDECK_WEBUI_MODE")
	if webUIMode == "" {
		webUIMode = defaultWebUIMode
	}
	webUIDevProxyURL := os.Getenv("AGENTDECK_WEBUI_DEV_PROXY_URL")
	if webUIDevProxyURL == "" {
		webUIDevProxyURL = "http://127.0.0.1:15173"
	}
	webUIDistDir := os.Getenv("AGENTDECK_WEBUI_DIST_DIR")
	if webUIDistDir == "" {
		webUIDistDir = defaultWebUIDistDir()
	}

	return Config{
		LogLevel:         level,
		LogFormat:        format,
		Host:             host,
		Port:             port,
		WebUIMode:        webUIMode,
		WebUIDevProxyURL: webUIDevProxyURL,
		WebUIDistDir:     webUIDistDir,
		WebUINotice:      os.Getenv("AGENTDECK_WEBUI_NOTICE"),
		ConfigDir:        os.Getenv("AGENTDECK_CONFIG_DIR"),
		DBDSN:            os.Getenv("AGENTDECK_DB_DSN"),
		ContractPath:     os.Getenv("AGENTDECK_CONTRACT_PATH"),
		AgentDir:         os.Getenv("AGENTDECK_AGENT_DIR"),
	}
}

func defaultWebUIDistDir() string {
	execPath, err := os.Executable()
	if err != nil || execPath == "" {
		return filepath.Clean("public")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(execPath), "public"))
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
