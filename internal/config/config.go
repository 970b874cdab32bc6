package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AgentConfig holds all configuration for the overlay agent.
type AgentConfig struct {
	// CDP connection
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	EvalTimeout  time.Duration
	SyncInterval time.Duration

	// Optional local browser for development
	LaunchBrowser   bool
	BrowserProfile  string
	BrowserStartURL string
	BrowserHeadless bool

	// Control API
	BindAddr      string
	BindFallbacks []string
	AutoFallback  bool

	// Collaborator
	CollaboratorURL    string
	CollaboratorAPIKey string
	FetchTimeout       time.Duration

	// Panel timing
	SettleDelay time.Duration
	RetryDelay  time.Duration
	MaxRetries  int

	// Files
	DBPath       string
	CatalogFile  string
	JournalDir   string
	JournalMaxMB int
	LogFile      string
	LogLevel     string
}

// LoadAgent reads configuration from environment variables and an optional
// .env file.
func LoadAgent() (*AgentConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &AgentConfig{
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:       getEnvOrDefault("OVERLAY_TAB_URL_FILTER", ""),
		EvalTimeout:        getEnvMillisOrDefault("OVERLAY_EVAL_TIMEOUT_MS", 5*time.Second),
		SyncInterval:       getEnvMillisOrDefault("OVERLAY_SYNC_INTERVAL_MS", 2*time.Second),
		LaunchBrowser:      getEnvBoolOrDefault("OVERLAY_LAUNCH_BROWSER", false),
		BrowserProfile:     getEnvOrDefault("OVERLAY_BROWSER_PROFILE_DIR", "./data/browser_profile"),
		BrowserStartURL:    getEnvOrDefault("OVERLAY_BROWSER_START_URL", ""),
		BrowserHeadless:    getEnvBoolOrDefault("OVERLAY_BROWSER_HEADLESS", false),
		BindAddr:           getEnvOrDefault("OVERLAY_BIND_ADDR", "127.0.0.1:8190"),
		BindFallbacks:      splitList(getEnvOrDefault("OVERLAY_BIND_FALLBACKS", "127.0.0.1:8191,127.0.0.1:8192")),
		AutoFallback:       getEnvBoolOrDefault("OVERLAY_BIND_AUTO_FALLBACK", true),
		CollaboratorURL:    getEnvOrDefault("OVERLAY_COLLABORATOR_URL", ""),
		CollaboratorAPIKey: getEnvOrDefault("OVERLAY_COLLABORATOR_API_KEY", ""),
		FetchTimeout:       getEnvMillisOrDefault("OVERLAY_FETCH_TIMEOUT_MS", 12*time.Second),
		SettleDelay:        getEnvMillisOrDefault("OVERLAY_SETTLE_DELAY_MS", 500*time.Millisecond),
		RetryDelay:         getEnvMillisOrDefault("OVERLAY_RETRY_DELAY_MS", time.Second),
		MaxRetries:         getEnvIntOrDefault("OVERLAY_MAX_RETRIES", 3),
		DBPath:             getEnvOrDefault("OVERLAY_DB_PATH", "./data/overlay.db"),
		CatalogFile:        getEnvOrDefault("OVERLAY_CATALOG_FILE", ""),
		JournalDir:         getEnvOrDefault("OVERLAY_JOURNAL_DIR", "./data/journal"),
		JournalMaxMB:       getEnvIntOrDefault("OVERLAY_JOURNAL_MAX_MB", 50),
		LogFile:            getEnvOrDefault("OVERLAY_LOG_FILE", "logs/overlay_agent.log"),
		LogLevel:           strings.ToLower(getEnvOrDefault("OVERLAY_LOG_LEVEL", "info")),
	}
	if cfg.EvalTimeout < time.Second {
		cfg.EvalTimeout = time.Second
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("OVERLAY_MAX_RETRIES must be >= 0, got %d", cfg.MaxRetries)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *AgentConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
