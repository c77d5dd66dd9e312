package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// GatewayConfig describes runtime options for the daemon.
type GatewayConfig struct {
	Environment string
	ListenAddr  string

	// Upstream provider configuration
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	DefaultReferer    string
	DefaultTitle      string
	UpstreamTimeout   time.Duration

	// Request shaping
	HistoryWindow  int
	AttachmentClip int

	// Model policy file (YAML); empty selects the built-in table
	PolicyFile string

	// Ledger location: a postgres:// DSN or a SQLite file path
	LedgerPath string

	LogFile  string
	LogLevel string
}

// LoadGatewayConfig reads the current environment and loads the appropriate
// gateway config file, applying FIESTA_* environment overrides on top.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return GatewayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := GatewayConfig{
		Environment:       s.Environment,
		ListenAddr:        firstNonEmpty(os.Getenv("FIESTA_LISTEN_ADDR"), merged["listen_addr"], ":8084"),
		OpenRouterAPIKey:  firstNonEmpty(os.Getenv("OPENROUTER_API_KEY"), merged["openrouter_api_key"]),
		OpenRouterBaseURL: firstNonEmpty(os.Getenv("FIESTA_OPENROUTER_BASE_URL"), merged["openrouter_base_url"]),
		DefaultReferer:    firstNonEmpty(os.Getenv("FIESTA_DEFAULT_REFERER"), merged["default_referer"]),
		DefaultTitle:      firstNonEmpty(os.Getenv("FIESTA_DEFAULT_TITLE"), merged["default_title"]),
		HistoryWindow:     parseOptionalInt(firstNonEmpty(os.Getenv("FIESTA_HISTORY_WINDOW"), merged["history_window"]), 8),
		AttachmentClip:    parseOptionalInt(firstNonEmpty(os.Getenv("FIESTA_ATTACHMENT_CLIP"), merged["attachment_clip"]), 20000),
		PolicyFile:        firstNonEmpty(os.Getenv("FIESTA_POLICY_FILE"), merged["policy_file"]),
		LedgerPath:        firstNonEmpty(os.Getenv("FIESTA_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LogFile:           firstNonEmpty(os.Getenv("FIESTA_LOG_FILE"), merged["log_file"]),
		LogLevel:          firstNonEmpty(os.Getenv("FIESTA_LOG_LEVEL"), merged["log_level"], "info"),
	}

	cfg.UpstreamTimeout = 60 * time.Second
	if v := firstNonEmpty(os.Getenv("FIESTA_UPSTREAM_TIMEOUT"), merged["upstream_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid upstream_timeout %q: %w", v, err)
		}
		cfg.UpstreamTimeout = dur
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// IsPostgresDSN reports whether the ledger path selects the PostgreSQL
// backend rather than a SQLite file.
func IsPostgresDSN(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}

// DefaultLedgerPath returns the fallback ledger location under the user's
// home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".fiesta-gateway", "ledger.db")
}
