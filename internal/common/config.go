package common

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Security    SecurityConfig   `toml:"security"`
	Callback    CallbackConfig   `toml:"callback"`
	Source      SourceConfig     `toml:"source"`
	Automation  AutomationConfig `toml:"automation"`
	Mappings    MappingsConfig   `toml:"mappings"`
	Storage     StorageConfig    `toml:"storage"`
	History     HistoryConfig    `toml:"history"`
	Logging     LoggingConfig    `toml:"logging"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
}

type ServerConfig struct {
	Port         int    `toml:"port"`
	Host         string `toml:"host"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// SecurityConfig covers inbound request signing and throttling
type SecurityConfig struct {
	HMACSecret         string   `toml:"hmac_secret"`
	SignatureTolerance string   `toml:"signature_tolerance"` // Maximum clock skew accepted on X-Timestamp
	RateLimit          int      `toml:"rate_limit"`          // Requests allowed per window per client
	RateWindow         string   `toml:"rate_window"`
	MaxBodyBytes       int64    `toml:"max_body_bytes"`
	AllowedOrigins     []string `toml:"allowed_origins"` // Empty = derive from callback base URL
	TrustedProxies     []string `toml:"trusted_proxies"` // IPs or CIDRs whose X-Forwarded-For is believed
}

// CallbackConfig points at the system of record that receives job reports
type CallbackConfig struct {
	BaseURL        string `toml:"base_url"`
	PathPrefix     string `toml:"path_prefix"`
	Timeout        string `toml:"timeout"`
	MaxAttempts    int    `toml:"max_attempts"`
	InitialBackoff string `toml:"initial_backoff"`
}

// SourceConfig configures where spreadsheet rows are read from
type SourceConfig struct {
	Provider            string `toml:"provider"` // "google" or "xlsx" for ids without a prefix
	ServiceAccountEmail string `toml:"service_account_email"`
	PrivateKey          string `toml:"private_key"`
	PrivateKeyID        string `toml:"private_key_id"`
	CredentialsFile     string `toml:"credentials_file"` // Service account JSON, takes precedence over email/key
	APIBaseURL          string `toml:"api_base_url"`
	Timeout             string `toml:"timeout"`
	RateLimit           int    `toml:"rate_limit"` // Requests per second
	WorkbookDir         string `toml:"workbook_dir"`
}

// AutomationConfig configures the headless browser that drives the target app
type AutomationConfig struct {
	BaseURL          string `toml:"base_url"`
	LoginURL         string `toml:"login_url"`
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	Headless         bool   `toml:"headless"`
	ActionTimeout    string `toml:"action_timeout"`
	LoginWaitTimeout string `toml:"login_wait_timeout"`
	SettleDelay      string `toml:"settle_delay"`
	UserAgent        string `toml:"user_agent"`
	WindowWidth      int    `toml:"window_width"`
	WindowHeight     int    `toml:"window_height"`
	ScreenshotDir    string `toml:"screenshot_dir"` // Empty disables failure screenshots
	ExecPath         string `toml:"exec_path"`      // Optional browser binary override
}

// MappingsConfig points at additional mapping definition files
type MappingsConfig struct {
	Dir string `toml:"dir"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// HistoryConfig controls the local job history kept for the status endpoint
type HistoryConfig struct {
	Enabled       bool   `toml:"enabled"`
	Retention     string `toml:"retention"`
	PruneSchedule string `toml:"prune_schedule"` // Cron format
}

type LoggingConfig struct {
	Level      string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
	Dir        string   `toml:"dir"` // Empty = logs/ next to the executable
}

// WebSocketConfig configures the live job event stream
type WebSocketConfig struct {
	Enabled          bool   `toml:"enabled"`
	ProgressThrottle string `toml:"progress_throttle"` // Max one row_processed broadcast per interval
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         3000,
			Host:         "0.0.0.0",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
		Security: SecurityConfig{
			SignatureTolerance: "300s",
			RateLimit:          100,
			RateWindow:         "15m",
			MaxBodyBytes:       10 * 1024 * 1024, // 10MB
		},
		Callback: CallbackConfig{
			PathPrefix:     "wp-json/aoikumo-importer/v1",
			Timeout:        "10s",
			MaxAttempts:    3,
			InitialBackoff: "500ms",
		},
		Source: SourceConfig{
			Provider:    "google",
			APIBaseURL:  "https://sheets.googleapis.com",
			Timeout:     "30s",
			RateLimit:   5,
			WorkbookDir: "./workbooks",
		},
		Automation: AutomationConfig{
			Headless:         true,
			ActionTimeout:    "30s",
			LoginWaitTimeout: "10s",
			SettleDelay:      "500ms",
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WindowWidth:      1920,
			WindowHeight:     1080,
			ScreenshotDir:    "./logs/screenshots",
		},
		Mappings: MappingsConfig{
			Dir: "./mappings",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			Retention:     "720h", // 30 days
			PruneSchedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		WebSocket: WebSocketConfig{
			Enabled:          true,
			ProgressThrottle: "250ms",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies SHEETPORTER_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SHEETPORTER_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SHEETPORTER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SHEETPORTER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Security
	if secret := os.Getenv("SHEETPORTER_HMAC_SECRET"); secret != "" {
		config.Security.HMACSecret = secret
	}
	if limit := os.Getenv("SHEETPORTER_RATE_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Security.RateLimit = l
		}
	}
	if proxies := os.Getenv("SHEETPORTER_TRUSTED_PROXIES"); proxies != "" {
		config.Security.TrustedProxies = config.Security.TrustedProxies[:0]
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				config.Security.TrustedProxies = append(config.Security.TrustedProxies, p)
			}
		}
	}

	// Callback
	if baseURL := os.Getenv("SHEETPORTER_CALLBACK_URL"); baseURL != "" {
		config.Callback.BaseURL = baseURL
	}
	if timeout := os.Getenv("SHEETPORTER_CALLBACK_TIMEOUT"); timeout != "" {
		config.Callback.Timeout = timeout
	}

	// Source
	if provider := os.Getenv("SHEETPORTER_SOURCE_PROVIDER"); provider != "" {
		config.Source.Provider = provider
	}
	if email := os.Getenv("SHEETPORTER_GOOGLE_SERVICE_ACCOUNT_EMAIL"); email != "" {
		config.Source.ServiceAccountEmail = email
	}
	if key := os.Getenv("SHEETPORTER_GOOGLE_PRIVATE_KEY"); key != "" {
		config.Source.PrivateKey = key
	}
	if file := os.Getenv("SHEETPORTER_GOOGLE_CREDENTIALS_FILE"); file != "" {
		config.Source.CredentialsFile = file
	}
	if dir := os.Getenv("SHEETPORTER_WORKBOOK_DIR"); dir != "" {
		config.Source.WorkbookDir = dir
	}

	// Automation
	if baseURL := os.Getenv("SHEETPORTER_TARGET_BASE_URL"); baseURL != "" {
		config.Automation.BaseURL = baseURL
	}
	if loginURL := os.Getenv("SHEETPORTER_TARGET_LOGIN_URL"); loginURL != "" {
		config.Automation.LoginURL = loginURL
	}
	if username := os.Getenv("SHEETPORTER_TARGET_USERNAME"); username != "" {
		config.Automation.Username = username
	}
	if password := os.Getenv("SHEETPORTER_TARGET_PASSWORD"); password != "" {
		config.Automation.Password = password
	}
	if headless := os.Getenv("SHEETPORTER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Automation.Headless = h
		}
	}
	if timeout := os.Getenv("SHEETPORTER_BROWSER_TIMEOUT"); timeout != "" {
		config.Automation.ActionTimeout = timeout
	}

	// Storage
	if path := os.Getenv("SHEETPORTER_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Logging
	if level := os.Getenv("SHEETPORTER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SHEETPORTER_LOG_OUTPUT"); output != "" {
		parts := strings.Split(output, ",")
		config.Logging.Output = config.Logging.Output[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				config.Logging.Output = append(config.Logging.Output, p)
			}
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate reports the configuration problems that stop jobs from running.
// The server still starts with an invalid config so health endpoints can report it.
func (c *Config) Validate() []string {
	var problems []string

	if c.Security.HMACSecret == "" {
		problems = append(problems, "security.hmac_secret is not set")
	}
	if c.Callback.BaseURL == "" {
		problems = append(problems, "callback.base_url is not set")
	}
	if c.Automation.BaseURL == "" {
		problems = append(problems, "automation.base_url is not set")
	}
	if c.Automation.Username == "" || c.Automation.Password == "" {
		problems = append(problems, "automation credentials are not set")
	}
	if c.Source.Provider == "google" && c.Source.CredentialsFile == "" &&
		(c.Source.ServiceAccountEmail == "" || c.Source.PrivateKey == "") {
		problems = append(problems, "google service account credentials are not set")
	}
	for _, proxy := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			problems = append(problems, fmt.Sprintf("security.trusted_proxies: %q is not an IP or CIDR", proxy))
		}
	}
	if c.History.Enabled && c.History.PruneSchedule != "" {
		if err := ValidateSchedule(c.History.PruneSchedule); err != nil {
			problems = append(problems, fmt.Sprintf("history.prune_schedule: %v", err))
		}
	}

	return problems
}

// ResolvedLoginURL returns the configured login page, defaulting to {base}/login
func (c *AutomationConfig) ResolvedLoginURL() string {
	if c.LoginURL != "" || c.BaseURL == "" {
		return c.LoginURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/login"
}

// ValidateSchedule validates a standard five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDuration parses a config duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
