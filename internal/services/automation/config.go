package automation

import (
	"strings"
	"time"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
)

const (
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultActionTimeout    = 30 * time.Second
	DefaultLoginWaitTimeout = 10 * time.Second
	DefaultSettleDelay      = 500 * time.Millisecond
	DefaultWindowWidth      = 1920
	DefaultWindowHeight     = 1080
)

// Candidate locators for the login surface, tried in order
var (
	UsernameLocators    = []string{`input[name="username"]`, `input[name="email"]`, `input[type="email"]`}
	PasswordLocators    = []string{`input[name="password"]`, `input[type="password"]`}
	LoginSubmitLocators = []string{`button[type="submit"]`, `input[type="submit"]`}
	LoggedInMarkers     = []string{`a[href*="logout"]`, `a[href*="profile"]`, ".user-menu", ".dashboard", "[data-user]"}
)

// Config is the resolved session configuration
type Config struct {
	BaseURL          string
	LoginURL         string
	Credentials      interfaces.Credentials
	Headless         bool
	ActionTimeout    time.Duration
	LoginWaitTimeout time.Duration
	SettleDelay      time.Duration
	UserAgent        string
	WindowWidth      int
	WindowHeight     int
	ScreenshotDir    string
	ExecPath         string
}

// NewConfig resolves durations and defaults from the automation config section
func NewConfig(c *common.AutomationConfig) Config {
	cfg := Config{
		BaseURL:          strings.TrimRight(c.BaseURL, "/"),
		LoginURL:         c.ResolvedLoginURL(),
		Credentials:      interfaces.Credentials{Username: c.Username, Password: c.Password},
		Headless:         c.Headless,
		ActionTimeout:    common.ParseDuration(c.ActionTimeout, DefaultActionTimeout),
		LoginWaitTimeout: common.ParseDuration(c.LoginWaitTimeout, DefaultLoginWaitTimeout),
		SettleDelay:      common.ParseDuration(c.SettleDelay, DefaultSettleDelay),
		UserAgent:        c.UserAgent,
		WindowWidth:      c.WindowWidth,
		WindowHeight:     c.WindowHeight,
		ScreenshotDir:    c.ScreenshotDir,
		ExecPath:         c.ExecPath,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.LoginWaitTimeout <= 0 {
		c.LoginWaitTimeout = DefaultLoginWaitTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = DefaultWindowWidth
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = DefaultWindowHeight
	}
	if c.LoginURL == "" && c.BaseURL != "" {
		c.LoginURL = c.BaseURL + "/login"
	}
	return c
}

// FormURL joins the target base URL and a mapping form path
func (c Config) FormURL(formPath string) string {
	return c.BaseURL + "/" + strings.TrimLeft(formPath, "/")
}
