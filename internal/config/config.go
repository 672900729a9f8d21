// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. PAYWALL_VERIFY_TARGET_URL for target.url.
const EnvPrefix = "PAYWALL_VERIFY"

// Supported browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
)

// Interface defines the contract for accessing application configuration.
// Commands and the service factory depend on it so tests can hand in a
// hand-built Config.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Target() TargetConfig
	Assertions() AssertionsConfig
	Viewports() ViewportsConfig
	Checks() ChecksConfig
	Output() OutputConfig
	Report() ReportConfig
	Database() DatabaseConfig

	// Setters for values that come from CLI flags with no direct key mapping.
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	TargetCfg     TargetConfig     `mapstructure:"target" yaml:"target"`
	AssertionsCfg AssertionsConfig `mapstructure:"assertions" yaml:"assertions"`
	ViewportsCfg  ViewportsConfig  `mapstructure:"viewports" yaml:"viewports"`
	ChecksCfg     ChecksConfig     `mapstructure:"checks" yaml:"checks"`
	OutputCfg     OutputConfig     `mapstructure:"output" yaml:"output"`
	ReportCfg     ReportConfig     `mapstructure:"report" yaml:"report"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Target() TargetConfig         { return c.TargetCfg }
func (c *Config) Assertions() AssertionsConfig { return c.AssertionsCfg }
func (c *Config) Viewports() ViewportsConfig   { return c.ViewportsCfg }
func (c *Config) Checks() ChecksConfig         { return c.ChecksCfg }
func (c *Config) Output() OutputConfig         { return c.OutputCfg }
func (c *Config) Report() ReportConfig         { return c.ReportCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and tunes the automation driver.
type BrowserConfig struct {
	Driver        string        `mapstructure:"driver" yaml:"driver"`
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	Install       bool          `mapstructure:"install" yaml:"install"`
	ExecPath      string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// TargetConfig describes the application under test.
type TargetConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// NetworkIdleQuiet is honoured by the chromedp and rod drivers. Playwright
	// has a fixed 500ms networkidle window.
	NetworkIdleQuiet time.Duration `mapstructure:"network_idle_quiet" yaml:"network_idle_quiet"`
}

// AssertionsConfig controls how long expectations are retried.
type AssertionsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Viewport is a browsing context size in CSS pixels.
type Viewport struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// ViewportsConfig holds the two viewport profiles of a run.
type ViewportsConfig struct {
	Desktop Viewport `mapstructure:"desktop" yaml:"desktop"`
	Mobile  Viewport `mapstructure:"mobile" yaml:"mobile"`
}

// ChecksConfig holds the page-specific expectations.
type ChecksConfig struct {
	HeadingText       string   `mapstructure:"heading_text" yaml:"heading_text"`
	GatedText         string   `mapstructure:"gated_text" yaml:"gated_text"`
	PurchaseRole      string   `mapstructure:"purchase_role" yaml:"purchase_role"`
	PurchaseName      string   `mapstructure:"purchase_name" yaml:"purchase_name"`
	PurchaseCount     int      `mapstructure:"purchase_count" yaml:"purchase_count"`
	PlaceholderText   string   `mapstructure:"placeholder_text" yaml:"placeholder_text"`
	ExtraVisibleTexts []string `mapstructure:"extra_visible_texts" yaml:"extra_visible_texts"`
}

// OutputConfig controls where screenshots land.
type OutputConfig struct {
	Dir               string `mapstructure:"dir" yaml:"dir"`
	DesktopScreenshot string `mapstructure:"desktop_screenshot" yaml:"desktop_screenshot"`
	MobileScreenshot  string `mapstructure:"mobile_screenshot" yaml:"mobile_screenshot"`
	FullPage          bool   `mapstructure:"full_page" yaml:"full_page"`
}

// ReportConfig controls the optional run report.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DatabaseConfig holds the run history connection details. An empty URL
// disables history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every key with the values the verification
// originally ran with. A run with no config file, env or flags uses these.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "paywall-verify")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverPlaywright)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.install", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Target --
	v.SetDefault("target.url", "http://localhost:3000")
	v.SetDefault("target.navigation_timeout", "30s")
	v.SetDefault("target.network_idle_quiet", "500ms")

	// -- Assertions --
	v.SetDefault("assertions.timeout", "5s")
	v.SetDefault("assertions.poll_interval", "100ms")

	// -- Viewports --
	v.SetDefault("viewports.desktop.width", 1280)
	v.SetDefault("viewports.desktop.height", 800)
	v.SetDefault("viewports.mobile.width", 390)
	v.SetDefault("viewports.mobile.height", 844)

	// -- Checks --
	v.SetDefault("checks.heading_text", "X402 Creator Platform")
	v.SetDefault("checks.gated_text", "The Future of Cross-Chain Payments")
	v.SetDefault("checks.purchase_role", "button")
	v.SetDefault("checks.purchase_name", "Buy for")
	v.SetDefault("checks.purchase_count", 2)
	v.SetDefault("checks.placeholder_text", "Exclusive Analysis")
	v.SetDefault("checks.extra_visible_texts", []string{})

	// -- Output --
	v.SetDefault("output.dir", "/home/jules/verification")
	v.SetDefault("output.desktop_screenshot", "1_desktop_locked.png")
	v.SetDefault("output.mobile_screenshot", "2_mobile_locked.png")
	v.SetDefault("output.full_page", false)

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The conventional libpq variable is honoured when nothing else set the URL.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.BrowserCfg.Driver = strings.ToLower(strings.TrimSpace(cfg.BrowserCfg.Driver))
	cfg.ReportCfg.Format = strings.ToLower(strings.TrimSpace(cfg.ReportCfg.Format))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Driver {
	case DriverPlaywright, DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("browser.driver must be one of %q, %q or %q, got %q",
			DriverPlaywright, DriverChromedp, DriverRod, c.BrowserCfg.Driver)
	}
	if c.TargetCfg.URL == "" {
		return fmt.Errorf("target.url is a required configuration field")
	}
	if !strings.HasPrefix(c.TargetCfg.URL, "http://") && !strings.HasPrefix(c.TargetCfg.URL, "https://") {
		return fmt.Errorf("target.url must be an http(s) URL, got %q", c.TargetCfg.URL)
	}
	if c.TargetCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("target.navigation_timeout must be a positive duration")
	}
	if c.TargetCfg.NetworkIdleQuiet <= 0 {
		return fmt.Errorf("target.network_idle_quiet must be a positive duration")
	}
	if c.AssertionsCfg.Timeout <= 0 {
		return fmt.Errorf("assertions.timeout must be a positive duration")
	}
	if c.AssertionsCfg.PollInterval <= 0 || c.AssertionsCfg.PollInterval > c.AssertionsCfg.Timeout {
		return fmt.Errorf("assertions.poll_interval must be positive and not exceed assertions.timeout")
	}
	if err := c.ViewportsCfg.Validate(); err != nil {
		return fmt.Errorf("viewports configuration invalid: %w", err)
	}
	if err := c.ChecksCfg.Validate(); err != nil {
		return fmt.Errorf("checks configuration invalid: %w", err)
	}
	if c.OutputCfg.Dir == "" {
		return fmt.Errorf("output.dir is a required configuration field")
	}
	if c.OutputCfg.DesktopScreenshot == "" || c.OutputCfg.MobileScreenshot == "" {
		return fmt.Errorf("output.desktop_screenshot and output.mobile_screenshot are required")
	}
	if c.OutputCfg.DesktopScreenshot == c.OutputCfg.MobileScreenshot {
		return fmt.Errorf("output.desktop_screenshot and output.mobile_screenshot must differ")
	}
	switch c.ReportCfg.Format {
	case "text", "json", "junit":
	default:
		return fmt.Errorf("report.format must be one of text, json or junit, got %q", c.ReportCfg.Format)
	}
	return nil
}

// Validate checks both viewport profiles.
func (v *ViewportsConfig) Validate() error {
	if v.Desktop.Width <= 0 || v.Desktop.Height <= 0 {
		return fmt.Errorf("desktop viewport must have positive dimensions, got %s", v.Desktop)
	}
	if v.Mobile.Width <= 0 || v.Mobile.Height <= 0 {
		return fmt.Errorf("mobile viewport must have positive dimensions, got %s", v.Mobile)
	}
	return nil
}

// Validate checks the page expectations.
func (c *ChecksConfig) Validate() error {
	if c.HeadingText == "" || c.GatedText == "" || c.PlaceholderText == "" {
		return fmt.Errorf("heading_text, gated_text and placeholder_text are required")
	}
	if c.PurchaseRole == "" || c.PurchaseName == "" {
		return fmt.Errorf("purchase_role and purchase_name are required")
	}
	if c.PurchaseCount < 1 {
		return fmt.Errorf("purchase_count must be at least 1 so there is a button to click")
	}
	return nil
}
