// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Rulesets() RulesetsConfig
	Certificates() CertificatesConfig
	HTTP() HTTPConfig
	Thresholds() ThresholdsConfig
	Database() DatabaseConfig
	Report() ReportConfig

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Ruleset Setters
	SetRulesetsAutoDisable(bool)
	SetRulesetsIncludeDefaultOff(bool)
	SetRulesetsCheckCoverage(bool)

	// HTTP Setters
	SetHTTPEnabled(bool)
	SetHTTPURLList(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	EngineCfg       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	RulesetsCfg     RulesetsConfig     `mapstructure:"rulesets" yaml:"rulesets"`
	CertificatesCfg CertificatesConfig `mapstructure:"certificates" yaml:"certificates"`
	HTTPCfg         HTTPConfig         `mapstructure:"http" yaml:"http"`
	ThresholdsCfg   ThresholdsConfig   `mapstructure:"thresholds" yaml:"thresholds"`
	DatabaseCfg     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	ReportCfg       ReportConfig       `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig             { return c.EngineCfg }
func (c *Config) Rulesets() RulesetsConfig         { return c.RulesetsCfg }
func (c *Config) Certificates() CertificatesConfig { return c.CertificatesCfg }
func (c *Config) HTTP() HTTPConfig                 { return c.HTTPCfg }
func (c *Config) Thresholds() ThresholdsConfig     { return c.ThresholdsCfg }
func (c *Config) Database() DatabaseConfig         { return c.DatabaseCfg }
func (c *Config) Report() ReportConfig             { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }

func (c *Config) SetRulesetsAutoDisable(b bool)       { c.RulesetsCfg.AutoDisable = b }
func (c *Config) SetRulesetsIncludeDefaultOff(b bool) { c.RulesetsCfg.IncludeDefaultOff = b }
func (c *Config) SetRulesetsCheckCoverage(b bool)     { c.RulesetsCfg.CheckCoverage = b }

func (c *Config) SetHTTPEnabled(b bool)   { c.HTTPCfg.Enabled = b }
func (c *Config) SetHTTPURLList(p string) { c.HTTPCfg.URLList = p }

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

// EngineConfig configures the comparison worker pool.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	// URLTimeout bounds the pair of fetches made for a single test URL. Zero disables the bound.
	URLTimeout time.Duration `mapstructure:"url_timeout" yaml:"url_timeout"`
}

// RulesetsConfig controls which rulesets are loaded and what happens to failing ones.
type RulesetsConfig struct {
	RulesDir          string `mapstructure:"rules_dir" yaml:"rules_dir"`
	AutoDisable       bool   `mapstructure:"auto_disable" yaml:"auto_disable"`
	IncludeDefaultOff bool   `mapstructure:"include_default_off" yaml:"include_default_off"`
	CheckCoverage     bool   `mapstructure:"check_coverage" yaml:"check_coverage"`
	ParseConcurrency  int    `mapstructure:"parse_concurrency" yaml:"parse_concurrency"`
}

// CertificatesConfig points at the per-platform trust store directories.
type CertificatesConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// HTTPConfig tunes how pages are fetched.
type HTTPConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	URLList           string        `mapstructure:"url_list" yaml:"url_list"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRedirects      int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// ThresholdsConfig selects the similarity metric and the distance reported as too big.
type ThresholdsConfig struct {
	Metric      string  `mapstructure:"metric" yaml:"metric"`
	MaxDistance float64 `mapstructure:"max_distance" yaml:"max_distance"`
}

// DatabaseConfig holds the optional result store connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReportConfig controls the optional JSON run report.
type ReportConfig struct {
	Output string `mapstructure:"output" yaml:"output"`
}

// KnownMetrics lists the metric names accepted by thresholds.metric.
var KnownMetrics = []string{"markup", "text", "json"}

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

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rulecheck")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 10)
	v.SetDefault("engine.queue_size", 1000)
	v.SetDefault("engine.url_timeout", "2m")

	// -- Rulesets --
	v.SetDefault("rulesets.rules_dir", "rules")
	v.SetDefault("rulesets.auto_disable", false)
	v.SetDefault("rulesets.include_default_off", false)
	v.SetDefault("rulesets.check_coverage", false)
	v.SetDefault("rulesets.parse_concurrency", 8)

	// -- Certificates --
	v.SetDefault("certificates.base_dir", "platform_certs")

	// -- HTTP --
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.url_list", "")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_body_bytes", 4<<20)
	v.SetDefault("http.user_agent", "rulecheck/"+Version)
	v.SetDefault("http.requests_per_second", 0.0)
	v.SetDefault("http.ignore_tls_errors", false)

	// -- Thresholds --
	v.SetDefault("thresholds.metric", "markup")
	v.SetDefault("thresholds.max_distance", 0.1)

	// -- Database / Report --
	v.SetDefault("database.url", "")
	v.SetDefault("report.output", "")
}

// Version is reported in the default user agent. Overridden by the cmd package at build time.
var Version = "dev"

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string may carry credentials; allow it to come from the environment only.
	_ = v.BindEnv("database.url", "RULECHECK_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every filesystem path of the configuration.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.RulesetsCfg.RulesDir,
		&c.CertificatesCfg.BaseDir,
		&c.HTTPCfg.URLList,
		&c.LoggerCfg.LogFile,
		&c.ReportCfg.Output,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	var errs []error

	if c.EngineCfg.WorkerConcurrency <= 0 {
		errs = append(errs, errors.New("engine.worker_concurrency must be a positive integer"))
	}
	if c.EngineCfg.QueueSize <= 0 {
		errs = append(errs, errors.New("engine.queue_size must be a positive integer"))
	}
	if c.EngineCfg.URLTimeout < 0 {
		errs = append(errs, errors.New("engine.url_timeout cannot be negative"))
	}
	if c.RulesetsCfg.ParseConcurrency <= 0 {
		errs = append(errs, errors.New("rulesets.parse_concurrency must be a positive integer"))
	}
	if c.CertificatesCfg.BaseDir == "" {
		errs = append(errs, errors.New("certificates.base_dir is required"))
	}
	if c.HTTPCfg.MaxRedirects < 0 {
		errs = append(errs, errors.New("http.max_redirects cannot be negative"))
	}
	if c.HTTPCfg.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be a positive integer"))
	}
	if c.HTTPCfg.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("http.requests_per_second cannot be negative"))
	}
	if c.ThresholdsCfg.MaxDistance < 0 || c.ThresholdsCfg.MaxDistance > 1 {
		errs = append(errs, fmt.Errorf("thresholds.max_distance must be within [0,1], got %v", c.ThresholdsCfg.MaxDistance))
	}
	if !isKnownMetric(c.ThresholdsCfg.Metric) {
		errs = append(errs, fmt.Errorf("thresholds.metric %q is not known (want one of %v)", c.ThresholdsCfg.Metric, KnownMetrics))
	}

	return errors.Join(errs...)
}

func isKnownMetric(name string) bool {
	for _, m := range KnownMetrics {
		if m == name {
			return true
		}
	}
	return false
}
