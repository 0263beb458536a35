package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/autoref/internal/util"
)

// Results backends
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config represents the complete autoref configuration
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Service  ServiceConfig  `mapstructure:"service" yaml:"service"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Profile  ProfileConfig  `mapstructure:"profile" yaml:"profile"`
	Results  ResultsConfig  `mapstructure:"results" yaml:"results"`
	Inbox    InboxConfig    `mapstructure:"inbox" yaml:"inbox"`
	Scan     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// TelegramConfig controls the operator chat bot
type TelegramConfig struct {
	// BotToken is the Bot API token issued by BotFather. Required by run.
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	// ChatID is the operator chat. Messages from any other chat are ignored.
	ChatID string `mapstructure:"chat_id" yaml:"chat_id" validate:"omitempty,numeric"`
	// InitAttempts bounds the connection attempts at startup (default: 3)
	InitAttempts int `mapstructure:"init_attempts" yaml:"init_attempts" validate:"gte=1,lte=100"`
	// InitDelay is the pause between connection attempts (default: 5s)
	InitDelay time.Duration `mapstructure:"init_delay" yaml:"init_delay" validate:"gte=0"`
	// PollTimeout is the long-poll timeout in seconds (default: 60)
	PollTimeout int `mapstructure:"poll_timeout" yaml:"poll_timeout" validate:"gte=1,lte=600"`
	// APIEndpoint overrides the Bot API URL template, e.g. for a local Bot API server.
	// It must contain two %s verbs: token and method.
	APIEndpoint string `mapstructure:"api_endpoint" yaml:"api_endpoint"`
}

// ServiceConfig points at the registration service
type ServiceConfig struct {
	// BaseURL is the root of the registration API. Required by every command
	// that talks to the service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	// RequestTimeout bounds each HTTP call. 0 disables the timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gte=0"`
}

// MailboxConfig points at the disposable mailbox provider
type MailboxConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
}

// RetryConfig controls retried remote calls
type RetryConfig struct {
	// Delay is the fixed pause between attempts (default: 3s)
	Delay time.Duration `mapstructure:"delay" yaml:"delay" validate:"gte=0"`
	// MaxAttempts bounds retries. 0 retries until success.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
}

// ProfileConfig controls the profile written for each account
type ProfileConfig struct {
	Description string `mapstructure:"description" yaml:"description" validate:"required"`
}

// ResultsConfig controls where accepted accounts, tokens and scanned codes go
type ResultsConfig struct {
	// Backend is "file" (default) or "redis"
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=file redis"`
	// Dir holds the result files for the file backend (default: "result")
	Dir          string `mapstructure:"dir" yaml:"dir"`
	AccountsFile string `mapstructure:"accounts_file" yaml:"accounts_file" validate:"required"`
	TokensFile   string `mapstructure:"tokens_file" yaml:"tokens_file" validate:"required"`
	CodesFile    string `mapstructure:"codes_file" yaml:"codes_file" validate:"required"`
	// RedisURL is required when Backend is "redis", e.g. redis://localhost:6379/0
	RedisURL  string `mapstructure:"redis_url" yaml:"redis_url"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// InboxConfig controls the optional file inbox
type InboxConfig struct {
	// CodesFile is watched for appended lines, each delivered like a chat
	// message from the operator. Empty disables the file inbox.
	CodesFile string `mapstructure:"codes_file" yaml:"codes_file"`
}

// ScanConfig controls the scan and harvest commands
type ScanConfig struct {
	// TokensFile lists one account token per line (default: "tokens.txt")
	TokensFile string `mapstructure:"tokens_file" yaml:"tokens_file" validate:"required"`
	// Passes is how many times the token list is swept (default: 5)
	Passes int `mapstructure:"passes" yaml:"passes" validate:"gte=1"`
	// AccountsFile receives harvested accounts (default: "accounts.txt")
	AccountsFile string `mapstructure:"accounts_file" yaml:"accounts_file" validate:"required"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// Dir holds autoref.log. Empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gt=0,lte=1000"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the metrics HTTP endpoint
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the endpoint.
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			InitAttempts: 3,
			InitDelay:    5 * time.Second,
			PollTimeout:  60,
		},
		Mailbox: MailboxConfig{
			BaseURL: "https://api.mail.tm",
		},
		Retry: RetryConfig{
			Delay: 3 * time.Second,
		},
		Profile: ProfileConfig{
			Description: "AI Startup",
		},
		Results: ResultsConfig{
			Backend:      BackendFile,
			Dir:          "result",
			AccountsFile: "accounts_ref.txt",
			TokensFile:   "tokens_ref.txt",
			CodesFile:    "reffCode.txt",
			KeyPrefix:    "autoref",
		},
		Scan: ScanConfig{
			TokensFile:   "tokens.txt",
			Passes:       5,
			AccountsFile: "accounts.txt",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Telegram defaults
	viper.SetDefault("telegram.bot_token", defaults.Telegram.BotToken)
	viper.SetDefault("telegram.chat_id", defaults.Telegram.ChatID)
	viper.SetDefault("telegram.init_attempts", defaults.Telegram.InitAttempts)
	viper.SetDefault("telegram.init_delay", defaults.Telegram.InitDelay)
	viper.SetDefault("telegram.poll_timeout", defaults.Telegram.PollTimeout)
	viper.SetDefault("telegram.api_endpoint", defaults.Telegram.APIEndpoint)

	// Service defaults
	viper.SetDefault("service.base_url", defaults.Service.BaseURL)
	viper.SetDefault("service.request_timeout", defaults.Service.RequestTimeout)

	viper.SetDefault("mailbox.base_url", defaults.Mailbox.BaseURL)

	// Retry defaults
	viper.SetDefault("retry.delay", defaults.Retry.Delay)
	viper.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)

	viper.SetDefault("profile.description", defaults.Profile.Description)

	// Results defaults
	viper.SetDefault("results.backend", defaults.Results.Backend)
	viper.SetDefault("results.dir", defaults.Results.Dir)
	viper.SetDefault("results.accounts_file", defaults.Results.AccountsFile)
	viper.SetDefault("results.tokens_file", defaults.Results.TokensFile)
	viper.SetDefault("results.codes_file", defaults.Results.CodesFile)
	viper.SetDefault("results.redis_url", defaults.Results.RedisURL)
	viper.SetDefault("results.key_prefix", defaults.Results.KeyPrefix)

	viper.SetDefault("inbox.codes_file", defaults.Inbox.CodesFile)

	// Scan defaults
	viper.SetDefault("scan.tokens_file", defaults.Scan.TokensFile)
	viper.SetDefault("scan.passes", defaults.Scan.Passes)
	viper.SetDefault("scan.accounts_file", defaults.Scan.AccountsFile)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autoref")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoref"
	}
	return filepath.Join(home, ".config", "autoref")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Redacted returns a copy safe to print: secrets keep only their last four
// characters.
func (c *Config) Redacted() *Config {
	out := *c
	out.Telegram.BotToken = util.Mask(c.Telegram.BotToken)
	if u, err := url.Parse(c.Results.RedisURL); err == nil && c.Results.RedisURL != "" {
		out.Results.RedisURL = u.Redacted()
	}
	return &out
}
