package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Tracking TrackingConfig `mapstructure:"tracking"`
	Identity IdentityConfig `mapstructure:"identity"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Report   ReportConfig   `mapstructure:"report"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// TrackingConfig defines sampling and persistence cadence
type TrackingConfig struct {
	IdleThresholdSeconds int      `mapstructure:"idle_threshold_seconds"`
	TickInterval         string   `mapstructure:"tick_interval"`
	GapThreshold         string   `mapstructure:"gap_threshold"`
	SaveInterval         string   `mapstructure:"save_interval"`
	TitleMaxLength       int      `mapstructure:"title_max_length"`
	Browsers             []string `mapstructure:"browsers"`
	ExcludedProcesses    []string `mapstructure:"excluded_processes"`
}

// IdentityConfig names the machine and user a ledger belongs to
type IdentityConfig struct {
	ComputerID string `mapstructure:"computer_id"` // defaults to the host name
	UserID     string `mapstructure:"user_id"`     // defaults to the current OS user
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "file", "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// ReportConfig defines end-of-period report delivery
type ReportConfig struct {
	Enabled       bool       `mapstructure:"enabled"`
	Weekly        bool       `mapstructure:"weekly"`
	SubjectPrefix string     `mapstructure:"subject_prefix"`
	SMTP          SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines the mail relay used for reports
type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Timeout  string   `mapstructure:"timeout"`
	Retries  int      `mapstructure:"retries"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// IdleThreshold returns the idle threshold as a duration
func (t TrackingConfig) IdleThreshold() time.Duration {
	return time.Duration(t.IdleThresholdSeconds) * time.Second
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("DESKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fillIdentity(&config.Identity)

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile reports a missing explicit path as a plain fs error.
	return os.IsNotExist(err)
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Tracking defaults
	v.SetDefault("tracking.idle_threshold_seconds", 60)
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.gap_threshold", "300s")
	v.SetDefault("tracking.save_interval", "60s")
	v.SetDefault("tracking.title_max_length", 200)
	v.SetDefault("tracking.browsers", []string{
		"chrome.exe",
		"msedge.exe",
		"firefox.exe",
		"opera.exe",
		"brave.exe",
		"vivaldi.exe",
		"iexplore.exe",
		"chromium.exe",
	})
	v.SetDefault("tracking.excluded_processes", []string{"LockApp.exe", "LogonUI.exe"})

	// Identity defaults are resolved at load time
	v.SetDefault("identity.computer_id", "")
	v.SetDefault("identity.user_id", "")

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", filepath.Join(xdg.DataHome, "deskledger"))
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Report defaults
	v.SetDefault("report.enabled", false)
	v.SetDefault("report.weekly", false)
	v.SetDefault("report.subject_prefix", "[deskledger]")
	v.SetDefault("report.smtp.host", "")
	v.SetDefault("report.smtp.port", 587)
	v.SetDefault("report.smtp.username", "")
	v.SetDefault("report.smtp.password", "")
	v.SetDefault("report.smtp.from", "")
	v.SetDefault("report.smtp.to", []string{})
	v.SetDefault("report.smtp.timeout", "30s")
	v.SetDefault("report.smtp.retries", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9477")
}

// ValidKeys returns every configuration key that has a default.
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

func fillIdentity(id *IdentityConfig) {
	if id.ComputerID == "" {
		if info, err := host.Info(); err == nil && info.Hostname != "" {
			id.ComputerID = info.Hostname
		} else if name, err := os.Hostname(); err == nil {
			id.ComputerID = name
		}
	}
	if id.UserID == "" {
		if u, err := user.Current(); err == nil {
			id.UserID = u.Username
		}
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	t := cfg.Tracking
	if t.IdleThresholdSeconds <= 0 {
		return fmt.Errorf("invalid idle threshold: %d", t.IdleThresholdSeconds)
	}

	tick, err := time.ParseDuration(t.TickInterval)
	if err != nil || tick <= 0 {
		return fmt.Errorf("invalid tick interval: %q", t.TickInterval)
	}
	gap, err := time.ParseDuration(t.GapThreshold)
	if err != nil || gap <= tick {
		return fmt.Errorf("gap threshold %q must be longer than the tick interval", t.GapThreshold)
	}
	save, err := time.ParseDuration(t.SaveInterval)
	if err != nil || save < tick {
		return fmt.Errorf("save interval %q must not be shorter than the tick interval", t.SaveInterval)
	}
	if t.TitleMaxLength <= 0 {
		return fmt.Errorf("invalid title max length: %d", t.TitleMaxLength)
	}

	if cfg.Identity.ComputerID == "" {
		return fmt.Errorf("computer id is required")
	}

	switch cfg.Storage.Type {
	case "file", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
	case "":
		cfg.Storage.Type = "file"
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Report.Enabled {
		smtp := cfg.Report.SMTP
		if smtp.Host == "" {
			return fmt.Errorf("report.smtp.host is required when reporting is enabled")
		}
		if smtp.From == "" || len(smtp.To) == 0 {
			return fmt.Errorf("report.smtp.from and report.smtp.to are required when reporting is enabled")
		}
	}

	return nil
}
