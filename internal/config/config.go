package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bingarchiver/internal/models"
)

const (
	AppName        = "bingarchiver"
	envPrefix      = "BINGARCHIVER"
	DefaultBaseURL = "http://www.iorise.com"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Download DownloadConfig `mapstructure:"download"`
	Triage   TriageConfig   `mapstructure:"triage"`
	Log      LogConfig      `mapstructure:"log"`
}

// ArchiveConfig describes where and from when wallpapers are collected.
type ArchiveConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	StartDate        string `mapstructure:"start_date"`
	FormatChangeDate string `mapstructure:"format_change_date"`
}

// DownloadConfig stores downloader settings.
type DownloadConfig struct {
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	Delay   time.Duration `mapstructure:"delay"`
}

// TriageConfig stores classifier settings.
type TriageConfig struct {
	Threshold    float64 `mapstructure:"threshold"`
	ExpectedSize string  `mapstructure:"expected_size"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Start returns the first archive day.
func (a ArchiveConfig) Start() (time.Time, error) {
	return parseDate("archive.start_date", a.StartDate)
}

// FormatChange returns the first day published with the newer page layout.
func (a ArchiveConfig) FormatChange() (time.Time, error) {
	return parseDate("archive.format_change_date", a.FormatChangeDate)
}

// Size parses the expected resolution; the zero Size means no check.
func (t TriageConfig) Size() (models.Size, error) {
	size, err := models.ParseSize(t.ExpectedSize)
	if err != nil {
		return models.Size{}, fmt.Errorf("triage.expected_size: %w", err)
	}
	return size, nil
}

func parseDate(key, value string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(value), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid date %q", key, value)
	}
	return day, nil
}

// Validate checks every value that is parsed or bounded.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Archive.Start(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Archive.FormatChange(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Triage.Size(); err != nil {
		errs = append(errs, err)
	}
	if c.Triage.Threshold <= 0 || c.Triage.Threshold > 100 {
		errs = append(errs, fmt.Errorf("triage.threshold: must be in (0, 100], got %v", c.Triage.Threshold))
	}
	if c.Download.Workers < 1 {
		errs = append(errs, fmt.Errorf("download.workers: must be at least 1, got %d", c.Download.Workers))
	}
	if c.Download.Retries < 0 {
		errs = append(errs, fmt.Errorf("download.retries: must not be negative, got %d", c.Download.Retries))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("download.timeout: must be positive, got %s", c.Download.Timeout))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.base_url", DefaultBaseURL)
	v.SetDefault("archive.start_date", "2012-11-25")
	v.SetDefault("archive.format_change_date", "2014-10-08")

	v.SetDefault("download.workers", 4)
	v.SetDefault("download.timeout", 30*time.Second)
	v.SetDefault("download.retries", 2)
	v.SetDefault("download.delay", time.Second)

	v.SetDefault("triage.threshold", 95.0)
	v.SetDefault("triage.expected_size", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from configPath, or from bingarchiver.toml in the
// working directory or ~/.config/bingarchiver when configPath is empty.
// BINGARCHIVER_* environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", AppName))
		}
		v.SetConfigName(AppName)
		v.SetConfigType("toml")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
