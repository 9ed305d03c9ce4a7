package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/StreamSnap/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (STREAMSNAP_SAVE_DIR, ...)
const EnvPrefix = "STREAMSNAP"

// Config represents the application configuration
type Config struct {
	StreamURL          string `json:"stream_url" yaml:"stream_url" mapstructure:"stream_url"`
	SaveDir            string `json:"save_dir" yaml:"save_dir" mapstructure:"save_dir"`
	IntervalSeconds    int    `json:"interval_seconds" yaml:"interval_seconds" mapstructure:"interval_seconds"`
	JPEGQuality        int    `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	OpenTimeoutSeconds int    `json:"open_timeout_seconds" yaml:"open_timeout_seconds" mapstructure:"open_timeout_seconds"`
	LogLevel           string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty          bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	StatusAddr         string `json:"status_addr" yaml:"status_addr" mapstructure:"status_addr"` // empty disables the status server
}

// Interval returns the capture period
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// OpenTimeout bounds connecting to the stream and waiting for its response headers
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSeconds) * time.Second
}

// Validate checks the values the capture loop depends on
func (c *Config) Validate() error {
	if c.StreamURL == "" {
		return errors.New("stream_url is required")
	}
	u, err := url.Parse(c.StreamURL)
	if err != nil {
		return fmt.Errorf("invalid stream_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("stream_url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("stream_url has no host: %s", c.StreamURL)
	}
	if c.SaveDir == "" {
		return errors.New("save_dir is required")
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be > 0, got %d", c.IntervalSeconds)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.OpenTimeoutSeconds < 0 {
		return fmt.Errorf("open_timeout_seconds must be >= 0, got %d", c.OpenTimeoutSeconds)
	}
	return nil
}

// Defaults returns the default configuration
func Defaults() Config {
	return Config{
		StreamURL:          "http://192.168.137.50:5000/video_feed",
		SaveDir:            "captured_images",
		IntervalSeconds:    60,
		JPEGQuality:        95,
		OpenTimeoutSeconds: 10,
		LogLevel:           "info",
		LogPretty:          true,
		StatusAddr:         "",
	}
}

// Keys returns every recognized configuration key, sorted
func Keys() []string {
	keys := make([]string, 0, len(defaultValues()))
	for k := range defaultValues() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func defaultValues() map[string]interface{} {
	d := Defaults()
	return map[string]interface{}{
		"stream_url":           d.StreamURL,
		"save_dir":             d.SaveDir,
		"interval_seconds":     d.IntervalSeconds,
		"jpeg_quality":         d.JPEGQuality,
		"open_timeout_seconds": d.OpenTimeoutSeconds,
		"log_level":            d.LogLevel,
		"log_pretty":           d.LogPretty,
		"status_addr":          d.StatusAddr,
	}
}

// Manager handles configuration.
// Values resolve as defaults < config file < environment < explicit Set.
// Save persists only the file and Set layers; environment values stay out of
// the file.
type Manager struct {
	configPath string
	v          *viper.Viper
	stored     *viper.Viper
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager.
// A missing config file is not an error; defaults apply.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = path
	}

	v := viper.New()
	stored := viper.New()
	for k, val := range defaultValues() {
		v.SetDefault(k, val)
		stored.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
		stored:     stored,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Debug().
			Str("path", m.configPath).
			Msg("Config file not found, using defaults")
		return m, nil
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

// DefaultPath returns $HOME/.config/streamsnap/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "streamsnap", "config.yaml"), nil
}

// load reads the configuration file into both viper layers
func (m *Manager) load() error {
	if _, err := os.Stat(m.configPath); err != nil {
		return err
	}

	for _, v := range []*viper.Viper{m.v, m.stored} {
		v.SetConfigFile(m.configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return nil
}

// Get returns a snapshot of the resolved configuration.
// A value that does not fit its key's type is an error, never a silent default.
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return decode(m.v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Set overrides a single key. Unknown keys are rejected.
func (m *Manager) Set(key string, value interface{}) error {
	if _, ok := defaultValues()[key]; !ok {
		return fmt.Errorf("unknown configuration key: %s (known: %s)", key, strings.Join(Keys(), ", "))
	}

	m.mu.Lock()
	m.v.Set(key, value)
	m.stored.Set(key, value)
	m.mu.Unlock()
	return nil
}

// Lookup returns the resolved value of key
func (m *Manager) Lookup(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.v.IsSet(key) {
		return nil, false
	}
	return m.v.Get(key), true
}

// Save writes the file and Set layers to disk as YAML
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg, err := decode(m.stored)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
