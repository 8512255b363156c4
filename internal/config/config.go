package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "configuration.toml"

	defaultFrequencySeconds      = 600
	defaultRetryTimeoutSeconds   = 60
	defaultRequestTimeoutSeconds = 15
	defaultMetricsAddr           = ":9090"
	defaultLogLevel              = "info"
	defaultLogEnv                = "prod"
)

var defaultIPServices = []string{
	"http://checkip.amazonaws.com",
	"http://myexternalip.com/raw",
	"http://www.trackip.net/ip",
}

// ErrDefaultCreated is returned by Load when no configuration file existed and a
// default one was written in its place.
var ErrDefaultCreated = errors.New("default configuration file has been created, please add the required information")

type Config struct {
	CloudflareEmail       string   `toml:"cloudflare_email" yaml:"cloudflare_email"`
	CloudflareKey         string   `toml:"cloudflare_key" yaml:"cloudflare_key"`
	CloudflareToken       string   `toml:"cloudflare_token,omitempty" yaml:"cloudflare_token,omitempty"`
	DomainName            string   `toml:"cf_domain_name" yaml:"cf_domain_name"`
	RecordName            string   `toml:"cf_record_name" yaml:"cf_record_name"`
	FrequencySeconds      uint64   `toml:"frequency_seconds" yaml:"frequency_seconds"`
	RetryTimeoutSeconds   uint64   `toml:"retry_timeout_seconds" yaml:"retry_timeout_seconds"`
	RequestTimeoutSeconds uint64   `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	IPServices            []string `toml:"ip_services" yaml:"ip_services"`
	MetricsAddr           string   `toml:"metrics_addr" yaml:"metrics_addr"`
	HistoryPath           string   `toml:"history_path" yaml:"history_path"`
	Log                   Log      `toml:"log" yaml:"log"`
}

type Log struct {
	Level string `toml:"level" yaml:"level"`
	Env   string `toml:"env" yaml:"env"`
}

// ValidationError describes a required field that is missing or unusable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config not complete: %s: %s", e.Field, e.Message)
}

func Default() *Config {
	services := make([]string, len(defaultIPServices))
	copy(services, defaultIPServices)
	return &Config{
		DomainName:            "example.com",
		RecordName:            "root.example.com",
		FrequencySeconds:      defaultFrequencySeconds,
		RetryTimeoutSeconds:   defaultRetryTimeoutSeconds,
		RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		IPServices:            services,
		MetricsAddr:           defaultMetricsAddr,
		Log: Log{
			Level: defaultLogLevel,
			Env:   defaultLogEnv,
		},
	}
}

func (c *Config) FrequencyInterval() time.Duration {
	return time.Duration(c.FrequencySeconds) * time.Second
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load reads the configuration at path, applies defaults and environment
// overrides, and validates the result. A missing file is replaced by a default
// one and ErrDefaultCreated is returned.
func Load(path string) (*Config, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, writing defaults", "path", path)
		if err := writeDefault(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return nil, ErrDefaultCreated
	}
	if err != nil {
		return nil, fmt.Errorf("access config file: %w", err)
	}

	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string) (*Config, error) {
	var cfg Config
	if isYAML(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return &cfg, nil
}

func writeDefault(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	cfg := Default()
	if isYAML(path) {
		encoder := yaml.NewEncoder(f)
		err = encoder.Encode(cfg)
		if cerr := encoder.Close(); err == nil {
			err = cerr
		}
	} else {
		err = toml.NewEncoder(f).Encode(cfg)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.FrequencySeconds == 0 {
		c.FrequencySeconds = defaultFrequencySeconds
	}
	if c.RetryTimeoutSeconds == 0 {
		c.RetryTimeoutSeconds = defaultRetryTimeoutSeconds
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Env == "" {
		c.Log.Env = defaultLogEnv
	}
}

func (c *Config) applyEnv() {
	if email := os.Getenv("DDNS_CLOUDFLARE_EMAIL"); email != "" {
		c.CloudflareEmail = email
	}
	if key := os.Getenv("DDNS_CLOUDFLARE_KEY"); key != "" {
		c.CloudflareKey = key
	}
	if token := os.Getenv("DDNS_CLOUDFLARE_TOKEN"); token != "" {
		c.CloudflareToken = token
	}
	if domain := os.Getenv("DDNS_DOMAIN_NAME"); domain != "" {
		c.DomainName = domain
	}
	if record := os.Getenv("DDNS_RECORD_NAME"); record != "" {
		c.RecordName = record
	}
	if frequency := os.Getenv("DDNS_FREQUENCY_SECONDS"); frequency != "" {
		if secs, err := strconv.ParseUint(frequency, 10, 64); err == nil && secs > 0 {
			c.FrequencySeconds = secs
		} else {
			slog.Default().Warn("fail parse frequency seconds from string", "frequency", frequency, "error", err)
		}
	}
	if retry := os.Getenv("DDNS_RETRY_TIMEOUT_SECONDS"); retry != "" {
		if secs, err := strconv.ParseUint(retry, 10, 64); err == nil && secs > 0 {
			c.RetryTimeoutSeconds = secs
		} else {
			slog.Default().Warn("fail parse retry timeout seconds from string", "retry", retry, "error", err)
		}
	}
	if services := os.Getenv("DDNS_IP_SERVICES"); services != "" {
		c.IPServices = strings.Split(services, ",")
	}
	if addr, ok := os.LookupEnv("DDNS_METRICS_ADDR"); ok {
		c.MetricsAddr = addr
	}
	if historyPath := os.Getenv("DDNS_HISTORY_PATH"); historyPath != "" {
		c.HistoryPath = historyPath
	}
	if loglevel := os.Getenv("DDNS_LOG_LEVEL"); loglevel != "" {
		c.Log.Level = loglevel
	}
	if logenv := os.Getenv("DDNS_LOG_ENV"); logenv != "" {
		c.Log.Env = logenv
	}
}

// Validate checks required fields and filters IPServices down to usable
// endpoints, keeping their order.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CloudflareToken) == "" {
		if strings.TrimSpace(c.CloudflareEmail) == "" {
			return &ValidationError{Field: "cloudflare_email", Message: "email is required for login to Cloudflare"}
		}
		if strings.TrimSpace(c.CloudflareKey) == "" {
			return &ValidationError{Field: "cloudflare_key", Message: "API key is required for authentication to Cloudflare"}
		}
	}
	if strings.TrimSpace(c.DomainName) == "" {
		return &ValidationError{Field: "cf_domain_name", Message: "domain name of the zone is required"}
	}
	if strings.TrimSpace(c.RecordName) == "" {
		return &ValidationError{Field: "cf_record_name", Message: "address name for the A record to edit is required"}
	}

	valid := make([]string, 0, len(c.IPServices))
	for _, service := range c.IPServices {
		service = strings.TrimSpace(service)
		if !validService(service) {
			slog.Default().Warn("Dropping invalid ip service", "service", service)
			continue
		}
		valid = append(valid, service)
	}
	if len(valid) == 0 {
		return &ValidationError{Field: "ip_services", Message: "provide at least one IP checker service"}
	}
	c.IPServices = valid
	return nil
}

func validService(service string) bool {
	u, err := url.Parse(service)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return true
	case "dns":
		// dns://resolver/name needs the name being queried
		return strings.Trim(u.Path, "/") != ""
	}
	return false
}
