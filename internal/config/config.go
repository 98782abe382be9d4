package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source           SourceConfig  `yaml:"source"`
	Interval         time.Duration `yaml:"interval"`
	SkipInitialBatch bool          `yaml:"skip_initial_batch"`
	Store            StoreConfig   `yaml:"store"`
	Notifiers        []Notifier    `yaml:"notifiers"`
	Metrics          MetricsConfig `yaml:"metrics"`
	Log              LogConfig     `yaml:"log"`
}

type SourceConfig struct {
	URL       string        `yaml:"url"`
	BaseURL   string        `yaml:"base_url"`
	Format    string        `yaml:"format"` // "json" (default) or "rss"
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Timezone  string        `yaml:"timezone"`
}

type StoreConfig struct {
	Type      string        `yaml:"type"` // "valkey" (default) or "memory"
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Timeout   time.Duration `yaml:"timeout"`
	MarkerKey string        `yaml:"marker_key"`
	SetKey    string        `yaml:"set_key"`
	TTL       time.Duration `yaml:"ttl"`
}

type Notifier struct {
	Name         string        `yaml:"name"`
	Provider     string        `yaml:"provider"` // "bark" (default), "discord", "generic" or "email"
	URL          string        `yaml:"url"`      // bark server or webhook url
	DeviceKey    string        `yaml:"device_key"`
	Group        string        `yaml:"group"`
	Sound        string        `yaml:"sound"`
	PostInterval time.Duration `yaml:"post_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	SMTP         SMTPConfig    `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	TLSMode  string   `yaml:"tls_mode"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" (default) or "text"
}

const (
	ProviderBark    = "bark"
	ProviderDiscord = "discord"
	ProviderGeneric = "generic"
	ProviderEmail   = "email"
)

func Default() *Config {
	return &Config{
		Source: SourceConfig{
			URL:       "http://new.ixbk.net/plus/json/push.json",
			BaseURL:   "http://new.ixbk.net",
			Format:    "json",
			Timeout:   10 * time.Second,
			UserAgent: "xbk-pusher/1.0",
		},
		Interval: 30 * time.Second,
		Store: StoreConfig{
			Type:      "valkey",
			Address:   "127.0.0.1:6379",
			Timeout:   2 * time.Second,
			MarkerKey: "xbk_1",
			SetKey:    "xbk_ids",
			TTL:       600 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path over the defaults. ${VAR} references are
// expanded from the environment first so credentials can stay out of the file.
func Load(path string) (*Config, error) {
	c := Default()

	if err := loadYaml(path, c); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for i := range c.Notifiers {
		n := &c.Notifiers[i]
		if n.Provider == "" {
			n.Provider = ProviderBark
		}
		n.Provider = strings.ToLower(n.Provider)
		if n.Name == "" {
			n.Name = fmt.Sprintf("%s-%d", n.Provider, i)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source url is required")
	}
	switch c.Source.Format {
	case "json", "rss":
	default:
		return fmt.Errorf("unknown source format %q", c.Source.Format)
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
	}
	switch c.Store.Type {
	case "valkey", "memory":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Store.Type == "valkey" && c.Store.Address == "" {
		return fmt.Errorf("store address is required")
	}
	if c.Store.TTL < time.Second {
		return fmt.Errorf("store ttl must be at least 1s, got %s", c.Store.TTL)
	}
	if c.Store.MarkerKey == "" || c.Store.SetKey == "" {
		return fmt.Errorf("store marker_key and set_key are required")
	}
	if c.Store.MarkerKey == c.Store.SetKey {
		return fmt.Errorf("store marker_key and set_key must differ")
	}
	if len(c.Notifiers) == 0 {
		return fmt.Errorf("no notifiers configured")
	}
	for _, n := range c.Notifiers {
		if err := n.validate(); err != nil {
			return fmt.Errorf("notifier %q: %w", n.Name, err)
		}
	}
	return nil
}

func (n Notifier) validate() error {
	switch n.Provider {
	case ProviderBark:
		if n.DeviceKey == "" {
			return fmt.Errorf("device_key is required")
		}
	case ProviderDiscord, ProviderGeneric:
		if n.URL == "" {
			return fmt.Errorf("url is required")
		}
	case ProviderEmail:
		if n.SMTP.Host == "" {
			return fmt.Errorf("smtp host is required")
		}
		if len(n.SMTP.To) == 0 {
			return fmt.Errorf("smtp to is required")
		}
	default:
		return fmt.Errorf("unknown provider %q", n.Provider)
	}
	return nil
}

// Location resolves the source timezone, falling back to local time.
func (s SourceConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

func loadYaml(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out)
}
