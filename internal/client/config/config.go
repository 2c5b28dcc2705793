package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/creat233/finderid/internal/flagx"
	"github.com/creat233/finderid/internal/timex"
)

// Config holds runtime settings for the finderid CLI.
type Config struct {
	ServerEndpointAddr  string
	RealtimeURL         string
	CacheDSN            string
	OnlineCheckInterval time.Duration
	ProbeTimeout        time.Duration
	PendingPollInterval time.Duration
	CallTimeout         time.Duration
	// MaxAttempts dead-letters a queued change after that many failed
	// replays; 0 retries forever.
	MaxAttempts int
	LogLevel    string
	LogFormat   string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RealtimeURL = "ws://127.0.0.1:8080/realtime"
	c.CacheDSN = defaultCacheDSN()
	c.OnlineCheckInterval = 30 * time.Second
	c.ProbeTimeout = 3 * time.Second
	c.PendingPollInterval = 5 * time.Second
	c.CallTimeout = 12 * time.Second
	c.MaxAttempts = 0
	c.LogLevel = "warn"
	c.LogFormat = "text"
}

func Defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func defaultCacheDSN() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "finderid-cache.db"
	}
	return filepath.Join(dir, "finderid", "cache.db")
}

// Load applies defaults and then the config file named by -c/--config in
// args, if any. Flags are applied later by the command line parser, see
// BindFlags.
func Load(args []string) (*Config, error) {
	cfg := Defaults()
	if path := flagx.ConfigFileFlag(args); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// fileConfig is a DTO used exclusively for file decoding. Absent keys keep
// the current value.
type fileConfig struct {
	ServerEndpointAddr  *string         `json:"server_addr" yaml:"server_addr"`
	RealtimeURL         *string         `json:"realtime_url" yaml:"realtime_url"`
	CacheDSN            *string         `json:"cache_dsn" yaml:"cache_dsn"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	ProbeTimeout        *timex.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	PendingPollInterval *timex.Duration `json:"pending_poll_interval" yaml:"pending_poll_interval"`
	CallTimeout         *timex.Duration `json:"call_timeout" yaml:"call_timeout"`
	MaxAttempts         *int            `json:"max_attempts" yaml:"max_attempts"`
	LogLevel            *string         `json:"log_level" yaml:"log_level"`
	LogFormat           *string         `json:"log_format" yaml:"log_format"`
}

// LoadFile overlays c with the values of a JSON or YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.ServerEndpointAddr, fc.ServerEndpointAddr)
	setString(&c.RealtimeURL, fc.RealtimeURL)
	setString(&c.CacheDSN, fc.CacheDSN)
	setDuration(&c.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&c.ProbeTimeout, fc.ProbeTimeout)
	setDuration(&c.PendingPollInterval, fc.PendingPollInterval)
	setDuration(&c.CallTimeout, fc.CallTimeout)
	if fc.MaxAttempts != nil {
		c.MaxAttempts = *fc.MaxAttempts
	}
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// BindFlags registers the CLI flags on fs with the current values as
// defaults, so parsing fs overrides file values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to config file (json or yaml)")
	fs.StringVarP(&c.ServerEndpointAddr, "addr", "a", c.ServerEndpointAddr, "address and port of the data service")
	fs.StringVarP(&c.RealtimeURL, "realtime", "r", c.RealtimeURL, "websocket URL of the realtime service")
	fs.StringVarP(&c.CacheDSN, "cache", "d", c.CacheDSN, "path of the local cache database")
	fs.DurationVarP(&c.OnlineCheckInterval, "interval", "i", c.OnlineCheckInterval, "connectivity probe interval")
	fs.DurationVar(&c.PendingPollInterval, "pending-poll", c.PendingPollInterval, "pending change count poll interval")
	fs.DurationVar(&c.CallTimeout, "timeout", c.CallTimeout, "timeout of one remote call")
	fs.IntVarP(&c.MaxAttempts, "max-attempts", "m", c.MaxAttempts, "failed replays before a change is dead-lettered (0 = never)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
}
