// Package config loads ServerContext tunables from a YAML file, with
// command-line flags layered on top as overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the server context/scheduler
// design: bind address, timing, the blocklist, and the paths to the
// long-lived signing key and access log.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Interval              time.Duration `yaml:"interval"`
	KeepAliveInterval     time.Duration `yaml:"keep_alive_interval"`
	HardKeepAliveInterval time.Duration `yaml:"hard_keep_alive_interval"`
	ResendDelay           time.Duration `yaml:"resend_delay"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout"`
	TempConnectionTimeout time.Duration `yaml:"temp_connection_timeout"`
	OutgoingTimeout       time.Duration `yaml:"outgoing_timeout"`

	Blocklist     []string `yaml:"blocklist"`
	AccessLogPath string   `yaml:"access_log_path"`

	RootKeyPath string `yaml:"root_key_path"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the tunables named in the server design's defaults:
// a 50ms tick, a 6s soft and 60s hard keep-alive cadence, a 1s
// per-message outgoing timeout, a 2s handshake timeout, and a 5s
// post-handshake inactivity timeout.
func Default() Config {
	return Config{
		Host:                  "0.0.0.0",
		Port:                  7777,
		Interval:              50 * time.Millisecond,
		KeepAliveInterval:     6 * time.Second,
		HardKeepAliveInterval: 60 * time.Second,
		ResendDelay:           6 * time.Second,
		ConnectionTimeout:     5 * time.Second,
		TempConnectionTimeout: 2 * time.Second,
		OutgoingTimeout:       time.Second,
		MetricsAddr:           ":9090",
	}
}

// Load reads a YAML file at path over the defaults; fields absent from
// the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers pflag overrides for the most commonly tuned
// fields, so a command line flag takes precedence over the YAML file
// (the flags write straight into c's fields; cmd/fosonet-server's
// mergeExplicitFlags copies the explicitly passed ones over a loaded
// file).
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "bind address")
	fs.IntVar(&c.Port, "port", c.Port, "bind port")
	fs.DurationVar(&c.Interval, "interval", c.Interval, "scheduler tick interval")
	fs.DurationVar(&c.ConnectionTimeout, "connection-timeout", c.ConnectionTimeout, "post-handshake inactivity timeout")
	fs.DurationVar(&c.TempConnectionTimeout, "temp-connection-timeout", c.TempConnectionTimeout, "handshake timeout")
	fs.DurationVar(&c.OutgoingTimeout, "outgoing-timeout", c.OutgoingTimeout, "per-message outgoing timeout")
	fs.StringVar(&c.RootKeyPath, "root-key", c.RootKeyPath, "path to the server's ECDSA root private key (PEM)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "bind address for the /metrics endpoint")
}
