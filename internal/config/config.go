// Package config loads a ring node's settings from YAML, the environment and
// the command line.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/busybox42/ringnode/pkg/ring"
	"github.com/busybox42/ringnode/pkg/types"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// SecretEnv supplies the shared secret when the file names none.
const SecretEnv = "RINGNODE_SECRET"

type Config struct {
	NodeID      string `yaml:"node_id"`
	Host        string `yaml:"host"`
	Bind        string `yaml:"bind"`
	Port        int    `yaml:"port"`
	Successor   string `yaml:"successor"`
	Predecessor string `yaml:"predecessor"`

	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`

	// Proxy is an optional dialer URL such as socks5://127.0.0.1:9050.
	Proxy string `yaml:"proxy"`
	Tor   bool   `yaml:"tor"`

	DialTimeout time.Duration     `yaml:"dial_timeout"`
	MaxLineSize datasize.ByteSize `yaml:"max_line_size"`
	PendingTTL  time.Duration     `yaml:"pending_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		Host:        "127.0.0.1",
		MaxLineSize: 64 * datasize.KB,
		PendingTTL:  ring.DefaultPendingTTL,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SecretBytes resolves the shared secret from, in order, the secret field,
// the secret file and the environment.
func (c *Config) SecretBytes() ([]byte, error) {
	if c.Secret != "" {
		return []byte(c.Secret), nil
	}
	if c.SecretFile != "" {
		data, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		secret := strings.TrimRight(string(data), "\r\n")
		if secret == "" {
			return nil, fmt.Errorf("secret file %s is empty", c.SecretFile)
		}
		return []byte(secret), nil
	}
	if env := os.Getenv(SecretEnv); env != "" {
		return []byte(env), nil
	}
	return nil, errors.New("no shared secret configured")
}

// Identity builds the node identity described by the config.
func (c *Config) Identity() (types.Identity, error) {
	succ, err := types.ParseEndpoint(c.Successor)
	if err != nil {
		return types.Identity{}, fmt.Errorf("successor: %w", err)
	}
	pred, err := types.ParseEndpoint(c.Predecessor)
	if err != nil {
		return types.Identity{}, fmt.Errorf("predecessor: %w", err)
	}
	id := types.Identity{
		ID:          c.NodeID,
		Host:        c.Host,
		Port:        c.Port,
		Successor:   succ,
		Predecessor: pred,
	}
	if err := id.Validate(); err != nil {
		return types.Identity{}, err
	}
	return id, nil
}

func (c *Config) Validate() error {
	if _, err := ring.ParseOrdinal(c.NodeID); err != nil {
		return fmt.Errorf("node_id: %w", err)
	}
	if _, err := c.Identity(); err != nil {
		return err
	}
	if c.Proxy != "" && c.Tor {
		return errors.New("proxy and tor are mutually exclusive")
	}
	if c.DialTimeout < 0 || c.PendingTTL < 0 {
		return errors.New("durations must not be negative")
	}
	if c.MaxLineSize == 0 {
		return errors.New("max_line_size must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
