// Package config loads zcsd settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/wire"
	"github.com/ryandielhenn/zcs/pkg/zcs"
)

// Prefix is prepended to every variable name, e.g. ZCS_ROLE.
const Prefix = "ZCS"

var (
	ErrInvalidRole       = errors.New("ROLE must be discoverer or announcer")
	ErrNameRequired      = errors.New("NAME is required for an announcer")
	ErrInvalidAttributes = errors.New("ATTRIBUTES must be k=v pairs separated by commas")
	ErrInvalidInterval   = errors.New("intervals and timeouts must be positive")
	ErrInvalidAdRepeat   = errors.New("AD_REPEAT must be at least 1")
	ErrInvalidEtcdTTL    = errors.New("ETCD_TTL must be at least 1 second")
)

type Config struct {
	Role       string `envconfig:"ROLE" required:"true"`
	Name       string `envconfig:"NAME"`
	Attributes string `envconfig:"ATTRIBUTES"`

	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"3s"`
	LivenessTimeout   time.Duration `envconfig:"LIVENESS_TIMEOUT" default:"3s"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"6s"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"250ms"`
	AdRepeat          int           `envconfig:"AD_REPEAT" default:"1"`
	AdRepeatInterval  time.Duration `envconfig:"AD_REPEAT_INTERVAL" default:"100ms"`
	QueryIncludeDown  bool          `envconfig:"QUERY_INCLUDE_DOWN" default:"false"`
	LogCapacity       int           `envconfig:"LOG_CAPACITY" default:"50"`

	// Interface is the NIC used for multicast; empty means the system default.
	Interface string `envconfig:"INTERFACE"`

	// HTTPAddr is the admin API listen address; empty disables it.
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8081"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// EtcdEndpoints enables the etcd mirror when non-empty.
	EtcdEndpoints []string `envconfig:"ETCD_ENDPOINTS"`
	EtcdPrefix    string   `envconfig:"ETCD_PREFIX" default:"/zcs/nodes"`
	EtcdTTL       int64    `envconfig:"ETCD_TTL" default:"10"`
}

// Load reads dotenv files (".env" when none are given; missing files are
// skipped) and then the ZCS_* environment. Variables already set in the
// environment win over dotenv values.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	role, err := zcs.ParseRole(c.Role)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if role == zcs.Announcer && c.Name == "" {
		return ErrNameRequired
	}
	if c.Name != "" {
		if err := wire.ValidateName(c.Name); err != nil {
			return fmt.Errorf("NAME: %w", err)
		}
	}
	attrs, err := ParseAttributes(c.Attributes)
	if err != nil {
		return err
	}
	if err := wire.ValidateAttributes(attrs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAttributes, err)
	}
	for _, d := range []time.Duration{c.HeartbeatInterval, c.LivenessTimeout, c.SweepInterval, c.PollInterval, c.AdRepeatInterval} {
		if d <= 0 {
			return ErrInvalidInterval
		}
	}
	if c.AdRepeat < 1 {
		return ErrInvalidAdRepeat
	}
	if len(c.EtcdEndpoints) > 0 && c.EtcdTTL < 1 {
		return ErrInvalidEtcdTTL
	}
	return nil
}

// EngineRole returns the parsed role. Call Validate first.
func (c *Config) EngineRole() zcs.Role {
	role, _ := zcs.ParseRole(c.Role)
	return role
}

// NodeAttributes returns the parsed ATTRIBUTES. Call Validate first.
func (c *Config) NodeAttributes() []registry.Attribute {
	attrs, _ := ParseAttributes(c.Attributes)
	return attrs
}

// Engine maps the settings onto a zcs.Config. Opener, Logger and Observers
// are left for the caller.
func (c *Config) Engine() zcs.Config {
	return zcs.Config{
		HeartbeatInterval: c.HeartbeatInterval,
		LivenessTimeout:   c.LivenessTimeout,
		SweepInterval:     c.SweepInterval,
		PollInterval:      c.PollInterval,
		AdRepeat:          c.AdRepeat,
		AdRepeatInterval:  c.AdRepeatInterval,
		QueryIncludeDown:  c.QueryIncludeDown,
		LogCapacity:       c.LogCapacity,
	}
}

// ParseAttributes parses "k=v,k=v" keeping the given order. Empty input is
// no attributes; values may be empty.
func ParseAttributes(s string) ([]registry.Attribute, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []registry.Attribute
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAttributes, pair)
		}
		out = append(out, registry.Attribute{Name: k, Value: v})
	}
	return out, nil
}
