package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/zcs"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ZCS_ROLE", "discoverer")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, zcs.Discoverer, cfg.EngineRole())
	assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, cfg.LivenessTimeout)
	assert.Equal(t, 6*time.Second, cfg.SweepInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 1, cfg.AdRepeat)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "/zcs/nodes", cfg.EtcdPrefix)
	assert.Equal(t, int64(10), cfg.EtcdTTL)
	assert.Empty(t, cfg.EtcdEndpoints)
	assert.Nil(t, cfg.NodeAttributes())
}

func TestLoad_RoleRequired(t *testing.T) {
	t.Setenv("ZCS_ROLE", "")
	os.Unsetenv("ZCS_ROLE")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "ROLE")
}

func TestLoad_Announcer(t *testing.T) {
	t.Setenv("ZCS_ROLE", "announcer")
	t.Setenv("ZCS_NAME", "svc-a")
	t.Setenv("ZCS_ATTRIBUTES", "type=printer, floor=2,note=")
	t.Setenv("ZCS_HEARTBEAT_INTERVAL", "1s")
	t.Setenv("ZCS_ETCD_ENDPOINTS", "http://etcd-1:2379,http://etcd-2:2379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, zcs.Announcer, cfg.EngineRole())
	assert.Equal(t, []registry.Attribute{
		{Name: "type", Value: "printer"},
		{Name: "floor", Value: "2"},
		{Name: "note", Value: ""},
	}, cfg.NodeAttributes())
	assert.Equal(t, []string{"http://etcd-1:2379", "http://etcd-2:2379"}, cfg.EtcdEndpoints)

	ec := cfg.Engine()
	assert.Equal(t, time.Second, ec.HeartbeatInterval)
	assert.Equal(t, 9*time.Second, ec.DetectionLatency())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("ZCS_ROLE", "discoverer")
	t.Setenv("ZCS_SWEEP_INTERVAL", "soon")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zcs.env")
	require.NoError(t, os.WriteFile(path, []byte("ZCS_ROLE=announcer\nZCS_NAME=from-file\nZCS_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("ZCS_NAME", "from-env")
	t.Cleanup(func() {
		os.Unsetenv("ZCS_ROLE")
		os.Unsetenv("ZCS_LOG_LEVEL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "announcer", cfg.Role)
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Role:              "announcer",
			Name:              "svc-a",
			HeartbeatInterval: time.Second,
			LivenessTimeout:   time.Second,
			SweepInterval:     time.Second,
			PollInterval:      time.Millisecond,
			AdRepeat:          1,
			AdRepeatInterval:  time.Millisecond,
			EtcdTTL:           10,
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad role", func(c *Config) { c.Role = "broker" }, ErrInvalidRole},
		{"announcer without name", func(c *Config) { c.Name = "" }, ErrNameRequired},
		{"bad attributes", func(c *Config) { c.Attributes = "type" }, ErrInvalidAttributes},
		{"delimiter in attribute", func(c *Config) { c.Attributes = "type=a;b" }, ErrInvalidAttributes},
		{"zero interval", func(c *Config) { c.SweepInterval = 0 }, ErrInvalidInterval},
		{"zero repeat", func(c *Config) { c.AdRepeat = 0 }, ErrInvalidAdRepeat},
		{"zero etcd ttl", func(c *Config) { c.EtcdEndpoints = []string{"x"}; c.EtcdTTL = 0 }, ErrInvalidEtcdTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}

	c := base()
	c.Role = "discoverer"
	c.Name = ""
	assert.NoError(t, c.Validate(), "a discoverer may run without a name")

	c = base()
	c.Name = "a#b"
	assert.Error(t, c.Validate())
}

func TestParseAttributes(t *testing.T) {
	got, err := ParseAttributes("a=1,b=x=y")
	require.NoError(t, err)
	assert.Equal(t, []registry.Attribute{{Name: "a", Value: "1"}, {Name: "b", Value: "x=y"}}, got)

	_, err = ParseAttributes("=1")
	assert.ErrorIs(t, err, ErrInvalidAttributes)
}
