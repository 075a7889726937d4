package zcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/transport"
)

// Role selects which side of the protocol an engine plays.
type Role int

const (
	// Discoverer learns about services and tracks their liveness.
	Discoverer Role = iota + 1
	// Announcer publishes its own identity, heartbeats and advertisements.
	Announcer
)

func (r Role) String() string {
	switch r {
	case Discoverer:
		return "discoverer"
	case Announcer:
		return "announcer"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool { return r == Discoverer || r == Announcer }

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discoverer", "app":
		return Discoverer, nil
	case "announcer", "service":
		return Announcer, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Default multicast endpoints. Discoverers listen on AppEndpoint and send to
// ServiceEndpoint; announcers do the reverse.
var (
	AppEndpoint     = transport.Endpoint{Group: "238.1.1.1", Port: 8080}
	ServiceEndpoint = transport.Endpoint{Group: "239.1.1.1", Port: 5000}
)

const (
	DefaultHeartbeatInterval = 3 * time.Second
	DefaultLivenessTimeout   = 3 * time.Second
	DefaultSweepInterval     = 6 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultAdRepeatInterval  = 100 * time.Millisecond
)

// Observer is told about every liveness transition the engine makes. It is
// called from the receive or sweep task and must not block.
type Observer interface {
	Observe(t registry.Transition)
}

// Runner is implemented by observers that need their own background task,
// such as discovery.Mirror. The engine runs it from Init until shutdown.
type Runner interface {
	Run(ctx context.Context) error
}

// Config tunes an Engine. The zero value is usable: every zero field takes
// its default.
type Config struct {
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	SweepInterval     time.Duration
	// PollInterval bounds how long the receive task waits for data before
	// checking for shutdown.
	PollInterval time.Duration

	// AdRepeat is how many times PostAd sends each advertisement.
	AdRepeat         int
	AdRepeatInterval time.Duration

	// QueryIncludeDown makes Query also return nodes that are DOWN.
	QueryIncludeDown bool

	LogCapacity int

	// Zero channels use AppEndpoint/ServiceEndpoint.
	DiscovererChannel transport.Channel
	AnnouncerChannel  transport.Channel

	// Opener defaults to transport.Multicast{}.
	Opener    transport.Opener
	Logger    *zap.Logger
	Clock     func() time.Time
	Observers []Observer
}

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// DetectionLatency is the longest a silent node can stay UP: it may have
// been heard just after a sweep, and it is only marked DOWN by the first
// sweep after LivenessTimeout has passed.
func (c Config) DetectionLatency() time.Duration {
	c = c.withDefaults()
	return c.SweepInterval + c.LivenessTimeout
}

// Channel returns the channel used for role.
func (c Config) Channel(role Role) transport.Channel {
	if role == Discoverer {
		if c.DiscovererChannel != (transport.Channel{}) {
			return c.DiscovererChannel
		}
		return transport.Channel{Listen: AppEndpoint, Send: ServiceEndpoint}
	}
	if c.AnnouncerChannel != (transport.Channel{}) {
		return c.AnnouncerChannel
	}
	return transport.Channel{Listen: ServiceEndpoint, Send: AppEndpoint}
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AdRepeat <= 0 {
		c.AdRepeat = 1
	}
	if c.AdRepeatInterval <= 0 {
		c.AdRepeatInterval = DefaultAdRepeatInterval
	}
	if c.LogCapacity <= 0 {
		c.LogCapacity = registry.DefaultLogCapacity
	}
	if c.Opener == nil {
		c.Opener = transport.Multicast{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
