package zcs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/transport"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testConfig keeps the periodic tasks quiet so tests drive time themselves.
func testConfig(t *testing.T, opener transport.Opener, clk *fakeClock) Config {
	return Config{
		HeartbeatInterval: time.Hour,
		SweepInterval:     time.Hour,
		LivenessTimeout:   3 * time.Second,
		PollInterval:      5 * time.Millisecond,
		AdRepeatInterval:  time.Millisecond,
		Opener:            opener,
		Clock:             clk.Now,
		Logger:            zaptest.NewLogger(t),
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e
}

var printer = []registry.Attribute{{Name: "type", Value: "printer"}, {Name: "floor", Value: "2"}}

// startPair brings up a discoverer and an announcer "svc-a" and waits until
// the discoverer has seen it.
func startPair(t *testing.T, hub *transport.Hub, clk *fakeClock) (disc, ann *Engine) {
	t.Helper()
	ctx := context.Background()
	disc = newEngine(t, testConfig(t, hub, clk))
	ann = newEngine(t, testConfig(t, hub, clk))
	require.NoError(t, disc.Init(ctx, Discoverer))
	require.NoError(t, ann.Init(ctx, Announcer))
	require.NoError(t, ann.Start(ctx, "svc-a", printer))
	require.Eventually(t, func() bool {
		return len(disc.Query("type", "printer", 0)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return disc, ann
}

func logLines(e *Engine) []string {
	var out []string
	for _, l := range e.Log() {
		out = append(out, l.String())
	}
	return out
}

type openerFunc func(transport.Channel) (transport.Transport, error)

func (f openerFunc) Open(ch transport.Channel) (transport.Transport, error) { return f(ch) }

// probeTransport wraps a real transport to fail sends on demand and to check
// that nothing reads after Close.
type probeTransport struct {
	transport.Transport

	failSend          atomic.Bool
	readers           atomic.Int32
	closed            atomic.Bool
	closedWhileActive atomic.Bool
	readAfterClose    atomic.Bool
}

func (p *probeTransport) Send(b []byte) (int, error) {
	if p.failSend.Load() {
		return 0, errors.New("network down")
	}
	return p.Transport.Send(b)
}

func (p *probeTransport) HasData(wait time.Duration) (bool, error) {
	p.readers.Add(1)
	defer p.readers.Add(-1)
	if p.closed.Load() {
		p.readAfterClose.Store(true)
	}
	return p.Transport.HasData(wait)
}

func (p *probeTransport) Close() error {
	if p.readers.Load() != 0 {
		p.closedWhileActive.Store(true)
	}
	p.closed.Store(true)
	return p.Transport.Close()
}

func probeOpener(hub *transport.Hub, out **probeTransport) transport.Opener {
	return openerFunc(func(ch transport.Channel) (transport.Transport, error) {
		tr, err := hub.Open(ch)
		if err != nil {
			return nil, err
		}
		p := &probeTransport{Transport: tr}
		*out = p
		return p, nil
	})
}

type recordingObserver struct {
	mu  sync.Mutex
	got []registry.Transition
	ran atomic.Bool
}

func (o *recordingObserver) Observe(t registry.Transition) {
	o.mu.Lock()
	o.got = append(o.got, t)
	o.mu.Unlock()
}

func (o *recordingObserver) Run(ctx context.Context) error {
	o.ran.Store(true)
	<-ctx.Done()
	return nil
}

func (o *recordingObserver) transitions() []registry.Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]registry.Transition(nil), o.got...)
}
