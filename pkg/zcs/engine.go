package zcs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zcs/internal/telemetry"
	"github.com/ryandielhenn/zcs/pkg/errs"
	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/transport"
	"github.com/ryandielhenn/zcs/pkg/wire"
)

// identity is what Start fixes for the lifetime of the engine.
type identity struct {
	name         string
	attrs        []registry.Attribute
	notification []byte
}

// Engine runs one ZCS node. Create it with New, then call Init once with a
// role and, for nodes that announce themselves, Start.
type Engine struct {
	cfg  Config
	log  *zap.Logger
	reg  *registry.Registry
	self atomic.Pointer[identity]

	mu      sync.Mutex // lifecycle fields below
	role    Role
	inited  bool
	started bool
	closing bool
	tr      transport.Transport
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group

	closed   chan struct{}
	closeErr error
}

func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg: cfg,
		log: cfg.Logger.Named("zcs"),
		reg: registry.New(
			registry.WithClock(cfg.Clock),
			registry.WithEventLog(registry.NewEventLog(cfg.LogCapacity)),
		),
		closed: make(chan struct{}),
	}
}

// Init opens the transport for role and starts the background tasks. A
// Discoverer also broadcasts a DISCOVERY so that running announcers reply.
// Calling Init twice fails with errs.ErrInit.
func (e *Engine) Init(ctx context.Context, role Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inited || e.closing {
		return errs.NewInit("engine already initialized", nil)
	}
	if !role.Valid() {
		return errs.NewInit(fmt.Sprintf("invalid role %d", int(role)), nil)
	}

	ch := e.cfg.Channel(role)
	tr, err := e.cfg.Opener.Open(ch)
	if err != nil {
		return errs.NewInit("open transport", err)
	}
	if err := tr.EnableReceive(); err != nil {
		_ = tr.Close()
		return errs.NewInit(fmt.Sprintf("listen on %s", ch.Listen), err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.group, e.ctx = errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.tr = tr
	e.role = role
	e.log = e.log.With(zap.Stringer("role", role))
	e.inited = true

	e.spawn("receive", e.receiveLoop)
	if role == Discoverer {
		e.spawn("sweep", e.sweepLoop)
	}
	for _, o := range e.cfg.Observers {
		if r, ok := o.(Runner); ok {
			e.spawn(fmt.Sprintf("observer-%T", o), r.Run)
		}
	}
	e.log.Info("initialized", zap.Stringer("listen", ch.Listen), zap.Stringer("send", ch.Send))

	if role == Discoverer {
		if _, err := e.send(wire.Discovery{}); err != nil {
			// Announcers still reach us with their next NOTIFICATION.
			e.log.Warn("discovery broadcast failed", zap.Error(err))
		}
	}
	return nil
}

// Start fixes this node's identity, broadcasts its NOTIFICATION and starts
// the heartbeat task. It needs Init first and may succeed only once. If the
// NOTIFICATION cannot be sent the engine stays unstarted.
func (e *Engine) Start(ctx context.Context, name string, attrs []registry.Attribute) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inited || e.closing {
		return errs.NewNotStarted("Start called before Init")
	}
	if e.started {
		return errs.NewInit("engine already started", nil)
	}
	if err := wire.ValidateName(name); err != nil {
		return err
	}
	if err := wire.ValidateAttributes(attrs); err != nil {
		return err
	}

	id := &identity{name: name, attrs: append([]registry.Attribute(nil), attrs...)}
	raw, err := wire.Encode(wire.Notification{ServiceName: id.name, Attributes: id.attrs})
	if err != nil {
		return err
	}
	id.notification = raw

	if _, err := e.sendRaw(wire.MsgNotification, raw); err != nil {
		return errs.NewSendFailure("notification", err)
	}

	e.self.Store(id)
	e.started = true
	e.spawn("heartbeat", e.heartbeatLoop)
	e.log.Info("started", zap.String("node", name), zap.Int("attributes", len(attrs)))
	return nil
}

// PostAd broadcasts an ADVERTISEMENT from this node. It is sent
// Config.AdRepeat times, AdRepeatInterval apart, and the number of sends
// the transport accepted is returned. Zero accepted sends is
// errs.ErrSendFailure.
func (e *Engine) PostAd(ctx context.Context, adName, adValue string) (int, error) {
	id := e.self.Load()
	if id == nil {
		return 0, errs.NewNotStarted("PostAd called before Start")
	}
	raw, err := wire.Encode(wire.Advertisement{ServiceName: id.name, AdName: adName, AdValue: adValue})
	if err != nil {
		return 0, err
	}

	posted := 0
	var lastErr error
	for i := 0; i < e.cfg.AdRepeat; i++ {
		if i > 0 {
			t := time.NewTimer(e.cfg.AdRepeatInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return posted, ctx.Err()
			case <-t.C:
			}
		}
		if _, err := e.sendRaw(wire.MsgAdvertisement, raw); err != nil {
			lastErr = err
			continue
		}
		posted++
	}
	if posted == 0 {
		return 0, errs.NewSendFailure("advertisement", lastErr)
	}
	return posted, nil
}

// Query returns the names of known nodes with attribute attr=value, in
// discovery order, at most limit of them (limit <= 0 means no limit).
func (e *Engine) Query(attr, value string, limit int) []string {
	return e.reg.Query(attr, value, limit, e.cfg.QueryIncludeDown)
}

// GetAttributes returns a copy of a known node's attributes.
func (e *Engine) GetAttributes(name string) ([]registry.Attribute, error) {
	return e.reg.Attributes(name)
}

// ListenAd registers h for advertisements posted by name, replacing any
// earlier handler. It needs Start first. h runs on the receive task; a panic
// in it is recovered and the advertisement dropped.
func (e *Engine) ListenAd(name string, h registry.AdHandler) error {
	if e.self.Load() == nil {
		return errs.NewNotStarted("ListenAd called before Start")
	}
	return e.reg.Subscribe(name, h)
}

// Log returns the recorded UP/DOWN transitions, oldest first.
func (e *Engine) Log() []registry.LogEntry {
	return e.reg.Log().Snapshot()
}

// Nodes returns a snapshot of every known node in discovery order.
func (e *Engine) Nodes() []registry.Node {
	return e.reg.All()
}

func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Name is the identity fixed by Start, or "" before it.
func (e *Engine) Name() string {
	if id := e.self.Load(); id != nil {
		return id.name
	}
	return ""
}

// Done is closed when the engine stops, either through Close or because a
// background task failed. It is nil before Init.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil
	}
	return e.ctx.Done()
}

// Shutdown stops a started engine: it cancels every background task, joins
// them and closes the transport. Before Start it fails with
// errs.ErrNotStarted; use Close to tear down an engine that never started.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return errs.NewNotStarted("Shutdown called before Start")
	}
	return e.Close(ctx)
}

// Close is Shutdown without the Start requirement. It is idempotent; later
// calls wait for the first to finish and return its result. Close always
// joins the background tasks. If ctx ends first, the transport is closed to
// unblock the receive task, Close keeps waiting, and ctx's error is returned.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		<-e.closed
		return e.closeErr
	}
	e.closing = true
	group, cancel, tr := e.group, e.cancel, e.tr
	e.mu.Unlock()

	e.self.Store(nil)
	defer close(e.closed)
	if group == nil {
		return nil
	}

	cancel()
	waited := make(chan error, 1)
	go func() { waited <- group.Wait() }()

	var err error
	select {
	case err = <-waited:
		e.closeTransport(tr)
	case <-ctx.Done():
		e.log.Warn("tasks still running at deadline, closing transport", zap.Error(ctx.Err()))
		e.closeTransport(tr)
		err = errors.Join(fmt.Errorf("waiting for tasks: %w", ctx.Err()), <-waited)
	}
	e.closeErr = err
	e.log.Info("shut down", zap.Error(err))
	return err
}

func (e *Engine) closeTransport(tr transport.Transport) {
	if err := tr.Close(); err != nil {
		e.log.Warn("transport close failed", zap.Error(err))
	}
}

func (e *Engine) send(m wire.Message) (int, error) {
	raw, err := wire.Encode(m)
	if err != nil {
		return 0, err
	}
	return e.sendRaw(m.Type(), raw)
}

func (e *Engine) sendRaw(kind wire.MsgType, raw []byte) (int, error) {
	n, err := e.tr.Send(raw)
	telemetry.MessagesSent.WithLabelValues(kind.String(), telemetry.Result(err)).Inc()
	if err != nil {
		e.log.Debug("send failed", zap.Stringer("kind", kind), zap.Error(err))
	}
	return n, err
}
