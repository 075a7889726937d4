package zcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zcs/pkg/errs"
	"github.com/ryandielhenn/zcs/pkg/transport"
	"github.com/ryandielhenn/zcs/pkg/wire"
)

// spawn runs fn in the engine's group. A panic is turned into an
// errs.ErrFatal, which cancels the group and surfaces from Close.
func (e *Engine) spawn(name string, fn func(context.Context) error) {
	ctx, log := e.ctx, e.log.With(zap.String("task", name))
	e.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
				err = errs.NewFatal(fmt.Sprintf("task %s panicked: %v", name, r), nil)
			}
		}()
		log.Debug("task started")
		if err := fn(ctx); err != nil {
			log.Error("task failed", zap.Error(err))
			return err
		}
		log.Debug("task stopped")
		return nil
	})
}

// receiveLoop is the only reader of the transport.
func (e *Engine) receiveLoop(ctx context.Context) error {
	buf := make([]byte, transport.MaxDatagram)
	for ctx.Err() == nil {
		ok, err := e.tr.HasData(e.cfg.PollInterval)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			e.log.Warn("poll failed", zap.Error(err))
			if !sleep(ctx, e.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if !ok {
			continue
		}
		n, err := e.tr.Receive(buf)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			e.log.Warn("receive failed", zap.Error(err))
			continue
		}
		e.dispatch(buf[:n])
	}
	return nil
}

func (e *Engine) sweepLoop(ctx context.Context) error {
	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	for _, tr := range e.reg.Sweep(e.cfg.LivenessTimeout) {
		e.transitioned(&tr)
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) error {
	id := e.self.Load()
	if id == nil {
		return nil
	}
	raw, err := wire.Encode(wire.Heartbeat{ServiceName: id.name})
	if err != nil {
		return err
	}

	t := time.NewTicker(e.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// Failures are counted in sendRaw; the next tick retries.
			_, _ = e.sendRaw(wire.MsgHeartbeat, raw)
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
