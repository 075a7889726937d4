package zcs

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/zcs/internal/telemetry"
	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/wire"
)

// Drop reasons for zcs_messages_dropped_total.
const (
	dropMalformed   = "malformed"
	dropIgnored     = "ignored"
	dropUnknownNode = "unknown_node"
	dropInvalid     = "invalid"
	dropPanic       = "panic"
)

// dispatch decodes one datagram and applies it for the engine's role.
// Nothing here is reported to callers; problems are logged and counted.
func (e *Engine) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.MessagesDropped.WithLabelValues(dropPanic).Inc()
			e.log.Error("recovered panic while dispatching", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	msg, err := wire.Decode(raw)
	if err != nil {
		e.drop(dropMalformed, err)
		return
	}
	telemetry.MessagesReceived.WithLabelValues(msg.Type().String()).Inc()

	if e.role == Discoverer {
		e.discovererHandle(msg)
		return
	}
	e.announcerHandle(msg)
}

func (e *Engine) discovererHandle(msg wire.Message) {
	switch m := msg.(type) {
	case wire.Notification:
		tr, err := e.reg.Refresh(m.ServiceName, m.Attributes)
		if err != nil {
			e.drop(dropInvalid, err, zap.String("node", m.ServiceName))
			return
		}
		e.transitioned(tr)

	case wire.Heartbeat:
		tr, ok := e.reg.MarkUp(m.ServiceName)
		if !ok {
			e.drop(dropUnknownNode, nil, zap.String("node", m.ServiceName))
			return
		}
		e.transitioned(tr)

	case wire.Advertisement:
		if !e.reg.Publish(m.ServiceName, m.AdName, m.AdValue) {
			e.drop(dropIgnored, nil, zap.String("node", m.ServiceName), zap.String("ad", m.AdName))
			return
		}
		telemetry.AdsDelivered.Inc()

	default:
		e.drop(dropIgnored, nil, zap.Stringer("kind", msg.Type()))
	}
}

func (e *Engine) announcerHandle(msg wire.Message) {
	if _, ok := msg.(wire.Discovery); !ok {
		e.drop(dropIgnored, nil, zap.Stringer("kind", msg.Type()))
		return
	}
	id := e.self.Load()
	if id == nil {
		e.drop(dropIgnored, nil, zap.String("why", "not started"))
		return
	}
	_, _ = e.sendRaw(wire.MsgNotification, id.notification)
}

// transitioned fans a status change out to metrics, the log and observers.
func (e *Engine) transitioned(tr *registry.Transition) {
	if tr == nil {
		return
	}
	telemetry.NodeTransitions.WithLabelValues(tr.To.String()).Inc()
	up, down := e.reg.Counts()
	telemetry.KnownNodes.WithLabelValues(registry.StatusUp.String()).Set(float64(up))
	telemetry.KnownNodes.WithLabelValues(registry.StatusDown.String()).Set(float64(down))

	entry := registry.LogEntry{Node: tr.Node.Name, Status: tr.To, At: tr.At}
	e.log.Info(entry.String(), zap.String("node", tr.Node.Name), zap.Stringer("from", tr.From))

	for _, o := range e.cfg.Observers {
		o.Observe(*tr)
	}
}

func (e *Engine) drop(reason string, err error, fields ...zap.Field) {
	telemetry.MessagesDropped.WithLabelValues(reason).Inc()
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	e.log.Debug("message dropped", append(fields, zap.String("reason", reason))...)
}
