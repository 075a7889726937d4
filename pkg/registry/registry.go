package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/ryandielhenn/zcs/pkg/errs"
	"github.com/ryandielhenn/zcs/pkg/wire"
)

// Registry is the set of peers learned from the network, kept in discovery
// order. Entries are never removed; only their status changes.
type Registry struct {
	mu     sync.RWMutex
	order  []*entry
	byName map[string]*entry
	log    *EventLog
	now    func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now, e.g. with a simulated clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEventLog makes the registry record transitions into l.
func WithEventLog(l *EventLog) Option {
	return func(r *Registry) { r.log = l }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		order:  make([]*entry, 0),
		byName: make(map[string]*entry),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = NewEventLog(DefaultLogCapacity)
	}
	return r
}

// Log returns the event log transitions are written to.
func (r *Registry) Log() *EventLog {
	return r.log
}

func (r *Registry) Find(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return Node{}, false
	}
	return e.snapshot(), true
}

// Upsert inserts name with attrs if it is unknown. A known node keeps the
// attributes it was first seen with. New nodes start DOWN; created reports
// whether an insert happened.
func (r *Registry) Upsert(name string, attrs []Attribute) (n Node, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, created, err := r.upsertLocked(name, attrs)
	if err != nil {
		return Node{}, false, err
	}
	return e.snapshot(), created, nil
}

// SetStatus moves a known node to status. UP also stamps the heartbeat
// time. The returned transition is nil when the status did not change.
func (r *Registry) SetStatus(name string, status Status) (*Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, errs.NewNotFound(fmt.Sprintf("node %q", name))
	}
	return r.setStatusLocked(e, status), nil
}

// Refresh is Upsert followed by SetStatus(UP) under a single lock. It is
// what a NOTIFICATION does. A known node is refreshed even when attrs would
// not pass validation, since they are discarded anyway.
func (r *Registry) Refresh(name string, attrs []Attribute) (*Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, _, err := r.upsertLocked(name, attrs)
	if err != nil {
		return nil, err
	}
	return r.setStatusLocked(e, StatusUp), nil
}

// MarkUp refreshes a known node, as a HEARTBEAT does. Unknown names are
// ignored and reported with ok=false.
func (r *Registry) MarkUp(name string) (t *Transition, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.setStatusLocked(e, StatusUp), true
}

// All returns copies of every node in discovery order.
func (r *Registry) All() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, e.snapshot())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Counts returns the number of UP and DOWN nodes.
func (r *Registry) Counts() (up, down int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.order {
		if e.status == StatusUp {
			up++
		} else {
			down++
		}
	}
	return up, down
}

// Query returns the names of nodes carrying attr=value, in discovery order,
// at most limit of them (limit <= 0 means all). DOWN nodes are skipped
// unless includeDown is set.
func (r *Registry) Query(attr, value string, limit int, includeDown bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, e := range r.order {
		if limit > 0 && len(names) >= limit {
			break
		}
		if e.status != StatusUp && !includeDown {
			continue
		}
		if hasAttribute(e.attrs, attr, value) {
			names = append(names, e.name)
		}
	}
	return names
}

// Attributes returns a copy of the named node's attributes.
func (r *Registry) Attributes(name string) ([]Attribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, errs.NewNotFound(fmt.Sprintf("node %q", name))
	}
	return append([]Attribute(nil), e.attrs...), nil
}

// Subscribe installs h as the advertisement callback for name, replacing
// any earlier one. A nil h unsubscribes.
func (r *Registry) Subscribe(name string, h AdHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return errs.NewNotFound(fmt.Sprintf("node %q", name))
	}
	e.onAd = h
	return nil
}

// Publish hands an advertisement from name to its subscriber. The handler
// runs on the calling goroutine after the registry lock is released, so it
// may call back into the registry. It reports false when name is unknown
// or has no subscriber.
func (r *Registry) Publish(name, adName, adValue string) bool {
	r.mu.RLock()
	var h AdHandler
	if e, ok := r.byName[name]; ok {
		h = e.onAd
	}
	r.mu.RUnlock()

	if h == nil {
		return false
	}
	h(adName, adValue)
	return true
}

// upsertLocked validates only on the insert path.
func (r *Registry) upsertLocked(name string, attrs []Attribute) (*entry, bool, error) {
	if e, ok := r.byName[name]; ok {
		return e, false, nil
	}
	if err := validate(name, attrs); err != nil {
		return nil, false, err
	}
	e := &entry{
		name:   name,
		status: StatusDown,
		attrs:  append([]Attribute(nil), attrs...),
	}
	r.order = append(r.order, e)
	r.byName[name] = e
	return e, true, nil
}

func (r *Registry) setStatusLocked(e *entry, status Status) *Transition {
	now := r.now()
	if status == StatusUp {
		e.lastHeartbeat = now
	}
	if e.status == status {
		return nil
	}
	from := e.status
	e.status = status
	r.log.Append(LogEntry{Node: e.name, Status: status, At: now})
	return &Transition{Node: e.snapshot(), From: from, To: status, At: now}
}

func validate(name string, attrs []Attribute) error {
	if err := wire.ValidateName(name); err != nil {
		return err
	}
	return wire.ValidateAttributes(attrs)
}
