// Package discovery mirrors the liveness view of a ZCS discoverer into etcd
// so that services outside the multicast domain can read it.
//
// UP nodes are written under <prefix>/<name> with a lease owned by the
// mirror; DOWN nodes are deleted. If the mirror stops renewing, etcd
// expires every key it wrote.
package discovery

import (
	"context"
	"encoding/json"
	"path"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zcs/pkg/registry"
)

const (
	DefaultPrefix = "/zcs/nodes"
	DefaultTTL    = 10

	queueDepth = 128
)

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// LeaseKV is the part of *clientv3.Client the mirror uses.
type LeaseKV interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAliveOnce(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

// Record is the JSON value stored for each UP node.
type Record struct {
	Name          string               `json:"name"`
	Status        string               `json:"status"`
	LastHeartbeat time.Time            `json:"last_heartbeat"`
	Attributes    []registry.Attribute `json:"attributes"`
}

type Mirror struct {
	kv     LeaseKV
	prefix string
	ttl    int64
	log    *zap.Logger

	events  chan registry.Transition
	dropped atomic.Int64

	// owned by Run
	lease clientv3.LeaseID
	up    map[string]registry.Node
}

func NewMirror(kv LeaseKV, prefix string, ttl int64, log *zap.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		log:    log.Named("etcd"),
		events: make(chan registry.Transition, queueDepth),
		up:     make(map[string]registry.Node),
	}
}

func (m *Mirror) Key(name string) string {
	return path.Join(m.prefix, name)
}

// Observe queues t for Run. It never blocks; when the queue is full the
// transition is dropped and counted.
func (m *Mirror) Observe(t registry.Transition) {
	select {
	case m.events <- t:
	default:
		m.dropped.Add(1)
		m.log.Warn("mirror queue full, dropping transition", zap.String("node", t.Node.Name))
	}
}

func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Run applies queued transitions and renews the lease until ctx is done,
// then revokes the lease. etcd errors are logged and retried on the next
// event or renewal; Run itself only returns when ctx ends.
func (m *Mirror) Run(ctx context.Context) error {
	renew := time.NewTicker(time.Duration(m.ttl) * time.Second / 3)
	defer renew.Stop()

	for {
		select {
		case <-ctx.Done():
			m.revoke()
			return nil
		case t := <-m.events:
			m.apply(ctx, t)
		case <-renew.C:
			m.keepAlive(ctx)
		}
	}
}

func (m *Mirror) apply(ctx context.Context, t registry.Transition) {
	name := t.Node.Name
	if t.To != registry.StatusUp {
		delete(m.up, name)
		if _, err := m.kv.Delete(ctx, m.Key(name)); err != nil {
			m.log.Warn("delete failed", zap.String("node", name), zap.Error(err))
		}
		return
	}
	m.up[name] = t.Node
	if m.lease == 0 {
		// Granting re-puts everything in m.up, including this node.
		m.grant(ctx)
		return
	}
	if err := m.put(ctx, t.Node); err != nil {
		m.log.Warn("put failed", zap.String("node", name), zap.Error(err))
	}
}

func (m *Mirror) grant(ctx context.Context) {
	resp, err := m.kv.Grant(ctx, m.ttl)
	if err != nil {
		m.log.Warn("lease grant failed", zap.Error(err))
		return
	}
	m.lease = resp.ID
	for _, n := range m.up {
		if err := m.put(ctx, n); err != nil {
			m.log.Warn("put failed", zap.String("node", n.Name), zap.Error(err))
		}
	}
}

func (m *Mirror) keepAlive(ctx context.Context) {
	if m.lease == 0 {
		if len(m.up) > 0 {
			m.grant(ctx)
		}
		return
	}
	if _, err := m.kv.KeepAliveOnce(ctx, m.lease); err != nil {
		m.log.Warn("lease renewal failed, regranting", zap.Error(err))
		m.lease = 0
		m.grant(ctx)
	}
}

func (m *Mirror) put(ctx context.Context, n registry.Node) error {
	val, err := json.Marshal(Record{
		Name:          n.Name,
		Status:        n.Status.String(),
		LastHeartbeat: n.LastHeartbeat,
		Attributes:    n.Attributes,
	})
	if err != nil {
		return err
	}
	_, err = m.kv.Put(ctx, m.Key(n.Name), string(val), clientv3.WithLease(m.lease))
	return err
}

func (m *Mirror) revoke() {
	if m.lease == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.kv.Revoke(ctx, m.lease); err != nil {
		m.log.Warn("lease revoke failed", zap.Error(err))
	}
	m.lease = 0
}
