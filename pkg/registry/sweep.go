package registry

import "time"

// Sweep marks DOWN every UP node whose last heartbeat is older than
// timeout. It returns the transitions it made, in discovery order.
//
// A node is only as fresh as its last heartbeat, so the worst-case time to
// notice a silent peer is one sweep interval plus timeout.
func (r *Registry) Sweep(timeout time.Duration) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []Transition
	for _, e := range r.order {
		if !e.expired(now, timeout) {
			continue
		}
		if t := r.setStatusLocked(e, StatusDown); t != nil {
			out = append(out, *t)
		}
	}
	return out
}

// expired reports whether e is UP but has not been heard from within timeout.
func (e *entry) expired(now time.Time, timeout time.Duration) bool {
	return e.status == StatusUp && now.Sub(e.lastHeartbeat) > timeout
}
