// Package registry holds the discoverer's view of its peers.
//
// Nodes are appended in the order they are first seen and are never
// removed; liveness is tracked as an UP/DOWN status driven by
// notifications, heartbeats and a periodic Sweep. Every actual status
// change is recorded in a bounded EventLog.
//
// All methods are safe for concurrent use. Advertisement callbacks
// registered with Subscribe run outside the registry lock.
package registry
