// Package zcs is the protocol engine of ZCS, a zero-configuration service
// discovery and liveness protocol for a single multicast segment.
//
// An Announcer broadcasts a NOTIFICATION carrying its name and attributes
// when it starts and whenever it hears a DISCOVERY, then sends a HEARTBEAT
// every HeartbeatInterval. It may also post ADVERTISEMENTs, small name/value
// events that discoverers subscribe to with ListenAd.
//
// A Discoverer broadcasts one DISCOVERY at Init and builds a registry of
// the announcers it hears. Nodes are UP while their heartbeats keep
// arriving; a sweep every SweepInterval marks DOWN any node that has been
// silent for longer than LivenessTimeout.
//
// Each engine runs its background tasks (receive, sweep, heartbeat and any
// observer runners) in one errgroup. Shutdown and Close cancel and join
// them before releasing the transport.
package zcs
