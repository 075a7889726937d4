// Package transport moves raw datagrams between ZCS nodes.
//
// A node opens one Channel: the multicast Endpoint it listens on and the one
// it sends to. Multicast is the UDP implementation used in production; Hub
// is an in-process implementation for tests and simulations.
package transport

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// MaxDatagram is the largest datagram a ZCS node sends or reads.
const MaxDatagram = 1024

var (
	ErrClosed       = errors.New("transport: closed")
	ErrNotReceiving = errors.New("transport: receive not enabled")
)

// Endpoint is a multicast group address and UDP port.
type Endpoint struct {
	Group string `json:"group"`
	Port  int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Group, strconv.Itoa(e.Port))
}

// Channel pairs the endpoint a node listens on with the one it sends to.
type Channel struct {
	Listen Endpoint `json:"listen"`
	Send   Endpoint `json:"send"`
}

// Transport is an open Channel. Send is safe for concurrent use; HasData
// and Receive are meant for a single reader.
type Transport interface {
	// EnableReceive joins the listen group. Until it is called HasData and
	// Receive fail with ErrNotReceiving.
	EnableReceive() error
	Send(b []byte) (int, error)
	// HasData waits up to wait for a datagram. It returns false, nil on
	// timeout.
	HasData(wait time.Duration) (bool, error)
	// Receive copies the next datagram into b, blocking until one arrives.
	Receive(b []byte) (int, error)
	Close() error
}

// Opener creates transports. Engines take an Opener so tests can swap UDP
// for a Hub.
type Opener interface {
	Open(ch Channel) (Transport, error)
}
