package registry

import (
	"time"

	"github.com/ryandielhenn/zcs/pkg/wire"
)

// Status is the liveness state of a known node.
type Status uint8

const (
	StatusDown Status = iota
	StatusUp
)

func (s Status) String() string {
	if s == StatusUp {
		return "UP"
	}
	return "DOWN"
}

// MarshalText renders the status as "UP" or "DOWN".
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Attribute is a node property as carried on the wire.
type Attribute = wire.Attribute

// AdHandler receives advertisements posted by a watched node.
type AdHandler func(adName, adValue string)

// Node is a point-in-time copy of a registry entry.
type Node struct {
	Name          string      `json:"name"`
	Status        Status      `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	Attributes    []Attribute `json:"attributes"`
}

// HasAttribute reports whether the node carries the exact name/value pair.
func (n Node) HasAttribute(name, value string) bool {
	return hasAttribute(n.Attributes, name, value)
}

func hasAttribute(attrs []Attribute, name, value string) bool {
	for _, a := range attrs {
		if a.Name == name && a.Value == value {
			return true
		}
	}
	return false
}

// entry is the registry-owned record behind a Node.
type entry struct {
	name          string
	status        Status
	lastHeartbeat time.Time
	attrs         []Attribute
	onAd          AdHandler
}

func (e *entry) snapshot() Node {
	return Node{
		Name:          e.name,
		Status:        e.status,
		LastHeartbeat: e.lastHeartbeat,
		Attributes:    append([]Attribute(nil), e.attrs...),
	}
}

// Transition records one actual status change.
type Transition struct {
	Node Node
	From Status
	To   Status
	At   time.Time
}
