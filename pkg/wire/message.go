package wire

// Definitions of the wire protocol: discovery requests, heartbeats,
// notifications and advertisements. Every message is a '#'-delimited,
// position-based ASCII string whose first field is the type code.

// MsgType is the leading type code of a datagram. Codes are stable and
// versionless.
type MsgType int

const (
	MsgNotification MsgType = iota + 1
	MsgDiscovery
	MsgHeartbeat
	MsgAdvertisement

	maxMsgType // keep last
)

func (t MsgType) String() string {
	switch t {
	case MsgNotification:
		return "notification"
	case MsgDiscovery:
		return "discovery"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgAdvertisement:
		return "advertisement"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known type code.
func (t MsgType) Valid() bool {
	return t >= MsgNotification && t < maxMsgType
}

const (
	// FieldSep separates message fields.
	FieldSep = '#'
	// PairSep separates an attribute name from its value.
	PairSep = ';'

	// MaxAttributes is the number of attributes a node may carry.
	MaxAttributes = 10
	// MaxNameLen is the longest node name, in bytes.
	MaxNameLen = 63
)

// Attribute is one name/value property of a node.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is one of Discovery, Heartbeat, Notification or Advertisement.
type Message interface {
	Type() MsgType
}

// Discovery asks every announcer on the segment to describe itself.
type Discovery struct{}

// Heartbeat refreshes the liveness of ServiceName.
type Heartbeat struct {
	ServiceName string
}

// Notification describes a node: its name and attributes.
type Notification struct {
	ServiceName string
	Attributes  []Attribute
}

// Advertisement is a one-shot name/value event posted by ServiceName.
type Advertisement struct {
	ServiceName string
	AdName      string
	AdValue     string
}

func (Discovery) Type() MsgType     { return MsgDiscovery }
func (Heartbeat) Type() MsgType     { return MsgHeartbeat }
func (Notification) Type() MsgType  { return MsgNotification }
func (Advertisement) Type() MsgType { return MsgAdvertisement }
