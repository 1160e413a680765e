package radio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BroadcastAddr is the special destination meaning "all nodes". It is the
// only scope the relay forwards.
const BroadcastAddr NodeID = "^all"

// broadcastNum is the on-wire representation of the broadcast address.
const broadcastNum uint32 = 0xFFFFFFFF

// NodeID is the stable string identifier of a mesh node, e.g. "!a1b2c3d4".
type NodeID string

// NodeIDFromNum converts an on-wire node number to its string form.
func NodeIDFromNum(n uint32) NodeID {
	if n == broadcastNum {
		return BroadcastAddr
	}
	return NodeID(fmt.Sprintf("!%08x", n))
}

// Num returns the on-wire node number for this ID.
func (id NodeID) Num() (uint32, error) {
	if id.IsBroadcast() {
		return broadcastNum, nil
	}
	s, ok := strings.CutPrefix(string(id), "!")
	if !ok || len(s) != 8 {
		return 0, fmt.Errorf("malformed node ID %q", id)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed node ID %q: %w", id, err)
	}
	return uint32(n), nil
}

// IsBroadcast reports whether the ID is the broadcast address.
func (id NodeID) IsBroadcast() bool {
	return id == BroadcastAddr
}

func (id NodeID) String() string {
	return string(id)
}

// UnmarshalText allows NodeID values in config files.
func (id *NodeID) UnmarshalText(text []byte) error {
	v := NodeID(text)
	if !v.IsBroadcast() {
		if _, err := v.Num(); err != nil {
			return err
		}
	}
	*id = v
	return nil
}

// PortType classifies a packet's application payload.
type PortType int

const (
	PortUnknown PortType = iota
	PortText
	PortPosition
	PortNodeInfo
	PortReply
)

func (p PortType) String() string {
	switch p {
	case PortText:
		return "TEXT_MESSAGE_APP"
	case PortPosition:
		return "POSITION_APP"
	case PortNodeInfo:
		return "NODEINFO_APP"
	case PortReply:
		return "REPLY_APP"
	default:
		return "UNKNOWN_APP"
	}
}

// Position is a decoded position report. Fields the node did not send are nil.
type Position struct {
	Latitude     *float64
	Longitude    *float64
	Altitude     *float64
	BatteryLevel *float64
	Time         time.Time
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := Position{Time: p.Time}
	if p.Latitude != nil {
		v := *p.Latitude
		c.Latitude = &v
	}
	if p.Longitude != nil {
		v := *p.Longitude
		c.Longitude = &v
	}
	if p.Altitude != nil {
		v := *p.Altitude
		c.Altitude = &v
	}
	if p.BatteryLevel != nil {
		v := *p.BatteryLevel
		c.BatteryLevel = &v
	}
	return &c
}

// NodeUser is the display identity a node broadcast about itself.
type NodeUser struct {
	ID        NodeID
	LongName  string
	ShortName string
	HwModel   string
}

// Payload is the decoded application payload of a packet.
type Payload struct {
	Port PortType
	// PortName is the wire-level port name, kept for diagnostics on
	// unhandled ports.
	PortName string
	Text     string
	Position *Position
	User     *NodeUser
}

// Packet is one decoded mesh packet as delivered by the radio connector.
type Packet struct {
	From    NodeID
	To      NodeID
	Decoded *Payload
	// RxTime is the time reported by the source packet, not the local
	// arrival time.
	RxTime time.Time
	RxSnr  float64
}

// Sender is the outbound half of the radio connection.
type Sender interface {
	// SendText sends a plain text message. Use BroadcastAddr to broadcast.
	SendText(text string, dest NodeID) error
	// SendProbe sends a small acknowledgement-requested probe on the
	// reply port, used to test link responsiveness.
	SendProbe(dest NodeID) error
}

// NodeSnapshot provides point-in-time reads of the connector-owned node
// directory. Returned values are copies; callers never hold references into
// connector state.
type NodeSnapshot interface {
	Node(id NodeID) *NodeEntry
	Nodes() []*NodeEntry
	NodesWithPosition() []*NodeEntry
	NodesWithUser() []*NodeEntry
}

// Conn is a full radio connection: a serialized packet stream plus the send
// primitives and the live node snapshot.
type Conn interface {
	Sender
	Packets() <-chan Packet
	Snapshot() NodeSnapshot
	Close()
}
